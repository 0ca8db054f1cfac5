package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/sirupsen/logrus"
	svix "github.com/svix/svix-webhooks/go"
)

// Kind is an identity event type this service knows about.
type Kind string

const (
	KindUserCreated Kind = "user.created"
	KindUserUpdated Kind = "user.updated"
	KindUserDeleted Kind = "user.deleted"
)

func (k Kind) label() string {
	switch k {
	case KindUserCreated, KindUserUpdated, KindUserDeleted:
		return string(k)
	}
	return "other"
}

var signatureHeaders = []string{"svix-id", "svix-timestamp", "svix-signature"}

type identityWebhook struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type received struct {
	Received bool   `json:"received"`
	Skipped  string `json:"skipped,omitempty"`
}

// HandleClerkWebhook verifies identity events and mirrors them onto the
// user records. Verified events are always answered with 200.
func HandleClerkWebhook(svc *Service, secret string, log logrus.FieldLogger, m *metrics.Collector) (web.Handler, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("building identity webhook verifier: %w: %w", apperr.ErrConfigurationMissing, err)
	}

	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		for _, hd := range signatureHeaders {
			if r.Header.Get(hd) == "" {
				return weberr.BadRequest(fmt.Errorf("missing header %s: %w", hd, apperr.ErrSignatureInvalid))
			}
		}

		b, err := web.ReadBody(w, r)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		if err := wh.Verify(b, r.Header); err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot verify identity event: %w: %w", apperr.ErrSignatureInvalid, err))
		}

		var evt identityWebhook
		if err := json.Unmarshal(b, &evt); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode identity event: %w", err))
		}

		kind := Kind(evt.Type)
		log := log.WithFields(logrus.Fields{
			"event_type": evt.Type,
			"svix_id":    r.Header.Get("svix-id"),
		})

		resp := received{Received: true}
		result := dispatch(ctx, svc, log, kind, evt.Data)
		if result == "skipped" {
			resp.Skipped = "test event"
		}
		if m != nil {
			m.Webhook("clerk", kind.label(), result)
		}

		return web.Respond(ctx, w, resp, http.StatusOK)
	}
	return h, nil
}

func dispatch(ctx context.Context, svc *Service, log logrus.FieldLogger, kind Kind, data json.RawMessage) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("identity event dispatch panicked")
			result = "panic"
		}
	}()

	var evt IdentityEvent
	switch kind {
	case KindUserCreated, KindUserUpdated:
		if err := json.Unmarshal(data, &evt); err != nil {
			log.WithError(err).Warn("unable to decode identity user")
			return "invalid"
		}
		log = log.WithField("identity_id", evt.ID)
	}

	switch kind {
	case KindUserCreated:
		u, err := svc.CreateOrGet(ctx, evt)
		if err != nil {
			log.WithError(err).Warn("identity user not mirrored")
			return "failed"
		}
		log.WithField("user_id", u.ID).Info("identity user mirrored")
		return "applied"

	case KindUserUpdated:
		u, err := svc.Update(ctx, evt.ID, evt)
		switch {
		case errors.Is(err, apperr.ErrSkipped):
			log.Info("identity update without profile skipped")
			return "skipped"
		case err != nil:
			log.WithError(err).Warn("identity update not applied")
			return "failed"
		}
		log.WithField("user_id", u.ID).Info("identity user updated")
		return "applied"

	case KindUserDeleted:
		log.Info("identity user deleted, record kept")
		return "ignored"

	default:
		log.Debug("unhandled identity event")
		return "ignored"
	}
}
