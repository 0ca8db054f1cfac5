package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
	"github.com/irsalhamdi/course-checkout/core/apperr"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/irsalhamdi/course-checkout/validate"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Kind is a payment event type this service knows about.
type Kind string

const (
	KindCheckoutCompleted    Kind = "checkout.session.completed"
	KindAsyncPaymentSucceeded Kind = "checkout.session.async_payment_succeeded"
	KindPaymentSucceeded     Kind = "payment_intent.succeeded"
	KindPaymentFailed        Kind = "payment_intent.payment_failed"
)

func (k Kind) known() bool {
	switch k {
	case KindCheckoutCompleted, KindAsyncPaymentSucceeded, KindPaymentSucceeded, KindPaymentFailed:
		return true
	}
	return false
}

func (k Kind) label() string {
	if k.known() {
		return string(k)
	}
	return "other"
}

type CheckoutConfig struct {
	AppURL   string
	Currency string
}

func describe(it Item) string {
	if d := strings.TrimSpace(it.Description); d != "" {
		return d
	}
	return "Acceso completo al curso: " + it.Name
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// SessionParams builds the hosted checkout session for a cart. The
// session metadata repeats the course of the first item.
func SessionParams(cart Cart, cfg CheckoutConfig) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "mxn"
	}
	app := strings.TrimRight(cfg.AppURL, "/")

	li := make([]*stripe.CheckoutSessionLineItemParams, 0, len(cart.Items))
	for _, it := range cart.Items {
		md := map[string]string{}
		if slug := it.SlugOrAlias(); slug != "" {
			md[MetaCourseSlug] = slug
		}
		if ref := it.CourseRef(); ref != "" {
			md[MetaCourseID] = ref
		}

		li = append(li, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(it.Qty()),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(int64(math.Round(it.Price * 100))),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(it.Name),
					Description: stripe.String(describe(it)),
					Metadata:    md,
				},
			},
		})
	}

	first := cart.Items[0]
	success := fmt.Sprintf("%s/success?payment_intent={CHECKOUT_SESSION_ID}&course_id=%s&amount=%s&course_name=%s",
		app,
		url.QueryEscape(first.SlugOrAlias()),
		formatPrice(first.Price),
		url.QueryEscape(first.Name),
	)

	params := &stripe.CheckoutSessionParams{
		SuccessURL:               stripe.String(success),
		CancelURL:                stripe.String(app + "/cancel"),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:                li,
		CustomerCreation:         stripe.String("always"),
		BillingAddressCollection: stripe.String("required"),
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	if slug := first.SlugOrAlias(); slug != "" {
		params.AddMetadata(MetaCourseSlug, slug)
	}
	params.AddMetadata(MetaCourseName, first.Name)
	params.AddMetadata(MetaCoursePrice, formatPrice(first.Price))

	return params
}

func HandleCheckout(sc SessionCreator, cfg CheckoutConfig, m *metrics.Collector) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cart Cart
		if err := web.Decode(w, r, &cart); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode cart: %w", err))
		}

		if len(cart.Items) == 0 {
			err := errors.New("no items to checkout")
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if err := validate.Check(cart); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		s, err := sc.NewCheckoutSession(ctx, SessionParams(cart, cfg))
		if m != nil {
			m.Checkout(err == nil)
		}
		if err != nil {
			return weberr.InternalError(err, weberr.WithFields(map[string]interface{}{
				"course_slug": cart.Items[0].SlugOrAlias(),
			}))
		}

		return web.Respond(ctx, w, Redirect{URL: s.URL}, http.StatusOK)
	}
}

type received struct {
	Received bool `json:"received"`
}

// HandleStripeWebhook verifies payment events and reconciles completed
// checkouts. Once the signature holds it always answers 200 so the
// provider does not redeliver events this service cannot apply.
func HandleStripeWebhook(f *Fulfiller, secret string, log logrus.FieldLogger, m *metrics.Collector) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := web.ReadBody(w, r)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(fmt.Errorf("received stripe event is not signed: %w", apperr.ErrSignatureInvalid))
		}

		event, err := webhook.ConstructEvent(b, sig, secret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot construct stripe event: %w: %w", apperr.ErrSignatureInvalid, err))
		}

		kind := Kind(event.Type)
		log := log.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		})

		result := dispatch(ctx, f, log, kind, event)
		if m != nil {
			m.Webhook("stripe", kind.label(), result)
		}

		return web.Respond(ctx, w, received{Received: true}, http.StatusOK)
	}
}

func dispatch(ctx context.Context, f *Fulfiller, log logrus.FieldLogger, kind Kind, event stripe.Event) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("payment event dispatch panicked")
			result = "panic"
		}
	}()

	switch kind {
	case KindCheckoutCompleted, KindAsyncPaymentSucceeded:
		if event.Data == nil {
			log.Warn("payment event without data")
			return "invalid"
		}

		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			log.WithError(err).Warn("unable to decode checkout session")
			return "invalid"
		}

		if s.Mode != "" && s.Mode != stripe.CheckoutSessionModePayment {
			log.WithField("mode", s.Mode).Info("checkout session is not a payment")
			return "ignored"
		}
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			log.WithField("session_id", s.ID).Info("checkout session awaits its payment")
			return "pending"
		}

		outcome, err := f.Complete(ctx, &s)
		if err != nil {
			log.WithError(err).WithField("outcome", outcome).Warn("checkout session not fulfilled")
		}
		return string(outcome)

	case KindPaymentSucceeded, KindPaymentFailed:
		log.Info("payment intent event acknowledged")
		return "ignored"

	default:
		log.Debug("unhandled payment event")
		return "ignored"
	}
}
