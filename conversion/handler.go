package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
	"github.com/irsalhamdi/course-checkout/metrics"
)

// EventRequest is the body accepted by the forwarding endpoint.
type EventRequest struct {
	EventName string    `json:"eventName"`
	EventData EventData `json:"eventData"`
	UserData  UserData  `json:"userData"`
}

type eventResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
}

// HandleReport forwards one client side event to the conversion API.
func HandleReport(c *Client, m *metrics.Collector) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req EventRequest
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode conversion event: %w", err))
		}

		name := strings.TrimSpace(req.EventName)
		if name == "" {
			err := errors.New("eventName is required")
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		res := c.Report(ctx, name, req.EventData, req.UserData)
		if m != nil {
			m.Conversion(name, res.Success)
		}
		if !res.Success {
			return weberr.NewDetailedError(res.Err, "error sending event", details(res), http.StatusInternalServerError,
				weberr.WithFields(map[string]interface{}{
					"event_name": name,
					"statuscode": res.Status,
				}),
			)
		}

		return web.Respond(ctx, w, eventResponse{
			Success:   true,
			Message:   fmt.Sprintf("event %s sent", name),
			EventID:   res.EventID,
			Timestamp: c.now().UTC().Format(time.RFC3339),
		}, http.StatusOK)
	}
}

// details extracts the message of an ad platform error body.
func details(res Result) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(res.Response) > 0 && json.Unmarshal(res.Response, &body) == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return ""
}

func HandleConfigured(c *Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		resp := struct {
			Configured bool `json:"configured"`
		}{c.Configured()}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}
}

func HandleDiagnostics(c *Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, c.Diagnostics(), http.StatusOK)
	}
}
