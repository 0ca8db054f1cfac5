package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
)

const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionSendOne = "send_one"
)

type Control struct {
	Action   string `json:"action"`
	Interval int    `json:"interval"`
}

type controlResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Status   string `json:"status"`
	Sent     int64  `json:"eventCount"`
	Event    *Event `json:"event,omitempty"`
	Interval int    `json:"intervalSeconds,omitempty"`
}

func state(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// HandleControl starts, stops or fires the heartbeat.
func HandleControl(s *Scheduler) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var c Control
		if err := web.Decode(w, r, &c); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode heartbeat control: %w", err))
		}

		interval := time.Duration(c.Interval) * time.Second
		if interval <= 0 {
			interval = DefaultInterval
		}

		switch c.Action {
		case ActionStart:
			ev, err := s.Start(ctx, interval)
			if errors.Is(err, ErrRunning) {
				return web.Respond(ctx, w, controlResponse{
					Message: err.Error(),
					Status:  "running",
					Sent:    s.Status().Sent,
				}, http.StatusOK)
			}
			if err != nil {
				return weberr.InternalError(err)
			}
			return web.Respond(ctx, w, controlResponse{
				Success:  true,
				Message:  fmt.Sprintf("heartbeat started every %s", interval),
				Status:   "started",
				Sent:     s.Status().Sent,
				Event:    &ev,
				Interval: int(interval / time.Second),
			}, http.StatusOK)

		case ActionStop:
			s.Stop()
			return web.Respond(ctx, w, controlResponse{
				Success: true,
				Message: "heartbeat stopped",
				Status:  "stopped",
				Sent:    s.Status().Sent,
			}, http.StatusOK)

		case ActionSendOne:
			ev, err := s.SendOne(ctx)
			if err != nil {
				return weberr.InternalError(err)
			}
			st := s.Status()
			return web.Respond(ctx, w, controlResponse{
				Success: true,
				Message: "heartbeat sent",
				Status:  state(st.Running),
				Sent:    st.Sent,
				Event:   &ev,
			}, http.StatusOK)
		}

		err := fmt.Errorf("unknown action %q, use start, stop or send_one", c.Action)
		return weberr.NewError(err, err.Error(), http.StatusBadRequest)
	}
}

type statusResponse struct {
	Status
	State string `json:"status"`
}

func HandleStatus(s *Scheduler) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		st := s.Status()
		return web.Respond(ctx, w, statusResponse{Status: st, State: state(st.Running)}, http.StatusOK)
	}
}
