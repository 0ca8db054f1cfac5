package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
	"github.com/irsalhamdi/course-checkout/rate"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func run(t *testing.T, h web.Handler, mw []web.Middleware, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	if err := web.WrapMiddleware(mw, h)(r.Context(), w, r); err != nil {
		t.Fatalf("unhandled error: %v", err)
	}
	return w
}

func ok(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, map[string]string{"req_id": ContextRequestID(ctx)}, http.StatusOK)
}

func TestRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := run(t, ok, []web.Middleware{RequestID()}, r)
	id := w.Header().Get(RequestIDHeader)
	if id == "" || !strings.Contains(w.Body.String(), id) {
		t.Fatalf("expected a generated id in header and context, got %q and %s", id, w.Body)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	w = run(t, ok, []web.Middleware{RequestID()}, r)
	if got := w.Header().Get(RequestIDHeader); len(got) != DefaultRequestIDLengthLimit {
		t.Fatalf("expected the inbound id to be truncated, got %d chars", len(got))
	}
}

func TestErrors(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	tests := []struct {
		name  string
		err   error
		code  int
		body  string
		level logrus.Level
	}{
		{name: "response", err: weberr.BadRequest(errors.New("bad body")), code: http.StatusBadRequest, body: `{"error":"bad request"}`, level: logrus.WarnLevel},
		{name: "plain", err: errors.New("boom"), code: http.StatusInternalServerError, body: `{"error":"Internal Server Error"}`, level: logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error { return tt.err }
			w := run(t, h, []web.Middleware{Errors(log)}, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != tt.code || strings.TrimSpace(w.Body.String()) != tt.body {
				t.Fatalf("unexpected response %d %s", w.Code, w.Body)
			}
			if e := hook.LastEntry(); e == nil || e.Level != tt.level {
				t.Fatalf("unexpected log entry %+v", e)
			}
		})
	}
}

func TestPanics(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error { panic("boom") }

	w := run(t, h, []web.Middleware{Errors(log), Panics()}, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if e := hook.LastEntry(); e == nil || e.Data["stack"] == nil {
		t.Fatalf("expected the stack to be logged, got %+v", e)
	}
}

func TestRateLimit(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	lim := rate.NewLimiter(1, time.Minute, rate.Every(time.Hour))
	defer lim.Stop()
	mw := []web.Middleware{Errors(log), RateLimit(lim)}

	newReq := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return r
	}

	if w := run(t, ok, mw, newReq("203.0.113.7")); w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w := run(t, ok, mw, newReq("203.0.113.7")); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if w := run(t, ok, mw, newReq("198.51.100.2")); w.Code != http.StatusOK {
		t.Fatalf("expected another client to pass, got %d", w.Code)
	}
}

func TestCors(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := run(t, ok, []web.Middleware{Cors("https://cursos.example.com")}, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://cursos.example.com" {
		t.Fatalf("unexpected origin header %q", got)
	}
}
