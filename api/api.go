package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-checkout/api/middleware"
	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/conversion"
	"github.com/irsalhamdi/course-checkout/core/heartbeat"
	"github.com/irsalhamdi/course-checkout/core/order"
	"github.com/irsalhamdi/course-checkout/core/user"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/irsalhamdi/course-checkout/rate"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin          string
	Log                 logrus.FieldLogger
	Metrics             *metrics.Collector
	Limiter             *rate.Limiter
	Checkout            order.SessionCreator
	CheckoutCfg         order.CheckoutConfig
	Fulfiller           *order.Fulfiller
	StripeWebhookSecret string
	Users               *user.Service
	ClerkWebhookSecret  string
	Conversions         *conversion.Client
	Heartbeat           *heartbeat.Scheduler
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) (http.Handler, error) {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log, "/healthz"))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	clerk, err := user.HandleClerkWebhook(cfg.Users, cfg.ClerkWebhookSecret, cfg.Log, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	var limit web.Middleware
	if cfg.Limiter != nil {
		limit = middleware.RateLimit(cfg.Limiter)
	}

	a.Handle(http.MethodGet, "/healthz", handleHealth)

	a.Handle(http.MethodPost, "/checkout", order.HandleCheckout(cfg.Checkout, cfg.CheckoutCfg, cfg.Metrics), limit)
	a.Handle(http.MethodPost, "/webhooks/stripe", order.HandleStripeWebhook(cfg.Fulfiller, cfg.StripeWebhookSecret, cfg.Log, cfg.Metrics))
	a.Handle(http.MethodPost, "/webhooks/clerk", clerk)

	a.Handle(http.MethodPost, "/conversions", conversion.HandleReport(cfg.Conversions, cfg.Metrics), limit)
	a.Handle(http.MethodGet, "/conversions", conversion.HandleConfigured(cfg.Conversions))
	a.Handle(http.MethodGet, "/conversions/diagnostics", conversion.HandleDiagnostics(cfg.Conversions))
	a.Handle(http.MethodPost, "/conversions/heartbeat", heartbeat.HandleControl(cfg.Heartbeat))
	a.Handle(http.MethodGet, "/conversions/heartbeat", heartbeat.HandleStatus(cfg.Heartbeat))

	if cfg.Metrics != nil {
		a.Router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	return a.Router, nil
}

func handleHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status := struct {
		Status string `json:"status"`
	}{"ok"}
	return web.Respond(ctx, w, status, http.StatusOK)
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
