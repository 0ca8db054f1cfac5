package middleware

import (
	"context"
	"net/http"

	"github.com/irsalhamdi/course-checkout/api/web"
)

// Cors allows the landing page origin to call the API. Preflight requests
// are answered by the OPTIONS route.
func Cors(origin string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
