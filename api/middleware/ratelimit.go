package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
	"github.com/irsalhamdi/course-checkout/rate"
)

// RateLimit rejects clients that exceed lim with a 429.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			ip := web.ClientIP(r)
			if !lim.Check(ip) {
				return weberr.TooManyRequests(errors.New("rate limit exceeded"), weberr.WithFields(map[string]interface{}{
					"clientip": ip,
				}))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
