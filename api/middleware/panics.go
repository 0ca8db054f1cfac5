package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/irsalhamdi/course-checkout/api/weberr"
)

// Panics turns a panic in the handler chain into an internal error that
// the Errors middleware renders as a 500.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = weberr.InternalError(fmt.Errorf("panic: %v", rec), weberr.WithFields(map[string]interface{}{
						"stack": string(debug.Stack()),
					}))
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
