package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-checkout/api/web"
	"github.com/sirupsen/logrus"
	"github.com/zenazn/goji/web/mutil"
)

// Logger logs one line when a request starts and one when it completes.
// Probe paths are logged at debug level.
func Logger(log logrus.FieldLogger, quiet ...string) web.Middleware {
	skip := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		skip[p] = true
	}

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			entry := log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"clientip": web.ClientIP(r),
			})

			if rid := ContextRequestID(ctx); rid != "" {
				entry = entry.WithField("req_id", rid)
			}

			level := logrus.InfoLevel
			if skip[r.URL.Path] {
				level = logrus.DebugLevel
			}

			entry.Log(level, "started")
			startTime := time.Now().UTC()

			lw := mutil.WrapWriter(w)
			err := handler(ctx, lw, r)

			entry.WithFields(logrus.Fields{
				"statuscode": lw.Status(),
				"bytes":      lw.BytesWritten(),
				"since":      time.Since(startTime).Nanoseconds(),
			}).Log(level, "completed")
			return err
		}
		return h
	}
	return m
}
