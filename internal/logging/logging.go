// Package logging builds the logrus logger shared by the binaries and the
// request logging middleware for the web server.
package logging

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at level, as "json" or "text".
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	return log, nil
}

type ctxKey struct{}

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-ID"

// FromRequest returns the request-scoped entry stored by Middleware, or a
// fresh entry on base when there is none.
func FromRequest(r *http.Request, base logrus.FieldLogger) logrus.FieldLogger {
	if e, ok := r.Context().Value(ctxKey{}).(*logrus.Entry); ok {
		return e
	}
	return base
}

// Middleware tags every request with an id and logs method, path, status
// and duration once the handler returns.
func Middleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			entry := log.WithField("request_id", id)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, entry)))

			fields := logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).Round(time.Microsecond).String(),
			}
			switch {
			case rec.status >= 500:
				entry.WithFields(fields).Error("request failed")
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				entry.WithFields(fields).Debug("request")
			default:
				entry.WithFields(fields).Info("request")
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
