package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/uplink/internal/logging"
)

// extractClientIP extracts the client IP from the request, preferring X-Forwarded-For header
// over RemoteAddr. Returns an error if the IP cannot be parsed.
func extractClientIP(r *http.Request) (string, error) {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "", fmt.Errorf("unable to parse remote address: %w", err)
		}
	}
	return ip, nil
}

// requestLogger logs every request through the process logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		client, err := extractClientIP(r)
		if err != nil {
			client = r.RemoteAddr
		}
		logging.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"client":     client,
			"status":     ww.Status(),
			"duration":   time.Since(start),
		}).Debugf("%s %s", r.Method, r.URL.Path)
	})
}
