package middle

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mstgnz/payflow/infra/logger"
)

// RequestLoggingMiddleware logs one line per request with status and latency
func RequestLoggingMiddleware(log *logger.SystemLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			lc := logger.LogContext{
				RequestID: middleware.GetReqID(r.Context()),
				Fields: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"client_ip":   GetClientIP(r),
				},
			}
			switch {
			case status >= 500:
				log.Warn("Request failed", lc)
			case r.URL.Path == "/health":
				log.Debug("Request served", lc)
			default:
				log.Info("Request served", lc)
			}
		})
	}
}
