package middle

import (
	"net/http"
	"strings"

	"github.com/mstgnz/payflow/infra/response"
)

// MaxBodyBytes bounds every request body
const MaxBodyBytes = 1 << 20

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			w.Header().Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestValidationMiddleware enforces JSON bodies on the payment API and a
// size limit everywhere. Webhook routes accept whatever the gateway sends.
func RequestValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > MaxBodyBytes {
				response.Fail(w, http.StatusRequestEntityTooLarge, "validation_failed", "Request body too large", nil, nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

			isWebhook := strings.HasPrefix(r.URL.Path, "/webhooks")
			if r.Method == http.MethodPost && !isWebhook && r.ContentLength != 0 {
				if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
					response.Fail(w, http.StatusUnsupportedMediaType, "validation_failed", "Content-Type must be application/json", nil, nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
