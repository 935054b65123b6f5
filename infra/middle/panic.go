package middle

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/response"
)

// PanicRecoveryMiddleware turns a handler panic into a 500 envelope
func PanicRecoveryMiddleware(log *logger.SystemLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.Error("Panic recovered", fmt.Errorf("%v", rec), logger.LogContext{
					RequestID: middleware.GetReqID(r.Context()),
					Fields: map[string]any{
						"method": r.Method,
						"url":    r.URL.String(),
						"client": GetClientIDFromContext(r.Context()),
						"stack":  string(debug.Stack()),
					},
				})

				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
				w.Header().Set("Pragma", "no-cache")
				w.Header().Set("Expires", "0")
				response.Fail(w, http.StatusInternalServerError, "internal_error", "Internal server error",
					fmt.Errorf("an unexpected error occurred"), nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
