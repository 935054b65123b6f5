package middle

import (
	"context"
	"net/http"
	"strings"

	"github.com/mstgnz/payflow/infra/auth"
	"github.com/mstgnz/payflow/infra/response"
)

type contextKey string

// ClientIDKey holds the authenticated client id in the request context
const ClientIDKey contextKey = "client_id"

// AuthMiddleware requires a valid bearer token issued by svc
func AuthMiddleware(svc *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Fail(w, http.StatusUnauthorized, "unauthorized", "Authorization header required", nil, nil)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Fail(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization format. Use: Bearer <token>", nil, nil)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				response.Fail(w, http.StatusUnauthorized, "unauthorized", "Token required", nil, nil)
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				response.Fail(w, http.StatusUnauthorized, "unauthorized", "Invalid token", err, nil)
				return
			}

			ctx := context.WithValue(r.Context(), ClientIDKey, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIDFromContext returns the authenticated client, or "" when the
// route is not protected
func GetClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ClientIDKey).(string)
	return id
}
