package middle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mstgnz/payflow/infra/auth"
	"github.com/mstgnz/payflow/infra/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
})

func TestAuthMiddleware(t *testing.T) {
	svc := auth.NewJWTService("test-secret", time.Hour)
	valid, err := svc.GenerateToken("shop-1")
	require.NoError(t, err)

	var seenClient string
	handler := AuthMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenClient = GetClientIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{"Valid token", "Bearer " + valid, http.StatusOK},
		{"Invalid token", "Bearer wrong", http.StatusUnauthorized},
		{"Missing Authorization header", "", http.StatusUnauthorized},
		{"Invalid format", "Basic " + valid, http.StatusUnauthorized},
		{"Empty Bearer token", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenClient = ""
			req := httptest.NewRequest(http.MethodGet, "/payments/p1", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "shop-1", seenClient)
			} else {
				assert.Contains(t, rr.Body.String(), `"error_code":"unauthorized"`)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.1"))
	assert.False(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.2"), "budgets are per client")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("192.168.1.1"), "window reset")
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimitMiddleware(NewRateLimiter(ctx, 1, time.Minute))(okHandler)

	req1 := httptest.NewRequest(http.MethodPost, "/webhooks/payment-status/example", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req1)
	assert.Equal(t, http.StatusOK, rr1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/payment-status/example", nil)
	req2.RemoteAddr = "192.168.1.1:12346"
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.Equal(t, "60", rr2.Header().Get("Retry-After"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for header, value := range expected {
		assert.Equal(t, value, rr.Header().Get(header), header)
	}
}

func TestRequestValidationMiddleware(t *testing.T) {
	handler := RequestValidationMiddleware()(okHandler)

	tests := []struct {
		name           string
		path           string
		contentType    string
		body           string
		expectedStatus int
	}{
		{"JSON payment request", "/payments", "application/json", `{}`, http.StatusOK},
		{"Form payment request", "/payments", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"Empty body command", "/payments/p1/void", "", "", http.StatusOK},
		{"Webhook any content type", "/webhooks/payment-status/example", "text/plain", "x", http.StatusOK},
		{"Oversized body", "/payments", "application/json", strings.Repeat("a", MaxBodyBytes+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"Forwarded list", "10.0.0.1, 10.0.0.2", "", "1.1.1.1:1", "10.0.0.1"},
		{"Real IP", "", "10.0.0.3", "1.1.1.1:1", "10.0.0.3"},
		{"Remote addr", "", "", "1.1.1.1:1234", "1.1.1.1"},
		{"IPv6 localhost", "", "", "[::1]:1234", "127.0.0.1"},
		{"No port", "", "", "1.1.1.1", "1.1.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.expected, GetClientIP(req))
		})
	}
}

func TestRequestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewSystemLogger(nil, logger.SystemLoggerConfig{
		EnableConsole: true,
		MinLevel:      logger.LevelDebug,
		Console:       zap.New(core),
	})

	handler := middleware.RequestID(RequestLoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/p1/capture", nil))

	entries := logs.FilterMessage("Request served").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusConflict), fields["status"])
	assert.Equal(t, "/payments/p1/capture", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}
