package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mstgnz/payflow/handler"
	"github.com/mstgnz/payflow/infra/auth"
	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/infra/middle"
	"github.com/mstgnz/payflow/infra/response"
)

// Config collects what the routes need
type Config struct {
	Payments *handler.PaymentHandler
	Webhooks *handler.WebhookHandler
	Health   *handler.HealthHandler

	// Auth protects /payments when set
	Auth *auth.JWTService
	// WebhookLimiter throttles webhook senders when set
	WebhookLimiter *middle.RateLimiter

	Logger         *logger.SystemLogger
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// New builds the HTTP handler
func New(cfg Config) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middle.RequestLoggingMiddleware(cfg.Logger))
	r.Use(middle.PanicRecoveryMiddleware(cfg.Logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", handler.IdempotencyKeyHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	Routes(r, cfg)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, http.StatusNotFound, "not_found", "Not Found", nil, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed", nil, nil)
	})
	return r
}

// Routes mounts the API on r
func Routes(r chi.Router, cfg Config) {
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Check)
	}

	r.Route("/payments", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(middle.AuthMiddleware(cfg.Auth))
		}
		r.Post("/", cfg.Payments.CreatePayment)
		r.Get("/{id}", cfg.Payments.GetPayment)
		r.Post("/{id}/capture", cfg.Payments.CapturePayment)
		r.Post("/{id}/void", cfg.Payments.VoidPayment)
		r.Post("/{id}/refund", cfg.Payments.RefundPayment)
	})

	r.Route("/webhooks", func(r chi.Router) {
		if cfg.WebhookLimiter != nil {
			r.Use(middle.RateLimitMiddleware(cfg.WebhookLimiter))
		}
		r.Post("/payment-status/{gateway}", cfg.Webhooks.PaymentStatus)
	})
}
