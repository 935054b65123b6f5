package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mstgnz/payflow/infra/response"
)

// Pinger reports storage reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayLister names the configured gateways
type GatewayLister interface {
	Names() []string
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store     Pinger
	gateways  GatewayLister
	version   string
	startTime time.Time
}

// HealthStatus represents overall service health
type HealthStatus struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Storage   Component `json:"storage"`
	Gateways  []string  `json:"gateways"`
}

// Component is the health of one dependency
type Component struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, gateways GatewayLister, version string) *HealthHandler {
	return &HealthHandler{store: store, gateways: gateways, version: version, startTime: time.Now()}
}

// Check handles GET /health; 503 when storage is unreachable
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	start := time.Now()
	storage := Component{Status: "healthy"}
	if err := h.store.Ping(ctx); err != nil {
		storage.Status = "unhealthy"
		storage.Error = err.Error()
	}
	storage.ResponseTime = time.Since(start).String()

	status := HealthStatus{
		Status:    storage.Status,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		Storage:   storage,
		Gateways:  h.gateways.Names(),
	}
	if storage.Status != "healthy" {
		response.Fail(w, http.StatusServiceUnavailable, "unhealthy", "Service unhealthy", nil, status)
		return
	}
	response.Success(w, http.StatusOK, "Service healthy", status)
}
