package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/freekieb7/lockbox/internal/health"
	"github.com/freekieb7/lockbox/internal/web/response"
)

type HealthHandler struct {
	HealthChecker *health.Checker
	Metrics       http.Handler
}

func NewHealthHandler(healthChecker *health.Checker, metrics http.Handler) HealthHandler {
	return HealthHandler{
		HealthChecker: healthChecker,
		Metrics:       metrics,
	}
}

// RegisterRoutes sets up Kubernetes-compatible health endpoints
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /health/live", h.HandleLiveness)

	// A degraded engine still answers: reads fail closed and writes go to
	// whichever store is up.
	mux.HandleFunc("GET /health/ready", h.HandleReadiness)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
}

// HandleHealth provides comprehensive health information
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeStatus(w, h.HealthChecker.CheckHealth(ctx))
}

// HandleLiveness only reports that the process serves requests.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.HealthChecker.CheckLiveness(r.Context()))
}

func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	writeStatus(w, h.HealthChecker.CheckReadiness(ctx))
}

func writeStatus(w http.ResponseWriter, status health.HealthStatus) {
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	httpStatus := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	response.JSONResponse(w, httpStatus, status)
}
