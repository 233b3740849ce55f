// Package health reports Kubernetes style liveness and readiness for the
// token engine.
package health

import (
	"context"
	"log/slog"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Ping checks one dependency. A nil error means reachable.
type Ping func(ctx context.Context) error

// Checker pings the primary (redis) and durable (SQL) stores. Losing one of
// them degrades the service; revocation checks fail closed only when both
// are gone, so that is the unhealthy state.
type Checker struct {
	Primary   Ping
	Durable   Ping
	Logger    *slog.Logger
	Version   string
	StartedAt time.Time

	// SlowThreshold marks a reachable store as degraded.
	SlowThreshold time.Duration
}

func NewChecker(primary, durable Ping, logger *slog.Logger, version string) *Checker {
	return &Checker{
		Primary:       primary,
		Durable:       durable,
		Logger:        logger,
		Version:       version,
		StartedAt:     time.Now(),
		SlowThreshold: 100 * time.Millisecond,
	}
}

type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	LatencyMS   float64 `json:"latency_ms"`
	LastChecked string  `json:"last_checked"`
}

// CheckHealth pings every store.
func (h *Checker) CheckHealth(ctx context.Context) HealthStatus {
	now := time.Now()
	components := map[string]ComponentHealth{
		"primary_store": h.check(ctx, "primary_store", h.Primary),
		"durable_store": h.check(ctx, "durable_store", h.Durable),
	}

	return HealthStatus{
		Status:     overallStatus(components),
		Timestamp:  now.UTC().Format(time.RFC3339),
		Version:    h.Version,
		Uptime:     now.Sub(h.StartedAt).Round(time.Second).String(),
		Components: components,
	}
}

// CheckLiveness only proves the process answers.
func (h *Checker) CheckLiveness(context.Context) HealthStatus {
	now := time.Now().UTC().Format(time.RFC3339)
	return HealthStatus{
		Status:    StatusHealthy,
		Timestamp: now,
		Components: map[string]ComponentHealth{
			"process": {Status: StatusHealthy, Message: "service is responsive", LastChecked: now},
		},
	}
}

// CheckReadiness is CheckHealth without version details. A degraded service
// still takes traffic.
func (h *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	status := h.CheckHealth(ctx)
	status.Version = ""
	status.Uptime = ""
	return status
}

func (h *Checker) check(ctx context.Context, name string, ping Ping) ComponentHealth {
	start := time.Now()
	component := ComponentHealth{LastChecked: start.UTC().Format(time.RFC3339)}

	if ping == nil {
		component.Status = StatusUnhealthy
		component.Message = "not configured"
		return component
	}

	err := ping(ctx)
	latency := time.Since(start)
	component.LatencyMS = float64(latency.Microseconds()) / 1000

	switch {
	case err != nil:
		h.Logger.WarnContext(ctx, "Health ping failed", "component", name, "error", err, "latency", latency)
		component.Status = StatusUnhealthy
		component.Message = err.Error()
	case h.SlowThreshold > 0 && latency > h.SlowThreshold:
		component.Status = StatusDegraded
		component.Message = "response time elevated"
	default:
		component.Status = StatusHealthy
	}
	return component
}

func overallStatus(components map[string]ComponentHealth) string {
	unhealthy := 0
	degraded := 0
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			unhealthy++
		case StatusDegraded:
			degraded++
		}
	}

	switch {
	case unhealthy == len(components):
		return StatusUnhealthy
	case unhealthy > 0 || degraded > 0:
		return StatusDegraded
	}
	return StatusHealthy
}
