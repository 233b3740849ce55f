package shared

import (
	"log/slog"

	"github.com/freekieb7/lockbox/internal/auth"
	"github.com/freekieb7/lockbox/internal/config"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/freekieb7/lockbox/internal/ratelimit"
)

// BaseHandler contains the common dependencies for all API handlers
type BaseHandler struct {
	Config  *config.Config
	Logger  *slog.Logger
	Auth    *auth.Service
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
}

// NewBaseHandler creates a new base handler with all dependencies
func NewBaseHandler(cfg *config.Config, logger *slog.Logger, authService *auth.Service, limiter *ratelimit.Limiter, m *metrics.Metrics) BaseHandler {
	return BaseHandler{
		Config:  cfg,
		Logger:  logger,
		Auth:    authService,
		Limiter: limiter,
		Metrics: m,
	}
}
