// Package web assembles the HTTP surface of the engine.
package web

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/freekieb7/lockbox/internal/config"
	"github.com/freekieb7/lockbox/internal/health"
	"github.com/freekieb7/lockbox/internal/web/handler"
	"github.com/freekieb7/lockbox/internal/web/handler/api"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/middleware"
)

// NewRouter registers every route and wraps the mux in the middleware that
// applies to all of them.
func NewRouter(base shared.BaseHandler, checker *health.Checker) http.Handler {
	mux := http.NewServeMux()

	healthHandler := handler.NewHealthHandler(checker, base.Metrics.Handler())
	healthHandler.RegisterRoutes(mux)

	handler.NewDocsHandler().RegisterRoutes(mux)

	api.NewHandler(base).RegisterRoutes(mux)

	return middleware.Chain(
		middleware.Recover(base.Logger),
		middleware.SecurityHeaders(middleware.DefaultSecurityHeaders(base.Config.Server.IsProduction())),
	)(mux)
}

func NewServer(cfg config.Server, h http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
