package api

import (
	"net/http"
	"time"

	"github.com/freekieb7/lockbox/internal/web/handler/api/admin"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/handler/api/tokens"
	"github.com/freekieb7/lockbox/internal/web/middleware"
)

const (
	apiTimeout   = 10 * time.Second
	adminTimeout = 2 * time.Minute
)

// Handler aggregates all API handlers and provides the main entry point
type Handler struct {
	shared.BaseHandler
	TokensHandler *tokens.Handler
	AdminHandler  *admin.Handler
}

// NewHandler creates a new API handler with all sub-handlers
func NewHandler(base shared.BaseHandler) *Handler {
	return &Handler{
		BaseHandler:   base,
		TokensHandler: tokens.NewHandler(base),
		AdminHandler:  admin.NewHandler(base),
	}
}

// RegisterRoutes registers all API routes with the provided mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	window := h.Config.RateLimit.WindowDuration

	loginLimit := middleware.RateLimit{
		Endpoint: "login",
		Requests: h.Config.RateLimit.LoginRequests,
		Window:   window,
		KeyFunc:  middleware.KeyByIP,
	}
	resetLimit := middleware.RateLimit{
		Endpoint: "password_reset",
		Requests: h.Config.RateLimit.LoginRequests,
		Window:   window,
		KeyFunc:  middleware.KeyByIP,
	}
	apiLimit := middleware.RateLimit{
		Endpoint: "api",
		Requests: h.Config.RateLimit.APIRequests,
		Window:   window,
		KeyFunc:  middleware.KeyBySubject,
	}

	public := func(route string, limit middleware.RateLimit, fn http.HandlerFunc) {
		mux.Handle(route, middleware.Chain(
			h.observe(route),
			middleware.TimeoutMiddleware(middleware.TimeoutConfig{Timeout: apiTimeout, Logger: h.Logger}),
			middleware.RequireJSON(),
			middleware.RateLimitMiddleware(h.Limiter, limit, h.Logger),
		)(fn))
	}
	authenticated := func(route string, fn http.HandlerFunc) {
		mux.Handle(route, middleware.Chain(
			h.observe(route),
			middleware.TimeoutMiddleware(middleware.TimeoutConfig{Timeout: apiTimeout, Logger: h.Logger}),
			middleware.RequireJSON(),
			middleware.Authenticated(h.Auth, h.Logger),
			middleware.RateLimitMiddleware(h.Limiter, apiLimit, h.Logger),
		)(fn))
	}
	operator := func(route string, fn http.HandlerFunc) {
		mux.Handle(route, middleware.Chain(
			h.observe(route),
			middleware.TimeoutMiddleware(middleware.TimeoutConfig{Timeout: adminTimeout, Logger: h.Logger}),
			middleware.RequireJSON(),
			middleware.AdminKey(h.Config.AdminKey, h.Logger),
		)(fn))
	}

	// Token lifecycle
	public("POST /auth/login", loginLimit, h.TokensHandler.HandleLogin)
	public("POST /auth/refresh", apiLimit, h.TokensHandler.HandleRefresh)
	public("POST /auth/logout", apiLimit, h.TokensHandler.HandleLogout)
	public("POST /auth/password/reset", resetLimit, h.TokensHandler.HandleRequestReset)
	public("POST /auth/password/reset/confirm", resetLimit, h.TokensHandler.HandleConfirmReset)

	authenticated("POST /auth/logout-all", h.TokensHandler.HandleLogoutAll)
	authenticated("GET /auth/verify", h.TokensHandler.HandleVerify)
	authenticated("GET /auth/sessions", h.TokensHandler.HandleListSessions)
	authenticated("DELETE /auth/sessions/{session_id}", h.TokensHandler.HandleEndSession)
	authenticated("POST /auth/password", h.TokensHandler.HandleChangePassword)

	// Operator routes
	operator("POST /admin/users", h.AdminHandler.HandleCreateUser)
	operator("POST /admin/users/{user_id}/deactivate", h.AdminHandler.HandleDeactivateUser)
	operator("POST /admin/users/{user_id}/logout", h.AdminHandler.HandleForceLogout)
	operator("POST /admin/emergency-reset", h.AdminHandler.HandleEmergencyReset)
	operator("GET /admin/stats", h.AdminHandler.HandleStats)
	operator("POST /admin/sweep", h.AdminHandler.HandleSweep)
}

func (h *Handler) observe(route string) func(http.Handler) http.Handler {
	return middleware.MetricsMiddleware(h.Metrics, h.Logger, route, 0)
}
