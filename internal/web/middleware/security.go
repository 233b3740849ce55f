package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// AdminKeyHeader carries the operator key on /admin routes.
const AdminKeyHeader = "X-Admin-Key"

// Chain applies middlewares so that the first one is the outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

type SecurityHeadersConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

func DefaultSecurityHeaders(production bool) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            production,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
	}
}

// SecurityHeaders sets the headers every JSON response of the engine needs.
// Token responses must never be cached.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")

			if config.EnableHSTS {
				hsts := fmt.Sprintf("max-age=%d", config.HSTSMaxAge)
				if config.HSTSIncludeSubdomains {
					hsts += "; includeSubDomains"
				}
				h.Set("Strict-Transport-Security", hsts)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects bodies that are not declared as JSON.
func RequireJSON() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				contentType := r.Header.Get("Content-Type")
				if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
					response.JSONResponse(w, http.StatusUnsupportedMediaType, response.APIResponse{
						Code:    http.StatusUnsupportedMediaType,
						Status:  "error",
						Message: "Content-Type must be application/json",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminKey guards operator routes. An empty key disables them entirely.
func AdminKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				response.ErrorResponse(w, apperrors.ForbiddenError("admin API is disabled", nil), logger)
				return
			}
			provided := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				logger.WarnContext(r.Context(), "Rejected admin request", "ip", GetClientIP(r), "path", r.URL.Path)
				w.Header().Set("Connection", "close")
				response.ErrorResponse(w, apperrors.UnauthorizedError("invalid admin key", nil), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
