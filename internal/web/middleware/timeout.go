package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// TimeoutConfig represents timeout configuration
type TimeoutConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// TimeoutMiddleware bounds the request context. Store calls inside the
// handler observe the deadline and return; the handler writes the response
// itself, so nothing races on the ResponseWriter.
func TimeoutMiddleware(config TimeoutConfig) func(http.Handler) http.Handler {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if ctx.Err() == context.DeadlineExceeded && config.Logger != nil {
				config.Logger.WarnContext(r.Context(), "Request exceeded its deadline",
					slog.Duration("timeout", config.Timeout),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method))
			}
		})
	}
}

// Recover turns a handler panic into a 500.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := wrap(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.ErrorContext(r.Context(), "Request panic recovered",
					slog.Any("panic", p),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("stack", string(debug.Stack())))
				if !wrapper.wroteHeader {
					response.ErrorResponse(wrapper, apperrors.InternalError("An internal error occurred", nil), nil)
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}
