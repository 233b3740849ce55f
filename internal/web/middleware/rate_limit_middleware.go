package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/ratelimit"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// Limiter is the sliding window limiter behind RateLimitMiddleware.
type Limiter interface {
	Check(ctx context.Context, identifier, endpoint string, max int, window time.Duration) (ratelimit.Result, error)
}

// RateLimit defines the limit of one endpoint.
type RateLimit struct {
	Endpoint string
	Requests int
	Window   time.Duration
	KeyFunc  KeyFunction
}

// KeyFunction defines how to generate the rate limiting key from the request
type KeyFunction func(r *http.Request) string

var (
	KeyByIP KeyFunction = func(r *http.Request) string {
		return GetClientIP(r)
	}

	// KeyBySubject limits authenticated callers per user and falls back to
	// the client IP.
	KeyBySubject KeyFunction = func(r *http.Request) string {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			return "user:" + claims.Subject
		}
		return GetClientIP(r)
	}
)

// GetClientIP extracts the client IP. Forwarding headers are only trusted
// when the direct peer is a loopback or private address, i.e. a proxy.
// X-Forwarded-For is read from the right: each proxy appends the address it
// saw, so the first hop that is not a proxy is the client. Entries left of it
// are client supplied.
func GetClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}

	if !isProxy(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			client = hop
			if !isProxy(hop) {
				break
			}
		}
		if client != "" {
			return client
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isProxy(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// RateLimitMiddleware rejects requests over limit with 429 and sets the
// X-RateLimit-* headers on every response.
func RateLimitMiddleware(limiter Limiter, limit RateLimit, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limit.KeyFunc(r)
			if key == "" {
				key = "unknown"
			}

			result, err := limiter.Check(r.Context(), key, limit.Endpoint, limit.Requests, limit.Window)
			if err != nil {
				logger.ErrorContext(r.Context(), "Rate limit misconfigured", "endpoint", limit.Endpoint, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
				response.ErrorResponse(w, apperrors.RateLimitedError("rate limit exceeded", nil), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
