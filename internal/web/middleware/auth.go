package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/token"
	"github.com/freekieb7/lockbox/internal/web/response"
)

type contextKey int

const (
	claimsKey contextKey = iota
	rawTokenKey
)

// Verifier authorizes an access token.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*token.Claims, error)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, credentials, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credentials)
}

// Authenticated rejects requests without a valid access token and stores
// the verified claims in the request context.
func Authenticated(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), nil)
				return
			}

			claims, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				logger.DebugContext(r.Context(), "Access token rejected", "error", err)
				response.ErrorResponse(w, err, nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = context.WithValue(ctx, rawTokenKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by Authenticated.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

// TokenFromContext returns the raw access token stored by Authenticated.
func TokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(rawTokenKey).(string)
	return raw
}
