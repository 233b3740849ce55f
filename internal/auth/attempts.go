package auth

import (
	"context"
	"time"

	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/ratelimit"
)

// CheckRateLimit consumes one request from the sliding window of identifier
// on endpoint. Store outages allow the request with Degraded set.
func (s *Service) CheckRateLimit(ctx context.Context, identifier, endpoint string, max int, window time.Duration) (ratelimit.Result, error) {
	return s.limiter.Check(ctx, identifier, endpoint, max, window)
}

func (s *Service) RecordFailedAttempt(ctx context.Context, identifier string, kind lockout.Kind) (lockout.Status, error) {
	return s.attempts.RecordFailure(ctx, normalizeIdentifier(identifier), kind)
}

func (s *Service) ClearFailedAttempts(ctx context.Context, identifier string, kind lockout.Kind) error {
	return s.attempts.Clear(ctx, normalizeIdentifier(identifier), kind)
}

func (s *Service) IsLockedOut(ctx context.Context, identifier string, kind lockout.Kind) lockout.Status {
	return s.attempts.IsLockedOut(ctx, normalizeIdentifier(identifier), kind)
}
