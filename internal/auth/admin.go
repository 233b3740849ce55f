package auth

import (
	"context"
	"sync"

	"github.com/freekieb7/lockbox/internal/audit"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/revocation"
	"golang.org/x/sync/errgroup"
)

const (
	// resetConcurrency bounds parallel users during an emergency reset.
	resetConcurrency = 8
	// resetActiveUserLimit caps how many active users a reset without an
	// explicit user list will touch.
	resetActiveUserLimit = 10000
)

// ForceLogoutUser ends every session of userID on behalf of an operator. It
// returns the number of sessions destroyed.
func (s *Service) ForceLogoutUser(ctx context.Context, userID string, reason revocation.Reason) (int, error) {
	if reason == "" {
		reason = revocation.ReasonAdminForced
	}
	if !reason.Valid() {
		return 0, apperrors.ValidationError("unknown revocation reason", nil)
	}

	destroyed, err := s.endEverything(ctx, userID, reason)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.EventForcedLogout, userID, map[string]any{
		"reason":             string(reason),
		"sessions_destroyed": destroyed,
	})
	return destroyed, nil
}

// EmergencySecurityReset force-logs-out each of userIDs. With no ids it
// targets every user with a recently active session.
func (s *Service) EmergencySecurityReset(ctx context.Context, userIDs []string, reason revocation.Reason) (*ResetReport, error) {
	if reason == "" {
		reason = revocation.ReasonSecurityReset
	}
	if !reason.Valid() {
		return nil, apperrors.ValidationError("unknown revocation reason", nil)
	}

	if len(userIDs) == 0 {
		active, err := s.sessions.ListActiveUsers(ctx, resetActiveUserLimit)
		if err != nil {
			return nil, apperrors.InternalError("failed to list active users", err)
		}
		for _, u := range active {
			userIDs = append(userIDs, u.UserID)
		}
	}

	report := &ResetReport{
		Reason:    string(reason),
		Users:     len(userIDs),
		Failures:  map[string]string{},
		StartedAt: s.now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resetConcurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			destroyed, err := s.endEverything(gctx, userID, reason)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[userID] = err.Error()
				return nil
			}
			report.Invalidated++
			report.SessionsDestroyed += destroyed
			return nil
		})
	}
	_ = g.Wait()
	report.Duration = s.now().Sub(report.StartedAt)

	s.logger.Warn("Emergency security reset completed",
		"reason", reason,
		"users", report.Users,
		"invalidated", report.Invalidated,
		"failures", len(report.Failures),
	)
	s.audit.Record(ctx, audit.EventEmergencyReset, "", map[string]any{
		"reason":             string(reason),
		"users":              report.Users,
		"invalidated":        report.Invalidated,
		"sessions_destroyed": report.SessionsDestroyed,
		"failures":           len(report.Failures),
	})
	return report, nil
}

// Stats collects ledger, session and store health figures concurrently. A failing source
// leaves its fields at -1 instead of failing the whole call.
func (s *Service) Stats(ctx context.Context) Stats {
	stats := Stats{
		RevokedTokens:    -1,
		InvalidatedUsers: -1,
		ActiveUsers:      -1,
		GeneratedAt:      s.now(),
	}

	var g errgroup.Group
	g.Go(func() error {
		ledgerStats, err := s.ledger.Stats(ctx)
		if err != nil {
			s.logger.Warn("Failed to read revocation stats", "error", err)
			return nil
		}
		stats.RevokedTokens = ledgerStats.RevokedTokens
		stats.InvalidatedUsers = ledgerStats.InvalidatedUsers
		return nil
	})
	g.Go(func() error {
		stats.DurableHealthy = s.ledger.Healthy(ctx) == nil
		return nil
	})
	g.Go(func() error {
		count, err := s.sessions.Count(ctx)
		if err != nil {
			s.logger.Warn("Failed to count sessions", "error", err)
			return nil
		}
		stats.ActiveUsers = count
		return nil
	})
	g.Go(func() error {
		stats.PrimaryHealthy = s.store.Health(ctx) == nil
		return nil
	})
	_ = g.Wait()

	return stats
}

// SweepExpired removes expired durable revocation rows.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		return 0, apperrors.InternalError("failed to sweep revocations", err)
	}
	return n, nil
}
