// Package revocation records revoked tokens and invalidated users in two
// stores: Redis as the fast primary and a SQL database as the durable
// secondary.
//
// The two writes are not transactional. A crash between them leaves the
// stores briefly inconsistent; a later IsRevoked or IsUserInvalidated read
// that misses the primary and hits the secondary copies the record back into
// the primary (read-repair). Reads fail closed when neither store answers.
package revocation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/freekieb7/lockbox/internal/token"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const (
	MinEntryTTL = time.Minute
	MaxEntryTTL = 30 * 24 * time.Hour

	// DefaultMarkerHorizon is the marker lifetime when Config leaves it
	// unset. Callers must raise it to at least the longest refresh TTL.
	DefaultMarkerHorizon = 24 * time.Hour

	revokedKeyPrefix     = "revoked:"
	invalidatedKeyPrefix = "invalidated:"
)

// Peeker extracts identifiers from tokens that may not verify.
type Peeker interface {
	Peek(raw string) token.Unverified
}

type Config struct {
	DurableTimeout time.Duration
	// MarkerHorizon is how long a user invalidation marker is kept. It must
	// outlive every token issued before the marker.
	MarkerHorizon time.Duration
	TimeFunc      func() time.Time
}

type Ledger struct {
	peeker   Peeker
	primary  *cache.Service
	durable  DurableStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	horizon  time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLedger builds a ledger. durable may be nil, in which case the ledger runs
// on the primary store alone.
func NewLedger(peeker Peeker, primary *cache.Service, durable DurableStore, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Ledger {
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}
	if cfg.DurableTimeout <= 0 {
		cfg.DurableTimeout = 500 * time.Millisecond
	}
	if cfg.MarkerHorizon < DefaultMarkerHorizon {
		cfg.MarkerHorizon = DefaultMarkerHorizon
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Ledger{
		peeker:  peeker,
		primary: primary,
		durable: durable,
		logger:  logger,
		metrics: m,
		timeout: cfg.DurableTimeout,
		horizon: cfg.MarkerHorizon,
		now:     cfg.TimeFunc,
		stopCh:  make(chan struct{}),
	}
}

// ClampTTL bounds an entry lifetime to [MinEntryTTL, MaxEntryTTL].
func ClampTTL(d time.Duration) time.Duration {
	if d < MinEntryTTL {
		return MinEntryTTL
	}
	if d > MaxEntryTTL {
		return MaxEntryTTL
	}
	return d
}

// Revoke blacklists raw until its natural expiry. The token does not have to
// verify. userID may be empty, in which case the token subject is recorded.
func (l *Ledger) Revoke(ctx context.Context, raw, userID string, reason Reason) error {
	u := l.peeker.Peek(raw)
	if userID == "" {
		userID = u.Subject
	}

	return l.RevokeEntry(ctx, Entry{
		JTI:       u.JTI,
		UserID:    userID,
		Kind:      u.Kind,
		Reason:    reason,
		ExpiresAt: u.ExpiresAt,
	})
}

// RevokeEntry writes entry to both stores concurrently. It succeeds when at
// least one write succeeds.
func (l *Ledger) RevokeEntry(ctx context.Context, entry Entry) error {
	if entry.JTI == "" {
		return errors.New("revocation entry without jti")
	}

	now := l.now()
	ttl := MaxEntryTTL
	if !entry.ExpiresAt.IsZero() {
		ttl = ClampTTL(entry.ExpiresAt.Sub(now))
	}
	entry.RevokedAt = now
	entry.ExpiresAt = now.Add(ttl)

	err := l.dualWrite(ctx, "revoke",
		func(ctx context.Context) error {
			return l.primary.Set(ctx, revokedKeyPrefix+entry.JTI, entry, ttl)
		},
		func(ctx context.Context) error {
			return l.durable.SaveEntry(ctx, entry)
		},
	)
	if err != nil {
		l.logger.Error("Token revocation failed on every store", "jti", entry.JTI, "error", err)
		return err
	}

	l.metrics.Revocations.WithLabelValues(string(entry.Reason)).Inc()
	l.logger.Debug("Token revoked", "jti", entry.JTI, "user_id", entry.UserID, "reason", entry.Reason, "ttl", ttl)
	return nil
}

// IsRevoked reports whether raw is blacklisted. It returns true when no
// structural identifier can be read from raw or when neither store answers.
func (l *Ledger) IsRevoked(ctx context.Context, raw string) bool {
	u := l.peeker.Peek(raw)
	if !u.Structural() {
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultFailClosed).Inc()
		return true
	}
	return l.IsRevokedJTI(ctx, u.JTI)
}

func (l *Ledger) IsRevokedJTI(ctx context.Context, jti string) bool {
	var entry Entry
	primaryErr := l.primary.Get(ctx, revokedKeyPrefix+jti, &entry)
	if primaryErr == nil {
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultRevoked).Inc()
		return true
	}
	primaryDown := !errors.Is(primaryErr, cache.ErrCacheMiss)
	if primaryDown {
		l.metrics.StoreFailures.WithLabelValues(metrics.StorePrimary, "is_revoked").Inc()
	}

	if l.durable == nil {
		return l.checkResult(false, primaryDown)
	}

	dctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entry, err := l.durable.FindEntry(dctx, jti, l.now())
	switch {
	case err == nil:
		if !primaryDown {
			l.repairEntry(ctx, entry)
		}
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultRevoked).Inc()
		return true
	case errors.Is(err, ErrNotFound):
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultClear).Inc()
		return false
	default:
		l.metrics.StoreFailures.WithLabelValues(metrics.StoreDurable, "is_revoked").Inc()
		l.logger.Warn("Durable revocation lookup failed", "jti", jti, "error", err)
		return l.checkResult(false, primaryDown)
	}
}

// checkResult applies the fail-closed rule when the primary could not answer
// and the durable store gave no definite answer either.
func (l *Ledger) checkResult(found, primaryDown bool) bool {
	if primaryDown {
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultFailClosed).Inc()
		return true
	}
	if found {
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultRevoked).Inc()
	} else {
		l.metrics.RevocationChecks.WithLabelValues(metrics.ResultClear).Inc()
	}
	return found
}

func (l *Ledger) repairEntry(ctx context.Context, entry Entry) {
	ttl := entry.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return
	}
	if err := l.primary.Set(ctx, revokedKeyPrefix+entry.JTI, entry, ttl); err != nil {
		l.logger.Warn("Read-repair of revoked token failed", "jti", entry.JTI, "error", err)
		return
	}
	l.metrics.ReadRepairs.WithLabelValues("entry").Inc()
	l.logger.Debug("Revoked token restored into primary store", "jti", entry.JTI)
}

// InvalidateAllForUser revokes every token of userID issued up to now. The
// marker is kept for the configured horizon.
func (l *Ledger) InvalidateAllForUser(ctx context.Context, userID string, reason Reason) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	now := l.now()
	marker := Marker{
		UserID:        userID,
		Reason:        reason,
		InvalidatedAt: now,
		ExpiresAt:     now.Add(l.horizon),
	}

	err := l.dualWrite(ctx, "invalidate_user",
		func(ctx context.Context) error {
			return l.primary.Set(ctx, invalidatedKeyPrefix+userID, marker, l.horizon)
		},
		func(ctx context.Context) error {
			return l.durable.SaveMarker(ctx, marker)
		},
	)
	if err != nil {
		l.logger.Error("User invalidation failed on every store", "user_id", userID, "error", err)
		return err
	}

	l.metrics.Revocations.WithLabelValues(string(reason)).Inc()
	l.logger.Info("All tokens invalidated for user", "user_id", userID, "reason", reason)
	return nil
}

// MarkerHorizon is how long invalidation markers are kept.
func (l *Ledger) MarkerHorizon() time.Duration {
	return l.horizon
}

// IsUserInvalidated reports whether a token of userID issued at issuedAt is
// covered by an invalidation marker.
func (l *Ledger) IsUserInvalidated(ctx context.Context, userID string, issuedAt time.Time) bool {
	marker, found, ok := l.findMarker(ctx, userID)
	if !ok {
		return true
	}
	return found && marker.Covers(issuedAt)
}

// findMarker returns ok=false when neither store could answer.
func (l *Ledger) findMarker(ctx context.Context, userID string) (Marker, bool, bool) {
	var marker Marker
	primaryErr := l.primary.Get(ctx, invalidatedKeyPrefix+userID, &marker)
	if primaryErr == nil {
		return marker, true, true
	}
	primaryDown := !errors.Is(primaryErr, cache.ErrCacheMiss)
	if primaryDown {
		l.metrics.StoreFailures.WithLabelValues(metrics.StorePrimary, "find_marker").Inc()
	}

	if l.durable == nil {
		return Marker{}, false, !primaryDown
	}

	dctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	marker, err := l.durable.FindMarker(dctx, userID, l.now())
	switch {
	case err == nil:
		if !primaryDown {
			l.repairMarker(ctx, marker)
		}
		return marker, true, true
	case errors.Is(err, ErrNotFound):
		return Marker{}, false, true
	default:
		l.metrics.StoreFailures.WithLabelValues(metrics.StoreDurable, "find_marker").Inc()
		l.logger.Warn("Durable invalidation lookup failed", "user_id", userID, "error", err)
		return Marker{}, false, !primaryDown
	}
}

func (l *Ledger) repairMarker(ctx context.Context, marker Marker) {
	ttl := marker.ExpiresAt.Sub(l.now())
	if ttl <= 0 {
		return
	}
	if err := l.primary.Set(ctx, invalidatedKeyPrefix+marker.UserID, marker, ttl); err != nil {
		l.logger.Warn("Read-repair of user invalidation failed", "user_id", marker.UserID, "error", err)
		return
	}
	l.metrics.ReadRepairs.WithLabelValues("marker").Inc()
}

// dualWrite runs both writes concurrently and only fails when both fail.
func (l *Ledger) dualWrite(ctx context.Context, op string, primary, durable func(context.Context) error) error {
	var primaryErr, durableErr error
	var g errgroup.Group

	g.Go(func() error {
		primaryErr = primary(ctx)
		return nil
	})
	if l.durable != nil {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, l.timeout)
			defer cancel()
			durableErr = durable(dctx)
			return nil
		})
	} else {
		durableErr = errors.New("no durable store configured")
	}
	_ = g.Wait()

	if primaryErr != nil {
		l.metrics.StoreFailures.WithLabelValues(metrics.StorePrimary, op).Inc()
	}
	if durableErr != nil && l.durable != nil {
		l.metrics.StoreFailures.WithLabelValues(metrics.StoreDurable, op).Inc()
	}

	switch {
	case primaryErr == nil && durableErr == nil:
		return nil
	case primaryErr != nil && durableErr != nil:
		var result *multierror.Error
		result = multierror.Append(result, primaryErr, durableErr)
		return result.ErrorOrNil()
	case primaryErr != nil:
		l.logger.Warn("Primary store write failed, durable copy kept", "operation", op, "error", primaryErr)
	case l.durable != nil:
		l.logger.Warn("Durable store write failed, primary copy kept", "operation", op, "error", durableErr)
	}
	return nil
}

// SweepExpired removes durable rows past their expiry. The primary store
// expires its keys natively.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	if l.durable == nil {
		return 0, nil
	}

	n, err := l.durable.DeleteExpired(ctx, l.now())
	if err != nil {
		l.logger.Error("Revocation sweep failed", "error", err)
		return n, err
	}

	l.metrics.SweptEntries.Add(float64(n))
	if n > 0 {
		l.logger.Info("Swept expired revocation records", "count", n)
	}
	return n, nil
}

// StartSweeper runs SweepExpired every interval until Stop is called.
func (l *Ledger) StartSweeper(interval time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				_, _ = l.SweepExpired(ctx)
				cancel()
			case <-l.stopCh:
				return
			}
		}
	}()
	l.logger.Info("Revocation sweeper started", "interval", interval)
}

// Stop halts the sweeper and waits for it to exit. It is safe to call more
// than once.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}

// Stats reports live durable records. Without a durable store it is empty.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	if l.durable == nil {
		return Stats{}, nil
	}
	dctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.durable.Stats(dctx, l.now())
}

// Healthy reports whether the durable store answers.
func (l *Ledger) Healthy(ctx context.Context) error {
	if l.durable == nil {
		return errors.New("no durable store configured")
	}
	dctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.durable.Ping(dctx)
}
