package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "attempts:"

// recordScript increments the counter, starts the window on the first
// failure and stretches the key to the lockout duration once locked.
// KEYS[1] counter; ARGV window_ms, max_attempts, lockout_ms.
// Returns {count, pttl_ms}.
var recordScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if count >= tonumber(ARGV[2]) and tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// Status describes the counter of one identifier.
type Status struct {
	Locked            bool          `json:"locked"`
	Attempts          int           `json:"attempts"`
	RemainingAttempts int           `json:"remaining_attempts"`
	RetryAfter        time.Duration `json:"retry_after"`
}

type Tracker struct {
	store    *cache.Service
	policies map[Kind]Policy
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	fallback *gocache.Cache
}

// NewTracker builds a tracker. Kinds missing from policies use DefaultPolicy.
func NewTracker(store *cache.Service, policies map[Kind]Policy, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	merged := DefaultPolicies()
	for kind, p := range policies {
		merged[kind] = p
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Tracker{
		store:    store,
		policies: merged,
		logger:   logger,
		metrics:  m,
		fallback: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func Key(kind Kind, identifier string) string {
	return keyPrefix + string(kind) + ":" + identifier
}

func (t *Tracker) Policy(kind Kind) Policy {
	return t.policies[kind]
}

// RecordFailure counts one failed attempt and reports the resulting status.
func (t *Tracker) RecordFailure(ctx context.Context, identifier string, kind Kind) (Status, error) {
	if !kind.Valid() {
		return Status{}, fmt.Errorf("unknown attempt kind %q", kind)
	}
	policy := t.policies[kind]
	if !policy.Enabled {
		return Status{RemainingAttempts: policy.MaxAttempts}, nil
	}

	key := Key(kind, identifier)
	count, ttl, err := t.recordStore(ctx, key, policy)
	if err != nil {
		t.logger.Warn("Attempt store unavailable, counting in process", "kind", kind, "error", err)
		t.metrics.StoreFailures.WithLabelValues(metrics.StorePrimary, "record_attempt").Inc()
		count, ttl = t.recordFallback(key, policy)
	}

	status := statusOf(policy, count, ttl)
	if status.Locked && count == policy.MaxAttempts {
		t.metrics.Lockouts.WithLabelValues(string(kind)).Inc()
		t.logger.Warn("Identifier locked out", "kind", kind, "identifier", identifier, "attempts", count, "duration", ttl)
	}
	return status, nil
}

func (t *Tracker) recordStore(ctx context.Context, key string, policy Policy) (int, time.Duration, error) {
	client := t.store.Client()
	if client == nil {
		return 0, 0, cache.ErrUnavailable
	}

	ctx, cancel := t.store.WithTimeout(ctx)
	defer cancel()

	// The lockout length depends on the count, which is only known after the
	// increment, so the exponential case is applied in a second step.
	lockoutMs := policy.LockoutDuration.Milliseconds()
	if policy.UseExponential {
		lockoutMs = 0
	}

	raw, err := recordScript.Run(ctx, client, []string{t.store.Key(key)},
		policy.WindowDuration.Milliseconds(), policy.MaxAttempts, lockoutMs,
	).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("unexpected attempt script reply of length %d", len(raw))
	}

	count := int(raw[0])
	ttl := time.Duration(raw[1]) * time.Millisecond

	if policy.UseExponential && policy.ShouldLock(count) {
		ttl = policy.CalculateLockout(count)
		if err := client.PExpire(ctx, t.store.Key(key), ttl).Err(); err != nil {
			return 0, 0, err
		}
	}
	return count, ttl, nil
}

func (t *Tracker) recordFallback(key string, policy Policy) (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 1
	ttl := policy.WindowDuration
	if v, expires, ok := t.fallback.GetWithExpiration(key); ok {
		count = v.(int) + 1
		ttl = time.Until(expires)
	}
	if policy.ShouldLock(count) {
		ttl = policy.CalculateLockout(count)
	}
	t.fallback.Set(key, count, ttl)
	return count, ttl
}

// IsLockedOut reports the current status without counting an attempt.
func (t *Tracker) IsLockedOut(ctx context.Context, identifier string, kind Kind) Status {
	policy := t.policies[kind]
	if !policy.Enabled {
		return Status{RemainingAttempts: policy.MaxAttempts}
	}

	key := Key(kind, identifier)
	count, ttl, err := t.readStore(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrUnavailable) {
			t.logger.Warn("Attempt store unavailable, reading in-process counter", "kind", kind, "error", err)
		}
		count, ttl = t.readFallback(key)
	}
	return statusOf(policy, count, ttl)
}

func (t *Tracker) readStore(ctx context.Context, key string) (int, time.Duration, error) {
	client := t.store.Client()
	if client == nil {
		return 0, 0, cache.ErrUnavailable
	}

	ctx, cancel := t.store.WithTimeout(ctx)
	defer cancel()

	pipe := client.Pipeline()
	getCmd := pipe.Get(ctx, t.store.Key(key))
	ttlCmd := pipe.PTTL(ctx, t.store.Key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("corrupt attempt counter: %w", err)
	}
	return count, ttlCmd.Val(), nil
}

func (t *Tracker) readFallback(key string) (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, expires, ok := t.fallback.GetWithExpiration(key)
	if !ok {
		return 0, 0
	}
	return v.(int), time.Until(expires)
}

// Clear drops the counter, for example after a successful login.
func (t *Tracker) Clear(ctx context.Context, identifier string, kind Kind) error {
	key := Key(kind, identifier)

	t.mu.Lock()
	t.fallback.Delete(key)
	t.mu.Unlock()

	if err := t.store.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		t.logger.Warn("Failed to clear attempt counter", "kind", kind, "error", err)
		return err
	}
	return nil
}

func statusOf(policy Policy, count int, ttl time.Duration) Status {
	status := Status{
		Attempts:          count,
		RemainingAttempts: policy.RemainingAttempts(count),
	}
	if policy.ShouldLock(count) {
		status.Locked = true
		status.RetryAfter = ttl
	}
	return status
}
