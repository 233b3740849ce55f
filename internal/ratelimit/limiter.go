// Package ratelimit implements a sliding-window request limiter.
//
// Windows live in Redis as sorted sets of request timestamps and are updated
// by a single Lua script so that prune, insert and count are atomic per key.
// When Redis cannot be reached the limiter falls back to in-process windows,
// and when that is disabled too it fails open.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrInvalidLimit = errors.New("rate limit requires a positive maximum and window")

const keyPrefix = "ratelimit:"

// slidingWindowScript prunes, inserts and counts in one round trip.
// KEYS[1] window key; ARGV now_ms, window_ms, max, member.
// Returns {allowed, remaining, reset_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, member)
local count = redis.call('ZCARD', key)
local allowed = 1
if count > limit then
	redis.call('ZREM', key, member)
	count = count - 1
	allowed = 0
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end

return {allowed, limit - count, reset}
`)

// Result is the outcome of one Check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
	// Degraded is set when the shared store did not take part in the decision.
	Degraded bool `json:"degraded"`
}

type Config struct {
	Enabled          bool
	FallbackEnabled  bool
	FallbackSweepAge time.Duration
	TimeFunc         func() time.Time
}

type Limiter struct {
	store    *cache.Service
	fallback *memoryWindows
	enabled  bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewLimiter(store *cache.Service, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Limiter {
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}
	if cfg.FallbackSweepAge <= 0 {
		cfg.FallbackSweepAge = 5 * time.Minute
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	l := &Limiter{
		store:   store,
		enabled: cfg.Enabled,
		logger:  logger,
		metrics: m,
		now:     cfg.TimeFunc,
	}
	if cfg.FallbackEnabled {
		l.fallback = newMemoryWindows(cfg.FallbackSweepAge)
	}
	return l
}

// Key is the window key for identifier on endpoint, without the store prefix.
func Key(endpoint, identifier string) string {
	return keyPrefix + endpoint + ":" + identifier
}

// Check records one request of identifier against endpoint and reports
// whether it fits in the trailing window. Store failures never surface as
// errors; the result is marked Degraded instead.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, max int, window time.Duration) (Result, error) {
	if max <= 0 || window <= 0 {
		return Result{}, ErrInvalidLimit
	}

	now := l.now()
	if !l.enabled {
		return Result{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}, nil
	}

	key := Key(endpoint, identifier)
	result, err := l.checkStore(ctx, key, max, window, now)
	if err != nil {
		l.metrics.StoreFailures.WithLabelValues(metrics.StorePrimary, "rate_limit").Inc()

		if l.fallback == nil {
			l.logger.Warn("Rate limit store unavailable, allowing request", "endpoint", endpoint, "error", err)
			result = Result{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window), Degraded: true}
			l.record(endpoint, result)
			return result, nil
		}

		l.logger.Warn("Rate limit store unavailable, using in-process windows", "endpoint", endpoint, "error", err)
		l.metrics.RateLimitFallbacks.Inc()
		result = l.fallback.check(key, now, max, window)
		result.Degraded = true
	}

	l.record(endpoint, result)
	if !result.Allowed {
		l.logger.Info("Rate limit exceeded", "endpoint", endpoint, "identifier", identifier, "limit", max, "window", window)
	}
	return result, nil
}

func (l *Limiter) checkStore(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Result, error) {
	client := l.store.Client()
	if client == nil {
		return Result{}, cache.ErrUnavailable
	}

	ctx, cancel := l.store.WithTimeout(ctx)
	defer cancel()

	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	raw, err := slidingWindowScript.Run(ctx, client,
		[]string{l.store.Key(key)},
		now.UnixMilli(), window.Milliseconds(), max, member,
	).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply of length %d", len(raw))
	}

	allowed, err := parseRedisInt64(raw[0])
	if err != nil {
		return Result{}, err
	}
	remaining, err := parseRedisInt64(raw[1])
	if err != nil {
		return Result{}, err
	}
	resetMs, err := parseRedisInt64(raw[2])
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Allowed:   allowed == 1,
		Limit:     max,
		Remaining: int(remaining),
		ResetAt:   time.UnixMilli(resetMs),
	}
	if !result.Allowed {
		result.Remaining = 0
		result.RetryAfter = window
	}
	return result, nil
}

func (l *Limiter) record(endpoint string, result Result) {
	label := metrics.ResultAllowed
	if !result.Allowed {
		label = metrics.ResultDenied
	}
	l.metrics.RateLimitChecks.WithLabelValues(endpoint, label).Inc()
}

// Reset forgets every request of identifier on endpoint.
func (l *Limiter) Reset(ctx context.Context, identifier, endpoint string) error {
	key := Key(endpoint, identifier)
	if l.fallback != nil {
		l.fallback.reset(key)
	}
	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// Close drops the fallback windows so their memory is released with the
// limiter. Checks after Close start from empty windows.
func (l *Limiter) Close() {
	if l.fallback != nil {
		l.fallback.flush()
	}
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected redis value %T", v)
}
