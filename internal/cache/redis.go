package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache errors
var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrUnavailable = errors.New("cache unavailable")
)

// Service is the shared volatile store. Every component namespaces its keys
// through Key and bounds each round trip with WithTimeout.
type Service struct {
	client    redis.UniversalClient
	logger    *slog.Logger
	prefix    string
	opTimeout time.Duration
}

// Config holds Redis cache configuration
type Config struct {
	Addr         string        // Redis server address
	Password     string        // Redis password
	DB           int           // Redis database number
	PoolSize     int           // Connection pool size
	MinIdleConns int           // Minimum idle connections
	MaxRetries   int           // Maximum number of retries
	DialTimeout  time.Duration // Connection timeout
	ReadTimeout  time.Duration // Read timeout
	WriteTimeout time.Duration // Write timeout
	OpTimeout    time.Duration // Upper bound for a single engine call
	Prefix       string        // Key prefix for namespacing
	Enabled      bool          // Whether Redis is used at all
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		OpTimeout:    250 * time.Millisecond,
		Prefix:       "lockbox:",
		Enabled:      true,
	}
}

// NewService creates a Redis backed service. An unreachable server is not
// fatal: the service is returned anyway and callers take their degraded paths
// until Redis comes back.
func NewService(config *Config, logger *slog.Logger) *Service {
	if !config.Enabled {
		logger.Warn("Redis disabled, running on in-process fallbacks only")
		return &Service{logger: logger, prefix: config.Prefix, opTimeout: config.OpTimeout}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis, starting degraded", "error", err, "addr", config.Addr)
	} else {
		logger.Info("Connected to Redis", "addr", config.Addr, "db", config.DB)
	}

	return NewServiceWithClient(redisClient, config.Prefix, config.OpTimeout, logger)
}

// NewServiceWithClient wraps an existing client
func NewServiceWithClient(client redis.UniversalClient, prefix string, opTimeout time.Duration, logger *slog.Logger) *Service {
	if opTimeout <= 0 {
		opTimeout = DefaultConfig().OpTimeout
	}
	return &Service{
		client:    client,
		logger:    logger,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

// Key creates a prefixed key
func (s *Service) Key(key string) string {
	return s.prefix + key
}

// Client exposes the raw client for scripts and data structure commands.
// It is nil when Redis is disabled.
func (s *Service) Client() redis.UniversalClient {
	return s.client
}

func (s *Service) Enabled() bool {
	return s.client != nil
}

// WithTimeout derives a context bounded by the per-call store timeout.
// A tighter caller deadline wins.
func (s *Service) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Set stores a value in cache with expiration
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.client == nil {
		return ErrUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.Key(key), data, ttl).Err(); err != nil {
		s.logger.Warn("Cache set failed", "key", key, "error", err)
		return err
	}

	s.logger.Debug("Cache set", "key", key, "ttl", ttl)
	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key string, dest interface{}) error {
	if s.client == nil {
		return ErrUnavailable
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		s.logger.Warn("Cache get failed", "key", key, "error", err)
		return err
	}

	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.Warn("Cache unmarshal failed", "key", key, "error", err)
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	return nil
}

// Delete removes values from cache
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if s.client == nil {
		return ErrUnavailable
	}
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.Key(key)
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, full...).Err(); err != nil {
		s.logger.Warn("Cache delete failed", "keys", keys, "error", err)
		return err
	}
	return nil
}

// Exists checks if a key exists in cache
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	if s.client == nil {
		return false, ErrUnavailable
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	result, err := s.client.Exists(ctx, s.Key(key)).Result()
	if err != nil {
		s.logger.Warn("Cache exists check failed", "key", key, "error", err)
		return false, err
	}
	return result == 1, nil
}

// SetNX sets a key only if it doesn't exist
func (s *Service) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, ErrUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	result, err := s.client.SetNX(ctx, s.Key(key), data, ttl).Result()
	if err != nil {
		s.logger.Warn("Cache setnx failed", "key", key, "error", err)
		return false, err
	}
	return result, nil
}

// Increment atomically increments a counter and refreshes its expiry
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.client == nil {
		return 0, ErrUnavailable
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	pipeline := s.client.TxPipeline()
	incrCmd := pipeline.Incr(ctx, s.Key(key))
	pipeline.Expire(ctx, s.Key(key), ttl)

	if _, err := pipeline.Exec(ctx); err != nil {
		s.logger.Warn("Cache increment failed", "key", key, "error", err)
		return 0, err
	}
	return incrCmd.Val(), nil
}

// TTL returns the remaining lifetime of a key, ErrCacheMiss when absent
func (s *Service) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s.client == nil {
		return 0, ErrUnavailable
	}

	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports a missing key as -2 and a key without expiry as -1
	if ttl == -2 {
		return 0, ErrCacheMiss
	}
	return ttl, nil
}

// Health checks the health of the cache service
func (s *Service) Health(ctx context.Context) error {
	if s.client == nil {
		return ErrUnavailable
	}
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the cache service
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Stats returns connection pool statistics
func (s *Service) Stats() map[string]interface{} {
	if s.client == nil {
		return map[string]interface{}{"enabled": false}
	}
	poolStats := s.client.PoolStats()
	return map[string]interface{}{
		"enabled":     true,
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}

// MaskToken shortens a credential for log output
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}
