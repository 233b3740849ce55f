// Package container wires the engine together from configuration.
package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/freekieb7/lockbox/internal/audit"
	"github.com/freekieb7/lockbox/internal/auth"
	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/config"
	"github.com/freekieb7/lockbox/internal/database"
	"github.com/freekieb7/lockbox/internal/database/migration"
	"github.com/freekieb7/lockbox/internal/health"
	"github.com/freekieb7/lockbox/internal/identity"
	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/freekieb7/lockbox/internal/password"
	"github.com/freekieb7/lockbox/internal/ratelimit"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/session"
	"github.com/freekieb7/lockbox/internal/token"
	"github.com/freekieb7/lockbox/internal/web"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Container struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Cache      *cache.Service
	Codec      *token.Codec
	Ledger     *revocation.Ledger
	Sessions   *session.Registry
	Limiter    *ratelimit.Limiter
	Attempts   *lockout.Tracker
	Users      identity.Store
	Auth       *auth.Service
	Health     *health.Checker
	HttpServer *http.Server

	closers []func()
}

// NewLogger writes JSON in production and text everywhere else.
func NewLogger(cfg config.Server) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// New connects both stores, runs migrations and builds every component. The
// durable store must be reachable; Redis may be down.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, version string) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(registry)

	revocations, users, err := c.openDurable(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Users = users

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Enabled = cfg.Cache.Enabled
	cacheConfig.Addr = cfg.Cache.RedisAddr
	cacheConfig.Password = cfg.Cache.RedisPassword
	cacheConfig.DB = cfg.Cache.RedisDB
	cacheConfig.PoolSize = cfg.Cache.RedisPoolSize
	cacheConfig.Prefix = cfg.Cache.Prefix
	cacheConfig.OpTimeout = cfg.Cache.OpTimeout
	c.Cache = cache.NewService(cacheConfig, logger)
	c.closers = append(c.closers, func() { _ = c.Cache.Close() })

	c.Codec, err = token.NewCodec(token.Config{
		MasterKey:         []byte(cfg.Token.MasterKey),
		Issuer:            cfg.Token.Issuer,
		Audience:          cfg.Token.Audience,
		EncryptionEnabled: cfg.Token.EncryptionEnabled,
		Leeway:            cfg.Token.Leeway,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("token codec: %w", err)
	}

	c.Ledger = revocation.NewLedger(c.Codec, c.Cache, revocations, c.Metrics, logger, revocation.Config{
		DurableTimeout: cfg.Database.OpTimeout,
		MarkerHorizon:  markerHorizon(cfg.Token),
	})
	c.closers = append(c.closers, c.Ledger.Stop)

	c.Sessions = session.NewRegistry(c.Cache, c.Metrics, logger, session.Config{
		DefaultTTL:  cfg.Session.DefaultTTL,
		ExtendedTTL: cfg.Session.ExtendedTTL,
	})

	c.Limiter = ratelimit.NewLimiter(c.Cache, c.Metrics, logger, ratelimit.Config{
		Enabled:          cfg.RateLimit.Enabled,
		FallbackEnabled:  cfg.RateLimit.FallbackEnabled,
		FallbackSweepAge: cfg.RateLimit.FallbackSweepAge,
	})
	c.closers = append(c.closers, c.Limiter.Close)

	policies := lockout.DefaultPolicies()
	policies[lockout.KindLogin] = lockout.Policy{
		Enabled:         cfg.Lockout.Enabled,
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		WindowDuration:  cfg.Lockout.WindowDuration,
		LockoutDuration: cfg.Lockout.LockoutDuration,
		UseExponential:  cfg.Lockout.UseExponential,
	}
	c.Attempts = lockout.NewTracker(c.Cache, policies, c.Metrics, logger)

	c.Auth, err = auth.NewService(auth.Deps{
		Codec:    c.Codec,
		Ledger:   c.Ledger,
		Sessions: c.Sessions,
		Limiter:  c.Limiter,
		Attempts: c.Attempts,
		Users:    c.Users,
		Hasher:   password.NewHasher(cfg.Password.BcryptCost),
		Store:    c.Cache,
		Notifier: resetNotifier(cfg.Server, logger),
		Audit:    audit.NewSecurityLogger(logger),
		Metrics:  c.Metrics,
		Logger:   logger,
	}, auth.Config{
		AccessTTL:    cfg.Token.AccessTTL,
		RefreshTTL:   cfg.Token.RefreshTTL,
		ResetCodeTTL: cfg.Password.ResetCodeTTL,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("auth service: %w", err)
	}

	c.Health = health.NewChecker(c.Cache.Health, c.Ledger.Healthy, logger, version)

	base := shared.NewBaseHandler(&c.Config, logger, c.Auth, c.Limiter, c.Metrics)
	c.HttpServer = web.NewServer(cfg.Server, web.NewRouter(base, c.Health), logger)

	return c, nil
}

// openDurable connects the configured SQL backend and brings its schema up
// to date.
func (c *Container) openDurable(ctx context.Context) (revocation.DurableStore, identity.Store, error) {
	switch c.Config.Database.Driver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, c.Config.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.closers = append(c.closers, func() { _ = db.Close() })

		if err := migrate(ctx, db, migration.DialectSQLite); err != nil {
			return nil, nil, err
		}
		return revocation.NewSQLiteStore(db), identity.NewSQLiteStore(db), nil

	case config.DriverPostgres:
		db := database.NewDatabase()
		if err := db.Connect(ctx, c.Config.Database); err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)

		sqlDB := db.SQL()
		defer sqlDB.Close()
		if err := migrate(ctx, sqlDB, migration.DialectPostgres); err != nil {
			return nil, nil, err
		}
		return revocation.NewPostgresStore(db.Pool), identity.NewPostgresStore(db.Pool), nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", c.Config.Database.Driver)
}

// markerHorizon keeps user invalidation markers until every refresh token
// issued before them has expired.
func markerHorizon(cfg config.Token) time.Duration {
	return max(revocation.DefaultMarkerHorizon, cfg.RefreshTTL+cfg.Leeway)
}

func migrate(ctx context.Context, db *sql.DB, dialect migration.Dialect) error {
	if err := migration.NewMigrator(db, dialect).Up(ctx, migration.All()); err != nil {
		return errors.Join(errors.New("migration up failed"), err)
	}
	return nil
}

// resetNotifier hands reset codes to the log outside production. Delivery
// in production belongs to the mail service.
func resetNotifier(cfg config.Server, logger *slog.Logger) auth.Notifier {
	if cfg.IsProduction() {
		logger.Warn("No reset code delivery configured, password reset codes are not sent")
		return nil
	}
	return auth.NotifierFunc(func(ctx context.Context, email, code string) error {
		logger.InfoContext(ctx, "Password reset code issued", "email", email, "code", code)
		return nil
	})
}

// StartBackground starts the periodic sweep of expired durable revocations.
func (c *Container) StartBackground() {
	if c.Config.Revocation.SweepInterval > 0 {
		c.Ledger.StartSweeper(c.Config.Revocation.SweepInterval)
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
