package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverSQLite   DatabaseDriver = "sqlite"
)

func (d DatabaseDriver) IsValid() bool {
	switch d {
	case DriverPostgres, DriverSQLite:
		return true
	}
	return false
}

// MinMasterKeyLength is the shortest master key accepted for token key derivation.
const MinMasterKeyLength = 32

type Config struct {
	Server     Server
	Database   Database
	Cache      Cache
	Token      Token
	RateLimit  RateLimit
	Lockout    Lockout
	Session    Session
	Revocation Revocation
	Password   Password
	AdminKey   string
}

type Server struct {
	Port           int
	Environment    Environment
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

type Database struct {
	Driver          DatabaseDriver
	URL             string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	OpTimeout       time.Duration
}

type Cache struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	Prefix        string
	OpTimeout     time.Duration
}

type Token struct {
	MasterKey         string
	Issuer            string
	Audience          string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	EncryptionEnabled bool
	Leeway            time.Duration
}

type RateLimit struct {
	Enabled          bool
	FallbackEnabled  bool
	LoginRequests    int
	APIRequests      int
	WindowDuration   time.Duration
	FallbackSweepAge time.Duration
}

type Lockout struct {
	Enabled         bool
	MaxAttempts     int
	WindowDuration  time.Duration
	LockoutDuration time.Duration
	UseExponential  bool
}

type Session struct {
	DefaultTTL  time.Duration
	ExtendedTTL time.Duration
}

type Revocation struct {
	SweepInterval time.Duration
}

type Password struct {
	BcryptCost   int
	ResetCodeTTL time.Duration
}

// Load loads configuration from the environment
func Load() (Config, error) {
	var config Config
	var err error

	// Server configuration
	config.Server.Port, err = getEnvIntSafe("SERVER_PORT", 8080, false)
	if err != nil {
		return config, fmt.Errorf("server port config error: %w", err)
	}

	config.Server.Environment, err = getEnvEnvironmentSafe("SERVER_ENVIRONMENT", EnvDevelopment, false)
	if err != nil {
		return config, fmt.Errorf("server environment config error: %w", err)
	}

	config.Server.WriteTimeout, err = getEnvDurationSafe("SERVER_WRITE_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server write timeout config error: %w", err)
	}

	config.Server.ReadTimeout, err = getEnvDurationSafe("SERVER_READ_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server read timeout config error: %w", err)
	}

	config.Server.IdleTimeout, err = getEnvDurationSafe("SERVER_IDLE_TIMEOUT", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server idle timeout config error: %w", err)
	}

	config.Server.MaxHeaderBytes, err = getEnvIntSafe("SERVER_MAX_HEADER_BYTES", 1<<20, false)
	if err != nil {
		return config, fmt.Errorf("server max header bytes config error: %w", err)
	}

	config.AdminKey, err = getEnvStringSafe("ADMIN_API_KEY", "", false)
	if err != nil {
		return config, fmt.Errorf("admin key config error: %w", err)
	}

	// Database configuration
	config.Database.Driver, err = getEnvDriverSafe("DB_DRIVER", DriverPostgres, false)
	if err != nil {
		return config, fmt.Errorf("database driver config error: %w", err)
	}

	config.Database.URL, err = getEnvStringSafe("DB_URL", "", true)
	if err != nil {
		return config, fmt.Errorf("database URL config error: %w", err)
	}

	config.Database.MaxOpenConns, err = getEnvInt32Safe("DB_MAX_OPEN_CONNS", 25, false)
	if err != nil {
		return config, fmt.Errorf("database max open conns config error: %w", err)
	}

	config.Database.MaxIdleConns, err = getEnvInt32Safe("DB_MAX_IDLE_CONNS", 5, false)
	if err != nil {
		return config, fmt.Errorf("database max idle conns config error: %w", err)
	}

	config.Database.ConnMaxLifetime, err = getEnvDurationSafe("DB_CONN_MAX_LIFETIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max lifetime config error: %w", err)
	}

	config.Database.ConnMaxIdleTime, err = getEnvDurationSafe("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max idle time config error: %w", err)
	}

	config.Database.OpTimeout, err = getEnvDurationSafe("DB_OP_TIMEOUT", 500*time.Millisecond, false)
	if err != nil {
		return config, fmt.Errorf("database op timeout config error: %w", err)
	}

	// Cache configuration
	config.Cache.Enabled, err = getEnvBoolSafe("CACHE_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("cache enabled config error: %w", err)
	}

	config.Cache.RedisAddr, err = getEnvStringSafe("REDIS_ADDR", "localhost:6379", false)
	if err != nil {
		return config, fmt.Errorf("Redis address config error: %w", err)
	}

	config.Cache.RedisPassword, err = getEnvStringSafe("REDIS_PASSWORD", "", false)
	if err != nil {
		return config, fmt.Errorf("Redis password config error: %w", err)
	}

	config.Cache.RedisDB, err = getEnvIntSafe("REDIS_DB", 0, false)
	if err != nil {
		return config, fmt.Errorf("Redis DB config error: %w", err)
	}

	config.Cache.RedisPoolSize, err = getEnvIntSafe("REDIS_POOL_SIZE", 10, false)
	if err != nil {
		return config, fmt.Errorf("Redis pool size config error: %w", err)
	}

	config.Cache.Prefix, err = getEnvStringSafe("REDIS_PREFIX", "lockbox:", false)
	if err != nil {
		return config, fmt.Errorf("Redis prefix config error: %w", err)
	}

	config.Cache.OpTimeout, err = getEnvDurationSafe("CACHE_OP_TIMEOUT", 250*time.Millisecond, false)
	if err != nil {
		return config, fmt.Errorf("cache op timeout config error: %w", err)
	}

	// Token configuration
	config.Token.MasterKey, err = getEnvStringSafe("TOKEN_MASTER_KEY", "", true)
	if err != nil {
		return config, fmt.Errorf("token master key config error: %w", err)
	}

	config.Token.Issuer, err = getEnvStringSafe("TOKEN_ISSUER", "medialab-api", false)
	if err != nil {
		return config, fmt.Errorf("token issuer config error: %w", err)
	}

	config.Token.Audience, err = getEnvStringSafe("TOKEN_AUDIENCE", "medialab-clients", false)
	if err != nil {
		return config, fmt.Errorf("token audience config error: %w", err)
	}

	config.Token.AccessTTL, err = getEnvDurationSafe("TOKEN_ACCESS_TTL", 15*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("token access TTL config error: %w", err)
	}

	config.Token.RefreshTTL, err = getEnvDurationSafe("TOKEN_REFRESH_TTL", 7*24*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("token refresh TTL config error: %w", err)
	}

	config.Token.EncryptionEnabled, err = getEnvBoolSafe("TOKEN_ENCRYPTION_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("token encryption config error: %w", err)
	}

	config.Token.Leeway, err = getEnvDurationSafe("TOKEN_LEEWAY", 0, false)
	if err != nil {
		return config, fmt.Errorf("token leeway config error: %w", err)
	}

	// Rate limit configuration
	config.RateLimit.Enabled, err = getEnvBoolSafe("RATE_LIMIT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit enabled config error: %w", err)
	}

	config.RateLimit.FallbackEnabled, err = getEnvBoolSafe("RATE_LIMIT_FALLBACK_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit fallback config error: %w", err)
	}

	config.RateLimit.LoginRequests, err = getEnvIntSafe("RATE_LIMIT_LOGIN_REQUESTS", 10, false)
	if err != nil {
		return config, fmt.Errorf("rate limit login requests config error: %w", err)
	}

	config.RateLimit.APIRequests, err = getEnvIntSafe("RATE_LIMIT_API_REQUESTS", 100, false)
	if err != nil {
		return config, fmt.Errorf("rate limit API requests config error: %w", err)
	}

	config.RateLimit.WindowDuration, err = getEnvDurationSafe("RATE_LIMIT_WINDOW_DURATION", time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("rate limit window duration config error: %w", err)
	}

	config.RateLimit.FallbackSweepAge, err = getEnvDurationSafe("RATE_LIMIT_FALLBACK_SWEEP", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("rate limit fallback sweep config error: %w", err)
	}

	// Lockout configuration
	config.Lockout.Enabled, err = getEnvBoolSafe("LOCKOUT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("lockout enabled config error: %w", err)
	}

	config.Lockout.MaxAttempts, err = getEnvIntSafe("LOCKOUT_MAX_ATTEMPTS", 5, false)
	if err != nil {
		return config, fmt.Errorf("lockout max attempts config error: %w", err)
	}

	config.Lockout.WindowDuration, err = getEnvDurationSafe("LOCKOUT_WINDOW", 15*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("lockout window config error: %w", err)
	}

	config.Lockout.LockoutDuration, err = getEnvDurationSafe("LOCKOUT_DURATION", 15*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("lockout duration config error: %w", err)
	}

	config.Lockout.UseExponential, err = getEnvBoolSafe("LOCKOUT_EXPONENTIAL", false, false)
	if err != nil {
		return config, fmt.Errorf("lockout exponential config error: %w", err)
	}

	// Session configuration
	config.Session.DefaultTTL, err = getEnvDurationSafe("SESSION_DEFAULT_TTL", 8*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("session default TTL config error: %w", err)
	}

	config.Session.ExtendedTTL, err = getEnvDurationSafe("SESSION_EXTENDED_TTL", 30*24*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("session extended TTL config error: %w", err)
	}

	// Revocation configuration
	config.Revocation.SweepInterval, err = getEnvDurationSafe("REVOCATION_SWEEP_INTERVAL", time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("revocation sweep interval config error: %w", err)
	}

	// Password configuration
	config.Password.BcryptCost, err = getEnvIntSafe("PASSWORD_BCRYPT_COST", 12, false)
	if err != nil {
		return config, fmt.Errorf("password bcrypt cost config error: %w", err)
	}

	config.Password.ResetCodeTTL, err = getEnvDurationSafe("PASSWORD_RESET_CODE_TTL", 15*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("password reset code TTL config error: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate checks cross-field invariants that single variable parsing cannot
// catch. Violations are returned as CONFIG_ERROR app errors.
func (c Config) Validate() error {
	if len(c.Token.MasterKey) < MinMasterKeyLength {
		return apperrors.ConfigError(fmt.Sprintf("TOKEN_MASTER_KEY must be at least %d bytes", MinMasterKeyLength), nil)
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return apperrors.ConfigError("token TTLs must be positive", nil)
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return apperrors.ConfigError("TOKEN_REFRESH_TTL must not be shorter than TOKEN_ACCESS_TTL", nil)
	}
	if c.Session.ExtendedTTL < c.Session.DefaultTTL {
		return apperrors.ConfigError("SESSION_EXTENDED_TTL must not be shorter than SESSION_DEFAULT_TTL", nil)
	}
	if c.Lockout.Enabled && c.Lockout.MaxAttempts < 1 {
		return apperrors.ConfigError("LOCKOUT_MAX_ATTEMPTS must be at least 1", nil)
	}
	if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
		return apperrors.ConfigError("PASSWORD_BCRYPT_COST must be between 4 and 31", nil)
	}
	if c.Cache.OpTimeout <= 0 || c.Database.OpTimeout <= 0 {
		return apperrors.ConfigError("store op timeouts must be positive", nil)
	}
	return nil
}

func getEnvStringSafe(key, defaultValue string, required bool) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	return value, nil
}

func getEnvIntSafe(key string, defaultValue int, required bool) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvInt32Safe(key string, defaultValue int32, required bool) (int32, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return int32(value), nil
}

func getEnvDurationSafe(key string, defaultValue time.Duration, required bool) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid duration: %w", key, err)
	}
	return value, nil
}

func getEnvBoolSafe(key string, defaultValue bool, required bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return false, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a valid boolean: %w", key, err)
	}
	return value, nil
}

func getEnvEnvironmentSafe(key string, defaultValue Environment, required bool) (Environment, error) {
	env, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	envValue := Environment(env)
	if !envValue.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, env)
	}
	return envValue, nil
}

func getEnvDriverSafe(key string, defaultValue DatabaseDriver, required bool) (DatabaseDriver, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	driver := DatabaseDriver(value)
	if !driver.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, value)
	}
	return driver, nil
}
