package config

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/medialab")
	t.Setenv("TOKEN_MASTER_KEY", testMasterKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Token.AccessTTL != 15*time.Minute {
		t.Errorf("expected 15m access TTL, got %s", cfg.Token.AccessTTL)
	}
	if !cfg.Token.EncryptionEnabled {
		t.Error("expected encryption enabled by default")
	}
	if cfg.Session.DefaultTTL != 8*time.Hour || cfg.Session.ExtendedTTL != 30*24*time.Hour {
		t.Errorf("unexpected session TTLs: %s / %s", cfg.Session.DefaultTTL, cfg.Session.ExtendedTTL)
	}
	if cfg.Lockout.MaxAttempts != 5 {
		t.Errorf("expected 5 lockout attempts, got %d", cfg.Lockout.MaxAttempts)
	}
	if cfg.Password.BcryptCost != 12 {
		t.Errorf("expected bcrypt cost 12, got %d", cfg.Password.BcryptCost)
	}
	if cfg.Cache.Prefix != "lockbox:" {
		t.Errorf("unexpected cache prefix %q", cfg.Cache.Prefix)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database url",
			env:     map[string]string{"TOKEN_MASTER_KEY": testMasterKey},
			wantErr: "DB_URL",
		},
		{
			name:    "missing master key",
			env:     map[string]string{"DB_URL": "x"},
			wantErr: "TOKEN_MASTER_KEY",
		},
		{
			name:    "short master key",
			env:     map[string]string{"DB_URL": "x", "TOKEN_MASTER_KEY": "short"},
			wantErr: "at least",
		},
		{
			name:    "invalid driver",
			env:     map[string]string{"DB_URL": "x", "TOKEN_MASTER_KEY": testMasterKey, "DB_DRIVER": "mysql"},
			wantErr: "DB_DRIVER",
		},
		{
			name:    "refresh shorter than access",
			env:     map[string]string{"DB_URL": "x", "TOKEN_MASTER_KEY": testMasterKey, "TOKEN_ACCESS_TTL": "2h", "TOKEN_REFRESH_TTL": "1h"},
			wantErr: "TOKEN_REFRESH_TTL",
		},
		{
			name:    "bcrypt cost out of range",
			env:     map[string]string{"DB_URL": "x", "TOKEN_MASTER_KEY": testMasterKey, "PASSWORD_BCRYPT_COST": "2"},
			wantErr: "PASSWORD_BCRYPT_COST",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"DB_URL": "x", "TOKEN_MASTER_KEY": testMasterKey, "CACHE_OP_TIMEOUT": "soon"},
			wantErr: "CACHE_OP_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateReturnsConfigError(t *testing.T) {
	t.Setenv("DB_URL", "x")
	t.Setenv("TOKEN_MASTER_KEY", testMasterKey)
	t.Setenv("SESSION_DEFAULT_TTL", "48h")
	t.Setenv("SESSION_EXTENDED_TTL", "24h")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.IsType(err, apperrors.CodeConfigError) {
		t.Fatalf("expected %s, got %v", apperrors.CodeConfigError, err)
	}
	if !strings.Contains(err.Error(), "SESSION_EXTENDED_TTL") {
		t.Fatalf("expected error mentioning SESSION_EXTENDED_TTL, got %v", err)
	}
}
