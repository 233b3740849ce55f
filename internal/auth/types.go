package auth

import (
	"time"

	"github.com/freekieb7/lockbox/internal/session"
)

type LoginRequest struct {
	Identifier string         `json:"identifier"`
	Password   string         `json:"password"`
	Device     session.Device `json:"-"`
	Remember   bool           `json:"remember"`
}

type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	SessionID        string `json:"session_id,omitempty"`
}

type LoginResult struct {
	TokenPair
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Stats is a point-in-time view of the engine. Counts that could not be read
// are reported as -1.
type Stats struct {
	RevokedTokens    int64     `json:"revoked_tokens"`
	InvalidatedUsers int64     `json:"invalidated_users"`
	ActiveUsers      int64     `json:"active_users"`
	PrimaryHealthy   bool      `json:"primary_healthy"`
	DurableHealthy   bool      `json:"durable_healthy"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// ResetReport summarises an emergency reset.
type ResetReport struct {
	Reason            string            `json:"reason"`
	Users             int               `json:"users"`
	Invalidated       int               `json:"invalidated"`
	SessionsDestroyed int               `json:"sessions_destroyed"`
	Failures          map[string]string `json:"failures,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	Duration          time.Duration     `json:"duration"`
}
