package session

import (
	"time"
)

const (
	DefaultTTL  = 8 * time.Hour       // 8 hours
	ExtendedTTL = 30 * 24 * time.Hour // 30 days, "remember me"

	// OnlineWindow is how recent the last activity must be for IsOnline.
	OnlineWindow = 5 * time.Minute
)

// Device describes the client a session was opened from.
type Device struct {
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Device       Device         `json:"device"`
	Data         map[string]any `json:"data,omitempty"`
	Active       bool           `json:"active"`
	Extended     bool           `json:"extended"`
}

// ActiveUser is one entry of the recency index.
type ActiveUser struct {
	UserID       string    `json:"user_id"`
	LastActivity time.Time `json:"last_activity"`
}
