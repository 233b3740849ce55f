package revocation

import (
	"fmt"
	"time"

	"github.com/freekieb7/lockbox/internal/token"
)

// Reason says why a token or user was revoked.
type Reason string

const (
	ReasonLogout         Reason = "logout"
	ReasonLogoutAll      Reason = "logout_all"
	ReasonRotation       Reason = "rotation"
	ReasonPasswordChange Reason = "password_change"
	ReasonAdminForced    Reason = "admin_forced"
	ReasonSecurityReset  Reason = "security_reset"
	ReasonCompromised    Reason = "compromised"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonLogoutAll, ReasonRotation, ReasonPasswordChange,
		ReasonAdminForced, ReasonSecurityReset, ReasonCompromised:
		return true
	}
	return false
}

func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown revocation reason %q", s)
	}
	return r, nil
}

// Entry is one revoked token. It is never mutated after creation.
type Entry struct {
	JTI       string     `json:"jti"`
	UserID    string     `json:"user_id,omitempty"`
	Kind      token.Kind `json:"kind,omitempty"`
	Reason    Reason     `json:"reason"`
	RevokedAt time.Time  `json:"revoked_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Marker invalidates every token of a user issued up to InvalidatedAt.
type Marker struct {
	UserID        string    `json:"user_id"`
	Reason        Reason    `json:"reason"`
	InvalidatedAt time.Time `json:"invalidated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Covers reports whether a token issued at issuedAt predates the marker.
// Token timestamps have second precision, so a token issued within the same
// second as the marker is treated as covered.
func (m Marker) Covers(issuedAt time.Time) bool {
	return !issuedAt.After(m.InvalidatedAt.Truncate(time.Second))
}

// Stats summarises the durable store.
type Stats struct {
	RevokedTokens    int64 `json:"revoked_tokens"`
	InvalidatedUsers int64 `json:"invalidated_users"`
}
