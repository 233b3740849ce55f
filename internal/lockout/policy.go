// Package lockout counts failed attempts per identifier and locks the
// identifier out once a threshold is reached within the window.
package lockout

import (
	"fmt"
	"time"
)

// Kind separates counters for different flows.
type Kind string

const (
	KindLogin        Kind = "login"
	KindReset        Kind = "reset"
	KindVerification Kind = "verification"
)

var Kinds = []Kind{KindLogin, KindReset, KindVerification}

func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindReset, KindVerification:
		return true
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown attempt kind %q", s)
	}
	return k, nil
}

// maxLockout caps exponential growth.
const maxLockout = 24 * time.Hour

type Policy struct {
	Enabled         bool
	MaxAttempts     int
	WindowDuration  time.Duration
	LockoutDuration time.Duration
	UseExponential  bool
}

// DefaultPolicy returns the built-in policy for kind.
func DefaultPolicy(kind Kind) Policy {
	switch kind {
	case KindReset:
		return Policy{Enabled: true, MaxAttempts: 3, WindowDuration: time.Hour, LockoutDuration: time.Hour}
	case KindVerification:
		return Policy{Enabled: true, MaxAttempts: 5, WindowDuration: 15 * time.Minute, LockoutDuration: 15 * time.Minute}
	default:
		return Policy{Enabled: true, MaxAttempts: 5, WindowDuration: 15 * time.Minute, LockoutDuration: 15 * time.Minute}
	}
}

func DefaultPolicies() map[Kind]Policy {
	policies := make(map[Kind]Policy, len(Kinds))
	for _, kind := range Kinds {
		policies[kind] = DefaultPolicy(kind)
	}
	return policies
}

func (p Policy) ShouldLock(attempts int) bool {
	return p.Enabled && attempts >= p.MaxAttempts
}

// CalculateLockout returns how long an identifier with attempts failures
// stays locked. With UseExponential every failure past the threshold doubles
// the duration.
func (p Policy) CalculateLockout(attempts int) time.Duration {
	if !p.ShouldLock(attempts) {
		return 0
	}
	if !p.UseExponential {
		return p.LockoutDuration
	}

	d := p.LockoutDuration
	for i := p.MaxAttempts; i < attempts; i++ {
		d *= 2
		if d >= maxLockout {
			return maxLockout
		}
	}
	return d
}

func (p Policy) RemainingAttempts(attempts int) int {
	if attempts >= p.MaxAttempts {
		return 0
	}
	return p.MaxAttempts - attempts
}
