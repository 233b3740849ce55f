// Package password hashes and verifies user credentials and scores the
// strength of new passwords.
package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 8
	// bcrypt ignores everything past 72 bytes, so longer input is rejected
	// instead of being silently truncated.
	MaxLength = 72
)

var (
	ErrTooLong  = errors.New("password exceeds 72 bytes")
	ErrMismatch = errors.New("password does not match")
)

type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) > MaxLength {
		return "", ErrTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares in constant time with respect to the password contents.
func (h *Hasher) Verify(hash, plain string) error {
	if len(plain) > MaxLength {
		return ErrMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

// NeedsRehash reports whether hash was produced with a different cost.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Level is a coarse strength bucket.
type Level int

const (
	LevelWeak Level = iota
	LevelFair
	LevelGood
	LevelStrong
)

func (l Level) String() string {
	switch l {
	case LevelWeak:
		return "weak"
	case LevelFair:
		return "fair"
	case LevelGood:
		return "good"
	case LevelStrong:
		return "strong"
	}
	return "unknown"
}

type Strength struct {
	Score    int // 0..100
	Level    Level
	Feedback []string
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "123456": {}, "12345678": {}, "123456789": {},
	"qwerty": {}, "qwerty123": {}, "letmein": {}, "welcome": {}, "admin": {},
	"iloveyou": {}, "abc123": {}, "monkey": {}, "dragon": {}, "football": {},
	"medialab": {}, "changeme": {}, "passw0rd": {},
}

// Score rates a candidate password. identifiers are user attributes (email,
// name) that must not appear inside the password.
func Score(plain string, identifiers ...string) Strength {
	var s Strength

	var lower, upper, digit, symbol bool
	for _, r := range plain {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	length := len([]rune(plain))
	short := length < MinLength
	switch {
	case length >= 16:
		s.Score += 40
	case length >= 12:
		s.Score += 30
	case length >= MinLength:
		s.Score += 20
	default:
		s.Feedback = append(s.Feedback, fmt.Sprintf("use at least %d characters", MinLength))
	}

	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
			s.Score += 15
		}
	}
	if classes < 3 {
		s.Feedback = append(s.Feedback, "mix upper and lower case letters, digits and symbols")
	}
	if short && s.Score > 30 {
		s.Score = 30
	}

	normalized := strings.ToLower(plain)
	if _, ok := commonPasswords[normalized]; ok {
		s.Score = 0
		s.Feedback = append(s.Feedback, "this password is too common")
	}
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if at := strings.IndexByte(id, '@'); at > 0 {
			id = id[:at]
		}
		if len(id) >= 3 && strings.Contains(normalized, id) {
			s.Score /= 2
			s.Feedback = append(s.Feedback, "do not include your name or email")
			break
		}
	}
	if hasRun(normalized, 4) {
		s.Score -= 10
		s.Feedback = append(s.Feedback, "avoid repeated or sequential characters")
	}

	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 100 {
		s.Score = 100
	}

	switch {
	case s.Score >= 80:
		s.Level = LevelStrong
	case s.Score >= 60:
		s.Level = LevelGood
	case s.Score >= 40:
		s.Level = LevelFair
	default:
		s.Level = LevelWeak
	}
	return s
}

// Acceptable is the policy used for password changes and resets.
func (s Strength) Acceptable() bool {
	return s.Level >= LevelGood
}

// hasRun detects n identical or strictly ascending characters in a row.
func hasRun(s string, n int) bool {
	rs := []rune(s)
	same, seq := 1, 1
	for i := 1; i < len(rs); i++ {
		if rs[i] == rs[i-1] {
			same++
		} else {
			same = 1
		}
		if rs[i] == rs[i-1]+1 {
			seq++
		} else {
			seq = 1
		}
		if same >= n || seq >= n {
			return true
		}
	}
	return false
}
