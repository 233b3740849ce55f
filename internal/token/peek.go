package token

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/blake3"
)

// Tier records which decode strategy produced an Unverified result.
type Tier int

const (
	TierStructured Tier = iota + 1
	TierRawSegments
	TierContentHash
)

func (t Tier) String() string {
	switch t {
	case TierStructured:
		return "structured"
	case TierRawSegments:
		return "raw_segments"
	case TierContentHash:
		return "content_hash"
	}
	return "unknown"
}

const contentHashPrefix = "h:"

// Unverified is what can be read from a token without checking its
// signature or expiry. Nothing in it may be trusted for authorization.
type Unverified struct {
	JTI       string
	Subject   string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
	SessionID string
	Tier      Tier
}

// Structural reports whether the identifier came from the token's own claims
// rather than from a hash of its bytes.
func (u Unverified) Structural() bool {
	return u.Tier == TierStructured || u.Tier == TierRawSegments
}

// PeekIdentifier returns a best effort jti for raw. It never fails.
func (c *Codec) PeekIdentifier(raw string) string {
	return c.Peek(raw).JTI
}

// Peek tries each decode tier in turn. The result always has a non-empty JTI.
func (c *Codec) Peek(raw string) Unverified {
	if u, ok := c.peekStructured(raw); ok {
		return u
	}
	if u, ok := peekRawSegments(raw); ok {
		return u
	}
	return Unverified{JTI: contentHashIdentifier(raw), Tier: TierContentHash}
}

// peekStructured opens the envelope when possible and reads the claims with
// the JWT parser, skipping signature and time validation.
func (c *Codec) peekStructured(raw string) (Unverified, bool) {
	signed := raw
	if Encrypted(raw) {
		inner, _, err := c.decrypt(raw)
		if err != nil {
			return Unverified{}, false
		}
		signed = inner
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signed, mapClaims); err != nil {
		return Unverified{}, false
	}

	u := unverifiedFromMap(mapClaims)
	if u.JTI == "" {
		return Unverified{}, false
	}
	u.Tier = TierStructured
	return u, true
}

// peekRawSegments decodes the payload segment by hand. It accepts tokens the
// JWT parser rejects, such as unknown algorithms or broken headers.
func peekRawSegments(raw string) (Unverified, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != segmentsSigned {
		return Unverified{}, false
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Unverified{}, false
	}

	var mapClaims map[string]any
	if err := json.Unmarshal(payload, &mapClaims); err != nil {
		return Unverified{}, false
	}

	u := unverifiedFromMap(mapClaims)
	if u.JTI == "" {
		return Unverified{}, false
	}
	u.Tier = TierRawSegments
	return u, true
}

// contentHashIdentifier derives a stable identifier from the raw bytes.
func contentHashIdentifier(raw string) string {
	sum := blake3.Sum256([]byte(raw))
	return contentHashPrefix + hex.EncodeToString(sum[:])
}

func decodeSegment(seg string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}

func unverifiedFromMap(m map[string]any) Unverified {
	var u Unverified
	u.JTI, _ = m[ClaimID].(string)
	u.Subject, _ = m[ClaimSubject].(string)
	u.SessionID, _ = m[ClaimSessionID].(string)
	if k, _ := m[ClaimKind].(string); Kind(k).Valid() {
		u.Kind = Kind(k)
	}
	u.IssuedAt = numericTime(m[ClaimIssuedAt])
	u.ExpiresAt = numericTime(m[ClaimExpiresAt])
	return u
}

func numericTime(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(0, int64(n*float64(time.Second)))
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return time.Unix(0, int64(f*float64(time.Second)))
		}
	}
	return time.Time{}
}
