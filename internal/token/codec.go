// Package token issues and parses bearer credentials.
//
// A token is an HS256 signed JWT. Unless encryption is disabled the signed
// form is wrapped in a compact JWE (dir + A256GCM), so the wire format has
// either 3 (signed) or 5 (encrypted) dot separated segments. Every kind has
// its own signing and encryption key derived from the master key.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jose "gopkg.in/square/go-jose.v2"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongKind    = errors.New("wrong token kind")
)

const (
	segmentsSigned    = 3
	segmentsEncrypted = 5
)

// Claim names
const (
	ClaimSubject     = "sub"
	ClaimIssuedAt    = "iat"
	ClaimExpiresAt   = "exp"
	ClaimNotBefore   = "nbf"
	ClaimIssuer      = "iss"
	ClaimAudience    = "aud"
	ClaimID          = "jti"
	ClaimKind        = "type"
	ClaimFingerprint = "fpt"
	ClaimSessionID   = "sid"
)

var reservedClaims = map[string]struct{}{
	ClaimSubject: {}, ClaimIssuedAt: {}, ClaimExpiresAt: {}, ClaimNotBefore: {},
	ClaimIssuer: {}, ClaimAudience: {}, ClaimID: {}, ClaimKind: {}, ClaimFingerprint: {},
}

// Claims is the verified content of a token.
type Claims struct {
	Subject     string         `json:"sub"`
	ID          string         `json:"jti"`
	Kind        Kind           `json:"type"`
	IssuedAt    time.Time      `json:"iat"`
	ExpiresAt   time.Time      `json:"exp"`
	Issuer      string         `json:"iss"`
	Audience    []string       `json:"aud"`
	Fingerprint string         `json:"-"`
	SessionID   string         `json:"sid,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ParseError is returned by Parse. Peeked carries whatever could be recovered
// from the token without verification so that callers can still record the
// identifier, for example to blacklist a token that no longer verifies.
type ParseError struct {
	Err    error
	Cause  error
	Peeked Unverified
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type Config struct {
	MasterKey         []byte
	Issuer            string
	Audience          string
	EncryptionEnabled bool
	Leeway            time.Duration
	TimeFunc          func() time.Time
}

type Codec struct {
	keys       *keyring
	encrypters map[Kind]jose.Encrypter
	issuer     string
	audience   string
	encrypt    bool
	leeway     time.Duration
	now        func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.MasterKey) < keySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", keySize)
	}
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}

	keys, err := newKeyring(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		keys:       keys,
		encrypters: make(map[Kind]jose.Encrypter, len(Kinds)),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		encrypt:    cfg.EncryptionEnabled,
		leeway:     cfg.Leeway,
		now:        cfg.TimeFunc,
	}

	for _, kind := range Kinds {
		enc, err := jose.NewEncrypter(
			jose.A256GCM,
			jose.Recipient{Algorithm: jose.DIRECT, Key: keys.kinds[kind].encrypt},
			(&jose.EncrypterOptions{}).WithContentType("JWT"),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s encrypter: %w", kind, err)
		}
		c.encrypters[kind] = enc
	}

	return c, nil
}

// Issue builds, signs and optionally encrypts a token for subject. Extra
// claims are copied into the claim set except for the reserved names.
func (c *Codec) Issue(subject string, kind Kind, ttl time.Duration, extra map[string]any) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	if ttl < time.Second {
		return "", errors.New("ttl must be at least one second")
	}

	now := c.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims[ClaimSubject] = subject
	claims[ClaimIssuedAt] = jwt.NewNumericDate(now)
	claims[ClaimExpiresAt] = jwt.NewNumericDate(now.Add(ttl))
	claims[ClaimIssuer] = c.issuer
	claims[ClaimAudience] = c.audience
	claims[ClaimID] = uuid.NewString()
	claims[ClaimKind] = string(kind)
	claims[ClaimFingerprint] = c.keys.fingerprintOf(subject)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.keys.kinds[kind].sign)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if !c.encrypt {
		return signed, nil
	}

	object, err := c.encrypters[kind].Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return object.CompactSerialize()
}

// Parse verifies raw and returns its claims. Failures are *ParseError values
// wrapping ErrInvalidToken, ErrExpiredToken or ErrWrongKind.
func (c *Codec) Parse(raw string, expected Kind) (*Claims, error) {
	signed, envelopeKind, err := c.unwrap(raw)
	if err != nil {
		return nil, c.fail(raw, ErrInvalidToken, err)
	}

	mapClaims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(signed, mapClaims, func(t *jwt.Token) (interface{}, error) {
		kind := envelopeKind
		if kind == "" {
			kind = kindOf(t.Claims)
		}
		if !kind.Valid() {
			return nil, errors.New("missing or unknown type claim")
		}
		return c.keys.kinds[kind].sign, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, c.fail(raw, ErrExpiredToken, err)
		}
		return nil, c.fail(raw, ErrInvalidToken, err)
	}

	claims := claimsFromMap(mapClaims)
	if envelopeKind != "" && claims.Kind != envelopeKind {
		return nil, c.fail(raw, ErrInvalidToken, errors.New("envelope and claim kind disagree"))
	}
	if claims.ID == "" {
		return nil, c.fail(raw, ErrInvalidToken, errors.New("missing jti"))
	}
	if !c.keys.fingerprintMatches(claims.Subject, claims.Fingerprint) {
		return nil, c.fail(raw, ErrInvalidToken, errors.New("fingerprint mismatch"))
	}
	if claims.Kind != expected {
		return nil, c.fail(raw, ErrWrongKind, fmt.Errorf("expected %s, got %s", expected, claims.Kind))
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		return nil, c.fail(raw, ErrInvalidToken, errors.New("expiry not after issued-at"))
	}

	return claims, nil
}

// Encrypted reports whether raw uses the 5 segment envelope.
func Encrypted(raw string) bool {
	return segments(raw) == segmentsEncrypted
}

func segments(raw string) int {
	return strings.Count(raw, ".") + 1
}

// unwrap returns the signed token inside raw. For encrypted input it also
// returns the kind whose key opened the envelope.
func (c *Codec) unwrap(raw string) (string, Kind, error) {
	switch segments(raw) {
	case segmentsSigned:
		return raw, "", nil
	case segmentsEncrypted:
		return c.decrypt(raw)
	}
	return "", "", fmt.Errorf("unexpected segment count %d", segments(raw))
}

func (c *Codec) decrypt(raw string) (string, Kind, error) {
	object, err := jose.ParseEncrypted(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse envelope: %w", err)
	}
	if object.Header.Algorithm != string(jose.DIRECT) {
		return "", "", fmt.Errorf("unexpected key algorithm %q", object.Header.Algorithm)
	}
	for _, kind := range Kinds {
		plain, err := object.Decrypt(c.keys.kinds[kind].encrypt)
		if err == nil {
			return string(plain), kind, nil
		}
	}
	return "", "", errors.New("envelope could not be decrypted")
}

func (c *Codec) fail(raw string, kind, cause error) error {
	return &ParseError{Err: kind, Cause: cause, Peeked: c.Peek(raw)}
}

func kindOf(claims jwt.Claims) Kind {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	s, _ := mc[ClaimKind].(string)
	return Kind(s)
}

func claimsFromMap(mc jwt.MapClaims) *Claims {
	claims := &Claims{Extra: map[string]any{}}

	claims.Subject, _ = mc.GetSubject()
	claims.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	claims.ID, _ = mc[ClaimID].(string)
	claims.Kind = kindOf(mc)
	claims.Fingerprint, _ = mc[ClaimFingerprint].(string)
	claims.SessionID, _ = mc[ClaimSessionID].(string)

	for k, v := range mc {
		if _, reserved := reservedClaims[k]; reserved || k == ClaimSessionID {
			continue
		}
		claims.Extra[k] = v
	}
	return claims
}
