// Package auth is the token service. It composes the codec, the revocation
// ledger, the session registry, the rate limiter and the attempt tracker into
// the operations the rest of the application calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/freekieb7/lockbox/internal/audit"
	"github.com/freekieb7/lockbox/internal/cache"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/identity"
	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/freekieb7/lockbox/internal/password"
	"github.com/freekieb7/lockbox/internal/ratelimit"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/session"
	"github.com/freekieb7/lockbox/internal/token"
)

const (
	DefaultAccessTTL    = 15 * time.Minute
	DefaultRefreshTTL   = 7 * 24 * time.Hour
	DefaultResetCodeTTL = 15 * time.Minute

	TokenTypeBearer = "Bearer"
)

var (
	ErrTokenRevoked    = errors.New("token revoked")
	ErrUserInvalidated = errors.New("user tokens invalidated")
	ErrUserInactive    = errors.New("user inactive")
	ErrInvalidCode     = errors.New("invalid or expired code")
)

// timingPassword is hashed once at startup so that unknown identifiers cost a
// bcrypt comparison like known ones.
const timingPassword = "lockbox-timing-equalizer"

// Notifier delivers one-time codes. Delivery itself lives outside the engine.
type Notifier interface {
	SendCode(ctx context.Context, email, code string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, email, code string) error

func (f NotifierFunc) SendCode(ctx context.Context, email, code string) error {
	return f(ctx, email, code)
}

// Deps are the collaborators of a Service. Store holds password reset codes
// and backs the default limiter and tracker. Notifier and Audit may be nil.
type Deps struct {
	Codec    *token.Codec
	Ledger   *revocation.Ledger
	Sessions *session.Registry
	Limiter  *ratelimit.Limiter
	Attempts *lockout.Tracker
	Users    identity.Store
	Hasher   *password.Hasher
	Store    *cache.Service
	Notifier Notifier
	Audit    audit.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Config struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ResetCodeTTL time.Duration
	TimeFunc     func() time.Time
}

type Service struct {
	codec    *token.Codec
	ledger   *revocation.Ledger
	sessions *session.Registry
	limiter  *ratelimit.Limiter
	attempts *lockout.Tracker
	users    identity.Store
	hasher   *password.Hasher
	store    *cache.Service
	notifier Notifier
	audit    audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	accessTTL    time.Duration
	refreshTTL   time.Duration
	resetCodeTTL time.Duration
	now          func() time.Time
	timingHash   string
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Codec == nil || deps.Ledger == nil || deps.Sessions == nil || deps.Users == nil || deps.Hasher == nil || deps.Store == nil {
		return nil, errors.New("codec, ledger, sessions, users, hasher and store are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.ResetCodeTTL <= 0 {
		cfg.ResetCodeTTL = DefaultResetCodeTTL
	}
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}
	if horizon := deps.Ledger.MarkerHorizon(); horizon < cfg.RefreshTTL {
		return nil, fmt.Errorf("invalidation marker horizon %s is shorter than the refresh token lifetime %s", horizon, cfg.RefreshTTL)
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewUnregistered()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Attempts == nil {
		deps.Attempts = lockout.NewTracker(deps.Store, nil, deps.Metrics, deps.Logger)
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewLimiter(deps.Store, deps.Metrics, deps.Logger, ratelimit.Config{Enabled: true, FallbackEnabled: true})
	}

	timingHash, err := deps.Hasher.Hash(timingPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare timing hash: %w", err)
	}

	return &Service{
		codec:        deps.Codec,
		ledger:       deps.Ledger,
		sessions:     deps.Sessions,
		limiter:      deps.Limiter,
		attempts:     deps.Attempts,
		users:        deps.Users,
		hasher:       deps.Hasher,
		store:        deps.Store,
		notifier:     deps.Notifier,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("component", "auth"),
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		resetCodeTTL: cfg.ResetCodeTTL,
		now:          cfg.TimeFunc,
		timingHash:   timingHash,
	}, nil
}

// Login authenticates identifier (email or username) and returns a fresh
// token pair bound to a new session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := normalizeIdentifier(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, apperrors.ValidationError("identifier and password are required", nil)
	}

	if status := s.attempts.IsLockedOut(ctx, identifier, lockout.KindLogin); status.Locked {
		s.metrics.Logins.WithLabelValues(metrics.ResultLocked).Inc()
		return nil, tooManyAttempts(status)
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Error("Identity lookup failed during login", "error", err)
		}
		// Unknown identifiers still pay for a comparison.
		_ = s.hasher.Verify(s.timingHash, req.Password)
		return nil, s.loginFailed(ctx, identifier, "", err)
	}

	if err := s.hasher.Verify(user.PasswordHash, req.Password); err != nil {
		return nil, s.loginFailed(ctx, identifier, user.ID, err)
	}
	if !user.IsActive {
		return nil, s.loginFailed(ctx, identifier, user.ID, ErrUserInactive)
	}

	if err := s.attempts.Clear(ctx, identifier, lockout.KindLogin); err != nil {
		s.logger.Warn("Failed to clear login attempts", "error", err)
	}

	sessionID, err := s.sessions.Create(ctx, user.ID, req.Device, req.Remember)
	if err != nil {
		// Tokens stay valid without a session record; only listing is affected.
		s.logger.Warn("Failed to create session at login", "user_id", user.ID, "error", err)
		sessionID = ""
	}

	pair, err := s.issuePair(user.ID, sessionID, nil)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record last login", "user_id", user.ID, "error", err)
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, req.Password)
	}

	s.metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	s.audit.Record(ctx, audit.EventLoginSuccess, user.ID, map[string]any{
		"session_id": sessionID,
		"ip":         req.Device.IP,
		"user_agent": req.Device.UserAgent,
	})

	return &LoginResult{
		TokenPair: *pair,
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, identifier, userID string, cause error) error {
	s.metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()

	status, err := s.attempts.RecordFailure(ctx, identifier, lockout.KindLogin)
	if err != nil {
		s.logger.Warn("Failed to record login attempt", "error", err)
	}

	details := map[string]any{"identifier": identifier, "attempts": status.Attempts}
	s.audit.Record(ctx, audit.EventLoginFailure, userID, details)
	if status.Locked {
		s.audit.Record(ctx, audit.EventLockout, userID, map[string]any{
			"identifier":  identifier,
			"kind":        string(lockout.KindLogin),
			"retry_after": status.RetryAfter.String(),
		})
	}
	return apperrors.InvalidCredentialsError(cause)
}

func (s *Service) rehash(ctx context.Context, userID, plain string) {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		s.logger.Warn("Failed to rehash password", "user_id", userID, "error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		s.logger.Warn("Failed to store rehashed password", "user_id", userID, "error", err)
	}
}

// IssueTokens mints an access and refresh pair for userID without creating a
// session. extra claims are copied into both tokens.
func (s *Service) IssueTokens(ctx context.Context, userID string, extra map[string]any) (*TokenPair, error) {
	if userID == "" {
		return nil, apperrors.ValidationError("user id is required", nil)
	}
	sessionID, _ := extra[token.ClaimSessionID].(string)
	return s.issuePair(userID, sessionID, extra)
}

func (s *Service) issuePair(userID, sessionID string, extra map[string]any) (*TokenPair, error) {
	claims := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		claims[k] = v
	}
	if sessionID != "" {
		claims[token.ClaimSessionID] = sessionID
	}

	access, err := s.codec.Issue(userID, token.KindAccess, s.accessTTL, claims)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue access token", err)
	}
	refresh, err := s.codec.Issue(userID, token.KindRefresh, s.refreshTTL, claims)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue refresh token", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int64(s.accessTTL / time.Second),
		RefreshExpiresIn: int64(s.refreshTTL / time.Second),
		SessionID:        sessionID,
	}, nil
}

// Verify authorizes an access token. Every failure is an UNAUTHORIZED
// AppError whose chain names the precise reason.
func (s *Service) Verify(ctx context.Context, accessToken string) (*token.Claims, error) {
	return s.verify(ctx, accessToken, token.KindAccess)
}

func (s *Service) verify(ctx context.Context, raw string, kind token.Kind) (*token.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, unauthorized(apperrors.InvalidTokenError("token is required", token.ErrInvalidToken))
	}

	claims, err := s.codec.Parse(raw, kind)
	if err != nil {
		return nil, unauthorized(parseFailure(err))
	}
	if s.ledger.IsRevokedJTI(ctx, claims.ID) {
		return nil, unauthorized(apperrors.TokenRevokedError("token has been revoked", ErrTokenRevoked))
	}
	if s.ledger.IsUserInvalidated(ctx, claims.Subject, claims.IssuedAt) {
		return nil, unauthorized(apperrors.UserInvalidatedError("all sessions of this user were ended", ErrUserInvalidated))
	}
	return claims, nil
}

// Refresh mints a new access token from a valid refresh token. The refresh
// token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AccessToken, error) {
	claims, err := s.verify(ctx, refreshToken, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Error("Identity lookup failed during refresh", "user_id", claims.Subject, "error", err)
		}
		return nil, unauthorized(fmt.Errorf("%w: %v", ErrUserInactive, err))
	}
	if !user.IsActive {
		return nil, unauthorized(ErrUserInactive)
	}

	extra := make(map[string]any, len(claims.Extra)+1)
	for k, v := range claims.Extra {
		extra[k] = v
	}
	if claims.SessionID != "" {
		extra[token.ClaimSessionID] = claims.SessionID
	}

	access, err := s.codec.Issue(user.ID, token.KindAccess, s.accessTTL, extra)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue access token", err)
	}

	s.audit.Record(ctx, audit.EventTokenRefresh, user.ID, map[string]any{"session_id": claims.SessionID})
	return &AccessToken{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.accessTTL / time.Second),
	}, nil
}

// Logout revokes both tokens individually and ends the session they belong
// to. It never fails: ledger errors are logged and local state is cleared
// regardless.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken, userID string) error {
	var sessionID string
	for _, raw := range []string{accessToken, refreshToken} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		peeked := s.codec.Peek(raw)
		if sessionID == "" {
			sessionID = peeked.SessionID
		}
		if err := s.ledger.Revoke(ctx, raw, userID, revocation.ReasonLogout); err != nil {
			s.logger.Error("Failed to revoke token at logout", "jti", peeked.JTI, "user_id", userID, "error", err)
		}
	}

	if sessionID != "" {
		s.endSession(ctx, sessionID, userID)
	}

	s.audit.Record(ctx, audit.EventLogout, userID, map[string]any{"session_id": sessionID})
	return nil
}

// LogoutWithTokens logs out on behalf of whoever still holds a verifiable
// token. When neither verifies the tokens are revoked anyway and the owner
// stays unknown.
func (s *Service) LogoutWithTokens(ctx context.Context, accessToken, refreshToken string) string {
	var userID string
	if claims, err := s.verify(ctx, accessToken, token.KindAccess); err == nil {
		userID = claims.Subject
	} else if claims, err := s.verify(ctx, refreshToken, token.KindRefresh); err == nil {
		userID = claims.Subject
	}
	_ = s.Logout(ctx, accessToken, refreshToken, userID)
	return userID
}

// endSession destroys sessionID only when it belongs to userID, since the id
// came from an unverified token. Without a user id the session is left to
// expire.
func (s *Service) endSession(ctx context.Context, sessionID, userID string) {
	if userID == "" {
		return
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to load session at logout", "session_id", sessionID, "error", err)
		return
	}
	if sess == nil {
		return
	}
	if sess.UserID != userID {
		s.logger.Warn("Logout session belongs to another user", "session_id", sessionID, "user_id", userID)
		return
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to destroy session at logout", "session_id", sessionID, "error", err)
	}
}

// LogoutAll invalidates every token issued to userID up to now and destroys
// all of the user's sessions.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	destroyed, err := s.endEverything(ctx, userID, revocation.ReasonLogoutAll)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.EventLogoutAll, userID, map[string]any{"sessions_destroyed": destroyed})
	return nil
}

// endEverything writes the invalidation marker and destroys sessions. A
// marker that reached neither store is an error; session cleanup is best
// effort since the marker already rejects the tokens.
func (s *Service) endEverything(ctx context.Context, userID string, reason revocation.Reason) (int, error) {
	if userID == "" {
		return 0, apperrors.ValidationError("user id is required", nil)
	}
	if err := s.ledger.InvalidateAllForUser(ctx, userID, reason); err != nil {
		s.logger.Error("Failed to invalidate user tokens", "user_id", userID, "reason", reason, "error", err)
		return 0, apperrors.InternalError("failed to end sessions", apperrors.StoreUnavailableError("revocation stores unavailable", err))
	}

	destroyed, err := s.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to destroy user sessions", "user_id", userID, "error", err)
	}
	return destroyed, nil
}

func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return identifier
}

func unauthorized(cause error) error {
	return apperrors.UnauthorizedError("authentication required", cause)
}

func parseFailure(err error) error {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return apperrors.ExpiredTokenError("token has expired", err)
	case errors.Is(err, token.ErrWrongKind):
		return apperrors.WrongTokenKindError("wrong token type", err)
	}
	return apperrors.InvalidTokenError("invalid token", err)
}

func tooManyAttempts(status lockout.Status) error {
	msg := "too many failed attempts, try again later"
	if status.RetryAfter > 0 {
		msg = fmt.Sprintf("too many failed attempts, try again in %s", status.RetryAfter.Round(time.Second))
	}
	return apperrors.TooManyAttemptsError(msg, nil)
}
