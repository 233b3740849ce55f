package auth_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/freekieb7/lockbox/internal/audit"
	"github.com/freekieb7/lockbox/internal/auth"
	"github.com/freekieb7/lockbox/internal/cache"
	"github.com/freekieb7/lockbox/internal/database"
	"github.com/freekieb7/lockbox/internal/database/migration"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/identity"
	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/metrics"
	"github.com/freekieb7/lockbox/internal/password"
	"github.com/freekieb7/lockbox/internal/ratelimit"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/session"
	"github.com/freekieb7/lockbox/internal/token"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "ada@medialab.test"
	testPassword = "Correct-Horse-42!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type codeOutbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *codeOutbox) SendCode(_ context.Context, email, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[email] = code
	return nil
}

func (o *codeOutbox) code(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.codes[email]
	return c, ok
}

type fixture struct {
	redis    *miniredis.Miniredis
	db       *sql.DB
	clock    *fakeClock
	users    *identity.SQLiteStore
	sessions *session.Registry
	ledger   *revocation.Ledger
	audit    *audit.Memory
	outbox   *codeOutbox
	metrics  *metrics.Metrics
	service  *auth.Service
	userID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewServiceWithClient(client, "lockbox:", 200*time.Millisecond, logger)

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.NewMigrator(db, migration.DialectSQLite).Up(ctx, migration.All()))

	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	codec, err := token.NewCodec(token.Config{
		MasterKey:         []byte("auth-test-master-key-0123456789abcdef"),
		Issuer:            "medialab-api",
		Audience:          "medialab-clients",
		EncryptionEnabled: true,
		TimeFunc:          clock.Now,
	})
	require.NoError(t, err)

	m := metrics.NewUnregistered()
	ledger := revocation.NewLedger(codec, store, revocation.NewSQLiteStore(db), m, logger, revocation.Config{
		DurableTimeout: time.Second,
		MarkerHorizon:  auth.DefaultRefreshTTL,
		TimeFunc:       clock.Now,
	})
	t.Cleanup(ledger.Stop)

	sessions := session.NewRegistry(store, m, logger, session.Config{TimeFunc: clock.Now})
	limiter := ratelimit.NewLimiter(store, m, logger, ratelimit.Config{Enabled: true, FallbackEnabled: true, TimeFunc: clock.Now})
	t.Cleanup(limiter.Close)
	attempts := lockout.NewTracker(store, nil, m, logger)

	hasher := password.NewHasher(bcrypt.MinCost)
	users := identity.NewSQLiteStore(db)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	user, err := users.Create(ctx, identity.User{Email: testEmail, Username: "ada", PasswordHash: hash, IsActive: true})
	require.NoError(t, err)

	recorder := &audit.Memory{}
	outbox := &codeOutbox{codes: map[string]string{}}
	service, err := auth.NewService(auth.Deps{
		Codec:    codec,
		Ledger:   ledger,
		Sessions: sessions,
		Limiter:  limiter,
		Attempts: attempts,
		Users:    users,
		Hasher:   hasher,
		Store:    store,
		Notifier: outbox,
		Audit:    recorder,
		Metrics:  m,
		Logger:   logger,
	}, auth.Config{TimeFunc: clock.Now})
	require.NoError(t, err)

	return &fixture{
		redis:    mr,
		db:       db,
		clock:    clock,
		users:    users,
		sessions: sessions,
		ledger:   ledger,
		audit:    recorder,
		outbox:   outbox,
		metrics:  m,
		service:  service,
		userID:   user.ID,
	}
}

func (f *fixture) login(t *testing.T) *auth.LoginResult {
	t.Helper()
	result, err := f.service.Login(context.Background(), auth.LoginRequest{
		Identifier: testEmail,
		Password:   testPassword,
		Device:     session.Device{UserAgent: "test", IP: "10.0.0.1"},
	})
	require.NoError(t, err)
	return result
}

func TestLoginRefreshLogoutAllScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair := f.login(t)
	assert.Equal(t, auth.TokenTypeBearer, pair.TokenType)
	assert.Equal(t, f.userID, pair.UserID)
	assert.True(t, token.Encrypted(pair.AccessToken))

	claims, err := f.service.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.userID, claims.Subject)
	assert.Equal(t, pair.SessionID, claims.SessionID)

	f.clock.Advance(2 * time.Second)
	refreshed, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	claims, err = f.service.Verify(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, claims.SessionID, "refreshed access token keeps the session")

	f.clock.Advance(time.Second)
	require.NoError(t, f.service.LogoutAll(ctx, f.userID))

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUserInvalidated))

	_, err = f.service.Verify(ctx, refreshed.AccessToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)

	sess, err := f.sessions.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.True(t, f.audit.Has(audit.EventLogoutAll, f.userID))

	// Tokens issued after the marker are accepted again.
	f.clock.Advance(2 * time.Second)
	again := f.login(t)
	_, err = f.service.Verify(ctx, again.AccessToken)
	assert.NoError(t, err)
}

func TestLogoutAllOutlivesRefreshTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair := f.login(t)
	f.clock.Advance(time.Second)
	require.NoError(t, f.service.LogoutAll(ctx, f.userID))

	// Past the default 24h marker lifetime but inside the refresh TTL.
	f.clock.Advance(25 * time.Hour)
	f.redis.FastForward(25 * time.Hour)

	_, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)

	f.clock.Advance(auth.DefaultRefreshTTL)
	f.redis.FastForward(auth.DefaultRefreshTTL)
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err, "expired refresh tokens stay rejected once the marker is gone")
}

func TestNewServiceRejectsShortMarkerHorizon(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewServiceWithClient(client, "lockbox:", 200*time.Millisecond, logger)

	codec, err := token.NewCodec(token.Config{MasterKey: []byte("auth-test-master-key-0123456789abcdef")})
	require.NoError(t, err)

	ledger := revocation.NewLedger(codec, store, nil, nil, logger, revocation.Config{})
	t.Cleanup(ledger.Stop)
	deps := auth.Deps{
		Codec:    codec,
		Ledger:   ledger,
		Sessions: session.NewRegistry(store, nil, logger, session.Config{}),
		Users:    identity.NewSQLiteStore(nil),
		Hasher:   password.NewHasher(bcrypt.MinCost),
		Store:    store,
		Logger:   logger,
	}

	_, err = auth.NewService(deps, auth.Config{RefreshTTL: 7 * 24 * time.Hour})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "horizon")

	_, err = auth.NewService(deps, auth.Config{RefreshTTL: revocation.DefaultMarkerHorizon})
	assert.NoError(t, err)
}

func TestLoginLocksOutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: "wrong-password"})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials), "attempt %d", i+1)
	}

	_, err := f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: testPassword})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.CodeTooManyAttempts))
	assert.True(t, f.audit.Has(audit.EventLockout, f.userID))

	status := f.service.IsLockedOut(ctx, testEmail, lockout.KindLogin)
	assert.True(t, status.Locked)
	assert.Equal(t, 5, status.Attempts)

	require.NoError(t, f.service.ClearFailedAttempts(ctx, testEmail, lockout.KindLogin))
	f.login(t)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, unknown := f.service.Login(ctx, auth.LoginRequest{Identifier: "grace@medialab.test", Password: testPassword})
	_, wrong := f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: "wrong-password"})

	var a, b *apperrors.AppError
	require.ErrorAs(t, unknown, &a)
	require.ErrorAs(t, wrong, &b)
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, apperrors.GenericCredentialMessage, a.Message)
	assert.Equal(t, a.HTTPCode, b.HTTPCode)
}

func TestLoginInactiveUser(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.SetActive(context.Background(), f.userID, false))

	_, err := f.service.Login(context.Background(), auth.LoginRequest{Identifier: testEmail, Password: testPassword})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials))
}

func TestLoginByUsernameRecordsMetricsAndAudit(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Login(context.Background(), auth.LoginRequest{Identifier: "ada", Password: testPassword, Remember: true})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)

	sess, err := f.sessions.Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.Extended)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Logins.WithLabelValues(metrics.ResultSuccess)))
	assert.True(t, f.audit.Has(audit.EventLoginSuccess, f.userID))

	user, err := f.users.FindByID(context.Background(), f.userID)
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)
}

func TestVerifyFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := f.service.Verify(ctx, "not-a-token")
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidToken))
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := f.service.Verify(ctx, "  ")
		assert.True(t, apperrors.IsType(err, apperrors.CodeUnauthorized))
	})

	t.Run("refresh token used as access token", func(t *testing.T) {
		_, err := f.service.Verify(ctx, pair.RefreshToken)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeWrongTokenKind))
		assert.ErrorIs(t, err, token.ErrWrongKind)
	})

	t.Run("access token used to refresh", func(t *testing.T) {
		_, err := f.service.Refresh(ctx, pair.AccessToken)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeWrongTokenKind))
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		_, err := f.service.Verify(ctx, pair.AccessToken)
		assert.True(t, apperrors.IsType(err, apperrors.CodeUnauthorized))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeExpiredToken))
		assert.Equal(t, 401, apperrors.GetHTTPCode(err))
	})
}

func TestVerifyChecksRevocationByTokenID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	claims, err := f.service.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)

	require.NoError(t, f.ledger.RevokeEntry(ctx, revocation.Entry{
		JTI:       claims.ID,
		UserID:    f.userID,
		Reason:    revocation.ReasonCompromised,
		ExpiresAt: claims.ExpiresAt,
	}))

	_, err = f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenRevoked))

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshDoesNotRotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	first, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int64(auth.DefaultAccessTTL/time.Second), second.ExpiresIn)
	assert.True(t, f.audit.Has(audit.EventTokenRefresh, f.userID))
}

func TestRefreshRejectsInactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.users.SetActive(ctx, f.userID, false))
	_, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUserInactive)
	assert.True(t, apperrors.IsType(err, apperrors.CodeUnauthorized))
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.service.Logout(ctx, pair.AccessToken, pair.RefreshToken, f.userID))

	_, err := f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenRevoked))

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	sess, err := f.sessions.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.True(t, f.audit.Has(audit.EventLogout, f.userID))
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	t.Run("malformed tokens", func(t *testing.T) {
		assert.NoError(t, f.service.Logout(ctx, "garbage", "", f.userID))
	})

	t.Run("durable store down", func(t *testing.T) {
		require.NoError(t, f.db.Close())
		assert.NoError(t, f.service.Logout(ctx, pair.AccessToken, pair.RefreshToken, f.userID))

		_, err := f.service.Verify(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	})

	t.Run("both stores down", func(t *testing.T) {
		f.redis.Close()
		assert.NoError(t, f.service.Logout(ctx, pair.AccessToken, pair.RefreshToken, f.userID))
	})
}

func TestLogoutKeepsSessionOfAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.service.Logout(ctx, pair.AccessToken, "", "someone-else"))

	sess, err := f.sessions.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestVerifyFailsClosedWhenStoresAreDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.db.Close())
	f.redis.Close()

	_, err := f.service.Verify(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.CodeUnauthorized))
}

func TestIssueTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.service.IssueTokens(ctx, f.userID, map[string]any{"role": "staff", token.ClaimSessionID: "sess-9"})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", pair.SessionID)

	claims, err := f.service.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "staff", claims.Extra["role"])
	assert.Equal(t, "sess-9", claims.SessionID)

	_, err = f.service.IssueTokens(ctx, "", nil)
	assert.True(t, apperrors.IsType(err, apperrors.CodeValidationFailed))
}

func TestCheckRateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := f.service.CheckRateLimit(ctx, "10.0.0.1", "login", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := f.service.CheckRateLimit(ctx, "10.0.0.1", "login", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestRecordFailedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.service.RecordFailedAttempt(ctx, "ADA@medialab.test", lockout.KindVerification)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, 1, f.service.IsLockedOut(ctx, testEmail, lockout.KindVerification).Attempts)

	_, err = f.service.RecordFailedAttempt(ctx, testEmail, lockout.Kind("bogus"))
	assert.Error(t, err)
}

func TestForceLogoutUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)
	f.login(t)

	destroyed, err := f.service.ForceLogoutUser(ctx, f.userID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, destroyed)

	_, err = f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)
	assert.True(t, f.audit.Has(audit.EventForcedLogout, f.userID))

	_, err = f.service.ForceLogoutUser(ctx, f.userID, revocation.Reason("bored"))
	assert.True(t, apperrors.IsType(err, apperrors.CodeValidationFailed))
}

func TestEmergencySecurityReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	other, err := f.users.Create(ctx, identity.User{Email: "grace@medialab.test", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)
	_, err = f.sessions.Create(ctx, other.ID, session.Device{}, false)
	require.NoError(t, err)

	report, err := f.service.EmergencySecurityReset(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, string(revocation.ReasonSecurityReset), report.Reason)
	assert.Equal(t, 2, report.Users)
	assert.Equal(t, 2, report.Invalidated)
	assert.Equal(t, 2, report.SessionsDestroyed)
	assert.Empty(t, report.Failures)

	_, err = f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)
	assert.True(t, f.audit.Has(audit.EventEmergencyReset, ""))

	report, err = f.service.EmergencySecurityReset(ctx, []string{"user-x"}, revocation.ReasonCompromised)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalidated)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)
	require.NoError(t, f.service.Logout(ctx, pair.AccessToken, pair.RefreshToken, f.userID))
	f.login(t)
	require.NoError(t, f.service.LogoutAll(ctx, "user-x"))

	stats := f.service.Stats(ctx)
	assert.Equal(t, int64(2), stats.RevokedTokens)
	assert.Equal(t, int64(1), stats.InvalidatedUsers)
	assert.Equal(t, int64(1), stats.ActiveUsers)
	assert.True(t, stats.PrimaryHealthy)
	assert.True(t, stats.DurableHealthy)

	n, err := f.service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	err := f.service.ChangePassword(ctx, f.userID, "wrong-password", "Another-Battery-77#")
	assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials))

	err = f.service.ChangePassword(ctx, f.userID, testPassword, "password")
	assert.True(t, apperrors.IsType(err, apperrors.CodeWeakPassword))

	f.clock.Advance(time.Second)
	require.NoError(t, f.service.ChangePassword(ctx, f.userID, testPassword, "Another-Battery-77#"))

	_, err = f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)
	assert.True(t, f.audit.Has(audit.EventPasswordChanged, f.userID))

	f.clock.Advance(2 * time.Second)
	_, err = f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: "Another-Battery-77#"})
	assert.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	t.Run("unknown email is silent", func(t *testing.T) {
		require.NoError(t, f.service.RequestPasswordReset(ctx, "grace@medialab.test"))
		_, sent := f.outbox.code("grace@medialab.test")
		assert.False(t, sent)
	})

	require.NoError(t, f.service.RequestPasswordReset(ctx, "Ada@MediaLab.test"))
	code, sent := f.outbox.code(testEmail)
	require.True(t, sent)
	assert.Len(t, code, 6)

	t.Run("wrong code", func(t *testing.T) {
		err := f.service.ConfirmPasswordReset(ctx, testEmail, "not-it", "Another-Battery-77#")
		assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials))
		assert.Equal(t, 1, f.service.IsLockedOut(ctx, testEmail, lockout.KindVerification).Attempts)
	})

	t.Run("weak password", func(t *testing.T) {
		err := f.service.ConfirmPasswordReset(ctx, testEmail, code, "short")
		assert.True(t, apperrors.IsType(err, apperrors.CodeWeakPassword))
	})

	f.clock.Advance(time.Second)
	require.NoError(t, f.service.ConfirmPasswordReset(ctx, testEmail, code, "Another-Battery-77#"))
	assert.True(t, f.audit.Has(audit.EventPasswordResetComplete, f.userID))
	assert.Zero(t, f.service.IsLockedOut(ctx, testEmail, lockout.KindVerification).Attempts)

	_, err := f.service.Verify(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUserInvalidated)

	t.Run("code is single use", func(t *testing.T) {
		err := f.service.ConfirmPasswordReset(ctx, testEmail, code, "Yet-Another-Pass-88$")
		assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials))
	})

	f.clock.Advance(2 * time.Second)
	_, err = f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: "Another-Battery-77#"})
	assert.NoError(t, err)
}

func TestPasswordResetRequestsAreThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.service.RequestPasswordReset(ctx, testEmail))
	}
	first, _ := f.outbox.code(testEmail)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.service.RequestPasswordReset(ctx, testEmail))
		current, _ := f.outbox.code(testEmail)
		assert.Equal(t, first, current, "throttled requests send nothing")
	}
}
