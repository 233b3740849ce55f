package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/freekieb7/lockbox/internal/audit"
	"github.com/freekieb7/lockbox/internal/auth"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.service.CreateUser(ctx, "  Grace@Medialab.TEST ", "grace", "Another-Battery-77#")
	require.NoError(t, err)
	assert.Equal(t, "grace@medialab.test", user.Email)
	assert.True(t, user.IsActive)
	assert.True(t, f.audit.Has(audit.EventUserCreated, user.ID))

	result, err := f.service.Login(ctx, auth.LoginRequest{Identifier: "grace", Password: "Another-Battery-77#"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.UserID)

	tests := []struct {
		name     string
		email    string
		username string
		password string
		code     string
	}{
		{"duplicate email", testEmail, "", "Another-Battery-77#", apperrors.CodeValidationFailed},
		{"invalid email", "not-an-address", "", "Another-Battery-77#", apperrors.CodeValidationFailed},
		{"username with at sign", "x@medialab.test", "x@y", "Another-Battery-77#", apperrors.CodeValidationFailed},
		{"weak password", "y@medialab.test", "", "password", apperrors.CodeWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateUser(ctx, tt.email, tt.username, tt.password)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.code), "got %v", err)
		})
	}
}

func TestDeactivateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	destroyed, err := f.service.DeactivateUser(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, destroyed)
	assert.True(t, f.audit.Has(audit.EventUserDeactivated, f.userID))

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.Error(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.service.Login(ctx, auth.LoginRequest{Identifier: testEmail, Password: testPassword})
	assert.True(t, apperrors.IsType(err, apperrors.CodeInvalidCredentials))

	_, err = f.service.DeactivateUser(ctx, "no-such-user")
	assert.True(t, apperrors.IsType(err, apperrors.CodeNotFound))
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)
	second := f.login(t)

	sessions, err := f.service.ListSessions(ctx, f.userID)
	require.NoError(t, err)
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{first.SessionID, second.SessionID}, ids)

	f.redis.Close()
	_, err = f.service.ListSessions(ctx, f.userID)
	assert.True(t, apperrors.IsType(err, apperrors.CodeInternalError))
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)
	second := f.login(t)

	require.NoError(t, f.service.EndSession(ctx, f.userID, first.SessionID))
	assert.True(t, f.audit.Has(audit.EventLogout, f.userID))

	sess, err := f.sessions.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	sess, err = f.sessions.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)

	err = f.service.EndSession(ctx, f.userID, first.SessionID)
	assert.True(t, apperrors.IsType(err, apperrors.CodeSessionNotFound), "got %v", err)
	assert.Equal(t, 404, apperrors.GetHTTPCode(err))

	// Another user's session id is indistinguishable from a missing one.
	err = f.service.EndSession(ctx, "someone-else", second.SessionID)
	assert.True(t, apperrors.IsType(err, apperrors.CodeSessionNotFound), "got %v", err)
	sess, err = f.sessions.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)

	f.redis.Close()
	err = f.service.EndSession(ctx, f.userID, second.SessionID)
	assert.True(t, apperrors.IsType(err, apperrors.CodeInternalError), "got %v", err)
}

func TestLogoutWithTokensFindsOwnerFromRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	// The access token has expired; the refresh token still names the owner.
	f.clock.Advance(auth.DefaultAccessTTL + time.Minute)
	userID := f.service.LogoutWithTokens(ctx, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, f.userID, userID)

	sess, err := f.sessions.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}

func TestLogoutWithUnverifiableTokensKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	assert.Empty(t, f.service.LogoutWithTokens(ctx, "garbage", ""))

	sess, err := f.sessions.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}
