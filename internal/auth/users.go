package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/freekieb7/lockbox/internal/audit"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/identity"
	"github.com/freekieb7/lockbox/internal/password"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/session"
)

// CreateUser provisions an active account. The password must pass the
// strength check.
func (s *Service) CreateUser(ctx context.Context, email, username, plain string) (identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if _, err := mail.ParseAddress(email); err != nil {
		return identity.User{}, apperrors.ValidationError("invalid email address", err)
	}
	if strings.Contains(username, "@") {
		return identity.User{}, apperrors.ValidationError("username must not contain @", nil)
	}

	strength := password.Score(plain, email, username)
	if !strength.Acceptable() {
		return identity.User{}, apperrors.WeakPasswordError("password is too weak", errors.New(strings.Join(strength.Feedback, "; ")))
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return identity.User{}, apperrors.ValidationError("password is too long", err)
		}
		return identity.User{}, apperrors.InternalError("failed to hash password", err)
	}

	user, err := s.users.Create(ctx, identity.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return identity.User{}, apperrors.ValidationError("email or username already in use", err)
		}
		return identity.User{}, apperrors.DatabaseError("failed to create user", err)
	}

	s.audit.Record(ctx, audit.EventUserCreated, user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// DeactivateUser disables the account and ends everything issued to it.
// Refresh is refused for inactive users even before the marker lands.
func (s *Service) DeactivateUser(ctx context.Context, userID string) (int, error) {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return 0, apperrors.NotFoundError("user not found", err)
		}
		return 0, apperrors.DatabaseError("failed to deactivate user", err)
	}

	destroyed, err := s.endEverything(ctx, userID, revocation.ReasonAdminForced)
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, audit.EventUserDeactivated, userID, map[string]any{"sessions_destroyed": destroyed})
	return destroyed, nil
}

// ListSessions returns the live sessions of userID.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalError("failed to list sessions", apperrors.StoreUnavailableError("session store unavailable", err))
	}
	return sessions, nil
}

// EndSession destroys one of userID's sessions. Sessions that do not exist
// or belong to another user are reported the same way. Tokens already
// issued under the session stay valid until they expire or are revoked.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return apperrors.InternalError("failed to load session", apperrors.StoreUnavailableError("session store unavailable", err))
	}
	if sess == nil || sess.UserID != userID {
		return apperrors.SessionNotFoundError("session not found", session.ErrSessionNotFound)
	}
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return apperrors.InternalError("failed to end session", apperrors.StoreUnavailableError("session store unavailable", err))
	}
	s.audit.Record(ctx, audit.EventLogout, userID, map[string]any{"session_id": sessionID})
	return nil
}
