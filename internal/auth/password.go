package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/freekieb7/lockbox/internal/audit"
	"github.com/freekieb7/lockbox/internal/cache"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/identity"
	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/password"
	"github.com/freekieb7/lockbox/internal/revocation"
)

const (
	resetCodePrefix = "password_reset:"
	resetCodeDigits = 6
)

type resetCode struct {
	UserID string `json:"user_id"`
	Hash   string `json:"hash"`
}

// ChangePassword replaces the password of userID and ends every session, the
// caller's included.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return apperrors.NotFoundError("user not found", err)
		}
		return apperrors.InternalError("failed to load user", err)
	}
	if err := s.hasher.Verify(user.PasswordHash, oldPassword); err != nil {
		return apperrors.InvalidCredentialsError(err)
	}
	if oldPassword == newPassword {
		return apperrors.ValidationError("new password must differ from the current one", nil)
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	if _, err := s.endEverything(ctx, user.ID, revocation.ReasonPasswordChange); err != nil {
		s.logger.Error("Password changed but sessions could not be ended", "user_id", user.ID, "error", err)
	}

	s.audit.Record(ctx, audit.EventPasswordChanged, user.ID, nil)
	return nil
}

func (s *Service) setPassword(ctx context.Context, user identity.User, plain string) error {
	strength := password.Score(plain, user.Email, user.Username)
	if !strength.Acceptable() {
		return apperrors.WeakPasswordError("password is too weak", errors.New(strings.Join(strength.Feedback, "; ")))
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return apperrors.ValidationError("password is too long", err)
		}
		return apperrors.InternalError("failed to hash password", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return apperrors.InternalError("failed to store password", err)
	}
	return nil
}

// RequestPasswordReset sends a one-time code to email when it belongs to an
// active user. It reports nothing about whether that was the case.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeIdentifier(email)
	if email == "" {
		return nil
	}

	status, err := s.attempts.RecordFailure(ctx, email, lockout.KindReset)
	if err != nil {
		s.logger.Warn("Failed to count reset request", "error", err)
	}
	if status.Locked && status.Attempts > s.attempts.Policy(lockout.KindReset).MaxAttempts {
		s.logger.Warn("Password reset requests throttled", "email", email)
		return nil
	}

	user, err := s.users.FindByIdentifier(ctx, email)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Error("Identity lookup failed during reset request", "error", err)
		}
		return nil
	}

	code, err := generateCode(resetCodeDigits)
	if err != nil {
		s.logger.Error("Failed to generate reset code", "error", err)
		return nil
	}
	if err := s.store.Set(ctx, resetCodePrefix+email, resetCode{UserID: user.ID, Hash: hashCode(code)}, s.resetCodeTTL); err != nil {
		s.logger.Error("Failed to store reset code", "error", err)
		return nil
	}
	if s.notifier != nil {
		if err := s.notifier.SendCode(ctx, email, code); err != nil {
			s.logger.Error("Failed to deliver reset code", "user_id", user.ID, "error", err)
		}
	}

	s.audit.Record(ctx, audit.EventPasswordResetRequest, user.ID, nil)
	return nil
}

// ConfirmPasswordReset sets a new password when code matches the one sent to
// email. Wrong codes count towards the verification lockout.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = normalizeIdentifier(email)
	if status := s.attempts.IsLockedOut(ctx, email, lockout.KindVerification); status.Locked {
		return tooManyAttempts(status)
	}

	var stored resetCode
	if err := s.store.Get(ctx, resetCodePrefix+email, &stored); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Error("Failed to load reset code", "error", err)
		}
		return s.resetFailed(ctx, email, ErrInvalidCode)
	}
	if subtle.ConstantTimeCompare([]byte(stored.Hash), []byte(hashCode(strings.TrimSpace(code)))) != 1 {
		return s.resetFailed(ctx, email, ErrInvalidCode)
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil || !user.IsActive {
		return s.resetFailed(ctx, email, ErrUserInactive)
	}
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, resetCodePrefix+email); err != nil {
		s.logger.Warn("Failed to delete used reset code", "error", err)
	}
	for _, kind := range []lockout.Kind{lockout.KindVerification, lockout.KindReset, lockout.KindLogin} {
		if err := s.attempts.Clear(ctx, email, kind); err != nil {
			s.logger.Warn("Failed to clear attempts after reset", "kind", kind, "error", err)
		}
	}
	if _, err := s.endEverything(ctx, user.ID, revocation.ReasonPasswordChange); err != nil {
		s.logger.Error("Password reset but sessions could not be ended", "user_id", user.ID, "error", err)
	}

	s.audit.Record(ctx, audit.EventPasswordResetComplete, user.ID, nil)
	return nil
}

func (s *Service) resetFailed(ctx context.Context, email string, cause error) error {
	status, err := s.attempts.RecordFailure(ctx, email, lockout.KindVerification)
	if err != nil {
		s.logger.Warn("Failed to record verification attempt", "error", err)
	}
	if status.Locked {
		s.audit.Record(ctx, audit.EventLockout, "", map[string]any{
			"identifier": email,
			"kind":       string(lockout.KindVerification),
		})
	}
	return apperrors.InvalidCredentialsError(cause)
}

func generateCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
