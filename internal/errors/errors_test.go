package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorStatuses(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   string
		status int
	}{
		{ConfigError("TOKEN_MASTER_KEY must be set", nil), CodeConfigError, http.StatusInternalServerError},
		{SessionNotFoundError("session not found", nil), CodeSessionNotFound, http.StatusNotFound},
		{StoreUnavailableError("session store unavailable", nil), CodeStoreUnavailable, http.StatusServiceUnavailable},
		{TooManyAttemptsError("locked", nil), CodeTooManyAttempts, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Fatalf("expected %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.HTTPCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, tt.err.HTTPCode)
			}
			if GetHTTPCode(fmt.Errorf("wrapped: %w", tt.err)) != tt.status {
				t.Fatal("expected status to survive wrapping")
			}
		})
	}
}

func TestIsTypeAndHTTPCode(t *testing.T) {
	sentinel := errors.New("signature mismatch")
	err := fmt.Errorf("verify: %w", UnauthorizedError("unauthorized", sentinel))

	if !IsType(err, CodeUnauthorized) {
		t.Fatal("expected wrapped error to match unauthorized code")
	}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
	if GetHTTPCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", GetHTTPCode(err))
	}
	if GetHTTPCode(sentinel) != http.StatusInternalServerError {
		t.Fatal("plain errors should map to 500")
	}
}

func TestInvalidCredentialsMessageIsGeneric(t *testing.T) {
	a := InvalidCredentialsError(errors.New("user not found"))
	b := InvalidCredentialsError(errors.New("password mismatch"))
	if a.Message != b.Message || a.Message != GenericCredentialMessage {
		t.Fatalf("expected identical generic messages, got %q and %q", a.Message, b.Message)
	}
}

func TestHasCodeSearchesNestedErrors(t *testing.T) {
	err := UnauthorizedError("unauthorized", TokenRevokedError("token revoked", errors.New("revoked")))

	if !HasCode(err, CodeTokenRevoked) {
		t.Fatal("expected nested token revoked code")
	}
	if !HasCode(err, CodeUnauthorized) {
		t.Fatal("expected outer code")
	}
	if HasCode(err, CodeExpiredToken) {
		t.Fatal("unexpected expired code")
	}
	if HasCode(nil, CodeUnauthorized) {
		t.Fatal("nil has no code")
	}
}
