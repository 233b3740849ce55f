package shared

import (
	"time"
)

const (
	MsgLoggedIn          = "Logged in"
	MsgTokenRefreshed    = "Token refreshed"
	MsgLoggedOut         = "Logged out"
	MsgLoggedOutAll      = "All sessions ended"
	MsgSessionEnded      = "Session ended"
	MsgPasswordChanged   = "Password changed"
	MsgResetRequested    = "If the address belongs to an account, a code has been sent"
	MsgPasswordReset     = "Password has been reset"
	MsgUserCreated       = "User created"
	MsgUserDeactivated   = "User deactivated"
	MsgUserLoggedOut     = "User logged out everywhere"
	MsgEmergencyComplete = "Emergency reset complete"
	MsgSweepComplete     = "Expired revocations removed"
)

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Remember   bool   `json:"remember"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type VerifyResponse struct {
	UserID    string         `json:"user_id"`
	TokenID   string         `json:"jti"`
	SessionID string         `json:"session_id,omitempty"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type ForceLogoutRequest struct {
	Reason string `json:"reason"`
}

type EmergencyResetRequest struct {
	UserIDs []string `json:"user_ids"`
	Reason  string   `json:"reason"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}
