package tokens

import (
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
)

// Handler serves the token lifecycle endpoints under /auth.
type Handler struct {
	shared.BaseHandler
}

// NewHandler creates a new token handler
func NewHandler(base shared.BaseHandler) *Handler {
	return &Handler{
		BaseHandler: base,
	}
}

// Implementation methods are in separate files:
// - login.go: HandleLogin
// - refresh.go: HandleRefresh
// - logout.go: HandleLogout, HandleLogoutAll
// - verify.go: HandleVerify, HandleListSessions, HandleEndSession
// - password.go: HandleChangePassword, HandleRequestReset, HandleConfirmReset
