package tokens

import (
	"net/http"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/middleware"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// HandleVerify reports the claims of the bearer token. Authenticated has
// already run the full verification.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), h.Logger)
		return
	}

	response.SuccessResponse(w, shared.VerifyResponse{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Extra:     claims.Extra,
	})
}

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), h.Logger)
		return
	}

	sessions, err := h.Auth.ListSessions(r.Context(), claims.Subject)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}
	response.SuccessResponse(w, sessions)
}

// HandleEndSession ends one of the caller's own sessions, typically one held
// by another device.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), h.Logger)
		return
	}

	if err := h.Auth.EndSession(r.Context(), claims.Subject, r.PathValue("session_id")); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgSessionEnded,
	})
}
