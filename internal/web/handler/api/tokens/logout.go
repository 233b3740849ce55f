package tokens

import (
	"net/http"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/middleware"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// HandleLogout revokes the bearer token and the refresh token from the body.
// Tokens that no longer verify are revoked too and the call still succeeds.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req shared.LogoutRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(w, r, &req); err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}
	}

	access := middleware.BearerToken(r)
	if access == "" && req.RefreshToken == "" {
		response.ErrorResponse(w, apperrors.InvalidRequestError("no token to revoke", nil), h.Logger)
		return
	}

	userID := h.Auth.LogoutWithTokens(r.Context(), access, req.RefreshToken)
	h.Logger.DebugContext(r.Context(), "Logout handled", "user_id", userID)

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgLoggedOut,
	})
}

// HandleLogoutAll ends every session of the authenticated user.
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), h.Logger)
		return
	}

	if err := h.Auth.LogoutAll(r.Context(), claims.Subject); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgLoggedOutAll,
	})
}
