package tokens

import (
	"net/http"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/middleware"
	"github.com/freekieb7/lockbox/internal/web/response"
)

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.ErrorResponse(w, apperrors.UnauthorizedError("authentication required", nil), h.Logger)
		return
	}

	var req shared.ChangePasswordRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	if err := h.Auth.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgPasswordChanged,
	})
}

// HandleRequestReset always answers 202 so that it cannot be used to test
// for accounts.
func (h *Handler) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req shared.PasswordResetRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	if err := h.Auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusAccepted, response.APIResponse{
		Code:    http.StatusAccepted,
		Status:  "success",
		Message: shared.MsgResetRequested,
	})
}

func (h *Handler) HandleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req shared.PasswordResetConfirmRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	if err := h.Auth.ConfirmPasswordReset(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgPasswordReset,
	})
}
