package admin

import (
	"net/http"
	"strings"

	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/response"
)

func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req shared.CreateUserRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.ValidationErrorResponse(w, "Email and password are required", map[string]string{
			"email":    "required",
			"password": "required",
		}, h.Logger)
		return
	}

	user, err := h.Auth.CreateUser(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	h.Logger.InfoContext(r.Context(), shared.MsgUserCreated, "user_id", user.ID)
	response.JSONResponse(w, http.StatusCreated, response.APIResponse{
		Code:    http.StatusCreated,
		Status:  "success",
		Message: shared.MsgUserCreated,
		Data: shared.UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Username:  user.Username,
			IsActive:  user.IsActive,
			CreatedAt: user.CreatedAt,
		},
	})
}

func (h *Handler) HandleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		response.ErrorResponse(w, apperrors.ValidationError("user id is required", nil), h.Logger)
		return
	}

	destroyed, err := h.Auth.DeactivateUser(r.Context(), userID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgUserDeactivated,
		Data:    shared.CountResponse{Count: int64(destroyed)},
	})
}

// HandleForceLogout ends every session of the user in the path.
func (h *Handler) HandleForceLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	var req shared.ForceLogoutRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(w, r, &req); err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}
	}

	destroyed, err := h.Auth.ForceLogoutUser(r.Context(), userID, revocation.Reason(req.Reason))
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgUserLoggedOut,
		Data:    shared.CountResponse{Count: int64(destroyed)},
	})
}
