package tokens

import (
	"net/http"

	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// HandleRefresh mints a new access token. The refresh token is not rotated.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req shared.RefreshRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	access, err := h.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgTokenRefreshed,
		Data:    access,
	})
}
