package admin

import (
	"net/http"

	"github.com/freekieb7/lockbox/internal/revocation"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// HandleEmergencyReset logs out the listed users, or every recently active
// user when the list is empty.
func (h *Handler) HandleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	var req shared.EmergencyResetRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(w, r, &req); err != nil {
			response.ErrorResponse(w, err, h.Logger)
			return
		}
	}

	report, err := h.Auth.EmergencySecurityReset(r.Context(), req.UserIDs, revocation.Reason(req.Reason))
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgEmergencyComplete,
		Data:    report,
	})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	response.SuccessResponse(w, h.Auth.Stats(r.Context()))
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Auth.SweepExpired(r.Context())
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgSweepComplete,
		Data:    shared.CountResponse{Count: removed},
	})
}
