package tokens

import (
	"math"
	"net/http"
	"strconv"

	"github.com/freekieb7/lockbox/internal/auth"
	apperrors "github.com/freekieb7/lockbox/internal/errors"
	"github.com/freekieb7/lockbox/internal/lockout"
	"github.com/freekieb7/lockbox/internal/session"
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
	"github.com/freekieb7/lockbox/internal/web/middleware"
	"github.com/freekieb7/lockbox/internal/web/response"
)

// HandleLogin exchanges credentials for a token pair.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req shared.LoginRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	result, err := h.Auth.Login(ctx, auth.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Remember:   req.Remember,
		Device: session.Device{
			UserAgent: r.UserAgent(),
			IP:        middleware.GetClientIP(r),
			Platform:  r.Header.Get("Sec-CH-UA-Platform"),
		},
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.CodeTooManyAttempts) {
			status := h.Auth.IsLockedOut(ctx, req.Identifier, lockout.KindLogin)
			if status.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(status.RetryAfter.Seconds()))))
			}
		}
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, response.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: shared.MsgLoggedIn,
		Data:    result,
	})
}
