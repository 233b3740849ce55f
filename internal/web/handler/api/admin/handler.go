package admin

import (
	"github.com/freekieb7/lockbox/internal/web/handler/api/shared"
)

// Handler serves the operator endpoints under /admin.
type Handler struct {
	shared.BaseHandler
}

func NewHandler(base shared.BaseHandler) *Handler {
	return &Handler{
		BaseHandler: base,
	}
}
