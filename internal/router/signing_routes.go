package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/handler"
	"github.com/iliyamo/esign-workflow/internal/middleware"
	"github.com/iliyamo/esign-workflow/internal/utils"
)

// RegisterSigning registers signer endpoints under /v1/sign/:id.  They
// require a signing link token for that document and are rate limited.
func RegisterSigning(e *echo.Echo, h *handler.SigningHandler, d Deps) {
	g := e.Group(
		"/v1/sign/:id",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(utils.RoleSigner),
		middleware.RequireDocument("id"),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger),
	)

	g.GET("", h.View)
	g.PUT("/values", h.SaveValues)
	g.POST("/validate", h.Validate)
	g.POST("/restore", h.Restore)
	g.POST("/signature", h.Signature)
	g.POST("/complete", h.Complete)
	g.POST("/decline", h.Decline)
}
