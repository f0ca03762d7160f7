package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/handler"
	"github.com/iliyamo/esign-workflow/internal/middleware"
	"github.com/iliyamo/esign-workflow/internal/utils"
)

// RegisterAuthor registers document setup endpoints under /v1/documents.
// All routes require a valid JWT with the AUTHOR role.
func RegisterAuthor(e *echo.Echo, h *handler.AuthorHandler, jwtSecret string) {
	g := e.Group(
		"/v1/documents",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleAuthor),
	)

	g.POST("", h.CreateDocument)
	g.GET("/:id", h.GetDocument)
	g.DELETE("/:id", h.DeleteDocument)

	// Fields and signers can only change while the document is a draft.
	g.POST("/:id/fields", h.CreateField)
	g.PATCH("/:id/fields/:field_id", h.UpdateField)
	g.DELETE("/:id/fields/:field_id", h.DeleteField)
	g.POST("/:id/signers", h.AddSigner)

	g.POST("/:id/prepare", h.Prepare)

	g.GET("/:id/audit", h.AuditTrail)
	g.GET("/:id/audit/export", h.ExportAudit)
}
