package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/signature"
)

// FieldTypes handles GET /v1/field-types: the palette of placeable field
// types with their default geometry, and the fonts typed signatures accept.
func FieldTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"items": model.FieldTypes(),
		"fonts": signature.Fonts(),
	})
}
