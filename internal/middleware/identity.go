package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// userID returns the authenticated subject, or "guest".
func userID(c echo.Context) string {
	if v, ok := c.Get(CtxUserID).(string); ok && v != "" {
		return v
	}
	return "guest"
}

// RequireDocument pins a signing token to the document it was minted for.
// The token's doc claim must equal the :param path segment.
func RequireDocument(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			doc, _ := c.Get(CtxDocID).(string)
			if doc == "" || doc != c.Param(param) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "token is not valid for this document"})
			}
			return next(c)
		}
	}
}
