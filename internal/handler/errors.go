package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/audit"
	"github.com/iliyamo/esign-workflow/internal/lifecycle"
	"github.com/iliyamo/esign-workflow/internal/middleware"
	"github.com/iliyamo/esign-workflow/internal/repository"
	"github.com/iliyamo/esign-workflow/internal/service"
	"github.com/iliyamo/esign-workflow/internal/signature"
)

// statusOf maps a workflow or storage error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden),
		errors.Is(err, lifecycle.ErrUnknownSigner),
		errors.Is(err, lifecycle.ErrAccessDenied),
		errors.Is(err, lifecycle.ErrFieldNotAssigned):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrDocumentExpired):
		return http.StatusGone
	case errors.Is(err, lifecycle.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrDocumentClosed),
		errors.Is(err, lifecycle.ErrNotPrepared),
		errors.Is(err, lifecycle.ErrSignerFinished),
		errors.Is(err, lifecycle.ErrOutOfTurn),
		errors.Is(err, lifecycle.ErrNotOpened),
		errors.Is(err, lifecycle.ErrIncomplete),
		errors.Is(err, lifecycle.ErrNoSigners),
		errors.Is(err, lifecycle.ErrNoFields),
		errors.Is(err, lifecycle.ErrInvalidAssignment),
		errors.Is(err, lifecycle.ErrInvalidPage):
		return http.StatusConflict
	case errors.Is(err, signature.ErrInvalidColor),
		errors.Is(err, signature.ErrUnknownFont),
		errors.Is(err, signature.ErrUnknownMode),
		errors.Is(err, signature.ErrBadAction),
		errors.Is(err, audit.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as JSON.  Internal errors hide their message.
func fail(c echo.Context, err error) error {
	status := statusOf(err)
	body := echo.Map{"error": err.Error()}
	switch status {
	case http.StatusInternalServerError:
		c.Set(middleware.CtxError, err)
		body["error"] = "internal error"
	case http.StatusServiceUnavailable:
		body["retryable"] = true
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
