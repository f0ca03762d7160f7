package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/assignment"
	"github.com/iliyamo/esign-workflow/internal/backup"
	"github.com/iliyamo/esign-workflow/internal/lifecycle"
	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/service"
	"github.com/iliyamo/esign-workflow/internal/signature"
	"github.com/iliyamo/esign-workflow/internal/validation"
)

// Workflow is implemented by *service.Workflow.
type Workflow interface {
	Bundle(ctx context.Context, docID uint64) (*model.Bundle, error)
	Prepare(ctx context.Context, docID, authorID uint64, actor model.Actor) (service.PrepareResult, error)
	Access(ctx context.Context, docID, signerID uint64, accessCode string, actor model.Actor) (service.SigningView, error)
	SaveValues(ctx context.Context, docID, signerID uint64, values map[uint64]any, actor model.Actor) (service.SaveResult, error)
	Validate(ctx context.Context, docID, signerID uint64, values map[uint64]any) ([]model.ValidationError, assignment.SignerProgress, error)
	Restore(ctx context.Context, docID, signerID uint64, edited []uint64) (backup.Restored, error)
	Signature(ctx context.Context, docID, signerID uint64, fieldID *uint64, in signature.Input, actor model.Actor) (service.SignatureResult, error)
	Complete(ctx context.Context, docID, signerID uint64, values map[uint64]any, idempotencyKey string, actor model.Actor) (service.CompleteResult, error)
	Decline(ctx context.Context, docID, signerID uint64, reason string, actor model.Actor) (model.Document, error)
}

// HeaderIdempotencyKey makes a completion submit safe to repeat.
const HeaderIdempotencyKey = "Idempotency-Key"

// maxIdempotencyKey bounds the client supplied key.
const maxIdempotencyKey = 128

// SigningHandler serves the signer side.  Every route runs behind a signing
// link token pinned to the document in the path.
type SigningHandler struct {
	Workflow Workflow
}

func NewSigningHandler(wf Workflow) *SigningHandler {
	if wf == nil {
		panic("nil workflow passed to NewSigningHandler")
	}
	return &SigningHandler{Workflow: wf}
}

type valuesReq struct {
	Values map[uint64]any `json:"values"`
}

// signer resolves the document id and the signer from the token.
func signer(c echo.Context) (docID, signerID uint64, ok bool) {
	signerID, err := getUserID(c)
	if err != nil {
		return 0, 0, false
	}
	docID, ok = paramID(c, "id")
	return docID, signerID, ok
}

// View handles GET /v1/sign/:id.  The access code, when the author set one,
// comes in the X-Access-Code header or the access_code query parameter.
func (h *SigningHandler) View(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	code := c.Request().Header.Get("X-Access-Code")
	if code == "" {
		code = c.QueryParam("access_code")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	view, err := h.Workflow.Access(ctx, docID, signerID, strings.TrimSpace(code), actorFrom(c, model.ActorSigner, signerID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// SaveValues handles PUT /v1/sign/:id/values.  Validation findings are
// returned inline with status 200.
func (h *SigningHandler) SaveValues(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	var req valuesReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Workflow.SaveValues(ctx, docID, signerID, req.Values, actorFrom(c, model.ActorSigner, signerID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Validate handles POST /v1/sign/:id/validate.  Nothing is stored.
func (h *SigningHandler) Validate(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	var req valuesReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	errs, progress, err := h.Workflow.Validate(ctx, docID, signerID, req.Values)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"valid":    !validation.HasErrors(errs),
		"errors":   errs,
		"progress": progress,
	})
}

// Restore handles POST /v1/sign/:id/restore.  Edited lists field ids the
// signer changed in this session; their values are kept.
func (h *SigningHandler) Restore(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	var req struct {
		Edited []uint64 `json:"edited"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Workflow.Restore(ctx, docID, signerID, req.Edited)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Signature handles POST /v1/sign/:id/signature.  With field_id set the
// normalized signature is saved into that field.
func (h *SigningHandler) Signature(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	var req struct {
		FieldID *uint64 `json:"field_id"`
		signature.Input
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Workflow.Signature(ctx, docID, signerID, req.FieldID, req.Input, actorFrom(c, model.ActorSigner, signerID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Complete handles POST /v1/sign/:id/complete.  A failed validation answers
// 422 with the findings; a repeated Idempotency-Key replays the first
// success and sets Idempotent-Replayed.
func (h *SigningHandler) Complete(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKey {
		return badRequest(c, "idempotency key too long")
	}
	var req valuesReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Workflow.Complete(ctx, docID, signerID, req.Values, key, actorFrom(c, model.ActorSigner, signerID))
	if errors.Is(err, lifecycle.ErrValidationFailed) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":  err.Error(),
			"errors": validation.Errors(out.Errors),
		})
	}
	if err != nil {
		return fail(c, err)
	}
	if out.Replayed {
		c.Response().Header().Set("Idempotent-Replayed", "true")
	}
	return c.JSON(http.StatusOK, out)
}

// Decline handles POST /v1/sign/:id/decline.  It ends the workflow for all
// signers.
func (h *SigningHandler) Decline(c echo.Context) error {
	docID, signerID, ok := signer(c)
	if !ok {
		return unauthorized(c)
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	doc, err := h.Workflow.Decline(ctx, docID, signerID, req.Reason, actorFrom(c, model.ActorSigner, signerID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"document": doc})
}
