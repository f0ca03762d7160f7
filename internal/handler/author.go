package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/esign-workflow/internal/assignment"
	"github.com/iliyamo/esign-workflow/internal/audit"
	"github.com/iliyamo/esign-workflow/internal/lifecycle"
	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/repository"
	"github.com/iliyamo/esign-workflow/internal/utils"
)

// DocumentStore is implemented by *repository.DocumentRepo.
type DocumentStore interface {
	Create(ctx context.Context, d *model.Document) error
	GetForAuthor(ctx context.Context, id, authorID uint64) (*model.Document, error)
	Delete(ctx context.Context, id, authorID uint64) error
}

// FieldStore is implemented by *repository.FieldRepo.
type FieldStore interface {
	Create(ctx context.Context, f *model.Field) error
	Get(ctx context.Context, docID, fieldID uint64) (*model.Field, error)
	Update(ctx context.Context, f *model.Field) error
	Delete(ctx context.Context, docID, fieldID uint64) error
}

// SignerStore is implemented by *repository.SignerRepo.
type SignerStore interface {
	Create(ctx context.Context, s *model.Signer) error
}

// AuditSource is implemented by *audit.Recorder.
type AuditSource interface {
	Events(ctx context.Context, docID uint64) ([]model.AuditEvent, error)
	Export(ctx context.Context, docID uint64, f audit.Format, w io.Writer) error
}

// AuthorHandler serves document setup for authenticated authors.
type AuthorHandler struct {
	Docs       DocumentStore
	Fields     FieldStore
	Signers    SignerStore
	Audit      AuditSource
	Workflow   Workflow
	BcryptCost int
}

func NewAuthorHandler(docs DocumentStore, fields FieldStore, signers SignerStore, trail AuditSource, wf Workflow, bcryptCost int) *AuthorHandler {
	if docs == nil || fields == nil || signers == nil || trail == nil || wf == nil {
		panic("nil dependency passed to NewAuthorHandler")
	}
	return &AuthorHandler{Docs: docs, Fields: fields, Signers: signers, Audit: trail, Workflow: wf, BcryptCost: bcryptCost}
}

type createDocumentReq struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	FileKey     string     `json:"file_key"`
	PageCount   int        `json:"page_count"`
	Sequential  bool       `json:"sequential"`
	ExpiresAt   *time.Time `json:"expires_at"`
	DueDate     *time.Time `json:"due_date"`
}

// CreateDocument handles POST /v1/documents.
func (h *AuthorHandler) CreateDocument(c echo.Context) error {
	authorID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req createDocumentReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return badRequest(c, "title is required")
	}
	if req.PageCount < 0 {
		return badRequest(c, "page_count must not be negative")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return badRequest(c, "expires_at must be in the future")
	}
	d := &model.Document{
		Title:       req.Title,
		Description: req.Description,
		AuthorID:    authorID,
		FileKey:     req.FileKey,
		PageCount:   req.PageCount,
		Sequential:  req.Sequential,
		ExpiresAt:   req.ExpiresAt,
		DueDate:     req.DueDate,
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Docs.Create(ctx, d); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// GetDocument handles GET /v1/documents/:id and returns the document with
// its fields, signers and completion.
func (h *AuthorHandler) GetDocument(c echo.Context) error {
	authorID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := h.Workflow.Bundle(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	if b.Document.AuthorID != authorID {
		return fail(c, repository.ErrForbidden)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"document":       b.Document,
		"display_status": lifecycle.Display(b.Document, b.Signers),
		"fields":         b.Fields,
		"signers":        b.Signers,
		"progress":       assignment.DocumentCompletion(b.Fields, b.Signers, assignment.Values(b.Fields)),
	})
}

// DeleteDocument handles DELETE /v1/documents/:id.
func (h *AuthorHandler) DeleteDocument(c echo.Context) error {
	authorID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Docs.Delete(ctx, id, authorID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fieldReq carries field placement.  Pointers distinguish "not sent" on
// PATCH.
type fieldReq struct {
	Type           *model.FieldType `json:"type"`
	Page           *int             `json:"page"`
	X              *float64         `json:"x"`
	Y              *float64         `json:"y"`
	Width          *float64         `json:"width"`
	Height         *float64         `json:"height"`
	Required       *bool            `json:"required"`
	Label          *string          `json:"label"`
	Placeholder    *string          `json:"placeholder"`
	Options        []string         `json:"options"`
	ValidationRule *string          `json:"validation_rule"`
	AssignedTo     *uint64          `json:"assigned_to"`
}

func (r fieldReq) apply(f *model.Field) error {
	// The type is fixed by NewField; a request may only repeat it.
	if r.Type != nil && *r.Type != f.Type {
		return fmt.Errorf("field type cannot change from %q to %q", f.Type, *r.Type)
	}
	if r.Page != nil {
		if *r.Page < 1 {
			return fmt.Errorf("page must be >= 1")
		}
		f.Page = *r.Page
	}
	if r.X != nil {
		f.X = *r.X
	}
	if r.Y != nil {
		f.Y = *r.Y
	}
	if r.Width != nil {
		f.Width = *r.Width
	}
	if r.Height != nil {
		f.Height = *r.Height
	}
	if f.X < 0 || f.Y < 0 || f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("field position must be non-negative and size positive")
	}
	if r.Required != nil {
		f.Required = *r.Required
	}
	if r.Label != nil {
		f.Label = strings.TrimSpace(*r.Label)
	}
	if r.Placeholder != nil {
		f.Placeholder = *r.Placeholder
	}
	if r.Options != nil {
		f.Options = r.Options
	}
	if (f.Type == model.FieldDropdown || f.Type == model.FieldRadio) && len(f.Options) == 0 {
		return fmt.Errorf("%s fields need options", f.Type)
	}
	if r.ValidationRule != nil {
		f.ValidationRule = strings.TrimSpace(*r.ValidationRule)
	}
	if r.AssignedTo != nil {
		if *r.AssignedTo == 0 {
			f.AssignedTo = nil
		} else {
			v := *r.AssignedTo
			f.AssignedTo = &v
		}
	}
	return f.LoadRules()
}

// CreateField handles POST /v1/documents/:id/fields on a draft document.
// Omitted geometry falls back to the type's defaults.
func (h *AuthorHandler) CreateField(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	var req fieldReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Type == nil {
		return badRequest(c, "type is required")
	}
	page := 1
	if req.Page != nil {
		page = *req.Page
	}
	f, err := model.NewField(*req.Type, page)
	if err != nil {
		return badRequest(c, err.Error())
	}
	f.DocumentID = docID
	if err := req.apply(&f); err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.Fields.Create(ctx, &f); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

// UpdateField handles PATCH /v1/documents/:id/fields/:field_id.
func (h *AuthorHandler) UpdateField(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	fieldID, ok := paramID(c, "field_id")
	if !ok {
		return badRequest(c, "invalid field id")
	}
	var req fieldReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.Fields.Get(ctx, docID, fieldID)
	if err != nil {
		return fail(c, err)
	}
	if err := req.apply(f); err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.Fields.Update(ctx, f); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// DeleteField handles DELETE /v1/documents/:id/fields/:field_id.
func (h *AuthorHandler) DeleteField(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	fieldID, ok := paramID(c, "field_id")
	if !ok {
		return badRequest(c, "invalid field id")
	}
	if err := h.Fields.Delete(ctx, docID, fieldID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addSignerReq struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Order      int     `json:"order"`
	UserID     *uint64 `json:"user_id"`
	AccessCode string  `json:"access_code"`
}

// AddSigner handles POST /v1/documents/:id/signers.  Order 0 appends the
// signer after the existing ones.
func (h *AuthorHandler) AddSigner(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	var req addSignerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return badRequest(c, "a valid email is required")
	}
	if req.Order < 0 {
		return badRequest(c, "order must not be negative")
	}
	hash, err := utils.HashAccessCode(strings.TrimSpace(req.AccessCode), h.BcryptCost)
	if err != nil {
		return fail(c, err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = addr.Name
	}
	s := &model.Signer{
		DocumentID:     docID,
		Name:           name,
		Email:          addr.Address,
		UserID:         req.UserID,
		Order:          req.Order,
		AccessCodeHash: hash,
	}
	if err := h.Signers.Create(ctx, s); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// Prepare handles POST /v1/documents/:id/prepare.  The response carries one
// signing link per signer.
func (h *AuthorHandler) Prepare(c echo.Context) error {
	authorID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Workflow.Prepare(ctx, id, authorID, actorFrom(c, model.ActorAuthor, authorID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// AuditTrail handles GET /v1/documents/:id/audit and reports whether the
// hash chain verifies.
func (h *AuthorHandler) AuditTrail(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	events, err := h.Audit.Events(ctx, docID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events, "verification": audit.Verify(events)})
}

// ExportAudit handles GET /v1/documents/:id/audit/export?format=jsonl|csv.
func (h *AuthorHandler) ExportAudit(c echo.Context) error {
	format, err := audit.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	docID, done, err := h.owned(ctx, c)
	if done {
		return err
	}
	var buf bytes.Buffer
	if err := h.Audit.Export(ctx, docID, format, &buf); err != nil {
		return fail(c, err)
	}
	ctype, ext := "application/x-ndjson", "jsonl"
	if format == audit.FormatCSV {
		ctype, ext = "text/csv", "csv"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="document-%d-audit.%s"`, docID, ext))
	return c.Blob(http.StatusOK, ctype, buf.Bytes())
}

// owned resolves :id and checks that the caller authored it.  When done
// is true the response has been written and err is the write's result.
func (h *AuthorHandler) owned(ctx context.Context, c echo.Context) (docID uint64, done bool, err error) {
	authorID, err := getUserID(c)
	if err != nil {
		return 0, true, unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return 0, true, badRequest(c, "invalid id")
	}
	if _, err := h.Docs.GetForAuthor(ctx, id, authorID); err != nil {
		return 0, true, fail(c, err)
	}
	return id, false, nil
}
