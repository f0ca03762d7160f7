package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// DocumentRepo provides CRUD operations for documents.  All timestamps
// are stored in UTC.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo returns a new DocumentRepo bound to the given database.
func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

const documentColumns = `id, title, description, author_id, file_key, page_count, sequential,
	document_type, status, created_at, updated_at, prepared_at, signed_at, expires_at, due_date`

// Create inserts a draft document and populates its ID and timestamps.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Status == "" {
		d.Status = model.StatusDraft
	}
	if d.DocumentType == "" {
		d.DocumentType = model.DocumentUnsigned
	}
	const q = `INSERT INTO documents (title, description, author_id, file_key, page_count, sequential,
		document_type, status, created_at, updated_at, expires_at, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, d.Title, d.Description, d.AuthorID, d.FileKey, d.PageCount, d.Sequential,
		d.DocumentType, d.Status, d.CreatedAt, d.UpdatedAt, nullTime(d.ExpiresAt), nullTime(d.DueDate))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = uint64(id)
	return nil
}

// GetByID returns the document or ErrNotFound.
func (r *DocumentRepo) GetByID(ctx context.Context, id uint64) (*model.Document, error) {
	return getDocument(ctx, r.db, id)
}

// GetForAuthor returns the document when authorID owns it.  A document
// owned by someone else yields ErrForbidden.
func (r *DocumentRepo) GetForAuthor(ctx context.Context, id, authorID uint64) (*model.Document, error) {
	d, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.AuthorID != authorID {
		return nil, ErrForbidden
	}
	return d, nil
}

// Delete removes the document with its fields, signers and audit trail.
func (r *DocumentRepo) Delete(ctx context.Context, id, authorID uint64) error {
	if _, err := r.GetForAuthor(ctx, id, authorID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND author_id = ?`, id, authorID)
	return err
}

// updateDocumentTx writes the lifecycle columns of d, guarded on the
// status and updated_at the caller read.  Zero rows matched means another
// writer moved the document first and ErrConflict is returned.
func updateDocumentTx(ctx context.Context, tx *sql.Tx, d model.Document, expect model.DocumentStatus, expectUpdated time.Time) error {
	const q = `UPDATE documents SET document_type = ?, status = ?, updated_at = ?, prepared_at = ?, signed_at = ?
		WHERE id = ? AND status = ? AND updated_at = ?`
	res, err := tx.ExecContext(ctx, q, d.DocumentType, d.Status, d.UpdatedAt.UTC(), nullTime(d.PreparedAt),
		nullTime(d.SignedAt), d.ID, expect, expectUpdated.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func getDocument(ctx context.Context, q querier, id uint64) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	var (
		d                                    model.Document
		prepared, signed, expires, dueDateNT sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Title, &d.Description, &d.AuthorID, &d.FileKey, &d.PageCount, &d.Sequential,
		&d.DocumentType, &d.Status, &d.CreatedAt, &d.UpdatedAt, &prepared, &signed, &expires, &dueDateNT,
	)
	if err != nil {
		return nil, notFound(err)
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	d.PreparedAt, d.SignedAt = timePtr(prepared), timePtr(signed)
	d.ExpiresAt, d.DueDate = timePtr(expires), timePtr(dueDateNT)
	return &d, nil
}
