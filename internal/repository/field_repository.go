package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// FieldRepo stores the fields placed on a document.  Placement can only
// change while the document is a draft; values are written by the
// workflow through WorkflowRepo.
type FieldRepo struct {
	db *sql.DB
}

func NewFieldRepo(db *sql.DB) *FieldRepo { return &FieldRepo{db: db} }

const fieldColumns = `id, document_id, type, page, pos_x, pos_y, width, height, required, label,
	placeholder, options, validation_rule, assigned_to, value, created_at, modified_at`

// Create inserts f on a draft document.  It returns ErrConflict when the
// document is no longer a draft and ErrNotFound when it does not exist.
func (r *FieldRepo) Create(ctx context.Context, f *model.Field) error {
	if err := requireDraft(ctx, r.db, f.DocumentID); err != nil {
		return err
	}
	opts, err := json.Marshal(options(f.Options))
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	f.CreatedAt, f.ModifiedAt = now, now
	const q = `INSERT INTO fields (document_id, type, page, pos_x, pos_y, width, height, required, label,
		placeholder, options, validation_rule, assigned_to, value, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, f.DocumentID, f.Type, f.Page, f.X, f.Y, f.Width, f.Height, f.Required,
		f.Label, f.Placeholder, string(opts), f.ValidationRule, nullUint(f.AssignedTo), f.Value, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = uint64(id)
	return nil
}

// Get returns a field of docID or ErrNotFound.
func (r *FieldRepo) Get(ctx context.Context, docID, fieldID uint64) (*model.Field, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ? AND document_id = ?`, fieldID, docID)
	f, err := scanField(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// Update rewrites placement and configuration of f on a draft document.
// The field type is set on insert only.
func (r *FieldRepo) Update(ctx context.Context, f *model.Field) error {
	if err := requireDraft(ctx, r.db, f.DocumentID); err != nil {
		return err
	}
	opts, err := json.Marshal(options(f.Options))
	if err != nil {
		return err
	}
	f.ModifiedAt = time.Now().UTC().Truncate(time.Microsecond)
	const q = `UPDATE fields SET page = ?, pos_x = ?, pos_y = ?, width = ?, height = ?, required = ?,
		label = ?, placeholder = ?, options = ?, validation_rule = ?, assigned_to = ?, modified_at = ?
		WHERE id = ? AND document_id = ?`
	res, err := r.db.ExecContext(ctx, q, f.Page, f.X, f.Y, f.Width, f.Height, f.Required, f.Label,
		f.Placeholder, string(opts), f.ValidationRule, nullUint(f.AssignedTo), f.ModifiedAt, f.ID, f.DocumentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, f.DocumentID, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a field from a draft document.
func (r *FieldRepo) Delete(ctx context.Context, docID, fieldID uint64) error {
	if err := requireDraft(ctx, r.db, docID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM fields WHERE id = ? AND document_id = ?`, fieldID, docID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByDocument returns the document's fields ordered by page, then id.
func (r *FieldRepo) ListByDocument(ctx context.Context, docID uint64) ([]model.Field, error) {
	return listFields(ctx, r.db, docID)
}

func listFields(ctx context.Context, q querier, docID uint64) ([]model.Field, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE document_id = ? ORDER BY page, id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Field{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// updateValuesTx stores field values.  Only ids that belong to docID are
// touched.
func updateValuesTx(ctx context.Context, tx *sql.Tx, docID uint64, values map[uint64]string, at time.Time) error {
	const q = `UPDATE fields SET value = ?, modified_at = ? WHERE id = ? AND document_id = ?`
	for id, v := range values {
		if _, err := tx.ExecContext(ctx, q, v, at.UTC(), id, docID); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanField(s scanner) (model.Field, error) {
	var (
		f        model.Field
		opts     sql.NullString
		assigned sql.NullInt64
	)
	err := s.Scan(&f.ID, &f.DocumentID, &f.Type, &f.Page, &f.X, &f.Y, &f.Width, &f.Height, &f.Required,
		&f.Label, &f.Placeholder, &opts, &f.ValidationRule, &assigned, &f.Value, &f.CreatedAt, &f.ModifiedAt)
	if err != nil {
		return model.Field{}, err
	}
	f.Options = []string{}
	if opts.Valid && opts.String != "" {
		_ = json.Unmarshal([]byte(opts.String), &f.Options)
	}
	f.AssignedTo = uintPtr(assigned)
	f.CreatedAt, f.ModifiedAt = f.CreatedAt.UTC(), f.ModifiedAt.UTC()
	// Rules were checked when the field was written; a rule that no longer
	// parses keeps the prefix that does.
	_ = f.LoadRules()
	return f, nil
}

func options(o []string) []string {
	if o == nil {
		return []string{}
	}
	return o
}

func requireDraft(ctx context.Context, q querier, docID uint64) error {
	var status model.DocumentStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, docID).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	if status != model.StatusDraft {
		return ErrConflict
	}
	return nil
}
