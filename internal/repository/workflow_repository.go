package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// Change is one state transition to persist atomically.  ExpectStatus and
// ExpectUpdatedAt are the document's values when the transition was
// computed.
type Change struct {
	Document        model.Document
	ExpectStatus    model.DocumentStatus
	ExpectUpdatedAt time.Time
	Signer          *model.Signer
	Values          map[uint64]string
	Events          []model.AuditEvent
}

// WorkflowRepo loads and stores whole documents for the workflow engine.
type WorkflowRepo struct {
	db *sql.DB
}

func NewWorkflowRepo(db *sql.DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

// LoadBundle reads the document with its fields, signers and newest audit
// event from one consistent snapshot.
func (r *WorkflowRepo) LoadBundle(ctx context.Context, docID uint64) (*model.Bundle, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := getDocument(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	fields, err := listFields(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	signers, err := listSigners(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	last, err := lastAudit(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &model.Bundle{Document: *doc, Fields: fields, Signers: signers, LastAudit: last}, nil
}

// Apply writes c in a single transaction: the document row guarded on
// ExpectStatus and ExpectUpdatedAt, the signer row guarded on PENDING, then
// field values and audit events.  A lost race on either guard returns
// ErrConflict and nothing is written.
func (r *WorkflowRepo) Apply(ctx context.Context, c Change) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if c.Document.UpdatedAt.IsZero() {
		c.Document.UpdatedAt = time.Now().UTC()
	}
	c.Document.UpdatedAt = c.Document.UpdatedAt.Truncate(time.Microsecond)
	if err := updateDocumentTx(ctx, tx, c.Document, c.ExpectStatus, c.ExpectUpdatedAt); err != nil {
		return err
	}
	if c.Signer != nil {
		if err := updateSignerTx(ctx, tx, *c.Signer); err != nil {
			return err
		}
	}
	if err := updateValuesTx(ctx, tx, c.Document.ID, c.Values, c.Document.UpdatedAt); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, c.Events); err != nil {
		return err
	}
	return tx.Commit()
}
