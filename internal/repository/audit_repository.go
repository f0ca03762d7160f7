package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// AuditRepo is the MySQL audit trail.  Rows are only ever inserted.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

const auditColumns = `id, event_id, document_id, occurred_at, event, actor_type, actor_id, actor_email,
	ip_address, user_agent, geolocation, details, prev_hash, hash`

// Append inserts sealed events in one transaction.
func (r *AuditRepo) Append(ctx context.Context, events []model.AuditEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendAuditTx(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns the document's events in append order.
func (r *AuditRepo) List(ctx context.Context, docID uint64) ([]model.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE document_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEvent{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Last returns the newest event of the document, or nil.
func (r *AuditRepo) Last(ctx context.Context, docID uint64) (*model.AuditEvent, error) {
	return lastAudit(ctx, r.db, docID)
}

func lastAudit(ctx context.Context, q querier, docID uint64) (*model.AuditEvent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE document_id = ? ORDER BY id DESC LIMIT 1`, docID)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, events []model.AuditEvent) error {
	const q = `INSERT INTO audit_events (event_id, document_id, occurred_at, event, actor_type, actor_id,
		actor_email, ip_address, user_agent, geolocation, details, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, q, e.EventID, e.DocumentID, e.Timestamp.UTC(), e.Event, e.ActorType,
			e.ActorID, e.ActorEmail, e.IPAddress, e.UserAgent, e.Geolocation, e.Details, e.PrevHash, e.Hash); err != nil {
			return err
		}
	}
	return nil
}

func scanAudit(s scanner) (model.AuditEvent, error) {
	var e model.AuditEvent
	err := s.Scan(&e.ID, &e.EventID, &e.DocumentID, &e.Timestamp, &e.Event, &e.ActorType, &e.ActorID,
		&e.ActorEmail, &e.IPAddress, &e.UserAgent, &e.Geolocation, &e.Details, &e.PrevHash, &e.Hash)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}
