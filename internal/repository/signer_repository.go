package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// SignerRepo stores the participants of a document.
type SignerRepo struct {
	db *sql.DB
}

func NewSignerRepo(db *sql.DB) *SignerRepo { return &SignerRepo{db: db} }

const signerColumns = `id, document_id, name, email, user_id, signing_order, status, access_code_hash,
	viewed_at, signed_at, declined_at, decline_reason`

// Create adds a pending signer to a draft document.  A second signer with
// the same email on one document yields ErrConflict.
func (r *SignerRepo) Create(ctx context.Context, s *model.Signer) error {
	if err := requireDraft(ctx, r.db, s.DocumentID); err != nil {
		return err
	}
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.Status = model.SignerPending
	if s.Order < 1 {
		if err := r.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(signing_order), 0) + 1 FROM signers WHERE document_id = ?`, s.DocumentID,
		).Scan(&s.Order); err != nil {
			return err
		}
	}
	const q = `INSERT INTO signers (document_id, name, email, user_id, signing_order, status, access_code_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.DocumentID, s.Name, s.Email, nullUint(s.UserID), s.Order, s.Status, s.AccessCodeHash)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// ListByDocument returns signers in signing order.
func (r *SignerRepo) ListByDocument(ctx context.Context, docID uint64) ([]model.Signer, error) {
	return listSigners(ctx, r.db, docID)
}

func listSigners(ctx context.Context, q querier, docID uint64) ([]model.Signer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+signerColumns+` FROM signers WHERE document_id = ? ORDER BY signing_order, id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Signer{}
	for rows.Next() {
		var (
			s                        model.Signer
			userID                   sql.NullInt64
			viewed, signed, declined sql.NullTime
			reason                   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Name, &s.Email, &userID, &s.Order, &s.Status,
			&s.AccessCodeHash, &viewed, &signed, &declined, &reason); err != nil {
			return nil, err
		}
		s.UserID = uintPtr(userID)
		s.ViewedAt, s.SignedAt, s.DeclinedAt = timePtr(viewed), timePtr(signed), timePtr(declined)
		s.DeclineReason = reason.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// updateSignerTx writes the signer's progress columns.  The update only
// applies while the stored row is still PENDING; otherwise a concurrent
// request finished the signer first and ErrConflict is returned.
func updateSignerTx(ctx context.Context, tx *sql.Tx, s model.Signer) error {
	const q = `UPDATE signers SET status = ?, viewed_at = ?, signed_at = ?, declined_at = ?, decline_reason = ?
		WHERE id = ? AND document_id = ? AND status = 'PENDING'`
	res, err := tx.ExecContext(ctx, q, s.Status, nullTime(s.ViewedAt), nullTime(s.SignedAt), nullTime(s.DeclinedAt),
		s.DeclineReason, s.ID, s.DocumentID)
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
