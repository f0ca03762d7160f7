package model

import "time"

// SignerStatus tracks a participant's progress.
type SignerStatus string

const (
	SignerPending   SignerStatus = "PENDING"
	SignerCompleted SignerStatus = "COMPLETED"
	SignerDeclined  SignerStatus = "DECLINED"
)

// Signer is a participant required to complete the fields assigned to
// them.  This struct corresponds to a row in the `signers` table.
//
// Fields:
//  ID             – primary key identifier.
//  DocumentID     – document the signer belongs to.
//  Name           – display name.
//  Email          – contact email.
//  UserID         – linked user account (nil for external signers).
//  Order          – position in sequential signing (1-based).
//  Status         – PENDING, COMPLETED or DECLINED.
//  AccessCodeHash – bcrypt hash of an optional access code.
//  ViewedAt       – first time the signer opened the document.
//  SignedAt       – when the signer completed.
//  DeclinedAt     – when the signer declined.
//  DeclineReason  – free text given on decline.
type Signer struct {
	ID             uint64       `json:"id"`          // signers.id
	DocumentID     uint64       `json:"document_id"` // signers.document_id
	Name           string       `json:"name"`        // signers.name
	Email          string       `json:"email"`       // signers.email
	UserID         *uint64      `json:"user_id"`     // signers.user_id (nullable)
	Order          int          `json:"order"`       // signers.signing_order
	Status         SignerStatus `json:"status"`      // signers.status
	AccessCodeHash string       `json:"-"`           // signers.access_code_hash
	ViewedAt       *time.Time   `json:"viewed_at"`   // signers.viewed_at (nullable)
	SignedAt       *time.Time   `json:"signed_at"`   // signers.signed_at (nullable)
	DeclinedAt     *time.Time   `json:"declined_at"` // signers.declined_at (nullable)
	DeclineReason  string       `json:"decline_reason,omitempty"`
}
