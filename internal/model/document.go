package model

import "time"

// DocumentStatus is the explicit lifecycle state of a document.
type DocumentStatus string

const (
	StatusDraft             DocumentStatus = "DRAFT"
	StatusPrepared          DocumentStatus = "PREPARED"
	StatusPendingSignatures DocumentStatus = "PENDING_SIGNATURES"
	// StatusPartiallySigned is derived for display and never stored.
	StatusPartiallySigned DocumentStatus = "PARTIALLY_SIGNED"
	StatusCompleted       DocumentStatus = "COMPLETED"
	StatusDeclined        DocumentStatus = "DECLINED"
	StatusExpired         DocumentStatus = "EXPIRED"
)

// Terminal reports whether no further transition can leave s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeclined || s == StatusExpired
}

// DocumentType distinguishes unsigned from fully signed artifacts.
type DocumentType string

const (
	DocumentUnsigned DocumentType = "UNSIGNED"
	DocumentSigned   DocumentType = "SIGNED"
)

// Document is the signable artifact.  One document owns many fields and
// many signers; deleting it cascades to both.  This struct corresponds to
// a row in the `documents` table.
//
// Fields:
//  ID           – primary key identifier.
//  Title        – display title.
//  Description  – optional description.
//  AuthorID     – user who created the document.
//  FileKey      – blob-store key of the PDF bytes.
//  PageCount    – number of pages reported by the renderer (0 if unknown).
//  Sequential   – whether signers must sign in Order.
//  DocumentType – UNSIGNED until every signer completed.
//  Status       – lifecycle state.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
//  PreparedAt   – when field placement was finalized.
//  SignedAt     – when the last signer completed.
//  ExpiresAt    – after this instant a non-terminal document is expired.
//  DueDate      – soft deadline shown to signers.
type Document struct {
	ID           uint64         `json:"id"`            // documents.id
	Title        string         `json:"title"`         // documents.title
	Description  string         `json:"description"`   // documents.description
	AuthorID     uint64         `json:"author_id"`     // documents.author_id
	FileKey      string         `json:"file_key"`      // documents.file_key
	PageCount    int            `json:"page_count"`    // documents.page_count
	Sequential   bool           `json:"sequential"`    // documents.sequential
	DocumentType DocumentType   `json:"document_type"` // documents.document_type
	Status       DocumentStatus `json:"status"`        // documents.status
	CreatedAt    time.Time      `json:"created_at"`    // documents.created_at
	UpdatedAt    time.Time      `json:"updated_at"`    // documents.updated_at
	PreparedAt   *time.Time     `json:"prepared_at"`   // documents.prepared_at (nullable)
	SignedAt     *time.Time     `json:"signed_at"`     // documents.signed_at (nullable)
	ExpiresAt    *time.Time     `json:"expires_at"`    // documents.expires_at (nullable)
	DueDate      *time.Time     `json:"due_date"`      // documents.due_date (nullable)
}

// Bundle is everything the workflow engine needs about one document.
type Bundle struct {
	Document  Document
	Fields    []Field
	Signers   []Signer
	LastAudit *AuditEvent
}

// Signer returns a pointer into b.Signers for id, or nil.
func (b *Bundle) Signer(id uint64) *Signer {
	for i := range b.Signers {
		if b.Signers[i].ID == id {
			return &b.Signers[i]
		}
	}
	return nil
}
