package model

import "time"

// Audit event labels written by the workflow.
const (
	EventDocumentPrepared  = "document_prepared"
	EventDocumentOpened    = "document_opened"
	EventDocumentViewed    = "document_viewed"
	EventFieldCompleted    = "field_completed"
	EventSignerCompleted   = "signer_completed"
	EventSignerDeclined    = "signer_declined"
	EventDocumentCompleted = "document_completed"
	EventDocumentDeclined  = "document_declined"
	EventDocumentExpired   = "document_expired"
)

// ActorType names who caused an event.
type ActorType string

const (
	ActorAuthor ActorType = "author"
	ActorSigner ActorType = "signer"
	ActorSystem ActorType = "system"
)

// Actor is the attribution attached to every audit event.
type Actor struct {
	Type        ActorType `json:"type"`
	ID          uint64    `json:"id"`
	Email       string    `json:"email,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Geolocation string    `json:"geolocation,omitempty"`
}

// AuditEvent is an immutable, append-only record of a workflow action.
// Rows in `audit_events` are never updated or deleted except through the
// owning document's cascade.  Hash chains each event to its predecessor.
type AuditEvent struct {
	ID          uint64    `json:"id"`           // audit_events.id
	EventID     string    `json:"event_id"`     // audit_events.event_id (uuid)
	DocumentID  uint64    `json:"document_id"`  // audit_events.document_id
	Timestamp   time.Time `json:"timestamp"`    // audit_events.occurred_at
	Event       string    `json:"event"`        // audit_events.event
	ActorType   ActorType `json:"actor_type"`   // audit_events.actor_type
	ActorID     uint64    `json:"actor_id"`     // audit_events.actor_id
	ActorEmail  string    `json:"actor_email"`  // audit_events.actor_email
	IPAddress   string    `json:"ip_address"`   // audit_events.ip_address
	UserAgent   string    `json:"user_agent"`   // audit_events.user_agent
	Geolocation string    `json:"geolocation"`  // audit_events.geolocation
	Details     string    `json:"details"`      // audit_events.details
	PrevHash    string    `json:"prev_hash"`    // audit_events.prev_hash
	Hash        string    `json:"hash"`         // audit_events.hash
}

// NewAuditEvent drafts an event attributed to actor.  Timestamp, EventID
// and the hash chain are filled in when the event is sealed.
func NewAuditEvent(docID uint64, event string, actor Actor, details string) AuditEvent {
	return AuditEvent{
		DocumentID:  docID,
		Event:       event,
		ActorType:   actor.Type,
		ActorID:     actor.ID,
		ActorEmail:  actor.Email,
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
		Geolocation: actor.Geolocation,
		Details:     details,
	}
}
