// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and notification consumer that carry them.
package queue

import "time"

// DocumentEventsQueue is the durable queue lifecycle events are routed to.
const DocumentEventsQueue = "document.events"

// DocumentEvent is published whenever a transition changes a document or
// one of its signers.  It carries enough for a mailer to notify the next
// signer or the author without reading the database.
type DocumentEvent struct {
	Event        string    `json:"event"`
	DocumentID   uint64    `json:"document_id"`
	Title        string    `json:"title"`
	AuthorID     uint64    `json:"author_id"`
	Status       string    `json:"status"`
	SignerID     uint64    `json:"signer_id,omitempty"`
	SignerEmail  string    `json:"signer_email,omitempty"`
	NextSignerID uint64    `json:"next_signer_id,omitempty"`
	NextEmail    string    `json:"next_signer_email,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
