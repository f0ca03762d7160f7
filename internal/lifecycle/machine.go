// Package lifecycle drives a document through its signing states.  The
// machine is synchronous: it takes the current state and an event and
// returns the next state together with the audit events to record.  It
// never writes anywhere and never modifies its inputs.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/esign-workflow/internal/assignment"
	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/utils"
	"github.com/iliyamo/esign-workflow/internal/validation"
)

// EventKind names what happened.
type EventKind string

const (
	EventPrepare    EventKind = "prepare"
	EventAccess     EventKind = "access"
	EventSaveValues EventKind = "save_values"
	EventComplete   EventKind = "complete"
	EventDecline    EventKind = "decline"
)

// Event is an input to Transition.  SignerID is required for every kind
// except prepare.
type Event struct {
	Kind       EventKind
	SignerID   uint64
	Values     map[uint64]string
	AccessCode string
	Reason     string
	Actor      model.Actor
}

// Result is the outcome of a transition.  Document is always the state the
// caller should hold afterwards; Changed says whether it must be persisted.
type Result struct {
	Document model.Document
	Signer   *model.Signer
	Values   map[uint64]string
	Events   []model.AuditEvent
	Errors   []model.ValidationError
	Changed  bool
}

// Machine evaluates transitions.  Now defaults to time.Now.
type Machine struct {
	Now func() time.Time
}

// Transition applies ev.  Expiry is evaluated first: a non-terminal
// document past its ExpiresAt moves to EXPIRED and the requested event is
// rejected with ErrDocumentExpired; the returned Result still carries the
// expiry so the caller can persist it.
func (m Machine) Transition(doc model.Document, signers []model.Signer, fields []model.Field, ev Event) (Result, error) {
	now := m.now()
	res := Result{Document: doc}

	if !doc.Status.Terminal() && doc.ExpiresAt != nil && now.After(*doc.ExpiresAt) {
		res.Document.Status = model.StatusExpired
		res.Document.UpdatedAt = now
		res.Changed = true
		res.Events = []model.AuditEvent{
			model.NewAuditEvent(doc.ID, model.EventDocumentExpired, model.Actor{Type: model.ActorSystem},
				"expired at "+doc.ExpiresAt.UTC().Format(time.RFC3339)),
		}
		return res, ErrDocumentExpired
	}

	switch ev.Kind {
	case EventPrepare:
		return m.prepare(res, signers, fields, ev, now)
	case EventAccess:
		return m.access(res, signers, ev, now)
	case EventSaveValues:
		return m.saveValues(res, signers, fields, ev, now)
	case EventComplete:
		return m.complete(res, signers, fields, ev, now)
	case EventDecline:
		return m.decline(res, signers, ev, now)
	}
	return Result{Document: doc}, fmt.Errorf("%w: unknown event %q", ErrIllegalTransition, ev.Kind)
}

// Display returns the status to show for doc.  A pending document with at
// least one completed signer surfaces as PARTIALLY_SIGNED.
func Display(doc model.Document, signers []model.Signer) model.DocumentStatus {
	if doc.Status != model.StatusPendingSignatures {
		return doc.Status
	}
	for _, s := range signers {
		if s.Status == model.SignerCompleted {
			return model.StatusPartiallySigned
		}
	}
	return doc.Status
}

func (m Machine) prepare(res Result, signers []model.Signer, fields []model.Field, ev Event, now time.Time) (Result, error) {
	doc := res.Document
	if doc.Status != model.StatusDraft {
		return Result{Document: doc}, fmt.Errorf("%w: cannot prepare a %s document", ErrIllegalTransition, doc.Status)
	}
	if len(signers) == 0 {
		return Result{Document: doc}, ErrNoSigners
	}
	if len(fields) == 0 {
		return Result{Document: doc}, ErrNoFields
	}
	known := make(map[uint64]bool, len(signers))
	for _, s := range signers {
		known[s.ID] = true
	}
	for _, f := range fields {
		if f.AssignedTo != nil && !known[*f.AssignedTo] {
			return Result{Document: doc}, fmt.Errorf("%w: field %d", ErrInvalidAssignment, f.ID)
		}
		if f.Page < 1 || (doc.PageCount > 0 && f.Page > doc.PageCount) {
			return Result{Document: doc}, fmt.Errorf("%w: field %d on page %d", ErrInvalidPage, f.ID, f.Page)
		}
	}
	res.Document.Status = model.StatusPrepared
	res.Document.PreparedAt = &now
	res.Document.UpdatedAt = now
	res.Changed = true
	res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentPrepared, ev.Actor,
		fmt.Sprintf("%d fields, %d signers", len(fields), len(signers))))
	return res, nil
}

func (m Machine) access(res Result, signers []model.Signer, ev Event, now time.Time) (Result, error) {
	doc := res.Document
	signer, err := findSigner(signers, ev.SignerID)
	if err != nil {
		return Result{Document: doc}, err
	}
	if doc.Status == model.StatusDraft {
		return Result{Document: doc}, ErrNotPrepared
	}
	if signer.AccessCodeHash != "" && !utils.VerifyAccessCode(signer.AccessCodeHash, ev.AccessCode) {
		return Result{Document: doc}, ErrAccessDenied
	}
	if doc.Status.Terminal() {
		// Read-only view of a closed document.
		return res, nil
	}
	if doc.Status == model.StatusPrepared {
		res.Document.Status = model.StatusPendingSignatures
		res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentOpened, ev.Actor, ""))
	}
	// A view appends to the audit chain; UpdatedAt is the version the
	// store guards writes on.
	res.Document.UpdatedAt = now
	if signer.ViewedAt == nil && signer.Status == model.SignerPending {
		s := signer
		s.ViewedAt = &now
		res.Signer = &s
	}
	res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentViewed, ev.Actor, ""))
	res.Changed = true
	return res, nil
}

func (m Machine) saveValues(res Result, signers []model.Signer, fields []model.Field, ev Event, now time.Time) (Result, error) {
	doc := res.Document
	signer, err := m.editable(doc, signers, ev.SignerID)
	if err != nil {
		return Result{Document: doc}, err
	}
	mine := assignment.FieldsFor(fields, signer.ID)
	accepted, err := acceptValues(mine, ev.Values)
	if err != nil {
		return Result{Document: doc}, err
	}
	if doc.Status == model.StatusPrepared {
		res.Document.Status = model.StatusPendingSignatures
		res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentOpened, ev.Actor, ""))
	}
	current := assignment.Values(mine)
	for _, f := range mine {
		v, ok := accepted[f.ID]
		if ok && !f.Filled(current[f.ID]) && f.Filled(v) {
			res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventFieldCompleted, ev.Actor,
				fmt.Sprintf("field %d (%s)", f.ID, f.Type)))
		}
	}
	merged := assignment.Merge(current, accepted)
	res.Values = accepted
	res.Errors = validation.Validate(mine, merged)
	res.Document.UpdatedAt = now
	res.Changed = len(accepted) > 0 || res.Document.Status != doc.Status
	return res, nil
}

func (m Machine) complete(res Result, signers []model.Signer, fields []model.Field, ev Event, now time.Time) (Result, error) {
	doc := res.Document
	signer, err := m.editable(doc, signers, ev.SignerID)
	if err != nil {
		return Result{Document: doc}, err
	}
	if !assignment.InTurn(doc, signers, signer.ID) {
		return Result{Document: doc}, ErrOutOfTurn
	}
	mine := assignment.FieldsFor(fields, signer.ID)
	accepted, err := acceptValues(mine, ev.Values)
	if err != nil {
		return Result{Document: doc}, err
	}
	all := assignment.Merge(assignment.Values(fields), accepted)
	if errs := validation.Validate(mine, all); validation.HasErrors(errs) {
		return Result{Document: doc, Errors: errs}, ErrValidationFailed
	}

	// The last signer cannot leave the document pending with nobody left
	// to finish it.
	last := assignment.IsLastSigner(signers, signer.ID)
	if last && !documentSatisfied(fields, all) {
		return Result{Document: doc}, ErrIncomplete
	}

	if doc.Status == model.StatusPrepared {
		res.Document.Status = model.StatusPendingSignatures
		res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentOpened, ev.Actor, ""))
	}
	current := assignment.Values(mine)
	for _, f := range mine {
		if v, ok := accepted[f.ID]; ok && !f.Filled(current[f.ID]) && f.Filled(v) {
			res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventFieldCompleted, ev.Actor,
				fmt.Sprintf("field %d (%s)", f.ID, f.Type)))
		}
	}

	s := signer
	s.Status = model.SignerCompleted
	s.SignedAt = &now
	res.Signer = &s
	res.Values = accepted
	res.Changed = true
	res.Document.UpdatedAt = now
	res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventSignerCompleted, ev.Actor, ""))

	if last {
		res.Document.Status = model.StatusCompleted
		res.Document.DocumentType = model.DocumentSigned
		res.Document.SignedAt = &now
		res.Events = append(res.Events, model.NewAuditEvent(doc.ID, model.EventDocumentCompleted, ev.Actor, ""))
	}
	return res, nil
}

func (m Machine) decline(res Result, signers []model.Signer, ev Event, now time.Time) (Result, error) {
	doc := res.Document
	signer, err := m.editable(doc, signers, ev.SignerID)
	if err != nil {
		return Result{Document: doc}, err
	}
	reason := strings.TrimSpace(ev.Reason)
	s := signer
	s.Status = model.SignerDeclined
	s.DeclinedAt = &now
	s.DeclineReason = reason
	res.Signer = &s
	res.Document.Status = model.StatusDeclined
	res.Document.UpdatedAt = now
	res.Changed = true
	res.Events = append(res.Events,
		model.NewAuditEvent(doc.ID, model.EventSignerDeclined, ev.Actor, reason),
		model.NewAuditEvent(doc.ID, model.EventDocumentDeclined, ev.Actor, ""),
	)
	return res, nil
}

// editable checks the preconditions shared by every signer write.
func (m Machine) editable(doc model.Document, signers []model.Signer, signerID uint64) (model.Signer, error) {
	if doc.Status.Terminal() {
		return model.Signer{}, fmt.Errorf("%w: document is %s", ErrDocumentClosed, doc.Status)
	}
	if doc.Status == model.StatusDraft {
		return model.Signer{}, ErrNotPrepared
	}
	signer, err := findSigner(signers, signerID)
	if err != nil {
		return model.Signer{}, err
	}
	if signer.Status != model.SignerPending {
		return model.Signer{}, fmt.Errorf("%w: status %s", ErrSignerFinished, signer.Status)
	}
	if signer.AccessCodeHash != "" && signer.ViewedAt == nil {
		return model.Signer{}, ErrNotOpened
	}
	return signer, nil
}

// acceptValues keeps updates for the signer's own fields and rejects any
// other field id.
func acceptValues(mine []model.Field, updates map[uint64]string) (map[uint64]string, error) {
	own := make(map[uint64]bool, len(mine))
	for _, f := range mine {
		own[f.ID] = true
	}
	out := make(map[uint64]string, len(updates))
	for id, v := range updates {
		if !own[id] {
			return nil, fmt.Errorf("%w: field %d", ErrFieldNotAssigned, id)
		}
		out[id] = v
	}
	return out, nil
}

// documentSatisfied reports whether every required assigned field holds a
// passing value.
func documentSatisfied(fields []model.Field, values map[uint64]string) bool {
	for _, f := range assignment.Assigned(fields) {
		if !f.Required {
			continue
		}
		if !validation.Passes(f, values[f.ID]) {
			return false
		}
	}
	return true
}

func findSigner(signers []model.Signer, id uint64) (model.Signer, error) {
	for _, s := range signers {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Signer{}, fmt.Errorf("%w: %d", ErrUnknownSigner, id)
}

func (m Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}
