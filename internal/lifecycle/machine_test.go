package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/utils"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedMachine() Machine { return Machine{Now: func() time.Time { return t0 }} }

func ptr(v uint64) *uint64 { return &v }

func field(id uint64, typ model.FieldType, signer uint64) model.Field {
	f, _ := model.NewField(typ, 1)
	f.ID = id
	f.DocumentID = 1
	f.Required = true
	f.AssignedTo = ptr(signer)
	return f
}

// state holds the persisted view a caller would keep between transitions.
type state struct {
	doc     model.Document
	signers []model.Signer
	fields  []model.Field
	events  []model.AuditEvent
}

func (s *state) apply(res Result) {
	s.doc = res.Document
	if res.Signer != nil {
		for i := range s.signers {
			if s.signers[i].ID == res.Signer.ID {
				s.signers[i] = *res.Signer
			}
		}
	}
	for i := range s.fields {
		if v, ok := res.Values[s.fields[i].ID]; ok {
			s.fields[i].Value = v
		}
	}
	s.events = append(s.events, res.Events...)
}

func (s *state) run(t *testing.T, m Machine, ev Event) Result {
	t.Helper()
	res, err := m.Transition(s.doc, s.signers, s.fields, ev)
	require.NoError(t, err)
	s.apply(res)
	return res
}

func labels(evs []model.AuditEvent) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Event
	}
	return out
}

func oneSigner() *state {
	return &state{
		doc:     model.Document{ID: 1, Status: model.StatusDraft, DocumentType: model.DocumentUnsigned, PageCount: 2},
		signers: []model.Signer{{ID: 10, DocumentID: 1, Order: 1, Status: model.SignerPending}},
		fields:  []model.Field{field(1, model.FieldText, 10), field(2, model.FieldSignature, 10)},
	}
}

func TestCompleteSingleSigner(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()

	s.run(t, m, Event{Kind: EventPrepare, Actor: model.Actor{Type: model.ActorAuthor, ID: 7}})
	assert.Equal(t, model.StatusPrepared, s.doc.Status)
	require.NotNil(t, s.doc.PreparedAt)

	s.run(t, m, Event{Kind: EventAccess, SignerID: 10})
	assert.Equal(t, model.StatusPendingSignatures, s.doc.Status)
	require.NotNil(t, s.signers[0].ViewedAt)

	res := s.run(t, m, Event{Kind: EventComplete, SignerID: 10, Values: map[uint64]string{
		1: "John",
		2: "data:image/png;base64,iVBORw0KGgo=",
	}})
	assert.Empty(t, res.Errors)
	assert.Equal(t, model.StatusCompleted, s.doc.Status)
	assert.Equal(t, model.DocumentSigned, s.doc.DocumentType)
	require.NotNil(t, s.doc.SignedAt)
	assert.Equal(t, t0, *s.doc.SignedAt)
	assert.Equal(t, model.SignerCompleted, s.signers[0].Status)
	assert.Equal(t, []string{
		model.EventDocumentPrepared,
		model.EventDocumentOpened,
		model.EventDocumentViewed,
		model.EventFieldCompleted,
		model.EventFieldCompleted,
		model.EventSignerCompleted,
		model.EventDocumentCompleted,
	}, labels(s.events))
}

func TestCompleteBlockedByValidation(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.run(t, m, Event{Kind: EventPrepare})

	res, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 10, Values: map[uint64]string{
		1: "",
		2: model.EmptySignature,
	}})
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, model.StatusPrepared, res.Document.Status)
	assert.Nil(t, res.Signer)
	assert.False(t, res.Changed)
}

func TestTwoSignersStayPendingUntilLast(t *testing.T) {
	m := fixedMachine()
	s := &state{
		doc: model.Document{ID: 1, Status: model.StatusDraft},
		signers: []model.Signer{
			{ID: 10, Order: 1, Status: model.SignerPending},
			{ID: 20, Order: 2, Status: model.SignerPending},
		},
		fields: []model.Field{field(1, model.FieldText, 10), field(2, model.FieldText, 20)},
	}
	s.run(t, m, Event{Kind: EventPrepare})
	s.run(t, m, Event{Kind: EventComplete, SignerID: 10, Values: map[uint64]string{1: "first"}})

	assert.Equal(t, model.StatusPendingSignatures, s.doc.Status)
	assert.Equal(t, model.StatusPartiallySigned, Display(s.doc, s.signers))
	assert.Nil(t, s.doc.SignedAt)

	s.run(t, m, Event{Kind: EventComplete, SignerID: 20, Values: map[uint64]string{2: "second"}})
	assert.Equal(t, model.StatusCompleted, s.doc.Status)
	assert.Equal(t, model.StatusCompleted, Display(s.doc, s.signers))
}

func TestLastSignerNeedsCompleteDocument(t *testing.T) {
	m := fixedMachine()
	s := &state{
		doc: model.Document{ID: 1, Status: model.StatusPendingSignatures},
		signers: []model.Signer{
			{ID: 10, Order: 1, Status: model.SignerCompleted},
			{ID: 20, Order: 2, Status: model.SignerPending},
		},
		// Signer 10 finished, but their required field holds no value.
		fields: []model.Field{field(1, model.FieldText, 10), field(2, model.FieldText, 20)},
	}

	res, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 20, Values: map[uint64]string{2: "second"}})
	require.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, res.Changed)
	assert.Nil(t, res.Signer)
	assert.Equal(t, model.StatusPendingSignatures, res.Document.Status)

	s.fields[0].Value = "first"
	s.run(t, m, Event{Kind: EventComplete, SignerID: 20, Values: map[uint64]string{2: "second"}})
	assert.Equal(t, model.StatusCompleted, s.doc.Status)
}

func TestSequentialOrderEnforced(t *testing.T) {
	m := fixedMachine()
	s := &state{
		doc: model.Document{ID: 1, Status: model.StatusDraft, Sequential: true},
		signers: []model.Signer{
			{ID: 10, Order: 1, Status: model.SignerPending},
			{ID: 20, Order: 2, Status: model.SignerPending},
		},
		fields: []model.Field{field(1, model.FieldText, 10), field(2, model.FieldText, 20)},
	}
	s.run(t, m, Event{Kind: EventPrepare})
	_, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 20, Values: map[uint64]string{2: "x"}})
	assert.ErrorIs(t, err, ErrOutOfTurn)
}

func TestPrepareRequirements(t *testing.T) {
	m := fixedMachine()
	doc := model.Document{ID: 1, Status: model.StatusDraft, PageCount: 1}
	signers := []model.Signer{{ID: 10, Status: model.SignerPending}}

	_, err := m.Transition(doc, nil, []model.Field{field(1, model.FieldText, 10)}, Event{Kind: EventPrepare})
	assert.ErrorIs(t, err, ErrNoSigners)

	_, err = m.Transition(doc, signers, nil, Event{Kind: EventPrepare})
	assert.ErrorIs(t, err, ErrNoFields)

	_, err = m.Transition(doc, signers, []model.Field{field(1, model.FieldText, 99)}, Event{Kind: EventPrepare})
	assert.ErrorIs(t, err, ErrInvalidAssignment)

	far := field(1, model.FieldText, 10)
	far.Page = 3
	_, err = m.Transition(doc, signers, []model.Field{far}, Event{Kind: EventPrepare})
	assert.ErrorIs(t, err, ErrInvalidPage)

	doc.Status = model.StatusPrepared
	_, err = m.Transition(doc, signers, []model.Field{field(1, model.FieldText, 10)}, Event{Kind: EventPrepare})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSaveValuesReturnsInlineErrors(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.fields = append(s.fields, field(3, model.FieldEmail, 10))
	s.run(t, m, Event{Kind: EventPrepare})

	res := s.run(t, m, Event{Kind: EventSaveValues, SignerID: 10, Values: map[uint64]string{1: "John", 3: "not-an-email"}})
	assert.True(t, res.Changed)
	assert.Equal(t, model.StatusPendingSignatures, s.doc.Status)
	assert.Equal(t, "not-an-email", s.fields[2].Value)
	var forEmail int
	for _, e := range res.Errors {
		if e.FieldID == 3 {
			forEmail++
		}
	}
	assert.Equal(t, 1, forEmail)
	assert.Equal(t, model.SignerPending, s.signers[0].Status)
}

func TestSaveValuesRejectsForeignField(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.signers = append(s.signers, model.Signer{ID: 20, Order: 2, Status: model.SignerPending})
	s.fields = append(s.fields, field(3, model.FieldText, 20))
	s.run(t, m, Event{Kind: EventPrepare})

	_, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventSaveValues, SignerID: 10, Values: map[uint64]string{3: "x"}})
	assert.ErrorIs(t, err, ErrFieldNotAssigned)
}

func TestDeclineIsTerminal(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.run(t, m, Event{Kind: EventPrepare})
	s.run(t, m, Event{Kind: EventDecline, SignerID: 10, Reason: "  wrong amount "})

	assert.Equal(t, model.StatusDeclined, s.doc.Status)
	assert.Equal(t, model.SignerDeclined, s.signers[0].Status)
	assert.Equal(t, "wrong amount", s.signers[0].DeclineReason)

	for _, kind := range []EventKind{EventSaveValues, EventComplete, EventDecline} {
		_, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: kind, SignerID: 10})
		assert.ErrorIs(t, err, ErrDocumentClosed, string(kind))
	}

	res, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventAccess, SignerID: 10})
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestExpiryEvaluatedLazily(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.run(t, m, Event{Kind: EventPrepare})
	past := t0.Add(-time.Minute)
	s.doc.ExpiresAt = &past

	res, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventAccess, SignerID: 10})
	require.ErrorIs(t, err, ErrDocumentExpired)
	assert.True(t, res.Changed)
	assert.Equal(t, model.StatusExpired, res.Document.Status)
	assert.Equal(t, []string{model.EventDocumentExpired}, labels(res.Events))
	assert.Equal(t, model.StatusPrepared, s.doc.Status, "input untouched")

	s.apply(res)
	_, err = m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 10})
	assert.ErrorIs(t, err, ErrDocumentClosed)
}

func TestAccessCode(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	hash, err := utils.HashAccessCode("4711", 4)
	require.NoError(t, err)
	s.signers[0].AccessCodeHash = hash
	s.run(t, m, Event{Kind: EventPrepare})

	_, err = m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventSaveValues, SignerID: 10, Values: map[uint64]string{1: "x"}})
	assert.ErrorIs(t, err, ErrNotOpened)

	_, err = m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventAccess, SignerID: 10, AccessCode: "0000"})
	assert.ErrorIs(t, err, ErrAccessDenied)

	s.run(t, m, Event{Kind: EventAccess, SignerID: 10, AccessCode: "4711"})
	s.run(t, m, Event{Kind: EventSaveValues, SignerID: 10, Values: map[uint64]string{1: "x"}})
	assert.Equal(t, "x", s.fields[0].Value)
}

func TestRepeatViewMovesUpdatedAt(t *testing.T) {
	clock := t0
	m := Machine{Now: func() time.Time { return clock }}
	s := oneSigner()
	s.run(t, m, Event{Kind: EventPrepare})
	s.run(t, m, Event{Kind: EventAccess, SignerID: 10})
	require.Equal(t, model.StatusPendingSignatures, s.doc.Status)
	require.NotNil(t, s.signers[0].ViewedAt)

	// Nothing but the audit trail changes on a second view, yet the
	// document version must still advance.
	clock = t0.Add(time.Minute)
	res := s.run(t, m, Event{Kind: EventAccess, SignerID: 10})
	assert.True(t, res.Changed)
	assert.Nil(t, res.Signer)
	assert.Equal(t, []string{model.EventDocumentViewed}, labels(res.Events))
	assert.Equal(t, clock, res.Document.UpdatedAt)
}

func TestUnknownSignerAndDraft(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	_, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 10})
	assert.ErrorIs(t, err, ErrNotPrepared)

	s.run(t, m, Event{Kind: EventPrepare})
	_, err = m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventAccess, SignerID: 99})
	assert.ErrorIs(t, err, ErrUnknownSigner)

	_, err = m.Transition(s.doc, s.signers, s.fields, Event{Kind: "shred"})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionDoesNotMutateInputs(t *testing.T) {
	m := fixedMachine()
	s := oneSigner()
	s.run(t, m, Event{Kind: EventPrepare})
	signers := append([]model.Signer(nil), s.signers...)
	fields := append([]model.Field(nil), s.fields...)

	_, err := m.Transition(s.doc, s.signers, s.fields, Event{Kind: EventComplete, SignerID: 10, Values: map[uint64]string{
		1: "John", 2: "data:image/png;base64,AA==",
	}})
	require.NoError(t, err)
	assert.Equal(t, signers, s.signers)
	assert.Equal(t, fields, s.fields)
}
