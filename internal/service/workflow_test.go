package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/esign-workflow/internal/audit"
	"github.com/iliyamo/esign-workflow/internal/backup"
	"github.com/iliyamo/esign-workflow/internal/idempotency"
	"github.com/iliyamo/esign-workflow/internal/lifecycle"
	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/queue"
	"github.com/iliyamo/esign-workflow/internal/repository"
)

// memStore mimics WorkflowRepo's guards in memory.
type memStore struct {
	mu        sync.Mutex
	bundles   map[uint64]*model.Bundle
	events    map[uint64][]model.AuditEvent
	applies   int
	loadErrs  []error
	applyErrs []error
	loads     int
}

func newMemStore() *memStore {
	return &memStore{bundles: map[uint64]*model.Bundle{}, events: map[uint64][]model.AuditEvent{}}
}

func (m *memStore) put(b model.Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[b.Document.ID] = &b
}

func (m *memStore) LoadBundle(_ context.Context, docID uint64) (*model.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if len(m.loadErrs) > 0 {
		err := m.loadErrs[0]
		m.loadErrs = m.loadErrs[1:]
		return nil, err
	}
	b, ok := m.bundles[docID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := model.Bundle{
		Document: b.Document,
		Fields:   append([]model.Field(nil), b.Fields...),
		Signers:  append([]model.Signer(nil), b.Signers...),
	}
	if evs := m.events[docID]; len(evs) > 0 {
		last := evs[len(evs)-1]
		cp.LastAudit = &last
	}
	return &cp, nil
}

func (m *memStore) Apply(_ context.Context, c repository.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applyErrs) > 0 {
		err := m.applyErrs[0]
		m.applyErrs = m.applyErrs[1:]
		return err
	}
	b := m.bundles[c.Document.ID]
	if b.Document.Status != c.ExpectStatus || !b.Document.UpdatedAt.Equal(c.ExpectUpdatedAt) {
		return repository.ErrConflict
	}
	if c.Signer != nil {
		s := b.Signer(c.Signer.ID)
		if s.Status != model.SignerPending {
			return repository.ErrConflict
		}
		*s = *c.Signer
	}
	b.Document = c.Document
	for i := range b.Fields {
		if v, ok := c.Values[b.Fields[i].ID]; ok {
			b.Fields[i].Value = v
		}
	}
	m.events[c.Document.ID] = append(m.events[c.Document.ID], c.Events...)
	m.applies++
	return nil
}

func (m *memStore) doc(id uint64) model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bundles[id].Document
}

func (m *memStore) trail(id uint64) []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditEvent(nil), m.events[id]...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.DocumentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event
	}
	return out
}

const secret = "test-secret"

var author = model.Actor{Type: model.ActorAuthor, ID: 7}

func ptr(v uint64) *uint64 { return &v }

func field(id uint64, t model.FieldType, signer uint64) model.Field {
	f, _ := model.NewField(t, 1)
	f.ID, f.DocumentID, f.Required, f.AssignedTo = id, 1, true, ptr(signer)
	return f
}

type fixture struct {
	store *memStore
	pub   *recordingPublisher
	idem  *idempotency.MemoryStore
	bk    *backup.Manager
	wf    *Workflow
}

func newFixture(t *testing.T, signers int) *fixture {
	t.Helper()
	st := newMemStore()
	b := model.Bundle{Document: model.Document{
		ID: 1, Title: "NDA", AuthorID: 7, Status: model.StatusDraft, DocumentType: model.DocumentUnsigned,
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	for i := 1; i <= signers; i++ {
		id := uint64(10 * i)
		b.Signers = append(b.Signers, model.Signer{ID: id, DocumentID: 1, Email: "s" + string(rune('0'+i)) + "@x.io", Order: i, Status: model.SignerPending})
		b.Fields = append(b.Fields, field(uint64(i), model.FieldText, id))
	}
	st.put(b)
	f := &fixture{
		store: st,
		pub:   &recordingPublisher{},
		idem:  idempotency.NewMemoryStore(),
		bk:    backup.NewManager(backup.NewMemoryStore(), 0),
	}
	f.wf = NewWorkflow(Deps{
		Store:       st,
		Recorder:    audit.NewRecorder(audit.NewLog()),
		Backups:     f.bk,
		Idempotency: f.idem,
		Publisher:   f.pub,
	}, Options{
		Retry:       RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond},
		TokenSecret: secret,
		BaseURL:     "https://sign.example/",
	})
	return f
}

func signer(id uint64) model.Actor { return model.Actor{Type: model.ActorSigner, ID: id} }

func TestPrepareMintsSigningLinks(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.wf.Prepare(ctx, 1, 99, author)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	out, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrepared, out.Document.Status)
	require.Len(t, out.Links, 2)
	assert.Contains(t, out.Links[0].URL, "https://sign.example/v1/sign/1?token=")

	tok, err := jwt.Parse(out.Links[1].Token, func(*jwt.Token) (any, error) { return []byte(secret), nil })
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, "20", claims["sub"])
	assert.Equal(t, "1", claims["doc"])
	assert.Equal(t, "SIGNER", claims["role"])

	assert.Equal(t, []string{model.EventDocumentPrepared}, f.pub.names())
}

func TestTwoSignerFlow(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)

	view, err := f.wf.Access(ctx, 1, 10, "", signer(10))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingSignatures, view.Document.Status)
	require.Len(t, view.Fields, 1)
	assert.Equal(t, 0, view.Progress.Percent)

	saved, err := f.wf.SaveValues(ctx, 1, 10, map[uint64]any{1: 42}, signer(10))
	require.NoError(t, err)
	assert.Empty(t, saved.Errors)
	assert.Equal(t, 100, saved.Progress.Percent)

	first, err := f.wf.Complete(ctx, 1, 10, nil, "", signer(10))
	require.NoError(t, err)
	assert.False(t, first.DocumentCompleted)
	assert.Equal(t, model.StatusPendingSignatures, first.Document.Status)
	assert.Equal(t, model.StatusPartiallySigned, first.DisplayStatus)

	second, err := f.wf.Complete(ctx, 1, 20, map[uint64]any{2: "done"}, "", signer(20))
	require.NoError(t, err)
	assert.True(t, second.DocumentCompleted)
	assert.Equal(t, model.StatusCompleted, f.store.doc(1).Status)
	assert.NotNil(t, f.store.doc(1).SignedAt)
	assert.Equal(t, 100, second.Progress.Percent)

	rep := audit.Verify(f.store.trail(1))
	assert.True(t, rep.OK, rep.Errors)
	assert.Equal(t, []string{
		model.EventDocumentPrepared,
		model.EventSignerCompleted,
		model.EventSignerCompleted,
		model.EventDocumentCompleted,
	}, f.pub.names())
}

func TestCompleteValidationFailure(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)

	out, err := f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "  "}, "k", signer(10))
	require.ErrorIs(t, err, lifecycle.ErrValidationFailed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, uint64(1), out.Errors[0].FieldID)

	// The failed attempt is not replayed; fixing the value with the same key succeeds.
	out, err = f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "ok"}, "k", signer(10))
	require.NoError(t, err)
	assert.True(t, out.DocumentCompleted)
	assert.False(t, out.Replayed)
}

func TestCompleteIdempotencyReplay(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)

	first, err := f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "x"}, "abc", signer(10))
	require.NoError(t, err)
	applies := f.store.applies

	again, err := f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "x"}, "abc", signer(10))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Document.Status, again.Document.Status)
	assert.Equal(t, applies, f.store.applies)

	_, err = f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "x"}, "", signer(10))
	assert.ErrorIs(t, err, lifecycle.ErrDocumentClosed)
}

func TestConcurrentCompleteAppliesOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)
	before := f.store.applies

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.wf.Complete(ctx, 1, 10, map[uint64]any{1: "x"}, "same-key", signer(10))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, before+1, f.store.applies)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	f := newFixture(t, 1)
	transient := errors.New("connection reset")
	f.store.loadErrs = []error{transient, transient}

	_, err := f.wf.Prepare(context.Background(), 1, 7, author)
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.loads)
}

func TestRetryExhaustionIsUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	transient := errors.New("connection reset")
	f.store.loadErrs = []error{transient, transient, transient}

	_, err := f.wf.Prepare(context.Background(), 1, 7, author)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.wf.Access(context.Background(), 404, 10, "", signer(10))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 1, f.store.loads)
}

func TestLostWriteIsRecomputed(t *testing.T) {
	f := newFixture(t, 1)
	f.store.applyErrs = []error{repository.ErrConflict}

	out, err := f.wf.Prepare(context.Background(), 1, 7, author)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrepared, out.Document.Status)
	assert.Equal(t, 2, f.store.loads)
}

// interleavedStore runs between once after its first load, modelling
// another instance writing while this one computes.
type interleavedStore struct {
	*memStore
	once    sync.Once
	between func()
}

func (s *interleavedStore) LoadBundle(ctx context.Context, docID uint64) (*model.Bundle, error) {
	b, err := s.memStore.LoadBundle(ctx, docID)
	if err == nil {
		s.once.Do(s.between)
	}
	return b, err
}

func TestViewsFromTwoInstancesKeepOneChain(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)
	_, err = f.wf.Access(ctx, 1, 10, "", signer(10))
	require.NoError(t, err)
	_, err = f.wf.Access(ctx, 1, 20, "", signer(20))
	require.NoError(t, err)

	other := NewWorkflow(Deps{Store: f.store, Recorder: audit.NewRecorder(audit.NewLog())}, Options{
		Retry: RetryPolicy{Attempts: 1},
	})
	st := &interleavedStore{memStore: f.store, between: func() {
		_, err := other.Access(ctx, 1, 20, "", signer(20))
		require.NoError(t, err)
	}}
	self := NewWorkflow(Deps{Store: st, Recorder: audit.NewRecorder(audit.NewLog())}, Options{
		Retry: RetryPolicy{Attempts: 1},
	})

	before := f.store.loads
	_, err = self.Access(ctx, 1, 10, "", signer(10))
	require.NoError(t, err)
	// One load for the stale attempt, one for the other instance, one for
	// the recompute.
	assert.Equal(t, before+3, f.store.loads)

	trail := f.store.trail(1)
	rep := audit.Verify(trail)
	assert.True(t, rep.OK, rep.Errors)
	assert.Equal(t, model.EventDocumentViewed, trail[len(trail)-1].Event)
	assert.Equal(t, uint64(10), trail[len(trail)-1].ActorID)
}

func TestExpiryIsPersisted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)

	f.store.mu.Lock()
	past := time.Now().Add(-time.Hour)
	f.store.bundles[1].Document.ExpiresAt = &past
	f.store.mu.Unlock()

	_, err = f.wf.Access(ctx, 1, 10, "", signer(10))
	require.ErrorIs(t, err, lifecycle.ErrDocumentExpired)
	assert.Equal(t, model.StatusExpired, f.store.doc(1).Status)
	assert.Contains(t, f.pub.names(), model.EventDocumentExpired)
}

func TestDecline(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)

	doc, err := f.wf.Decline(ctx, 1, 20, "not me", signer(20))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, doc.Status)

	_, err = f.wf.SaveValues(ctx, 1, 10, map[uint64]any{1: "x"}, signer(10))
	assert.ErrorIs(t, err, lifecycle.ErrDocumentClosed)
	assert.Contains(t, f.pub.names(), model.EventDocumentDeclined)
}

func TestRestoreMergesBackup(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	_, err := f.wf.Prepare(ctx, 1, 7, author)
	require.NoError(t, err)
	require.NoError(t, f.bk.Save(ctx, 1, 10, map[uint64]string{1: "draft value"}))

	got, err := f.wf.Restore(ctx, 1, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft value", got.Values[1])

	got, err = f.wf.Restore(ctx, 1, 10, []uint64{1})
	require.NoError(t, err)
	assert.Equal(t, "", got.Values[1])
}

func TestValidateDoesNotPersist(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	errs, progress, err := f.wf.Validate(ctx, 1, 10, map[uint64]any{1: ""})
	require.NoError(t, err)
	assert.Len(t, errs, 1)
	assert.Equal(t, 0, progress.Percent)
	assert.Equal(t, 0, f.store.applies)

	_, _, err = f.wf.Validate(ctx, 1, 99, nil)
	assert.ErrorIs(t, err, lifecycle.ErrUnknownSigner)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock(1)()
	}()
	unlock()
	<-done
	assert.Empty(t, k.locks)
}
