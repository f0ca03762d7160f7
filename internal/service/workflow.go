// Package service runs the signing workflow against its collaborators.  It
// loads a document, asks the lifecycle machine for the next state, seals
// the resulting audit events and persists everything in one write.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/esign-workflow/internal/assignment"
	"github.com/iliyamo/esign-workflow/internal/audit"
	"github.com/iliyamo/esign-workflow/internal/backup"
	"github.com/iliyamo/esign-workflow/internal/idempotency"
	"github.com/iliyamo/esign-workflow/internal/lifecycle"
	"github.com/iliyamo/esign-workflow/internal/model"
	"github.com/iliyamo/esign-workflow/internal/queue"
	"github.com/iliyamo/esign-workflow/internal/repository"
	"github.com/iliyamo/esign-workflow/internal/signature"
	"github.com/iliyamo/esign-workflow/internal/utils"
	"github.com/iliyamo/esign-workflow/internal/validation"
)

// Store loads and persists whole documents.
type Store interface {
	LoadBundle(ctx context.Context, docID uint64) (*model.Bundle, error)
	Apply(ctx context.Context, c repository.Change) error
}

// Publisher fans lifecycle events out to other services.
type Publisher interface {
	Publish(ctx context.Context, ev queue.DocumentEvent) error
}

// conflictAttempts bounds how often a transition is recomputed after
// losing an optimistic write to a concurrent request.
const conflictAttempts = 3

// Deps are the collaborators of a Workflow.  Publisher, AutoSaver and
// Idempotency may be nil.
type Deps struct {
	Store       Store
	Recorder    *audit.Recorder
	Backups     *backup.Manager
	AutoSaver   *backup.AutoSaver
	Idempotency idempotency.Store
	Publisher   Publisher
	Logger      *zap.Logger
}

// Options tune a Workflow.
type Options struct {
	Retry        RetryPolicy
	HistoryDepth int
	TokenSecret  string
	LinkTTL      time.Duration
	BaseURL      string
	Now          func() time.Time
}

// Workflow is safe for concurrent use.
type Workflow struct {
	store      Store
	recorder   *audit.Recorder
	backups    *backup.Manager
	autosave   *backup.AutoSaver
	idem       idempotency.Store
	pub        Publisher
	log        *zap.Logger
	machine    lifecycle.Machine
	normalizer signature.Normalizer
	opts       Options

	locks *keyedMutex
	group singleflight.Group
}

func NewWorkflow(d Deps, o Options) *Workflow {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.LinkTTL <= 0 {
		o.LinkTTL = 7 * 24 * time.Hour
	}
	return &Workflow{
		store:      d.Store,
		recorder:   d.Recorder,
		backups:    d.Backups,
		autosave:   d.AutoSaver,
		idem:       d.Idempotency,
		pub:        d.Publisher,
		log:        d.Logger.With(zap.String("component", "workflow")),
		machine:    lifecycle.Machine{Now: o.Now},
		normalizer: signature.Normalizer{HistoryDepth: o.HistoryDepth, Now: o.Now},
		opts:       o,
		locks:      newKeyedMutex(),
	}
}

// SigningLink is handed to a signer when a document is prepared.
type SigningLink struct {
	SignerID  uint64    `json:"signer_id"`
	Email     string    `json:"email"`
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PrepareResult is returned by Prepare.
type PrepareResult struct {
	Document model.Document `json:"document"`
	Links    []SigningLink  `json:"links"`
}

// SigningView is what a signer sees when opening a document.
type SigningView struct {
	Document      model.Document            `json:"document"`
	DisplayStatus model.DocumentStatus      `json:"display_status"`
	Signer        model.Signer              `json:"signer"`
	Fields        []model.Field             `json:"fields"`
	Progress      assignment.SignerProgress `json:"progress"`
	InTurn        bool                      `json:"in_turn"`
}

// SaveResult is returned by SaveValues.  Errors are inline hints; saving
// never fails because a value does not validate.
type SaveResult struct {
	Errors        []model.ValidationError   `json:"errors"`
	Progress      assignment.SignerProgress `json:"progress"`
	DisplayStatus model.DocumentStatus      `json:"display_status"`
}

// CompleteResult is returned by Complete.  Errors is set when validation
// blocked completion.
type CompleteResult struct {
	Document          model.Document          `json:"document"`
	DisplayStatus     model.DocumentStatus    `json:"display_status"`
	Signer            model.Signer            `json:"signer"`
	DocumentCompleted bool                    `json:"document_completed"`
	Progress          assignment.Progress     `json:"progress"`
	Errors            []model.ValidationError `json:"errors,omitempty"`
	Replayed          bool                    `json:"-"`
}

// SignatureResult is returned by Signature.  Save is set when the value
// was stored into a field.
type SignatureResult struct {
	Value string      `json:"value"`
	Save  *SaveResult `json:"save,omitempty"`
}

// Bundle returns the document with its fields and signers.
func (w *Workflow) Bundle(ctx context.Context, docID uint64) (*model.Bundle, error) {
	return w.load(ctx, docID)
}

// Progress returns the document's completion across signers.
func (w *Workflow) Progress(ctx context.Context, docID uint64) (assignment.Progress, error) {
	b, err := w.load(ctx, docID)
	if err != nil {
		return assignment.Progress{}, err
	}
	return assignment.DocumentCompletion(b.Fields, b.Signers, assignment.Values(b.Fields)), nil
}

// Prepare finalizes field placement of authorID's draft and mints one
// signing link per signer.
func (w *Workflow) Prepare(ctx context.Context, docID, authorID uint64, actor model.Actor) (PrepareResult, error) {
	b, res, err := w.transition(ctx, docID, func(b *model.Bundle) (lifecycle.Event, error) {
		if b.Document.AuthorID != authorID {
			return lifecycle.Event{}, repository.ErrForbidden
		}
		return lifecycle.Event{Kind: lifecycle.EventPrepare, Actor: actor}, nil
	})
	if err != nil {
		return PrepareResult{}, err
	}
	out := PrepareResult{Document: res.Document, Links: make([]SigningLink, 0, len(b.Signers))}
	for _, s := range assignment.Ordered(b.Signers) {
		tok, err := utils.NewSigningToken(w.opts.TokenSecret, docID, s.ID, s.Email, w.opts.LinkTTL)
		if err != nil {
			return PrepareResult{}, fmt.Errorf("mint signing link: %w", err)
		}
		out.Links = append(out.Links, SigningLink{
			SignerID:  s.ID,
			Email:     s.Email,
			URL:       fmt.Sprintf("%s/v1/sign/%d?token=%s", strings.TrimRight(w.opts.BaseURL, "/"), docID, tok.Token),
			Token:     tok.Token,
			ExpiresAt: tok.Exp,
		})
	}
	return out, nil
}

// Access records that signerID opened the document and returns their view.
// Closed documents are returned read-only.
func (w *Workflow) Access(ctx context.Context, docID, signerID uint64, accessCode string, actor model.Actor) (SigningView, error) {
	b, res, err := w.transition(ctx, docID, func(*model.Bundle) (lifecycle.Event, error) {
		return lifecycle.Event{Kind: lifecycle.EventAccess, SignerID: signerID, AccessCode: accessCode, Actor: actor}, nil
	})
	if err != nil {
		return SigningView{}, err
	}
	after := applied(b, res)
	s := after.Signer(signerID)
	mine := assignment.FieldsFor(after.Fields, signerID)
	return SigningView{
		Document:      after.Document,
		DisplayStatus: lifecycle.Display(after.Document, after.Signers),
		Signer:        *s,
		Fields:        mine,
		Progress:      assignment.SignerCompletion(after.Fields, signerID, assignment.Values(after.Fields)),
		InTurn:        assignment.InTurn(after.Document, after.Signers, signerID),
	}, nil
}

// SaveValues stores in-progress values for the signer's fields and
// schedules a backup.  Non-string values are normalized first.
func (w *Workflow) SaveValues(ctx context.Context, docID, signerID uint64, values map[uint64]any, actor model.Actor) (SaveResult, error) {
	return w.save(ctx, docID, signerID, model.NormalizeValues(values), actor)
}

func (w *Workflow) save(ctx context.Context, docID, signerID uint64, values map[uint64]string, actor model.Actor) (SaveResult, error) {
	b, res, err := w.transition(ctx, docID, func(*model.Bundle) (lifecycle.Event, error) {
		return lifecycle.Event{Kind: lifecycle.EventSaveValues, SignerID: signerID, Values: values, Actor: actor}, nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	after := applied(b, res)
	current := assignment.Values(assignment.FieldsFor(after.Fields, signerID))
	if w.autosave != nil {
		w.autosave.Schedule(docID, signerID, current)
	}
	return SaveResult{
		Errors:        res.Errors,
		Progress:      assignment.SignerCompletion(after.Fields, signerID, current),
		DisplayStatus: lifecycle.Display(after.Document, after.Signers),
	}, nil
}

// Validate checks values against the signer's fields without storing
// anything.  Values not given fall back to what is stored.
func (w *Workflow) Validate(ctx context.Context, docID, signerID uint64, values map[uint64]any) ([]model.ValidationError, assignment.SignerProgress, error) {
	b, err := w.load(ctx, docID)
	if err != nil {
		return nil, assignment.SignerProgress{}, err
	}
	if b.Signer(signerID) == nil {
		return nil, assignment.SignerProgress{}, lifecycle.ErrUnknownSigner
	}
	mine := assignment.FieldsFor(b.Fields, signerID)
	merged := assignment.Merge(assignment.Values(mine), model.NormalizeValues(values))
	return validation.Validate(mine, merged), assignment.SignerCompletion(b.Fields, signerID, merged), nil
}

// Restore merges the signer's saved backup into their current values.
// Fields listed in edited were changed in this session and are kept.
func (w *Workflow) Restore(ctx context.Context, docID, signerID uint64, edited []uint64) (backup.Restored, error) {
	b, err := w.load(ctx, docID)
	if err != nil {
		return backup.Restored{}, err
	}
	s := b.Signer(signerID)
	if s == nil {
		return backup.Restored{}, lifecycle.ErrUnknownSigner
	}
	if b.Document.Status.Terminal() {
		return backup.Restored{}, lifecycle.ErrDocumentClosed
	}
	if s.Status != model.SignerPending {
		return backup.Restored{}, lifecycle.ErrSignerFinished
	}
	touched := make(map[uint64]bool, len(edited))
	for _, id := range edited {
		touched[id] = true
	}
	current := assignment.Values(assignment.FieldsFor(b.Fields, signerID))
	out, err := w.backups.Restore(ctx, docID, signerID, current, touched)
	if err != nil {
		return backup.Restored{}, err
	}
	if out.Stale {
		w.log.Info("discarded stale backup", zap.Uint64("document_id", docID), zap.Uint64("signer_id", signerID))
	}
	return out, nil
}

// Signature normalizes a drawn or typed signature.  When fieldID is set the
// result is saved into that field.
func (w *Workflow) Signature(ctx context.Context, docID, signerID uint64, fieldID *uint64, in signature.Input, actor model.Actor) (SignatureResult, error) {
	value, err := w.normalizer.Normalize(in)
	if err != nil {
		return SignatureResult{}, err
	}
	out := SignatureResult{Value: value}
	if fieldID == nil {
		return out, nil
	}
	saved, err := w.save(ctx, docID, signerID, map[uint64]string{*fieldID: value}, actor)
	if err != nil {
		return SignatureResult{}, err
	}
	out.Save = &saved
	return out, nil
}

// Complete submits the signer's values and marks them done.  Concurrent
// identical submits share one execution; a repeated idempotencyKey
// replays the first successful response.
func (w *Workflow) Complete(ctx context.Context, docID, signerID uint64, values map[uint64]any, idempotencyKey string, actor model.Actor) (CompleteResult, error) {
	scope := idempotency.Scope{DocumentID: docID, SignerID: signerID, IdempotencyKey: idempotencyKey}
	if out, ok := w.replay(ctx, scope); ok {
		return out, nil
	}

	key := fmt.Sprintf("%d:%d:%s", docID, signerID, idempotencyKey)
	v, err, _ := w.group.Do(key, func() (any, error) {
		// A flight that finished just before this one started has already
		// stored its response.
		if out, ok := w.replay(ctx, scope); ok {
			return out, nil
		}
		out, err := w.complete(ctx, docID, signerID, model.NormalizeValues(values), actor)
		if err != nil {
			return out, err
		}
		if w.idem != nil {
			if serr := idempotency.Save(ctx, w.idem, scope, "complete", 200, out); serr != nil {
				w.log.Warn("idempotency save failed", zap.Error(serr))
			}
		}
		return out, nil
	})
	out, _ := v.(CompleteResult)
	return out, err
}

func (w *Workflow) replay(ctx context.Context, scope idempotency.Scope) (CompleteResult, bool) {
	if w.idem == nil {
		return CompleteResult{}, false
	}
	rec, found, err := idempotency.Replay(ctx, w.idem, scope, "complete")
	if err != nil {
		w.log.Warn("idempotency lookup failed", zap.Error(err))
		return CompleteResult{}, false
	}
	if !found {
		return CompleteResult{}, false
	}
	var out CompleteResult
	if err := json.Unmarshal(rec.Body, &out); err != nil {
		return CompleteResult{}, false
	}
	out.Replayed = true
	return out, true
}

func (w *Workflow) complete(ctx context.Context, docID, signerID uint64, values map[uint64]string, actor model.Actor) (CompleteResult, error) {
	b, res, err := w.transition(ctx, docID, func(*model.Bundle) (lifecycle.Event, error) {
		return lifecycle.Event{Kind: lifecycle.EventComplete, SignerID: signerID, Values: values, Actor: actor}, nil
	})
	if err != nil {
		return CompleteResult{Errors: res.Errors}, err
	}
	if w.autosave != nil {
		w.autosave.Cancel(docID, signerID)
	}
	if w.backups != nil {
		if err := w.backups.Clear(ctx, docID, signerID); err != nil {
			w.log.Warn("clear backup failed", zap.Uint64("document_id", docID), zap.Error(err))
		}
	}
	after := applied(b, res)
	return CompleteResult{
		Document:          after.Document,
		DisplayStatus:     lifecycle.Display(after.Document, after.Signers),
		Signer:            *after.Signer(signerID),
		DocumentCompleted: after.Document.Status == model.StatusCompleted,
		Progress:          assignment.DocumentCompletion(after.Fields, after.Signers, assignment.Values(after.Fields)),
	}, nil
}

// Decline ends the workflow for everyone.
func (w *Workflow) Decline(ctx context.Context, docID, signerID uint64, reason string, actor model.Actor) (model.Document, error) {
	_, res, err := w.transition(ctx, docID, func(*model.Bundle) (lifecycle.Event, error) {
		return lifecycle.Event{Kind: lifecycle.EventDecline, SignerID: signerID, Reason: reason, Actor: actor}, nil
	})
	if err != nil {
		return model.Document{}, err
	}
	if w.autosave != nil {
		w.autosave.Cancel(docID, signerID)
	}
	return res.Document, nil
}

// transition loads the document, computes the next state and persists it
// under the document's lock.  A lost optimistic write is recomputed from
// fresh state.  An expiry found on the way is persisted before
// ErrDocumentExpired is returned.
func (w *Workflow) transition(ctx context.Context, docID uint64, event func(*model.Bundle) (lifecycle.Event, error)) (*model.Bundle, lifecycle.Result, error) {
	unlock := w.locks.Lock(docID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		b, err := w.load(ctx, docID)
		if err != nil {
			return nil, lifecycle.Result{}, err
		}
		ev, err := event(b)
		if err != nil {
			return b, lifecycle.Result{Document: b.Document}, err
		}
		res, terr := w.machine.Transition(b.Document, b.Signers, b.Fields, ev)
		if terr != nil && !(errors.Is(terr, lifecycle.ErrDocumentExpired) && res.Changed) {
			return b, res, terr
		}
		sealed, err := w.persist(ctx, b, res)
		if errors.Is(err, repository.ErrConflict) && attempt < conflictAttempts {
			w.log.Debug("transition lost a concurrent write; recomputing",
				zap.Uint64("document_id", docID), zap.String("event", string(ev.Kind)), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return b, res, err
		}
		w.publish(ctx, b, res, sealed)
		return b, res, terr
	}
}

func (w *Workflow) load(ctx context.Context, docID uint64) (*model.Bundle, error) {
	var b *model.Bundle
	err := w.opts.Retry.do(ctx, w.log, "load bundle", func(ctx context.Context) error {
		var err error
		b, err = w.store.LoadBundle(ctx, docID)
		return err
	})
	return b, err
}

func (w *Workflow) persist(ctx context.Context, b *model.Bundle, res lifecycle.Result) ([]model.AuditEvent, error) {
	if !res.Changed {
		return nil, nil
	}
	sealed := w.recorder.Seal(b.LastAudit, res.Events)
	change := repository.Change{
		Document:        res.Document,
		ExpectStatus:    b.Document.Status,
		ExpectUpdatedAt: b.Document.UpdatedAt,
		Signer:          res.Signer,
		Values:          res.Values,
		Events:          sealed,
	}
	err := w.opts.Retry.do(ctx, w.log, "apply transition", func(ctx context.Context) error {
		return w.store.Apply(ctx, change)
	})
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// notified lists the audit events that are fanned out to the broker.
var notified = map[string]bool{
	model.EventDocumentPrepared:  true,
	model.EventSignerCompleted:   true,
	model.EventDocumentCompleted: true,
	model.EventDocumentDeclined:  true,
	model.EventDocumentExpired:   true,
}

func (w *Workflow) publish(ctx context.Context, b *model.Bundle, res lifecycle.Result, sealed []model.AuditEvent) {
	if w.pub == nil {
		return
	}
	after := applied(b, res)
	next := assignment.NextSigner(after.Signers)
	for _, e := range sealed {
		if !notified[e.Event] {
			continue
		}
		ev := queue.DocumentEvent{
			Event:      e.Event,
			DocumentID: after.Document.ID,
			Title:      after.Document.Title,
			AuthorID:   after.Document.AuthorID,
			Status:     string(lifecycle.Display(after.Document, after.Signers)),
			OccurredAt: e.Timestamp,
		}
		if res.Signer != nil {
			ev.SignerID, ev.SignerEmail = res.Signer.ID, res.Signer.Email
			ev.Reason = res.Signer.DeclineReason
		}
		if next != nil && !after.Document.Status.Terminal() {
			ev.NextSignerID, ev.NextEmail = next.ID, next.Email
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		if err := w.pub.Publish(pctx, ev); err != nil {
			w.log.Warn("publish document event failed", zap.String("event", e.Event), zap.Uint64("document_id", ev.DocumentID), zap.Error(err))
		}
		cancel()
	}
}

// applied returns a copy of b with res applied.
func applied(b *model.Bundle, res lifecycle.Result) *model.Bundle {
	out := &model.Bundle{
		Document: res.Document,
		Fields:   append([]model.Field(nil), b.Fields...),
		Signers:  append([]model.Signer(nil), b.Signers...),
	}
	if res.Signer != nil {
		if s := out.Signer(res.Signer.ID); s != nil {
			*s = *res.Signer
		}
	}
	for i := range out.Fields {
		if v, ok := res.Values[out.Fields[i].ID]; ok {
			out.Fields[i].Value = v
		}
	}
	return out
}
