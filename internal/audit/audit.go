// Package audit seals workflow events into a tamper-evident chain and
// exports them.  Each event's Hash covers its own content plus the Hash of
// the event before it, so editing or removing any row breaks every hash
// after it.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat maps a query value to a Format.  Empty means JSON lines.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Recorder seals drafts and reads them back.  Now and NewID default to the
// wall clock and random UUIDs.
type Recorder struct {
	Store Store
	Now   func() time.Time
	NewID func() string
}

// NewRecorder returns a Recorder backed by store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{Store: store}
}

// Seal assigns ids, timestamps and chain hashes to drafts, which are
// assumed to follow prev (nil for the first event of a document).
// Timestamps never go backwards relative to prev and are truncated to the
// microsecond precision of the audit_events table.  drafts is not modified.
func (r *Recorder) Seal(prev *model.AuditEvent, drafts []model.AuditEvent) []model.AuditEvent {
	out := make([]model.AuditEvent, len(drafts))
	now := r.now().Truncate(time.Microsecond)
	var last model.AuditEvent
	if prev != nil {
		last = *prev
	}
	for i, e := range drafts {
		e.EventID = r.newID()
		e.Timestamp = now
		if !last.Timestamp.IsZero() && e.Timestamp.Before(last.Timestamp) {
			e.Timestamp = last.Timestamp
		}
		e.PrevHash = last.Hash
		e.Hash = Hash(e)
		out[i] = e
		last = e
	}
	return out
}

// Record seals drafts after the document's latest stored event and appends
// them.  The sealed events are returned.
func (r *Recorder) Record(ctx context.Context, drafts []model.AuditEvent) ([]model.AuditEvent, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	prev, err := r.Store.Last(ctx, drafts[0].DocumentID)
	if err != nil {
		return nil, fmt.Errorf("audit: last event: %w", err)
	}
	sealed := r.Seal(prev, drafts)
	if err := r.Store.Append(ctx, sealed); err != nil {
		return nil, fmt.Errorf("audit: append: %w", err)
	}
	return sealed, nil
}

// Events returns the document's trail in chronological order.
func (r *Recorder) Events(ctx context.Context, docID uint64) ([]model.AuditEvent, error) {
	evs, err := r.Store.List(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return evs, nil
}

// Export writes the document's trail to w.
func (r *Recorder) Export(ctx context.Context, docID uint64, f Format, w io.Writer) error {
	evs, err := r.Events(ctx, docID)
	if err != nil {
		return err
	}
	return Write(w, f, evs)
}

var csvHeader = []string{
	"event_id", "timestamp", "event", "actor_type", "actor_id", "actor_email",
	"ip_address", "user_agent", "geolocation", "details", "prev_hash", "hash",
}

// Write encodes events in format f.
func Write(w io.Writer, f Format, events []model.AuditEvent) error {
	switch f {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, e := range events {
			rec := []string{
				e.EventID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Event,
				string(e.ActorType),
				strconv.FormatUint(e.ActorID, 10),
				e.ActorEmail,
				e.IPAddress,
				e.UserAgent,
				e.Geolocation,
				e.Details,
				e.PrevHash,
				e.Hash,
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Hash computes the BLAKE2b-256 chain hash of e over its content and
// PrevHash.  The stored ID and Hash are not part of the input.
func Hash(e model.AuditEvent) string {
	parts := []string{
		e.PrevHash,
		e.EventID,
		strconv.FormatUint(e.DocumentID, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Event,
		string(e.ActorType),
		strconv.FormatUint(e.ActorID, 10),
		e.ActorEmail,
		e.IPAddress,
		e.UserAgent,
		e.Geolocation,
		e.Details,
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Report summarizes chain verification.
type Report struct {
	OK       bool     `json:"ok"`
	Total    int      `json:"total"`
	LastHash string   `json:"last_hash"`
	Errors   []string `json:"errors"`
}

// Verify recomputes the chain over events, which must be in append order.
func Verify(events []model.AuditEvent) Report {
	rep := Report{OK: true, Total: len(events), Errors: []string{}}
	prev := ""
	var prevTS time.Time
	for i, e := range events {
		if e.PrevHash != prev {
			rep.Errors = append(rep.Errors, fmt.Sprintf("event %d (%s): prev_hash does not match", i, e.EventID))
		}
		if got := Hash(e); got != e.Hash {
			rep.Errors = append(rep.Errors, fmt.Sprintf("event %d (%s): hash mismatch", i, e.EventID))
		}
		if e.Timestamp.Before(prevTS) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("event %d (%s): timestamp before predecessor", i, e.EventID))
		}
		prev, prevTS = e.Hash, e.Timestamp
	}
	rep.LastHash = prev
	rep.OK = len(rep.Errors) == 0
	return rep
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Recorder) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}
