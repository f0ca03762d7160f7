// Package backup saves a signer's in-progress values so an interrupted
// session can resume.  Backups are keyed per (document, signer) and are
// discarded once older than MaxAge.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// DefaultMaxAge is how long a backup stays restorable.
const DefaultMaxAge = 24 * time.Hour

// Snapshot is the stored form of a backup.
type Snapshot struct {
	DocumentID uint64            `json:"document_id"`
	SignerID   uint64            `json:"signer_id"`
	Values     map[uint64]string `json:"values"`
	SavedAt    time.Time         `json:"saved_at"`
}

// Restored describes the outcome of Manager.Restore.
type Restored struct {
	Found    bool              `json:"found"`
	Stale    bool              `json:"stale"`
	SavedAt  *time.Time        `json:"saved_at,omitempty"`
	Values   map[uint64]string `json:"values"`
	Restored []uint64          `json:"restored"`
}

// Manager reads and writes snapshots through Store.
type Manager struct {
	Store  Store
	MaxAge time.Duration
	Now    func() time.Time
}

func NewManager(store Store, maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{Store: store, MaxAge: maxAge}
}

// Key is the store key of a (document, signer) backup.
func Key(docID, signerID uint64) string {
	return fmt.Sprintf("esign:backup:doc:%d:signer:%d", docID, signerID)
}

// Save overwrites the backup for (docID, signerID).
func (m *Manager) Save(ctx context.Context, docID, signerID uint64, values map[uint64]string) error {
	snap := Snapshot{DocumentID: docID, SignerID: signerID, Values: values, SavedAt: m.now()}
	if snap.Values == nil {
		snap.Values = map[uint64]string{}
	}
	bs, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// The store TTL is a backstop; staleness is decided against SavedAt.
	if err := m.Store.Set(ctx, Key(docID, signerID), bs, m.maxAge()*2); err != nil {
		return fmt.Errorf("backup: save: %w", err)
	}
	return nil
}

// Restore merges the backup into current.  Only fields present in current
// are considered, a restored value must be non-blank, and fields listed in
// edited (changed during this session) keep their current value.  Backups
// older than MaxAge are removed and reported Stale with nothing merged.
// current and edited are not modified.
func (m *Manager) Restore(ctx context.Context, docID, signerID uint64, current map[uint64]string, edited map[uint64]bool) (Restored, error) {
	out := Restored{Values: copyValues(current), Restored: []uint64{}}
	key := Key(docID, signerID)
	bs, err := m.Store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("backup: load: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		// An unreadable backup cannot be restored; drop it.
		_ = m.Store.Remove(ctx, key)
		return out, nil
	}
	out.Found = true
	saved := snap.SavedAt
	out.SavedAt = &saved
	if m.now().Sub(snap.SavedAt) > m.maxAge() {
		out.Stale = true
		if err := m.Store.Remove(ctx, key); err != nil {
			return out, fmt.Errorf("backup: remove stale: %w", err)
		}
		return out, nil
	}
	for id, v := range snap.Values {
		if _, known := current[id]; !known || edited[id] {
			continue
		}
		if strings.TrimSpace(v) == "" || v == model.EmptySignature {
			continue
		}
		out.Values[id] = v
		out.Restored = append(out.Restored, id)
	}
	sort.Slice(out.Restored, func(i, j int) bool { return out.Restored[i] < out.Restored[j] })
	return out, nil
}

// Clear removes the backup, typically after the signer completes.
func (m *Manager) Clear(ctx context.Context, docID, signerID uint64) error {
	return m.Store.Remove(ctx, Key(docID, signerID))
}

func (m *Manager) maxAge() time.Duration {
	if m.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return m.MaxAge
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func copyValues(in map[uint64]string) map[uint64]string {
	out := make(map[uint64]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
