package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// Store is append-only storage for sealed events.  Implementations never
// update or delete an event once appended.
type Store interface {
	Append(ctx context.Context, events []model.AuditEvent) error
	List(ctx context.Context, docID uint64) ([]model.AuditEvent, error)
	Last(ctx context.Context, docID uint64) (*model.AuditEvent, error)
}

// Log is an in-memory Store.
type Log struct {
	mu     sync.RWMutex
	nextID uint64
	byDoc  map[uint64][]model.AuditEvent
}

// NewLog returns an empty in-memory log.
func NewLog() *Log {
	return &Log{byDoc: map[uint64][]model.AuditEvent{}}
}

func (l *Log) Append(_ context.Context, events []model.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		l.nextID++
		e.ID = l.nextID
		l.byDoc[e.DocumentID] = append(l.byDoc[e.DocumentID], e)
	}
	return nil
}

func (l *Log) List(_ context.Context, docID uint64) ([]model.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.AuditEvent, len(l.byDoc[docID]))
	copy(out, l.byDoc[docID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (l *Log) Last(_ context.Context, docID uint64) (*model.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	evs := l.byDoc[docID]
	if len(evs) == 0 {
		return nil, nil
	}
	e := evs[len(evs)-1]
	return &e, nil
}
