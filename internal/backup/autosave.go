package backup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before an autosave is written.
const DefaultDebounce = 2 * time.Second

type pendingKey struct {
	doc, signer uint64
}

type pendingSave struct {
	values map[uint64]string
	timer  *time.Timer
	gen    uint64
}

// AutoSaver debounces backups per (document, signer): each Schedule call
// replaces the pending values and restarts the quiet period, so only the
// last edit in a burst is written.
type AutoSaver struct {
	manager  *Manager
	debounce time.Duration
	log      *zap.Logger
	timeout  time.Duration

	mu      sync.Mutex
	pending map[pendingKey]*pendingSave
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

func NewAutoSaver(m *Manager, debounce time.Duration, log *zap.Logger) *AutoSaver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AutoSaver{
		manager:  m,
		debounce: debounce,
		log:      log,
		timeout:  5 * time.Second,
		pending:  map[pendingKey]*pendingSave{},
	}
}

// Schedule queues values for (docID, signerID).  It is a no-op after Close.
func (a *AutoSaver) Schedule(docID, signerID uint64, values map[uint64]string) {
	k := pendingKey{docID, signerID}
	vals := copyValues(values)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.gen++
	gen := a.gen
	if p, ok := a.pending[k]; ok {
		p.timer.Stop()
		p.values = vals
		p.gen = gen
		p.timer = time.AfterFunc(a.debounce, func() { a.fire(k, gen) })
		return
	}
	a.wg.Add(1)
	a.pending[k] = &pendingSave{
		values: vals,
		gen:    gen,
		timer:  time.AfterFunc(a.debounce, func() { a.fire(k, gen) }),
	}
}

// Cancel drops any pending save for (docID, signerID).
func (a *AutoSaver) Cancel(docID, signerID uint64) {
	k := pendingKey{docID, signerID}
	a.mu.Lock()
	p, ok := a.pending[k]
	if ok && p.timer.Stop() {
		delete(a.pending, k)
		a.wg.Done()
	}
	a.mu.Unlock()
}

// Pending reports how many saves are waiting for their quiet period.
func (a *AutoSaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush writes every pending save now.
func (a *AutoSaver) Flush() {
	a.mu.Lock()
	due := map[pendingKey]uint64{}
	for k, p := range a.pending {
		if p.timer.Stop() {
			due[k] = p.gen
		}
	}
	a.mu.Unlock()
	for k, gen := range due {
		a.fire(k, gen)
	}
}

// Close flushes pending saves, waits for in-flight writes and rejects
// further Schedule calls.
func (a *AutoSaver) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.Flush()
	a.wg.Wait()
}

// fire writes the pending save for k if it is still generation gen.  A
// timer that was superseded by a later Schedule finds a newer generation
// and does nothing.
func (a *AutoSaver) fire(k pendingKey, gen uint64) {
	a.mu.Lock()
	p, ok := a.pending[k]
	ok = ok && p.gen == gen
	if ok {
		delete(a.pending, k)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.manager.Save(ctx, k.doc, k.signer, p.values); err != nil {
		a.log.Warn("autosave failed",
			zap.Uint64("document_id", k.doc),
			zap.Uint64("signer_id", k.signer),
			zap.Error(err))
		return
	}
	a.log.Debug("autosaved", zap.Uint64("document_id", k.doc), zap.Uint64("signer_id", k.signer), zap.Int("fields", len(p.values)))
}
