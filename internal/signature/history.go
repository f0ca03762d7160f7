package signature

// DefaultHistoryDepth bounds undo and redo stacks.
const DefaultHistoryDepth = 50

// ring is a fixed-capacity LIFO stack that evicts its oldest entry when a
// push would exceed capacity.
type ring struct {
	buf   [][]Stroke
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([][]Stroke, capacity)}
}

func (r *ring) push(s []Stroke) {
	if r.n == len(r.buf) {
		r.buf[r.start] = nil
		r.start = (r.start + 1) % len(r.buf)
		r.n--
	}
	r.buf[(r.start+r.n)%len(r.buf)] = s
	r.n++
}

func (r *ring) pop() ([]Stroke, bool) {
	if r.n == 0 {
		return nil, false
	}
	i := (r.start + r.n - 1) % len(r.buf)
	s := r.buf[i]
	r.buf[i] = nil
	r.n--
	return s, true
}

func (r *ring) clear() {
	for i := range r.buf {
		r.buf[i] = nil
	}
	r.start, r.n = 0, 0
}

// History keeps canvas states for undo and redo.  Each state is a full
// snapshot of the strokes on the canvas.
type History struct {
	undo *ring
	redo *ring
}

// NewHistory returns a History holding at most depth states per stack.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{undo: newRing(depth), redo: newRing(depth)}
}

// UndoLen and RedoLen report stack sizes.
func (h *History) UndoLen() int { return h.undo.n }
func (h *History) RedoLen() int { return h.redo.n }

// Pad is a drawing surface that records strokes with undo/redo.  It is not
// safe for concurrent use.
type Pad struct {
	strokes []Stroke
	history *History
}

// NewPad returns an empty pad with the given history depth.
func NewPad(depth int) *Pad {
	return &Pad{history: NewHistory(depth)}
}

// Stroke commits a completed stroke.  The pre-stroke state goes on the undo
// stack and the redo stack is cleared.
func (p *Pad) Stroke(s Stroke) {
	p.history.undo.push(p.snapshot())
	p.history.redo.clear()
	p.strokes = append(p.snapshot(), cloneStroke(s))
}

// Undo restores the previous state.  It reports false when there is
// nothing to undo.
func (p *Pad) Undo() bool {
	prev, ok := p.history.undo.pop()
	if !ok {
		return false
	}
	p.history.redo.push(p.snapshot())
	p.strokes = prev
	return true
}

// Redo re-applies the most recently undone state.
func (p *Pad) Redo() bool {
	next, ok := p.history.redo.pop()
	if !ok {
		return false
	}
	p.history.undo.push(p.snapshot())
	p.strokes = next
	return true
}

// Clear wipes the canvas as an undoable action.
func (p *Pad) Clear() {
	if len(p.strokes) == 0 {
		return
	}
	p.history.undo.push(p.snapshot())
	p.history.redo.clear()
	p.strokes = nil
}

// Strokes returns a copy of the current canvas state.
func (p *Pad) Strokes() []Stroke { return p.snapshot() }

// Blank reports whether nothing is drawn.
func (p *Pad) Blank() bool {
	for _, s := range p.strokes {
		if len(s.Points) > 0 {
			return false
		}
	}
	return true
}

// History exposes the pad's history for inspection.
func (p *Pad) History() *History { return p.history }

func (p *Pad) snapshot() []Stroke {
	out := make([]Stroke, len(p.strokes))
	for i, s := range p.strokes {
		out[i] = cloneStroke(s)
	}
	return out
}

func cloneStroke(s Stroke) Stroke {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	return Stroke{Points: pts}
}
