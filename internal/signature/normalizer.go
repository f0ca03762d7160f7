// Package signature turns raw signature input, either pointer strokes or a
// typed name, into a canonical PNG data URI.
package signature

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iliyamo/esign-workflow/internal/model"
)

// Empty is returned for a blank canvas or blank typed text.
const Empty = model.EmptySignature

// Mode selects the capture mode.
type Mode string

const (
	ModeDrawn Mode = "drawn"
	ModeTyped Mode = "typed"
)

// Action kinds replayed onto a Pad.
const (
	ActionStroke = "stroke"
	ActionUndo   = "undo"
	ActionRedo   = "redo"
	ActionClear  = "clear"
)

// Stroke widths accepted for drawn signatures.
const (
	DefaultStrokeWidth = 2.5
	minStrokeWidth     = 0.5
	maxStrokeWidth     = 20
)

var (
	ErrInvalidColor = errors.New("invalid color")
	ErrUnknownFont  = errors.New("unknown font")
	ErrUnknownMode  = errors.New("unknown signature mode")
	ErrBadAction    = errors.New("unknown drawing action")
)

// Action is one recorded pad interaction.  Points is set for strokes.
type Action struct {
	Type   string  `json:"type"`
	Points []Point `json:"points,omitempty"`
}

// Input is the raw capture from the client.
type Input struct {
	Mode Mode `json:"mode"`

	// Drawn mode.
	Actions     []Action `json:"actions,omitempty"`
	StrokeWidth float64  `json:"stroke_width,omitempty"`

	// Typed mode.
	Text             string `json:"text,omitempty"`
	Font             string `json:"font,omitempty"`
	IncludeTimestamp bool   `json:"include_timestamp,omitempty"`

	Color string `json:"color,omitempty"`
}

// Normalizer renders Input.  The zero value is usable.
type Normalizer struct {
	HistoryDepth int
	Now          func() time.Time
}

// Normalize returns a PNG data URI, or Empty when there is nothing to
// render.
func (n Normalizer) Normalize(in Input) (string, error) {
	c, err := ParseColor(in.Color)
	if err != nil {
		return "", err
	}
	switch in.Mode {
	case ModeDrawn:
		pad, err := n.Replay(in.Actions)
		if err != nil {
			return "", err
		}
		if pad.Blank() {
			return Empty, nil
		}
		return encodeDataURI(renderStrokes(pad.Strokes(), c, strokeWidth(in.StrokeWidth)))
	case ModeTyped:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return Empty, nil
		}
		name := strings.ToLower(strings.TrimSpace(in.Font))
		if name == "" {
			name = DefaultFont
		}
		stamp := ""
		if in.IncludeTimestamp {
			stamp = n.now().UTC().Format("2006-01-02")
		}
		img, err := renderTyped(text, name, c, stamp)
		if err != nil {
			return "", err
		}
		return encodeDataURI(img)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, in.Mode)
}

// Replay applies actions to a fresh pad in order.  Undo and redo with an
// empty history are no-ops.
func (n Normalizer) Replay(actions []Action) (*Pad, error) {
	pad := NewPad(n.HistoryDepth)
	for i, a := range actions {
		switch a.Type {
		case ActionStroke:
			pad.Stroke(Stroke{Points: a.Points})
		case ActionUndo:
			pad.Undo()
		case ActionRedo:
			pad.Redo()
		case ActionClear:
			pad.Clear()
		default:
			return nil, fmt.Errorf("%w at %d: %q", ErrBadAction, i, a.Type)
		}
	}
	return pad, nil
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func strokeWidth(w float64) float64 {
	if w == 0 || math.IsNaN(w) {
		return DefaultStrokeWidth
	}
	return math.Max(minStrokeWidth, math.Min(maxStrokeWidth, w))
}
