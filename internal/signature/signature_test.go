package signature

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(x0, y0, x1, y1 float64) Stroke {
	return Stroke{Points: []Point{{x0, y0}, {(x0 + x1) / 2, (y0 + y1) / 2}, {x1, y1}}}
}

func decode(t *testing.T, uri string) (w, h int, alphaAt func(x, y int) uint8) {
	t.Helper()
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/png;base64,"))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy(), func(x, y int) uint8 {
		_, _, _, a := img.At(x, y).RGBA()
		return uint8(a >> 8)
	}
}

func TestNormalizeBlankInputsReturnEmpty(t *testing.T) {
	n := Normalizer{}
	cases := []Input{
		{Mode: ModeDrawn},
		{Mode: ModeDrawn, Actions: []Action{{Type: ActionStroke, Points: []Point{{10, 10}}}, {Type: ActionUndo}}},
		{Mode: ModeDrawn, Actions: []Action{{Type: ActionStroke}}},
		{Mode: ModeTyped, Text: "   "},
		{Mode: ModeTyped},
	}
	for _, in := range cases {
		out, err := n.Normalize(in)
		require.NoError(t, err)
		assert.Equal(t, Empty, out)
	}
}

func TestNormalizeDrawn(t *testing.T) {
	n := Normalizer{}
	out, err := n.Normalize(Input{
		Mode:        ModeDrawn,
		Color:       "#1a2b3c",
		StrokeWidth: 4,
		Actions:     []Action{{Type: ActionStroke, Points: line(100, 100, 300, 100).Points}},
	})
	require.NoError(t, err)
	w, h, alpha := decode(t, out)
	assert.Equal(t, CanvasWidth, w)
	assert.Equal(t, CanvasHeight, h)
	assert.Greater(t, alpha(200, 100), uint8(0), "pixel on the stroke")
	assert.Equal(t, uint8(0), alpha(500, 20), "pixel far from the stroke")
}

func TestNormalizeDrawnOffCanvasPointsAreClamped(t *testing.T) {
	out, err := Normalizer{}.Normalize(Input{
		Mode:    ModeDrawn,
		Actions: []Action{{Type: ActionStroke, Points: []Point{{-50, -50}, {900, 400}}}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, Empty, out)
}

func TestNormalizeTyped(t *testing.T) {
	n := Normalizer{Now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }}
	plain, err := n.Normalize(Input{Mode: ModeTyped, Text: "Jane Doe", Font: "script"})
	require.NoError(t, err)
	stamped, err := n.Normalize(Input{Mode: ModeTyped, Text: "Jane Doe", Font: "script", IncludeTimestamp: true})
	require.NoError(t, err)

	w, h, _ := decode(t, plain)
	assert.Equal(t, CanvasWidth, w)
	assert.Equal(t, CanvasHeight, h)
	assert.NotEqual(t, plain, stamped)
}

func TestNormalizeTypedLongTextFits(t *testing.T) {
	out, err := Normalizer{}.Normalize(Input{Mode: ModeTyped, Text: strings.Repeat("Bartholomew ", 4), Font: "bold"})
	require.NoError(t, err)
	assert.NotEqual(t, Empty, out)
}

func TestNormalizeErrors(t *testing.T) {
	n := Normalizer{}
	_, err := n.Normalize(Input{Mode: ModeTyped, Text: "x", Font: "comic"})
	assert.ErrorIs(t, err, ErrUnknownFont)
	_, err = n.Normalize(Input{Mode: ModeTyped, Text: "x", Color: "teal-ish"})
	assert.ErrorIs(t, err, ErrInvalidColor)
	_, err = n.Normalize(Input{Mode: "laser"})
	assert.ErrorIs(t, err, ErrUnknownMode)
	_, err = n.Normalize(Input{Mode: ModeDrawn, Actions: []Action{{Type: "smudge"}}})
	assert.ErrorIs(t, err, ErrBadAction)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#f00")
	require.NoError(t, err)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(0), c.G)

	c, err = ParseColor("")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.A)

	_, err = ParseColor("#12345")
	assert.Error(t, err)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	for n := 1; n <= 8; n++ {
		pad := NewPad(0)
		for i := 0; i < n; i++ {
			pad.Stroke(line(float64(i), 0, float64(i)+10, 10))
		}
		before := pad.Strokes()
		require.True(t, pad.Undo())
		require.True(t, pad.Redo())
		assert.Equal(t, before, pad.Strokes(), "history length %d", n)
	}
}

func TestStrokeClearsRedo(t *testing.T) {
	pad := NewPad(0)
	pad.Stroke(line(0, 0, 10, 10))
	pad.Stroke(line(10, 10, 20, 20))
	require.True(t, pad.Undo())
	assert.Equal(t, 1, pad.History().RedoLen())

	pad.Stroke(line(30, 30, 40, 40))
	assert.Equal(t, 0, pad.History().RedoLen())
	assert.False(t, pad.Redo())
	assert.Len(t, pad.Strokes(), 2)
}

func TestUndoRestoresPreStrokeState(t *testing.T) {
	pad := NewPad(0)
	assert.False(t, pad.Undo())
	pad.Stroke(line(0, 0, 10, 10))
	pad.Stroke(line(5, 5, 8, 8))
	require.True(t, pad.Undo())
	assert.Len(t, pad.Strokes(), 1)
	require.True(t, pad.Undo())
	assert.True(t, pad.Blank())
}

func TestHistoryEvictsOldest(t *testing.T) {
	pad := NewPad(3)
	for i := 0; i < 6; i++ {
		pad.Stroke(line(float64(i), 0, float64(i)+1, 1))
	}
	assert.Equal(t, 3, pad.History().UndoLen())
	for pad.Undo() {
	}
	// Three oldest states were evicted, so undo bottoms out at 3 strokes.
	assert.Len(t, pad.Strokes(), 3)
}

func TestStrokeCopiesPoints(t *testing.T) {
	pad := NewPad(0)
	s := line(0, 0, 10, 10)
	pad.Stroke(s)
	s.Points[0].X = 99
	assert.Equal(t, 0.0, pad.Strokes()[0].Points[0].X)
}
