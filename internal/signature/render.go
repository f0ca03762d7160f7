package signature

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/vector"
)

// Reference resolution of the drawing and typing canvases.
const (
	CanvasWidth  = 600
	CanvasHeight = 200
)

// Point is a pointer sample in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one pointer-down to pointer-up path.
type Stroke struct {
	Points []Point `json:"points"`
}

var namedColors = map[string]color.RGBA{
	"black":     {0, 0, 0, 255},
	"blue":      {0, 0, 255, 255},
	"navy":      {0, 0, 128, 255},
	"darkblue":  {0, 0, 139, 255},
	"red":       {255, 0, 0, 255},
	"green":     {0, 128, 0, 255},
	"gray":      {128, 128, 128, 255},
	"darkgreen": {0, 100, 0, 255},
}

// ParseColor accepts a CSS-style hex color (#rgb or #rrggbb) or a small
// set of names.  An empty string means black.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return namedColors["black"], nil
	}
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
}

// renderStrokes paints strokes onto a transparent canvas.  Each segment is
// filled as a quad with round joins, all wound the same way so overlaps
// saturate instead of cancelling.
func renderStrokes(strokes []Stroke, c color.RGBA, width float64) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	src := image.NewUniform(c)
	r := width / 2
	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		s = inset(s, r+1)
		minX, minY, maxX, maxY := bounds(s.Points, r+1)
		if maxX <= minX || maxY <= minY {
			continue
		}
		z := vector.NewRasterizer(maxX-minX, maxY-minY)
		ox, oy := float64(minX), float64(minY)
		for i, p := range s.Points {
			disc(z, p.X-ox, p.Y-oy, r)
			if i > 0 {
				q := s.Points[i-1]
				quad(z, q.X-ox, q.Y-oy, p.X-ox, p.Y-oy, r)
			}
		}
		z.Draw(dst, image.Rect(minX, minY, maxX, maxY), src, image.Point{})
	}
	return dst
}

// inset clamps points so the stroke outline stays on the canvas; the
// rasterizer does not clip geometry outside its bounds.
func inset(s Stroke, m float64) Stroke {
	out := Stroke{Points: make([]Point, len(s.Points))}
	for i, p := range s.Points {
		out.Points[i] = Point{
			X: math.Max(m, math.Min(CanvasWidth-m, p.X)),
			Y: math.Max(m, math.Min(CanvasHeight-m, p.Y)),
		}
	}
	return out
}

func bounds(pts []Point, pad float64) (int, int, int, int) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	clampInt := func(v float64, hi int) int {
		return int(math.Max(0, math.Min(float64(hi), v)))
	}
	return clampInt(math.Floor(minX-pad), CanvasWidth), clampInt(math.Floor(minY-pad), CanvasHeight),
		clampInt(math.Ceil(maxX+pad), CanvasWidth), clampInt(math.Ceil(maxY+pad), CanvasHeight)
}

// disc adds a counter-clockwise polygonal circle.
func disc(z *vector.Rasterizer, cx, cy, r float64) {
	const segments = 16
	z.MoveTo(float32(cx+r), float32(cy))
	for i := 1; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / segments
		z.LineTo(float32(cx+r*math.Cos(a)), float32(cy-r*math.Sin(a)))
	}
	z.ClosePath()
}

// quad adds the rectangle around segment a-b, counter-clockwise.
func quad(z *vector.Rasterizer, ax, ay, bx, by, r float64) {
	dx, dy := bx-ax, by-ay
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*r, dx/l*r
	pts := [4][2]float64{
		{ax + nx, ay + ny},
		{bx + nx, by + ny},
		{bx - nx, by - ny},
		{ax - nx, ay - ny},
	}
	if signedArea(pts) > 0 {
		pts[1], pts[3] = pts[3], pts[1]
	}
	z.MoveTo(float32(pts[0][0]), float32(pts[0][1]))
	for _, p := range pts[1:] {
		z.LineTo(float32(p[0]), float32(p[1]))
	}
	z.ClosePath()
}

// signedArea is positive for clockwise winding in y-down coordinates.
func signedArea(pts [4][2]float64) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i][0]*pts[j][1] - pts[j][0]*pts[i][1]
	}
	return a / 2
}

// encodeDataURI encodes img as a PNG data URI.
func encodeDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
