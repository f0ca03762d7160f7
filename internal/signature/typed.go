package signature

import (
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomediumitalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcapsitalic"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultFont is used when a typed signature names no font.
const DefaultFont = "script"

// Font sizes, in points at 72 DPI, for the typed canvas.
const (
	typedMaxSize = 64
	typedMinSize = 18
	stampSize    = 14
	sideMargin   = 24
)

var fontSources = map[string][]byte{
	"script":     goitalic.TTF,
	"bold":       gobolditalic.TTF,
	"elegant":    gomediumitalic.TTF,
	"formal":     gosmallcapsitalic.TTF,
	"typewriter": gomonoitalic.TTF,
}

var (
	fontsMu   sync.Mutex
	parsed    = map[string]*opentype.Font{}
	stampFont *opentype.Font
)

// Fonts lists the decorative font names accepted by typed signatures.
func Fonts() []string {
	out := make([]string, 0, len(fontSources))
	for k := range fontSources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func loadFont(name string) (*opentype.Font, error) {
	fontsMu.Lock()
	defer fontsMu.Unlock()
	if f, ok := parsed[name]; ok {
		return f, nil
	}
	src, ok := fontSources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFont, name)
	}
	f, err := opentype.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", name, err)
	}
	parsed[name] = f
	return f, nil
}

func loadStampFont() (*opentype.Font, error) {
	fontsMu.Lock()
	defer fontsMu.Unlock()
	if stampFont != nil {
		return stampFont, nil
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse stamp font: %w", err)
	}
	stampFont = f
	return f, nil
}

func face(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// renderTyped draws text centred on the canvas.  When stamp is non-empty
// it is drawn in a small face below the text.
func renderTyped(text, fontName string, c color.RGBA, stamp string) (*image.RGBA, error) {
	f, err := loadFont(fontName)
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	src := image.NewUniform(c)

	textArea := CanvasHeight
	if stamp != "" {
		textArea = CanvasHeight - 40
	}

	// Shrink until the text fits between the side margins.
	var fc font.Face
	for size := float64(typedMaxSize); ; size -= 2 {
		fc, err = face(f, size)
		if err != nil {
			return nil, fmt.Errorf("font face: %w", err)
		}
		w := font.MeasureString(fc, text)
		if w.Ceil() <= CanvasWidth-2*sideMargin || size <= typedMinSize {
			break
		}
		_ = fc.Close()
	}
	defer fc.Close()

	m := fc.Metrics()
	w := font.MeasureString(fc, text)
	x := (fixed.I(CanvasWidth) - w) / 2
	// Baseline that centres the ascent+descent box in the text area.
	y := (fixed.I(textArea)-(m.Ascent+m.Descent))/2 + m.Ascent
	d := font.Drawer{Dst: dst, Src: src, Face: fc, Dot: fixed.Point26_6{X: x, Y: y}}
	d.DrawString(text)

	if stamp != "" {
		sf, err := loadStampFont()
		if err != nil {
			return nil, err
		}
		small, err := face(sf, stampSize)
		if err != nil {
			return nil, fmt.Errorf("stamp face: %w", err)
		}
		defer small.Close()
		sw := font.MeasureString(small, stamp)
		d = font.Drawer{
			Dst:  dst,
			Src:  src,
			Face: small,
			Dot:  fixed.Point26_6{X: (fixed.I(CanvasWidth) - sw) / 2, Y: fixed.I(CanvasHeight - 14)},
		}
		d.DrawString(stamp)
	}
	return dst, nil
}
