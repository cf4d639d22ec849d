// Package painter draws track data onto tile surfaces. Painters only touch
// the gg.Context they are handed; data, slots and preferences are inputs.
package painter

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/genome-tiles/server/internal/slotting"
	"github.com/genome-tiles/server/pkg/colormap"
)

// Display modes.
const (
	ModeAuto     = "Auto"
	ModeDense    = "Dense"
	ModeSquish   = "Squish"
	ModePack     = "Pack"
	ModeNoDetail = "no_detail"

	ModeHistogram = "Histogram"
	ModeLine      = "Line"
	ModeFilled    = "Filled"
	ModeIntensity = "Intensity"

	ModeHeatmap = "Heatmap"
)

// Row and feature heights in pixels, per mode.
const (
	DenseTrackHeight    = 10
	NoDetailTrackHeight = 3
	SquishTrackHeight   = 5
	PackTrackHeight     = 10

	NoDetailFeatureHeight = 1
	DenseFeatureHeight    = 9
	SquishFeatureHeight   = 3
	PackFeatureHeight     = 9
)

var (
	connectorColor = colormap.MustHex("#ccc")
	overflowColor  = colormap.MustHex("#F66")
	insertColor    = color.RGBA{255, 255, 0, 255}
	deletionColor  = color.RGBA{0, 0, 0, 255}

	// CharWidth is the advance of the label face; bases are drawn as
	// letters once a base is wider than this.
	CharWidth = float64(basicfont.Face7x13.Advance)
)

// Painter draws one tile. ppb is pixels per base; slots maps feature
// UIDs to rows for row-packed modes and may be nil otherwise.
type Painter interface {
	Draw(dc *gg.Context, width, height int, ppb float64, slots map[string]int) *PositionMap
}

// RowPainter is a painter that lays data out in rows.
type RowPainter interface {
	Painter
	RowHeight() int
	RequiredHeight(rows, width int) int
}

// Base holds what every painter is built with: the genomic extent of the
// tile, the display mode and the preferences of the track.
type Base struct {
	ViewStart int
	ViewEnd   int
	Mode      string
	Prefs     Prefs
}

// Prefs are string-valued track preferences.
type Prefs map[string]string

// Color returns the color under key, or def.
func (p Prefs) Color(key string, def color.RGBA) color.RGBA {
	return colormap.HexOr(p[key], def)
}

// Float returns the number under key.
func (p Prefs) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FloatOr returns the number under key, or def.
func (p Prefs) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// Bool returns the flag under key, or def.
func (p Prefs) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// With returns a copy of p with defaults filled in for missing keys.
func (p Prefs) With(defaults Prefs) Prefs {
	out := make(Prefs, len(p)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

var baseColors = map[byte]color.RGBA{
	'a': colormap.MustHex("#FF0000"),
	'c': colormap.MustHex("#00FF00"),
	'g': colormap.MustHex("#0000FF"),
	't': colormap.MustHex("#FF00FF"),
	'n': colormap.MustHex("#AAAAAA"),
}

// BaseColor returns the color of a nucleotide. Anything other than a
// single a, c, g, t or n is black.
func BaseColor(b string) color.RGBA {
	if len(b) == 1 {
		if c, ok := baseColors[strings.ToLower(b)[0]]; ok {
			return c
		}
	}
	return color.RGBA{0, 0, 0, 255}
}

// fillRect fills an axis-aligned rectangle. Negative extents grow the
// rectangle towards smaller coordinates.
func fillRect(dc *gg.Context, x, y, w, h float64, c color.Color) {
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	if w == 0 || h == 0 {
		return
	}
	dc.SetColor(c)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
}

// fade applies alpha to c.
func fade(c color.RGBA, alpha float64) color.Color {
	if alpha >= 1 {
		return c
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(255 * math.Max(0, alpha)))}
}

// drawLabel draws a feature name beside [start, end). Names go to the
// left unless the tile is the first one and the left side is cut off.
func drawLabel(dc *gg.Context, name string, start, end, y float64, tileLow int, c color.RGBA) (drawStart, drawEnd float64) {
	w := slotting.MeasureLabel(name)
	dc.SetFontFace(slotting.LabelFace)
	dc.SetColor(c)
	if tileLow == 0 && start-w < 0 {
		dc.DrawStringAnchored(name, end+slotting.LabelSpacing, y, 0, 0)
		return start, end + w + slotting.LabelSpacing
	}
	dc.DrawStringAnchored(name, start-slotting.LabelSpacing, y, 1, 0)
	return start - w - slotting.LabelSpacing, end
}

// drawStrand marks direction with chevrons every 10px inside a box.
func drawStrand(dc *gg.Context, x, y, w, h float64, strand string, c color.Color) {
	if (strand != "+" && strand != "-") || w < 8 {
		return
	}
	dc.Push()
	dc.SetColor(c)
	dc.SetLineWidth(1)
	mid := y + h/2
	for cx := x + 4; cx+3 <= x+w; cx += 10 {
		if strand == "+" {
			dc.MoveTo(cx, mid-2)
			dc.LineTo(cx+2, mid)
			dc.LineTo(cx, mid+2)
		} else {
			dc.MoveTo(cx+2, mid-2)
			dc.LineTo(cx, mid)
			dc.LineTo(cx+2, mid+2)
		}
	}
	dc.Stroke()
	dc.Pop()
}

// dashedLine draws a 1px high dashed horizontal segment.
func dashedLine(dc *gg.Context, x1, x2, y float64, c color.Color) {
	const dash = 4.0
	n := int(math.Floor((x2 - x1) / dash))
	for q := 0; q < n; q += 2 {
		fillRect(dc, x1+float64(q)*dash, y, dash, 1, c)
	}
}
