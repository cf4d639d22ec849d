package painter

import (
	"math"

	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/pkg/colormap"
)

// SignalPainter draws continuous values as a histogram, line, filled
// area or intensity band.
type SignalPainter struct {
	Base
	Data []genome.SignalPoint
	Min  float64
	Max  float64
}

// NewSignalPainter creates a signal painter. min_value and max_value
// prefs bound the vertical range; missing bounds come from the data.
func NewSignalPainter(data []genome.SignalPoint, viewStart, viewEnd int, prefs Prefs, mode string) *SignalPainter {
	p := &SignalPainter{
		Base: Base{ViewStart: viewStart, ViewEnd: viewEnd, Mode: mode, Prefs: prefs.With(Prefs{
			"color":          "#000",
			"overflow_color": "#F66",
		})},
		Data: data,
	}
	if v, ok := p.Prefs.Float("min_value"); ok {
		p.Min = v
	} else {
		p.Min = math.Inf(1)
		for _, d := range data {
			if !d.Missing {
				p.Min = math.Min(p.Min, d.Value)
			}
		}
	}
	if v, ok := p.Prefs.Float("max_value"); ok {
		p.Max = v
	} else {
		p.Max = math.Inf(-1)
		for _, d := range data {
			if !d.Missing {
				p.Max = math.Max(p.Max, d.Value)
			}
		}
	}
	return p
}

// DefaultRange derives display bounds from dataset statistics: two
// standard deviations around the mean, always including zero.
func DefaultRange(s genome.Stats) (lo, hi float64) {
	lo = math.Floor(math.Min(0, math.Max(s.Min, s.Mean-2*s.SD)))
	hi = math.Ceil(math.Max(0, math.Min(s.Max, s.Mean+2*s.SD)))
	return lo, hi
}

// Draw implements Painter.
func (p *SignalPainter) Draw(dc *gg.Context, width, height int, ppb float64, _ map[string]int) *PositionMap {
	out := NewPositionMap(0)
	if len(p.Data) == 0 || math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) {
		return out
	}

	h := float64(height)
	span := p.Max - p.Min
	if span == 0 {
		span = 1
	}
	col := p.Prefs.Color("color", colormap.MustHex("#000"))
	over := p.Prefs.Color("overflow_color", overflowColor)

	yZero := math.Round(h + p.Min/span*h)
	if p.Mode != ModeIntensity {
		fillRect(dc, 0, yZero, float64(width), 1, colormap.MustHex("#aaa"))
	}

	dx := 10.0
	if len(p.Data) > 1 {
		dx = math.Ceil(float64(p.Data[1].Pos-p.Data[0].Pos) * ppb)
	}

	// Line and Filled paths are collected so that overflow markers, which
	// are separate fills, do not end up in the path.
	var (
		paths   [][]gg.Point
		cur     []gg.Point
		inPath  bool
		markers []struct{ x, w, y float64 }
		x, y    float64
	)
	for _, d := range p.Data {
		x = math.Round((float64(d.Pos-p.ViewStart) - 0.5) * ppb)
		if d.Missing {
			if inPath && p.Mode == ModeFilled {
				cur = append(cur, gg.Point{X: x, Y: h})
			}
			if inPath {
				paths = append(paths, cur)
				cur = nil
			}
			inPath = false
			continue
		}

		v := d.Value
		top, bottom := false, false
		if v < p.Min {
			bottom, v = true, p.Min
		} else if v > p.Max {
			top, v = true, p.Max
		}

		switch p.Mode {
		case ModeHistogram:
			y = math.Round(v / span * h)
			fillRect(dc, x, yZero, dx, -y, col)
		case ModeIntensity:
			if scheme, ok := colormap.ByName(p.Prefs["colormap"]); ok {
				fillRect(dc, x, 0, dx, h, scheme.At((v-p.Min)/span))
			} else {
				fillRect(dc, x, 0, dx, h, colormap.Tint(col, (v-p.Min)/span))
			}
		default:
			y = math.Round(h - (v-p.Min)/span*h)
			if !inPath {
				inPath = true
				if p.Mode == ModeFilled {
					cur = append(cur, gg.Point{X: x, Y: h})
				}
			}
			cur = append(cur, gg.Point{X: x, Y: y})
		}

		if top || bottom {
			mx, mw := x, dx
			if p.Mode != ModeHistogram && p.Mode != ModeIntensity {
				mx, mw = x-2, 4
			}
			if top {
				markers = append(markers, struct{ x, w, y float64 }{mx, mw, 0})
			}
			if bottom {
				markers = append(markers, struct{ x, w, y float64 }{mx, mw, h - 3})
			}
		}
	}
	if inPath {
		if p.Mode == ModeFilled {
			cur = append(cur, gg.Point{X: x, Y: yZero}, gg.Point{X: 0, Y: yZero})
		}
		paths = append(paths, cur)
	}

	if len(paths) > 0 {
		dc.SetColor(col)
		dc.SetLineWidth(1)
		for _, path := range paths {
			dc.MoveTo(path[0].X, path[0].Y)
			for _, pt := range path[1:] {
				dc.LineTo(pt.X, pt.Y)
			}
		}
		if p.Mode == ModeFilled {
			dc.Fill()
		} else {
			dc.Stroke()
		}
	}
	for _, m := range markers {
		fillRect(dc, m.x, m.y, m.w, 3, over)
	}
	return out
}
