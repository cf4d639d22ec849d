package painter

import (
	"math"

	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/pkg/colormap"
)

// HeatmapPainter draws pairwise interactions as a triangle below the
// genome axis. Each cell is a square in (first interval, second interval)
// space, turned 45 degrees so the diagonal lies along the tile.
type HeatmapPainter struct {
	Base
	Data []genome.HeatmapCell
	Min  float64
	Max  float64
}

// NewHeatmapPainter creates a diagonal heatmap painter.
func NewHeatmapPainter(data []genome.HeatmapCell, viewStart, viewEnd int, prefs Prefs, mode string) *HeatmapPainter {
	p := &HeatmapPainter{
		Base: Base{ViewStart: viewStart, ViewEnd: viewEnd, Mode: mode, Prefs: prefs.With(Prefs{
			"pos_color": "#FF8C00",
			"neg_color": "#4169E1",
		})},
		Data: data,
	}
	if v, ok := p.Prefs.Float("min_value"); ok {
		p.Min = v
	} else {
		p.Min = math.Inf(1)
		for _, c := range data {
			p.Min = math.Min(p.Min, c.Value)
		}
	}
	if v, ok := p.Prefs.Float("max_value"); ok {
		p.Max = v
	} else {
		p.Max = math.Inf(-1)
		for _, c := range data {
			p.Max = math.Max(p.Max, c.Value)
		}
	}
	return p
}

// Ramp returns the value-to-color mapping in use.
func (p *HeatmapPainter) Ramp() colormap.SplitRamp {
	return colormap.SplitRamp{
		Neg:    p.Prefs.Color("neg_color", colormap.MustHex("#4169E1")),
		Middle: colormap.MustHex("#FFFFFF"),
		Pos:    p.Prefs.Color("pos_color", colormap.MustHex("#FF8C00")),
		Min:    p.Min,
		Max:    p.Max,
	}
}

// Draw implements Painter.
func (p *HeatmapPainter) Draw(dc *gg.Context, width, height int, ppb float64, _ map[string]int) *PositionMap {
	out := NewPositionMap(0)
	if len(p.Data) == 0 {
		return out
	}
	ramp := p.Ramp()
	scale := func(pos int) float64 { return float64(pos-p.ViewStart) * ppb }

	dc.Push()
	defer dc.Pop()
	dc.Rotate(-math.Pi / 4)
	dc.Scale(1/math.Sqrt2, 1/math.Sqrt2)
	for _, c := range p.Data {
		s1, e1 := scale(c.Start1), scale(c.End1)
		s2, e2 := scale(c.Start2), scale(c.End2)
		fillRect(dc, s1, s2, e1-s1, e2-s2, ramp.Map(c.Value))
	}
	return out
}
