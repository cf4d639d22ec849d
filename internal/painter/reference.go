package painter

import (
	"math"

	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/slotting"
)

// ReferencePainter draws a reference sequence that starts at ViewStart,
// as letters when a base is wider than a character and as colored ticks
// otherwise.
type ReferencePainter struct {
	Base
	Seq string
}

// NewReferencePainter creates a reference sequence painter.
func NewReferencePainter(seq string, viewStart, viewEnd int) *ReferencePainter {
	return &ReferencePainter{Base: Base{ViewStart: viewStart, ViewEnd: viewEnd}, Seq: seq}
}

// RowHeight returns the height of the sequence row.
func (p *ReferencePainter) RowHeight() int { return DenseTrackHeight }

// RequiredHeight returns the height of the sequence row.
func (p *ReferencePainter) RequiredHeight(_, _ int) int { return DenseTrackHeight }

// Draw implements Painter.
func (p *ReferencePainter) Draw(dc *gg.Context, width, height int, ppb float64, _ map[string]int) *PositionMap {
	dc.Push()
	defer dc.Pop()
	dc.SetFontFace(slotting.LabelFace)
	for i := 0; i < len(p.Seq) && p.ViewStart+i < p.ViewEnd; i++ {
		b := p.Seq[i : i+1]
		x := math.Floor(float64(i) * ppb)
		if ppb > CharWidth {
			dc.SetColor(BaseColor(b))
			dc.DrawStringAnchored(b, x+ppb/2, DenseTrackHeight, 0.5, 0)
		} else {
			fillRect(dc, x, 0, math.Max(1, math.Round(ppb)), DenseTrackHeight, BaseColor(b))
		}
	}
	return NewPositionMap(0)
}
