package painter

import (
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/pkg/colormap"
)

// Scaler derives a per-feature factor in [0, 1]. A nil Scaler is 1.
type Scaler func(f genome.Feature) float64

func (s Scaler) value(f genome.Feature) float64 {
	if s == nil {
		return 1
	}
	return s(f)
}

// FeaturePainter draws linked features: blocks joined by a connector,
// with thick coding sub-intervals and strand marks. With Arcs set, blocks
// are joined by arcs above the row instead of a background connector.
type FeaturePainter struct {
	Base
	Data        []genome.Feature
	AlphaScaler Scaler
	HeightScale Scaler
	Arcs        bool

	longest int
}

// NewFeaturePainter creates a linked-feature painter.
func NewFeaturePainter(data []genome.Feature, viewStart, viewEnd int, prefs Prefs, mode string) *FeaturePainter {
	p := &FeaturePainter{
		Base: Base{ViewStart: viewStart, ViewEnd: viewEnd, Mode: mode, Prefs: prefs.With(Prefs{
			"block_color": "#444",
			"label_color": "#000",
		})},
		Data: data,
	}
	p.Arcs = p.Prefs["connector_style"] == "arcs"
	for _, f := range data {
		p.longest = max(p.longest, f.End-f.Start)
	}
	return p
}

// RowHeight returns the pixel height of one row in the current mode.
func (p *FeaturePainter) RowHeight() int {
	return featureRowHeight(p.Mode)
}

func featureRowHeight(mode string) int {
	switch mode {
	case ModeDense:
		return DenseTrackHeight
	case ModeNoDetail:
		return NoDetailTrackHeight
	case ModeSquish:
		return SquishTrackHeight
	}
	return PackTrackHeight
}

// TopPadding is the space above the first row; arcs need room to rise.
func (p *FeaturePainter) TopPadding(width int) int {
	if !p.Arcs || p.ViewEnd <= p.ViewStart {
		return 0
	}
	ppb := float64(width) / float64(p.ViewEnd-p.ViewStart)
	return int(math.Min(128, math.Ceil(float64(p.longest)/2*ppb)))
}

// BottomPadding is the space below the last row.
func (p *FeaturePainter) BottomPadding(int) int {
	return bottomPadding(p.RowHeight())
}

func bottomPadding(rowHeight int) int {
	return max(int(math.Round(float64(rowHeight)/2)), 5)
}

// RequiredHeight returns the tile height needed to show rows rows.
func (p *FeaturePainter) RequiredHeight(rows, width int) int {
	h := p.RowHeight()
	switch p.Mode {
	case ModeNoDetail, ModeSquish, ModePack:
		h = rows * h
	}
	return h + p.TopPadding(width) + p.BottomPadding(width)
}

// Draw implements Painter. Outside Dense mode only slotted features are
// drawn.
func (p *FeaturePainter) Draw(dc *gg.Context, width, height int, ppb float64, slots map[string]int) *PositionMap {
	rowH := p.RowHeight()
	out := NewPositionMap(rowH)
	out.YTranslation = float64(p.TopPadding(width))

	dc.Push()
	defer dc.Pop()
	for _, f := range p.Data {
		if f.Start >= p.ViewEnd || f.End <= p.ViewStart {
			continue
		}
		slot, ok := slots[f.UID]
		if !ok && p.Mode != ModeDense {
			continue
		}
		if p.Mode == ModeDense {
			slot = 0
		}
		xs, xe := p.drawElement(dc, f, slot, float64(rowH), width, ppb)
		out.Add(slot, Placement{UID: f.UID, Name: f.Name, Start: f.Start, End: f.End, XStart: xs, XEnd: xe})
	}
	return out
}

func (p *FeaturePainter) drawElement(dc *gg.Context, f genome.Feature, slot int, rowH float64, width int, ppb float64) (float64, float64) {
	tileLow := p.ViewStart
	w := float64(width)
	fStart := math.Floor(math.Max(0, (float64(f.Start-tileLow)-0.5)*ppb))
	fEnd := math.Ceil(math.Min(w, math.Max(0, (float64(f.End-tileLow)-0.5)*ppb)))
	drawStart, drawEnd := fStart, fEnd

	yCenter := float64(slot)*rowH + float64(p.TopPadding(width))
	if p.Mode == ModeDense {
		yCenter = float64(p.TopPadding(width))
	}

	blockColor := p.Prefs.Color("block_color", colormap.MustHex("#444"))
	if f.Strand == genome.StrandReverse {
		blockColor = p.Prefs.Color("reverse_strand_color", blockColor)
	}
	alpha := p.AlphaScaler.value(f)
	fill := fade(blockColor, alpha)
	strand := string(f.Strand)

	if p.Mode == ModeNoDetail {
		fillRect(dc, fStart, yCenter+5, fEnd-fStart, NoDetailFeatureHeight, fill)
		return drawStart, drawEnd
	}

	thinH, thickH, fullHeight := 5.0, float64(PackFeatureHeight), true
	switch p.Mode {
	case ModeSquish:
		thinH, thickH, fullHeight = 1, SquishFeatureHeight, false
	case ModeDense:
		thickH = DenseFeatureHeight
	}

	thickStart, thickEnd, hasThick := f.Thick()
	var tStart, tEnd float64
	if hasThick {
		tStart = math.Floor(math.Max(0, float64(thickStart-tileLow)*ppb))
		tEnd = math.Ceil(math.Min(w, math.Max(0, float64(thickEnd-tileLow)*ppb)))
	}

	if len(f.Blocks) == 0 {
		fillRect(dc, fStart, yCenter+1, fEnd-fStart, thickH, fill)
		if fullHeight {
			drawStrand(dc, fStart, yCenter+1, fEnd-fStart, thickH, strand, color.White)
		}
	} else {
		connY, connH := yCenter+math.Floor(SquishFeatureHeight/2)+1, 1.0
		if p.Mode == ModePack && strand != "" && strand != "." {
			connY, connH = yCenter, thickH
		}
		if !p.Arcs {
			if p.Mode == ModePack && connH > 1 {
				drawStrand(dc, fStart, connY, fEnd-fStart, connH, strand, connectorColor)
				fillRect(dc, fStart, connY+math.Floor(connH/2), fEnd-fStart, 1, connectorColor)
			} else {
				fillRect(dc, fStart, connY, fEnd-fStart, connH, connectorColor)
			}
		}

		lastEnd, haveLast := 0.0, false
		for _, b := range f.Blocks {
			bStart := math.Floor(math.Max(0, (float64(b.Start-tileLow)-0.5)*ppb))
			bEnd := math.Ceil(math.Min(w, (float64(b.End-tileLow)-0.5)*ppb))
			if bStart > bEnd {
				continue
			}
			fillRect(dc, bStart, yCenter+(thickH-thinH)/2+1, bEnd-bStart, thinH, fill)
			if hasThick && thickEnd > thickStart && !(bStart > tEnd || bEnd < tStart) {
				ts, te := math.Max(bStart, tStart), math.Min(bEnd, tEnd)
				fillRect(dc, ts, yCenter+1, te-ts, thickH, fill)
				if len(f.Blocks) == 1 && p.Mode == ModePack {
					if ts+14 < te {
						ts, te = ts+2, te-2
					}
					drawStrand(dc, ts, yCenter+1, te-ts, thickH, strand, color.White)
				}
			}
			if p.Arcs && haveLast {
				p.drawArc(dc, lastEnd, bStart, yCenter)
			}
			lastEnd, haveLast = bEnd, true
		}

		if p.Mode == ModePack {
			// Shrink the feature towards its center by the height scaler.
			hs := p.HeightScale.value(f)
			newH := math.Ceil(thickH * hs)
			ws := math.Round((thickH - newH) / 2)
			if hs != 1 {
				fillRect(dc, fStart, connY+1, fEnd-fStart, ws, color.White)
				fillRect(dc, fStart, connY+thickH-ws+1, fEnd-fStart, ws, color.White)
			}
		}
	}

	if f.Name != "" && p.Mode == ModePack && f.Start > tileLow {
		drawStart, drawEnd = drawLabel(dc, f.Name, fStart, fEnd, yCenter+8, tileLow, p.Prefs.Color("label_color", color.RGBA{0, 0, 0, 255}))
	}
	return drawStart, drawEnd
}

func (p *FeaturePainter) drawArc(dc *gg.Context, end1, start2, y float64) {
	xc := (end1 + start2) / 2
	r := start2 - xc
	if r <= 0 {
		return
	}
	dc.SetColor(p.Prefs.Color("block_color", colormap.MustHex("#444")))
	dc.SetLineWidth(1)
	dc.NewSubPath()
	dc.DrawArc(xc, y, r, math.Pi, 2*math.Pi)
	dc.Stroke()
}
