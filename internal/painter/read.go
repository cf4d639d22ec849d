package painter

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/biogo/hts/sam"
	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/cigar"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/slotting"
	"github.com/genome-tiles/server/pkg/colormap"
)

// ReadPainter draws aligned reads by walking their CIGAR operations.
// RefSeq, when set, is the reference sequence starting at ViewStart and is
// used to highlight mismatching bases.
type ReadPainter struct {
	Base
	Data   []genome.Read
	RefSeq string
}

// NewReadPainter creates a read painter.
func NewReadPainter(data []genome.Read, viewStart, viewEnd int, prefs Prefs, mode, refSeq string) *ReadPainter {
	return &ReadPainter{
		Base: Base{ViewStart: viewStart, ViewEnd: viewEnd, Mode: mode, Prefs: prefs.With(Prefs{
			"block_color":      "#444",
			"label_color":      "#000",
			"show_insertions":  "false",
			"show_differences": "true",
		})},
		Data:   data,
		RefSeq: refSeq,
	}
}

// RowHeight returns the pixel height of one row. Packed rows double when
// insertions are shown above the read.
func (p *ReadPainter) RowHeight() int {
	switch p.Mode {
	case ModeDense:
		return DenseTrackHeight
	case ModeSquish:
		return SquishTrackHeight
	}
	if p.Prefs.Bool("show_insertions", false) {
		return 2 * PackTrackHeight
	}
	return PackTrackHeight
}

// RequiredHeight returns the tile height needed to show rows rows.
func (p *ReadPainter) RequiredHeight(rows, _ int) int {
	h := p.RowHeight()
	if p.Mode == ModeSquish || p.Mode == ModePack {
		h = rows * h
	}
	return h + bottomPadding(p.RowHeight())
}

// Draw implements Painter.
func (p *ReadPainter) Draw(dc *gg.Context, width, height int, ppb float64, slots map[string]int) *PositionMap {
	rowH := p.RowHeight()
	out := NewPositionMap(rowH)

	dc.Push()
	defer dc.Pop()
	dc.SetFontFace(slotting.LabelFace)
	for _, r := range p.Data {
		if r.Start >= p.ViewEnd || r.End <= p.ViewStart {
			continue
		}
		slot, ok := slots[r.UID]
		if !ok && p.Mode != ModeDense {
			continue
		}
		if p.Mode == ModeDense {
			slot = 0
		}
		xs, xe := p.drawElement(dc, r, slot, float64(rowH), width, ppb)
		out.Add(slot, Placement{UID: r.UID, Name: r.Name, Start: r.Start, End: r.End, XStart: xs, XEnd: xe})
	}
	return out
}

func (p *ReadPainter) drawElement(dc *gg.Context, r genome.Read, slot int, rowH float64, width int, ppb float64) (float64, float64) {
	tileLow, tileHigh := p.ViewStart, p.ViewEnd
	w := float64(width)
	fStart := math.Floor(math.Max(-0.5*ppb, (float64(r.Start-tileLow)-0.5)*ppb))
	fEnd := math.Ceil(math.Min(w, math.Max(0, (float64(r.End-tileLow)-0.5)*ppb)))
	yCenter := float64(slot) * rowH
	if p.Mode == ModeDense {
		yCenter = 0
	}

	if r.Paired() {
		s1, s2 := r.Segments[0], r.Segments[1]
		b1End := math.Ceil(math.Min(w, math.Max(0, float64(s1.End-tileLow)*ppb)))
		b2Start := math.Floor(math.Max(0, float64(s2.Start-tileLow)*ppb))
		connector := true
		for _, s := range r.Segments {
			if s.End >= tileLow && s.Start <= tileHigh && (s.Cigar != "" || s.Sequence != "") {
				p.drawRead(dc, yCenter, ppb, s)
			} else {
				connector = false
			}
		}
		if connector && b2Start > b1End {
			dashedLine(dc, b1End, b2Start, yCenter+5, connectorColor)
		}
	} else if len(r.Segments) == 1 {
		p.drawRead(dc, yCenter, ppb, r.Segments[0])
	}

	if p.Mode == ModePack && r.Start >= tileLow && r.Name != "" && r.Name != "." {
		drawLabel(dc, r.Name, fStart, fEnd, yCenter+8, tileLow, p.Prefs.Color("label_color", color.RGBA{0, 0, 0, 255}))
	}
	return fStart, fEnd
}

// overlapsTile reports whether [s, e) touches the tile [lo, hi].
func overlapsTile(s, e, lo, hi int) bool {
	if s < lo {
		return e > lo
	}
	return s <= hi
}

// drawRead draws one aligned segment. The CIGAR walk keeps the genomic
// offset and the offset into the read sequence apart: insertions and soft
// clips consume sequence only, deletions and skips reference only.
func (p *ReadPainter) drawRead(dc *gg.Context, yCenter, ppb float64, seg genome.ReadSegment) {
	tileLow, tileHigh := p.ViewStart, p.ViewEnd
	pack := p.Mode == ModePack
	gap := math.Round(ppb / 2)
	showDiff := p.Prefs.Bool("show_differences", true)
	showIns := p.Prefs.Bool("show_insertions", false)

	blockColor := p.Prefs.Color("block_color", colormap.MustHex("#444"))
	if seg.Strand != genome.StrandForward {
		blockColor = p.Prefs.Color("reverse_strand_color", blockColor)
	}
	blockY, blockH := yCenter+4, float64(SquishFeatureHeight)
	if pack {
		blockY, blockH = yCenter+1, PackFeatureHeight
	}

	ops, err := cigar.Parse(seg.Cigar)
	if err != nil || len(ops) == 0 {
		n := len(seg.Sequence)
		if n == 0 {
			n = seg.End - seg.Start
		}
		ops = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, n)}
	}
	if _, n := cigar.Spans(ops); n != len(seg.Sequence) {
		// Bases cannot be placed against the reference.
		seg.Sequence = ""
	}

	// Spliced reads are drawn as separate blocks joined by a thin line.
	blocks := cigar.Blocks(ops)
	for i := 1; i < len(blocks); i++ {
		gs, ge := seg.Start+blocks[i-1].End, seg.Start+blocks[i].Start
		if !overlapsTile(gs, ge, tileLow, tileHigh) {
			continue
		}
		xs := math.Floor(math.Max(-0.5*ppb, (float64(gs-tileLow)-0.5)*ppb))
		xe := math.Floor(math.Max(0, (float64(ge-tileLow)-0.5)*ppb))
		fillRect(dc, xs, yCenter+5, math.Max(1, xe-xs), 1, connectorColor)
	}

	type deferred struct {
		text string
		x, y float64
	}
	var last []deferred
	var triangles []gg.Point

	cigar.Walk(ops, func(st cigar.Step) {
		seqStart := seg.Start + st.RefOffset
		sStart := math.Floor(math.Max(-0.5*ppb, (float64(seqStart-tileLow)-0.5)*ppb))
		sEnd := math.Floor(math.Max(0, (float64(seqStart+st.Len-tileLow)-0.5)*ppb))
		if sStart == sEnd {
			sEnd++
		}

		switch st.Type {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if !overlapsTile(seqStart, seqStart+st.Len, tileLow, tileHigh) {
				return
			}
			fillRect(dc, sStart, blockY, sEnd-sStart, blockH, blockColor)
			for c := 0; c < st.Len; c++ {
				pos := seqStart + c
				if pos < tileLow || pos > tileHigh || st.SeqOffset+c >= len(seg.Sequence) {
					continue
				}
				readChar := seg.Sequence[st.SeqOffset+c : st.SeqOffset+c+1]
				refChar := ""
				if i := pos - tileLow; i >= 0 && i < len(p.RefSeq) {
					refChar = p.RefSeq[i : i+1]
				}
				// With show_differences only mismatches against a known
				// reference base are drawn.
				if showDiff && (refChar == "" || strings.EqualFold(readChar, "n") || strings.EqualFold(refChar, readChar)) {
					continue
				}
				cStart := math.Floor(math.Max(0, float64(pos-tileLow)*ppb))
				if pack && ppb > CharWidth {
					dc.SetColor(BaseColor(readChar))
					dc.DrawStringAnchored(readChar, cStart, yCenter+9, 0.5, 0)
				} else if ppb > 0.05 {
					fillRect(dc, cStart-gap, blockY, math.Max(1, math.Round(ppb)), blockH, BaseColor(readChar))
				}
			}
		case sam.CigarDeletion:
			fillRect(dc, sStart, yCenter+4, sEnd-sStart, 3, deletionColor)
		case sam.CigarInsertion:
			if !overlapsTile(seqStart, seqStart+st.Len, tileLow, tileHigh) {
				return
			}
			insertX := sStart - gap
			lettered := pack && seg.Sequence != "" && ppb > CharWidth
			if showIns {
				xCenter := sStart - (sEnd-sStart)/2
				if lettered {
					fillRect(dc, xCenter-gap, yCenter-9, sEnd-sStart, 9, insertColor)
					triangles = append(triangles, gg.Point{X: insertX, Y: yCenter + 4})
					end := min(st.SeqOffset+st.Len, len(seg.Sequence))
					for c := st.SeqOffset; c < end; c++ {
						pos := seqStart + c - st.SeqOffset
						if pos < tileLow || pos > tileHigh {
							continue
						}
						cStart := math.Floor(math.Max(0, float64(pos-tileLow)*ppb))
						dc.SetColor(connectorColor)
						dc.DrawStringAnchored(seg.Sequence[c:c+1], cStart-(sEnd-sStart)/2, yCenter, 0.5, 0)
					}
				} else if p.Mode == ModeDense {
					fillRect(dc, xCenter, yCenter+5, sEnd-sStart, DenseFeatureHeight, insertColor)
				} else {
					fillRect(dc, xCenter, yCenter+2, sEnd-sStart, SquishFeatureHeight, insertColor)
				}
			} else if lettered {
				last = append(last, deferred{text: strconv.Itoa(st.Len), x: insertX, y: yCenter + 9})
			}
		}
	})

	for _, d := range last {
		dc.SetColor(insertColor)
		dc.DrawStringAnchored(d.text, d.x, d.y, 0.5, 0)
	}
	for _, t := range triangles {
		downTriangle(dc, t.X, t.Y, 5, insertColor)
	}
}

// downTriangle draws an equilateral triangle pointing down at (x, y).
func downTriangle(dc *gg.Context, x, y, side float64, c color.Color) {
	top := y - math.Sqrt(side*3/2)
	dc.SetColor(c)
	dc.MoveTo(x-side/2, top)
	dc.LineTo(x+side/2, top)
	dc.LineTo(x, y)
	dc.ClosePath()
	dc.Fill()
}
