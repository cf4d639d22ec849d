package painter

import (
	"math"
	"strconv"
	"strings"

	"github.com/fogleman/gg"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/pkg/colormap"
)

const dividerHeight = 1

// VariantPainter draws a per-locus allele summary bar and, optionally,
// one genotype row per sample below it.
type VariantPainter struct {
	Base
	Data []genome.Variant
}

// NewVariantPainter creates a variant painter.
func NewVariantPainter(data []genome.Variant, viewStart, viewEnd int, prefs Prefs, mode string) *VariantPainter {
	return &VariantPainter{
		Base: Base{ViewStart: viewStart, ViewEnd: viewEnd, Mode: mode, Prefs: prefs.With(Prefs{
			"summary_height":   "20",
			"show_sample_data": "true",
		})},
		Data: data,
	}
}

// RowHeight returns the height of one sample row.
func (p *VariantPainter) RowHeight() int {
	switch p.Mode {
	case ModeDense:
		return DenseTrackHeight
	case ModeSquish:
		return SquishTrackHeight
	}
	return PackTrackHeight
}

func (p *VariantPainter) summaryHeight() float64 {
	return p.Prefs.FloatOr("summary_height", 20)
}

// RequiredHeight returns the summary height plus one row per sample.
func (p *VariantPainter) RequiredHeight(_, _ int) int {
	h := int(p.summaryHeight())
	if p.Prefs.Bool("show_sample_data", true) {
		h += dividerHeight
		if len(p.Data) > 0 {
			h += len(p.Data[0].Genotypes) * p.RowHeight()
		}
	}
	return h
}

// Draw implements Painter.
func (p *VariantPainter) Draw(dc *gg.Context, width, height int, ppb float64, _ map[string]int) *PositionMap {
	summary := p.summaryHeight()
	out := NewPositionMap(int(summary))
	showSamples := p.Prefs.Bool("show_sample_data", true)

	basePx := math.Max(1, math.Floor(ppb))
	rowH := float64(PackTrackHeight)
	featureH := float64(PackFeatureHeight)
	if p.Mode == ModeSquish {
		rowH, featureH = SquishTrackHeight, SquishFeatureHeight
	}
	if ppb < 0.1 {
		featureH = rowH
	}

	if showSamples {
		fillRect(dc, 0, summary-dividerHeight, float64(width), dividerHeight, colormap.MustHex("#DDDDDD"))
	}

	for _, v := range p.Data {
		drawX := math.Floor(math.Max(-0.5*ppb, (float64(v.Pos-p.ViewStart)-0.5)*ppb))
		charX := math.Floor(math.Max(0, float64(v.Pos-p.ViewStart)*ppb))
		out.Add(0, Placement{UID: v.UID, Name: v.ID, Start: v.Pos, End: v.End(), XStart: drawX, XEnd: drawX + basePx})

		// Allele fractions are stacked upwards from the bottom of the bar.
		fillRect(dc, drawX, 0, basePx, summary, colormap.MustHex("#AAAAAA"))
		y := summary
		for j, alt := range v.Alt {
			h := math.Ceil(summary * v.AlleleFraction(j))
			fillRect(dc, drawX, y-h, basePx, h, BaseColor(alt))
			y -= h
		}
		if !showSamples {
			continue
		}

		y = summary + dividerHeight
		for _, gt := range v.Genotypes {
			if alt, alpha, ok := calledAllele(gt, v.Alt); ok {
				c := fade(BaseColor(alt), alpha)
				if p.Mode == ModeSquish || ppb < CharWidth {
					fillRect(dc, drawX, y+1, basePx, featureH, c)
				} else {
					dc.SetColor(c)
					dc.DrawStringAnchored(alt, charX, y+rowH, 0.5, 0)
				}
			}
			y += rowH
		}
	}
	return out
}

// calledAllele returns the non-reference allele of a genotype such as
// "0/1" or "1|1". Heterozygous calls are drawn translucent.
func calledAllele(gt string, alts []string) (string, float64, bool) {
	parts := strings.FieldsFunc(gt, func(r rune) bool { return r == '/' || r == '|' })
	if len(parts) < 2 {
		parts = []string{"0", "0"}
	}
	pick, alpha := "", 1.0
	switch {
	case parts[0] == parts[1]:
		if parts[0] == "." || parts[0] == "0" {
			return "", 0, false
		}
		pick = parts[0]
	case parts[0] != "0":
		pick, alpha = parts[0], 0.4
	default:
		pick, alpha = parts[1], 0.4
	}
	i, err := strconv.Atoi(pick)
	if err != nil || i < 1 || i > len(alts) {
		return "", 0, false
	}
	return alts[i-1], alpha, true
}

