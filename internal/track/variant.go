package track

import (
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
)

// VariantTrack draws variant sites with per-sample genotypes.
type VariantTrack struct {
	*Base
}

// NewVariantTrack creates a variant track.
func NewVariantTrack(tc config.TrackConfig, deps Deps) (*VariantTrack, error) {
	data, err := newManager(tc, genome.KindVariants, deps)
	if err != nil {
		return nil, err
	}
	t := &VariantTrack{}
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *VariantTrack) dataMode(mode string) string {
	return coverageMode(mode)
}

func (t *VariantTrack) drawMode(mode string, d *genome.Dataset, viewLen int) string {
	if d.Kind == genome.KindSignal {
		return painter.ModeHistogram
	}
	if mode == painter.ModeAuto {
		if viewLen > MinSquishViewWidth {
			return painter.ModeSquish
		}
		return painter.ModePack
	}
	return mode
}

func (t *VariantTrack) prepare(in drawInput) plan {
	if in.data.Kind == genome.KindSignal {
		return coveragePlan(in)
	}
	p := painter.NewVariantPainter(in.data.Variants, in.region.Start, in.region.End, in.prefs, in.mode)
	return plan{
		painter:    p,
		height:     p.RequiredHeight(0, in.width),
		allSlotted: true,
	}
}
