package track

import (
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/slotting"
)

// continuousModes are drawn from coverage data.
var continuousModes = map[string]bool{
	painter.ModeHistogram: true,
	painter.ModeLine:      true,
	painter.ModeFilled:    true,
	painter.ModeIntensity: true,
}

func coverageMode(mode string) string {
	if continuousModes[mode] {
		return "Coverage"
	}
	return mode
}

// autoMode picks the feature display mode for Auto: summaries stay
// summaries, wide views squish, narrow views pack.
func autoMode(d *genome.Dataset, viewLen int) string {
	switch {
	case d.NoDetail():
		return painter.ModeNoDetail
	case viewLen > MinSquishViewWidth:
		return painter.ModeSquish
	}
	return painter.ModePack
}

// coveragePlan draws a coverage summary in place of features.
func coveragePlan(in drawInput) plan {
	return plan{
		painter:    painter.NewSignalPainter(in.data.Signal, in.region.Start, in.region.End, in.prefs, painter.ModeHistogram),
		height:     SummaryHeight,
		allSlotted: true,
	}
}

// rowTrack is the slotting shared by feature and read tracks.
type rowTrack struct {
	slotters *slotting.Set
}

func (r *rowTrack) slot(in drawInput, items []slotting.Item) (map[string]int, int, bool) {
	s := r.slotters.Get(in.ppb, in.mode, in.mode == painter.ModePack)
	rows, all := s.SlotFeatures(items)
	return s.Slots(), rows, all
}

// increaseRows raises the row limit and drops tiles laid out under the
// old one.
func (r *rowTrack) increaseRows(b *Base) int {
	n := r.slotters.IncreaseRows()
	b.tiles.Clear()
	b.RequestDraw(DrawOptions{ClearTileCache: true})
	return n
}

// FeatureTrack draws interval features, linked blocks and labels.
type FeatureTrack struct {
	*Base
	rowTrack
}

// NewFeatureTrack creates a feature track.
func NewFeatureTrack(tc config.TrackConfig, deps Deps) (*FeatureTrack, error) {
	data, err := newManager(tc, genome.KindFeatures, deps)
	if err != nil {
		return nil, err
	}
	t := &FeatureTrack{rowTrack: rowTrack{slotters: slotting.NewSet(deps.MaxRows, false)}}
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	return t, nil
}

// IncreaseRows implements RowLimited.
func (t *FeatureTrack) IncreaseRows() int {
	return t.increaseRows(t.Base)
}

func (t *FeatureTrack) dataMode(mode string) string {
	return coverageMode(mode)
}

func (t *FeatureTrack) drawMode(mode string, d *genome.Dataset, viewLen int) string {
	if d.Kind == genome.KindSignal {
		return painter.ModeHistogram
	}
	if mode == painter.ModeAuto {
		return autoMode(d, viewLen)
	}
	return mode
}

func (t *FeatureTrack) prepare(in drawInput) plan {
	if in.data.Kind == genome.KindSignal {
		return coveragePlan(in)
	}
	items := make([]slotting.Item, 0, len(in.data.Features))
	for _, f := range in.data.Features {
		items = append(items, slotting.Item{UID: f.UID, Start: f.Start, End: f.End, Label: f.Name})
	}
	slots, rows, all := t.slot(in, items)
	p := painter.NewFeaturePainter(in.data.Features, in.region.Start, in.region.End, in.prefs, in.mode)
	return plan{
		painter:    p,
		height:     p.RequiredHeight(rows, in.width),
		slots:      slots,
		allSlotted: all,
	}
}

// ReadTrack draws aligned reads, highlighting differences from the
// reference sequence when one is available.
type ReadTrack struct {
	*Base
	rowTrack
}

// NewReadTrack creates a read track.
func NewReadTrack(tc config.TrackConfig, deps Deps) (*ReadTrack, error) {
	data, err := newManager(tc, genome.KindReads, deps)
	if err != nil {
		return nil, err
	}
	t := &ReadTrack{rowTrack: rowTrack{slotters: slotting.NewSet(deps.MaxRows, false)}}
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	t.ref = deps.Reference
	return t, nil
}

// IncreaseRows implements RowLimited.
func (t *ReadTrack) IncreaseRows() int {
	return t.increaseRows(t.Base)
}

func (t *ReadTrack) dataMode(mode string) string {
	return coverageMode(mode)
}

func (t *ReadTrack) drawMode(mode string, d *genome.Dataset, viewLen int) string {
	if d.Kind == genome.KindSignal {
		return painter.ModeHistogram
	}
	if mode == painter.ModeAuto {
		return autoMode(d, viewLen)
	}
	return mode
}

func (t *ReadTrack) prepare(in drawInput) plan {
	if in.data.Kind == genome.KindSignal {
		return coveragePlan(in)
	}
	items := make([]slotting.Item, 0, len(in.data.Reads))
	for _, r := range in.data.Reads {
		items = append(items, slotting.Item{UID: r.UID, Start: r.Start, End: r.End, Label: r.Name})
	}
	slots, rows, all := t.slot(in, items)
	p := painter.NewReadPainter(in.data.Reads, in.region.Start, in.region.End, in.prefs, in.mode, in.refSeq)
	return plan{
		painter:    p,
		height:     p.RequiredHeight(rows, in.width),
		slots:      slots,
		allSlotted: all,
	}
}
