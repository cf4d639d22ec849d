package track

import (
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
)

// HeatmapHeight is the default height of interaction tracks.
const HeatmapHeight = 500

// HeatmapTrack draws pairwise interactions as a diagonal heatmap.
type HeatmapTrack struct {
	*Base
}

// NewHeatmapTrack creates a diagonal heatmap track.
func NewHeatmapTrack(tc config.TrackConfig, deps Deps) (*HeatmapTrack, error) {
	data, err := newManager(tc, genome.KindHeatmap, deps)
	if err != nil {
		return nil, err
	}
	t := &HeatmapTrack{}
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *HeatmapTrack) dataMode(string) string {
	return painter.ModeHeatmap
}

func (t *HeatmapTrack) drawMode(string, *genome.Dataset, int) string {
	return painter.ModeHeatmap
}

func (t *HeatmapTrack) prepare(in drawInput) plan {
	prefs := in.prefs.With(painter.Prefs{
		"min_value": "-1",
		"max_value": "1",
	})
	return plan{
		painter:    painter.NewHeatmapPainter(in.data.Cells, in.region.Start, in.region.End, prefs, in.mode),
		height:     int(prefs.FloatOr("height", HeatmapHeight)),
		allSlotted: true,
	}
}
