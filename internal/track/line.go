package track

import (
	"strconv"

	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
)

// LineHeight is the default height of signal tracks.
const LineHeight = 30

// LineTrack draws continuous signal.
type LineTrack struct {
	*Base
}

// NewLineTrack creates a signal track.
func NewLineTrack(tc config.TrackConfig, deps Deps) (*LineTrack, error) {
	data, err := newManager(tc, genome.KindSignal, deps)
	if err != nil {
		return nil, err
	}
	t := &LineTrack{}
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *LineTrack) dataMode(string) string {
	return "Coverage"
}

func (t *LineTrack) drawMode(mode string, _ *genome.Dataset, _ int) string {
	if !continuousModes[mode] {
		return painter.ModeHistogram
	}
	return mode
}

func (t *LineTrack) prepare(in drawInput) plan {
	prefs := in.prefs
	if in.data.Stats != nil {
		prefs = t.defaultRange(prefs, *in.data.Stats)
	}
	return plan{
		painter:    painter.NewSignalPainter(in.data.Signal, in.region.Start, in.region.End, prefs, in.mode),
		height:     int(prefs.FloatOr("height", LineHeight)),
		allSlotted: true,
	}
}

// defaultRange fills in missing min_value and max_value from dataset
// statistics and keeps them in the track config, so every tile of the
// track shares one scale.
func (t *LineTrack) defaultRange(prefs painter.Prefs, stats genome.Stats) painter.Prefs {
	_, hasMin := prefs.Float("min_value")
	_, hasMax := prefs.Float("max_value")
	if hasMin && hasMax {
		return prefs
	}
	lo, hi := painter.DefaultRange(stats)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !hasMin {
		prefs["min_value"] = strconv.FormatFloat(lo, 'f', -1, 64)
		t.cfg = t.cfg.WithPref("min_value", prefs["min_value"])
	}
	if !hasMax {
		prefs["max_value"] = strconv.FormatFloat(hi, 'f', -1, 64)
		t.cfg = t.cfg.WithPref("max_value", prefs["max_value"])
	}
	return prefs
}
