package track

import (
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/datamanager"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
)

// referenceMode is the mode sequence is requested in, whichever track
// asks for it.
const referenceMode = painter.ModeDense

// ReferenceTrack draws the reference sequence. It has no dataset state
// to check and is enabled by Init.
type ReferenceTrack struct {
	*Base
}

// NewReferenceTrack creates a reference track. It draws from
// deps.Reference when set, so read tracks and the reference track share
// one sequence cache.
func NewReferenceTrack(tc config.TrackConfig, deps Deps) (*ReferenceTrack, error) {
	data := deps.Reference
	if data == nil {
		var err error
		data, err = datamanager.NewReference(deps.Fetcher, datamanager.Options{
			Track:     tc.ID,
			DatasetID: tc.DatasetID,
			HdaLdda:   tc.HdaLdda,
			Elements:  deps.DataElements,
			QueryWait: deps.QueryWait,
			Subset:    true,
			Store:     deps.Store,
		})
		if err != nil {
			return nil, err
		}
	}
	tc.DatasetID = ""
	t := &ReferenceTrack{}
	var err error
	if t.Base, err = newBase(tc, t, data, deps); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ReferenceTrack) dataMode(string) string {
	return referenceMode
}

func (t *ReferenceTrack) drawMode(mode string, _ *genome.Dataset, _ int) string {
	return mode
}

func (t *ReferenceTrack) prepare(in drawInput) plan {
	seq := in.data.Sequence
	if sub, ok := in.data.Subset(in.region); ok {
		seq = sub.Sequence
	}
	p := painter.NewReferencePainter(seq, in.region.Start, in.region.End)
	return plan{
		painter:    p,
		height:     p.RequiredHeight(0, in.width),
		allSlotted: true,
	}
}
