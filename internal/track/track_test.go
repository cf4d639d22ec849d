package track

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/datamanager"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/source"
	"github.com/genome-tiles/server/internal/tile"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   []source.Request
	respond func(req source.Request) *genome.Dataset
}

func (f *fakeSource) Fetch(_ context.Context, req source.Request) (*genome.Dataset, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req), nil
}

func (f *fakeSource) requests() []source.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]source.Request(nil), f.calls...)
}

type fakeChecker struct {
	mu     sync.Mutex
	states []genome.State
	msg    string
	calls  int
}

func (c *fakeChecker) CheckState(context.Context, string, string, string) (*genome.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.states[min(c.calls, len(c.states)-1)]
	c.calls++
	if st == genome.StateError {
		return genome.Failed(c.msg), nil
	}
	return genome.WithState(st), nil
}

func (c *fakeChecker) set(states ...genome.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = states
	c.calls = 0
}

type redraws struct {
	mu   sync.Mutex
	opts []DrawOptions
}

func (r *redraws) record(o DrawOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = append(r.opts, o)
}

func (r *redraws) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opts)
}

func featureData(region genome.Region, fs ...genome.Feature) *genome.Dataset {
	return &genome.Dataset{State: genome.StateData, Kind: genome.KindFeatures, Region: region, Features: fs}
}

func testDeps(src *fakeSource) Deps {
	return Deps{
		Fetcher:      src,
		DataElements: 10,
		TileElements: 10,
		QueryWait:    5 * time.Millisecond,
	}
}

// draw returns the tile for req, waiting out a pending fetch once.
func draw(t *testing.T, tr Tileable, req TileRequest) *tile.Tile {
	t.Helper()
	tl, p := tr.DrawTile(context.Background(), req)
	if tl != nil {
		return tl
	}
	require.NotNil(t, p, "expected a tile or a pending marker")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	req.Options.Force = false
	tl, _ = tr.DrawTile(context.Background(), req)
	require.NotNil(t, tl, "tile should be cached once data arrived")
	return tl
}

func tileReq(start, end int, viewLen int) TileRequest {
	return TileRequest{Region: genome.NewRegion("chr1", start, end), Resolution: 1, ViewLen: viewLen}
}

func TestConfigDiff(t *testing.T) {
	prefs := map[string]string{"block_color": "#444"}
	a := NewConfig("Genes", painter.ModePack, prefs)
	prefs["block_color"] = "#000"
	v, _ := a.Pref("block_color")
	assert.Equal(t, "#444", v, "snapshot must not share the caller's map")

	b := a.WithName("Genes 2")
	ch := Diff(a, b)
	assert.True(t, ch.Name)
	assert.False(t, ch.ClearsTiles())

	c := a.WithPref("label_color", "#F00").WithoutPref("block_color").WithMode(painter.ModeSquish)
	ch = Diff(a, c)
	assert.True(t, ch.Mode)
	assert.Equal(t, []string{"block_color", "label_color"}, ch.Prefs)
	assert.True(t, ch.ClearsTiles())

	_, ok := a.Pref("label_color")
	assert.False(t, ok, "With methods must not modify the receiver")
	assert.True(t, Diff(a, a).Empty())
}

func TestDrawOptionsMerge(t *testing.T) {
	o := DrawOptions{Force: true, NoFetch: true, Mode: painter.ModePack}
	o = o.Merge(DrawOptions{ClearTileCache: true})
	assert.Equal(t, DrawOptions{Force: true, ClearTileCache: true, Mode: painter.ModePack}, o)

	o = o.Merge(DrawOptions{ClearAfter: true, Mode: painter.ModeDense})
	assert.True(t, o.Force)
	assert.True(t, o.ClearAfter)
	assert.Equal(t, painter.ModeDense, o.Mode)
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(config.TrackConfig{ID: "x", Type: "bogus"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestFeatureTrackDrawsAndCachesTiles(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		return featureData(req.Region,
			genome.Feature{UID: "a", Start: 10, End: 100, Name: "geneA", Strand: genome.StrandForward},
			genome.Feature{UID: "b", Start: 50, End: 200, Name: "geneB"},
		)
	}}
	tr, err := New(config.TrackConfig{ID: "genes", Name: "Genes", Type: TypeFeature, Mode: painter.ModeAuto}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	first := draw(t, tr, tileReq(0, 400, 1000))
	assert.Equal(t, painter.ModePack, first.Mode)
	assert.Equal(t, 400, first.Image.Bounds().Dx())
	assert.True(t, first.AllSlotted)
	assert.Equal(t, 2, first.Positions.Len())

	again, p := tr.DrawTile(context.Background(), tileReq(0, 400, 1000))
	assert.Nil(t, p)
	assert.Same(t, first, again)
	assert.Len(t, src.requests(), 1)

	// A wide view squishes; the payload is reused from the data cache.
	req := tileReq(0, 400, 20000)
	req.Options.Force = true
	wide := draw(t, tr, req)
	assert.Equal(t, painter.ModeSquish, wide.Mode)
	assert.Len(t, src.requests(), 1)
	assert.Equal(t, "Auto", src.requests()[0].Mode)
}

func TestDrawTileNoFetch(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset { return featureData(req.Region) }}
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Type: TypeFeature, Mode: painter.ModePack}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	req := tileReq(0, 400, 400)
	req.Options.NoFetch = true
	tl, p := tr.DrawTile(context.Background(), req)
	assert.Nil(t, tl)
	assert.Nil(t, p)
	assert.Empty(t, src.requests())
}

func TestFeatureTrackCoverageAndErrors(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		if req.Region.Start == 0 {
			return &genome.Dataset{State: genome.StateData, Kind: genome.KindSignal, Region: req.Region, DatasetType: "bigwig",
				Signal: []genome.SignalPoint{{Pos: 0, Value: 1}, {Pos: 200, Value: 4}}}
		}
		return genome.Failed("boom")
	}}
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Type: TypeFeature, Mode: painter.ModeAuto}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	cov := draw(t, tr, tileReq(0, 400, 400))
	assert.Equal(t, painter.ModeHistogram, cov.Mode)
	assert.Equal(t, SummaryHeight, cov.Height())

	failed := draw(t, tr, tileReq(400, 800, 400))
	assert.Equal(t, "boom", failed.Message)
	assert.Equal(t, MinHeight, failed.Height())
}

func TestInitStates(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset { return featureData(req.Region) }}
	checker := &fakeChecker{states: []genome.State{genome.StateError}, msg: "indexing failed"}
	deps := testDeps(src)
	deps.Checker = checker
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Type: TypeFeature, DatasetID: "d1"}, deps)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	rd := &redraws{}
	tr.SetRedrawer(rd.record)

	st := tr.Init(context.Background(), "chr1", false)
	assert.Equal(t, genome.StateError, st.State)
	assert.Equal(t, "indexing failed", st.Detail)
	assert.False(t, tr.CanDraw())

	checker.set(genome.StateNoConverter)
	assert.Equal(t, MsgNoConverter, tr.Init(context.Background(), "chr1", true).Message)
	checker.set(genome.StateNoData)
	assert.Equal(t, MsgNoData, tr.Init(context.Background(), "chr1", true).Message)
	assert.Equal(t, 0, rd.count())

	checker.set(genome.StatePending, genome.StatePending, genome.StateData)
	st = tr.Init(context.Background(), "chr1", true)
	assert.Equal(t, genome.StatePending, st.State)
	require.Eventually(t, func() bool { return rd.count() == 1 }, 2*time.Second, 5*time.Millisecond,
		"enabling the track requests a draw")
	assert.True(t, tr.CanDraw())
	assert.Equal(t, MsgOK, tr.Status().Message)
}

func TestReferenceTrackIsAlwaysEnabled(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		return &genome.Dataset{State: genome.StateData, Kind: genome.KindSequence, Region: req.Region,
			Sequence: strings.Repeat("acgt", req.Region.Len()/4)}
	}}
	tr, err := New(config.TrackConfig{ID: "ref", Type: TypeReference, DatasetID: "hg19"}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	assert.True(t, tr.Init(context.Background(), "chr1", false).Enabled)
	tl := draw(t, tr, tileReq(0, 40, 40))
	assert.Equal(t, 40, tl.Image.Bounds().Dx())
	assert.Equal(t, "Dense", src.requests()[0].Mode)

	coarse := draw(t, tr, TileRequest{Region: genome.NewRegion("chr1", 0, 4000), Resolution: 10, ViewLen: 4000})
	assert.Equal(t, string(genome.StateNoData), coarse.Message)
	assert.Len(t, src.requests(), 1, "no sequence fetch above one base per pixel")
}

func TestSetConfigClearsTiles(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		return featureData(req.Region, genome.Feature{UID: "a", Start: 10, End: 100})
	}}
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Name: "Genes", Type: TypeFeature, Mode: painter.ModePack}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	rd := &redraws{}
	tr.SetRedrawer(rd.record)

	draw(t, tr, tileReq(0, 400, 400))
	require.Equal(t, 1, tr.Tiles().Len())

	ch := tr.SetConfig(tr.Config().WithName("Renamed"))
	assert.True(t, ch.Name)
	assert.Equal(t, "Renamed", tr.Name())
	assert.Equal(t, 1, tr.Tiles().Len())
	assert.Equal(t, 0, rd.count())

	tr.SetConfig(tr.Config().WithPref("block_color", "#f00"))
	assert.Equal(t, 0, tr.Tiles().Len())
	require.Equal(t, 1, rd.count())
	assert.True(t, rd.opts[0].ClearTileCache)
}

func TestLineTrackDefaultRange(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		return &genome.Dataset{State: genome.StateData, Kind: genome.KindSignal, Region: req.Region,
			Signal: []genome.SignalPoint{{Pos: 1, Value: 5}, {Pos: 2, Value: 40}},
			Stats:  &genome.Stats{Min: -3, Max: 50, Mean: 10, SD: 5}}
	}}
	tr, err := NewLineTrack(config.TrackConfig{ID: "cov", Type: TypeLine, Mode: painter.ModeAuto}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	tl := draw(t, tr, tileReq(0, 400, 400))
	assert.Equal(t, painter.ModeHistogram, tl.Mode)
	assert.Equal(t, LineHeight, tl.Height())
	assert.Equal(t, "Coverage", src.requests()[0].Mode)

	lo, _ := tr.Config().Pref("min_value")
	hi, _ := tr.Config().Pref("max_value")
	assert.Equal(t, "0", lo)
	assert.Equal(t, "20", hi)
}

func TestGetMoreDataRedrawsMergedTile(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		if req.StartVal == 0 {
			d := featureData(req.Region,
				genome.Feature{UID: "a", Start: 10, End: 20},
				genome.Feature{UID: "b", Start: 30, End: 40})
			d.Message = "Only the first 2 features are displayed"
			return d
		}
		d := featureData(req.Region,
			genome.Feature{UID: "c", Start: 50, End: 60},
			genome.Feature{UID: "d", Start: 70, End: 80})
		d.Message = "Only the first 2 features are displayed"
		return d
	}}
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Type: TypeFeature, Mode: painter.ModePack}, testDeps(src))
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	rd := &redraws{}
	tr.SetRedrawer(rd.record)

	req := tileReq(0, 400, 400)
	_, err = tr.GetMoreData(context.Background(), req.Region, 1, datamanager.Deep)
	assert.ErrorIs(t, err, ErrNotEnabled)

	tr.Init(context.Background(), "chr1", false)
	first := draw(t, tr, req)
	assert.Equal(t, "Only the first 2 features are displayed", first.Message)

	p, err := tr.GetMoreData(context.Background(), req.Region, 1, datamanager.Deep)
	require.NoError(t, err)
	assert.True(t, first.Stale())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, 2, rd.count(), "one draw on init, one when more data arrived")

	merged := draw(t, tr, req)
	assert.NotSame(t, first, merged)
	assert.Equal(t, 4, merged.Data.Len())
	assert.Equal(t, "Only the first 4 features are displayed", merged.Message)
	assert.Equal(t, 3, src.requests()[1].StartVal)
}

func TestIncreaseRows(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		return featureData(req.Region,
			genome.Feature{UID: "a", Start: 0, End: 100},
			genome.Feature{UID: "b", Start: 0, End: 100},
			genome.Feature{UID: "c", Start: 0, End: 100})
	}}
	deps := testDeps(src)
	deps.MaxRows = 1
	tr, err := NewFeatureTrack(config.TrackConfig{ID: "genes", Type: TypeFeature, Mode: painter.ModeSquish}, deps)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	tl := draw(t, tr, tileReq(0, 400, 400))
	assert.False(t, tl.AllSlotted)

	var rl RowLimited = tr
	assert.Equal(t, 2, rl.IncreaseRows())
	assert.Equal(t, 0, tr.Tiles().Len())

	tl = draw(t, tr, tileReq(0, 400, 400))
	assert.True(t, tl.AllSlotted)
	assert.Equal(t, 3, tl.Positions.Len())
}

func TestReadTrackUsesReference(t *testing.T) {
	src := &fakeSource{respond: func(req source.Request) *genome.Dataset {
		if req.Kind == genome.KindSequence {
			return &genome.Dataset{State: genome.StateData, Kind: genome.KindSequence, Region: req.Region,
				Sequence: strings.Repeat("a", req.Region.Len())}
		}
		return &genome.Dataset{State: genome.StateData, Kind: genome.KindReads, Region: req.Region,
			Reads: []genome.Read{{UID: "r1", Start: 10, End: 20, Segments: []genome.ReadSegment{
				{Start: 10, End: 20, Cigar: "10M", Sequence: "aaaaacaaaa"},
			}}}}
	}}
	deps := testDeps(src)
	ref, err := datamanager.NewReference(src, datamanager.Options{Track: "ref", DatasetID: "hg19", QueryWait: deps.QueryWait})
	require.NoError(t, err)
	t.Cleanup(ref.Close)
	deps.Reference = ref

	tr, err := New(config.TrackConfig{ID: "reads", Type: TypeRead, DatasetID: "bam", Mode: painter.ModePack}, deps)
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	tl := draw(t, tr, tileReq(0, 400, 400))
	assert.Equal(t, painter.ModePack, tl.Mode)

	kinds := map[genome.Kind]int{}
	for _, r := range src.requests() {
		kinds[r.Kind]++
	}
	assert.Equal(t, map[genome.Kind]int{genome.KindReads: 1, genome.KindSequence: 1}, kinds)
}
