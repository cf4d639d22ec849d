package service

import (
	"bytes"
	"context"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genome-tiles/server/internal/cache"
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/source"
	"github.com/genome-tiles/server/internal/track"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[genome.Region]int
}

func (f *fakeSource) Fetch(_ context.Context, req source.Request) (*genome.Dataset, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[genome.Region]int)
	}
	f.calls[req.Region]++
	f.mu.Unlock()

	if req.Kind == genome.KindSignal {
		return &genome.Dataset{State: genome.StateData, Kind: genome.KindSignal, Region: req.Region,
			Signal: []genome.SignalPoint{{Pos: req.Region.Start, Value: 1}, {Pos: req.Region.Start + 100, Value: 3}}}, nil
	}
	var fs []genome.Feature
	if req.Region.Start < 100 {
		fs = append(fs, genome.Feature{UID: "a", Start: 10, End: 100, Name: "geneA"})
	}
	return &genome.Dataset{State: genome.StateData, Kind: genome.KindFeatures, Region: req.Region, Features: fs}, nil
}

func (f *fakeSource) count(r genome.Region) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[r]
}

type fakeChecker struct {
	mu    sync.Mutex
	state genome.State
	calls int
}

func (c *fakeChecker) CheckState(context.Context, string, string, string) (*genome.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return genome.WithState(c.state), nil
}

func (c *fakeChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var testTracks = []config.TrackConfig{
	{ID: "genes", Name: "Genes", Type: track.TypeFeature, DatasetID: "d1", Mode: painter.ModeAuto},
	{ID: "cov", Name: "Coverage", Type: track.TypeLine, DatasetID: "d2", Mode: painter.ModeHistogram},
}

func newTestService(t *testing.T, checker source.StateChecker, tracks ...config.TrackConfig) (*TrackService, *fakeSource) {
	t.Helper()
	if len(tracks) == 0 {
		tracks = testTracks
	}
	cm, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 100})
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	src := &fakeSource{}
	svc, err := NewTrackService(TrackServiceConfig{
		Tracks:        tracks,
		Fetcher:       src,
		Checker:       checker,
		Cache:         cm,
		DataElements:  10,
		FeatureTiles:  10,
		LineTiles:     10,
		MaxRows:       4,
		QueryWait:     5 * time.Millisecond,
		ViewWidth:     800,
		FrameInterval: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, src
}

func TestTileServesAndCaches(t *testing.T) {
	svc, src := newTestService(t, &fakeChecker{state: genome.StateData})
	ctx := context.Background()

	data, meta, err := svc.Tile(ctx, "genes", "chr1", "", 1, 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, meta.Height, img.Bounds().Dy())
	assert.Equal(t, painter.ModePack, meta.Mode)
	assert.True(t, meta.AllSlotted)
	assert.Equal(t, genome.NewRegion("chr1", 0, 400), meta.Region)

	again, meta2, err := svc.Tile(ctx, "genes", "chr1", "", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, meta, meta2)
	assert.Equal(t, 1, src.count(genome.NewRegion("chr1", 0, 400)))

	// The neighbour is warmed in the background.
	assert.Eventually(t, func() bool {
		return src.count(genome.NewRegion("chr1", 400, 800)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTileModeOverride(t *testing.T) {
	svc, _ := newTestService(t, &fakeChecker{state: genome.StateData})
	ctx := context.Background()

	_, pack, err := svc.Tile(ctx, "genes", "chr1", "", 1, 0)
	require.NoError(t, err)
	_, dense, err := svc.Tile(ctx, "genes", "chr1", painter.ModeDense, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, painter.ModePack, pack.Mode)
	assert.Equal(t, painter.ModeDense, dense.Mode)
}

func TestTileErrors(t *testing.T) {
	checker := &fakeChecker{state: genome.StatePending}
	svc, _ := newTestService(t, checker)
	ctx := context.Background()

	_, _, err := svc.Tile(ctx, "nope", "chr1", "", 1, 0)
	assert.ErrorIs(t, err, ErrUnknownTrack)

	_, _, err = svc.Tile(ctx, "genes", "chr1", "", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidTile)
	_, _, err = svc.Tile(ctx, "genes", "", "", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidTile)

	_, meta, err := svc.Tile(ctx, "genes", "chr1", "", 1, 0)
	assert.ErrorIs(t, err, ErrTrackNotReady)
	assert.Equal(t, track.MsgPending, meta.Message)
}

func TestStateIsCachedOnceSettled(t *testing.T) {
	checker := &fakeChecker{state: genome.StateData}
	svc, _ := newTestService(t, checker)
	ctx := context.Background()

	st, err := svc.State(ctx, "genes", "chr1")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	st, err = svc.State(ctx, "genes", "chr1")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 1, checker.count())

	_, err = svc.State(ctx, "genes", "chr2")
	require.NoError(t, err)
	assert.Equal(t, 2, checker.count())

	checker.mu.Lock()
	checker.state = genome.StateNoData
	checker.mu.Unlock()
	st, err = svc.Retry(ctx, "genes", "chr2")
	require.NoError(t, err)
	assert.Equal(t, track.MsgNoData, st.Message)
	st, err = svc.State(ctx, "genes", "chr2")
	require.NoError(t, err)
	assert.False(t, st.Enabled)

	_, err = svc.State(ctx, "nope", "chr1")
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestIncreaseRows(t *testing.T) {
	svc, _ := newTestService(t, nil)

	n, err := svc.IncreaseRows("genes")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = svc.IncreaseRows("cov")
	assert.ErrorIs(t, err, ErrNotRowLimited)
}

func TestConfigure(t *testing.T) {
	svc, _ := newTestService(t, nil)

	mode := painter.ModeSquish
	ch, err := svc.Configure("genes", ConfigUpdate{Mode: &mode, Prefs: map[string]string{"block_color": "#F00"}})
	require.NoError(t, err)
	assert.True(t, ch.Mode)
	assert.Equal(t, []string{"block_color"}, ch.Prefs)

	tr, err := svc.Track("genes")
	require.NoError(t, err)
	assert.Equal(t, painter.ModeSquish, tr.Config().Mode())

	ch, err = svc.Configure("genes", ConfigUpdate{Prefs: map[string]string{"block_color": ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"block_color"}, ch.Prefs)
	_, ok := tr.Config().Pref("block_color")
	assert.False(t, ok)
}

func TestTracks(t *testing.T) {
	svc, _ := newTestService(t, nil)
	infos := svc.Tracks()
	require.Len(t, infos, 2)
	assert.Equal(t, "genes", infos[0].ID)
	assert.True(t, infos[0].RowLimited)
	assert.Equal(t, "cov", infos[1].ID)
	assert.False(t, infos[1].RowLimited)
	assert.Equal(t, painter.ModeHistogram, infos[1].Mode)
}

func TestViewImageAndFeatureAt(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := svc.ViewImage(ctx, genome.NewRegion("chr1", 0, 800), 800)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), track.LineHeight)

	f, err := svc.FeatureAt("genes", 50, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", f.UID)

	_, err = svc.FeatureAt("nope", 0, 0)
	assert.ErrorIs(t, err, ErrUnknownTrack)

	_, err = svc.ViewImage(ctx, genome.NewRegion("chr1", 10, 10), 800)
	assert.ErrorIs(t, err, genome.ErrInvalidRegion)
}

func TestMoreDataUnknownRegion(t *testing.T) {
	svc, _ := newTestService(t, nil)
	err := svc.MoreData(context.Background(), "genes", genome.NewRegion("chr1", 0, 400), 1, "deep")
	assert.Error(t, err)
}
