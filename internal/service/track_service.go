// Package service provides business logic for the tile server.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/cache"
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/datamanager"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/render"
	"github.com/genome-tiles/server/internal/source"
	"github.com/genome-tiles/server/internal/tile"
	"github.com/genome-tiles/server/internal/track"
	"github.com/genome-tiles/server/internal/view"
)

var (
	// ErrUnknownTrack is returned for track ids that are not configured.
	ErrUnknownTrack = errors.New("unknown track")
	// ErrTrackNotReady is returned while a track's dataset cannot be drawn.
	ErrTrackNotReady = errors.New("track not ready")
	// ErrNotRowLimited is returned when rows are increased on a track
	// that does not pack features into rows.
	ErrNotRowLimited = errors.New("track has no row limit")
	// ErrInvalidTile is returned for tile coordinates out of range.
	ErrInvalidTile = errors.New("invalid tile")
)

// TrackServiceConfig contains track service configuration.
type TrackServiceConfig struct {
	Tracks             []config.TrackConfig
	Fetcher            source.Fetcher
	Checker            source.StateChecker
	Store              datamanager.PayloadStore
	Cache              *cache.Manager
	Renderer           *render.TileRenderer
	ReferenceDatasetID string

	DataElements  int
	FeatureTiles  int
	LineTiles     int
	MaxRows       int
	QueryWait     time.Duration
	ToolQueryWait time.Duration

	ViewWidth       int
	FrameInterval   time.Duration
	Clock           view.Clock
	PrefetchWorkers int
}

// TileMeta describes a served tile.
type TileMeta struct {
	Track             string        `json:"track"`
	Region            genome.Region `json:"region"`
	Resolution        float64       `json:"resolution"`
	Mode              string        `json:"mode"`
	Height            int           `json:"height"`
	MaxRequiredHeight int           `json:"max_required_height"`
	AllSlotted        bool          `json:"all_slotted"`
	Message           string        `json:"message,omitempty"`
}

// TrackService draws track tiles and viewport images for HTTP.
type TrackService struct {
	registry  *Registry
	reference *datamanager.Manager
	cache     *cache.Manager
	renderer  *render.TileRenderer
	prefetch  *Prefetcher
	logger    *log.Entry

	mu     sync.Mutex
	gens   map[string]uint64
	chroms map[string]string

	// viewMu serializes viewport requests; the view has one window.
	viewMu  sync.Mutex
	view    *view.View
	handles map[string]view.Handle
}

// NewTrackService builds every configured track and the shared view.
func NewTrackService(cfg TrackServiceConfig) (*TrackService, error) {
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.NewTileRenderer(render.Config{})
	}
	if cfg.ToolQueryWait <= 0 {
		cfg.ToolQueryWait = cfg.QueryWait
	}

	s := &TrackService{
		registry: NewRegistry(),
		cache:    cfg.Cache,
		renderer: renderer,
		logger:   log.WithField("component", "service"),
		gens:     make(map[string]uint64),
		chroms:   make(map[string]string),
		handles:  make(map[string]view.Handle),
	}

	for _, tc := range cfg.Tracks {
		if tc.Type == track.TypeRead || tc.Type == track.TypeReference {
			ref, err := datamanager.NewReference(cfg.Fetcher, datamanager.Options{
				Track:     "reference",
				DatasetID: cfg.ReferenceDatasetID,
				Elements:  cfg.DataElements,
				QueryWait: cfg.QueryWait,
				Subset:    true,
				Store:     cfg.Store,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create reference manager: %w", err)
			}
			s.reference = ref
			break
		}
	}

	for _, tc := range cfg.Tracks {
		deps := track.Deps{
			Fetcher:      cfg.Fetcher,
			Checker:      cfg.Checker,
			Store:        cfg.Store,
			Renderer:     renderer,
			Reference:    s.reference,
			DataElements: cfg.DataElements,
			TileElements: cfg.FeatureTiles,
			QueryWait:    cfg.QueryWait,
			MaxRows:      cfg.MaxRows,
			Subset:       true,
		}
		if tc.Type == track.TypeLine || tc.Type == track.TypeHeatmap {
			deps.TileElements = cfg.LineTiles
		}
		if tc.Tool {
			deps.QueryWait = cfg.ToolQueryWait
		}
		tr, err := track.New(tc, deps)
		if err == nil {
			err = s.registry.Register(tr)
		}
		if err != nil {
			s.closeTracks()
			return nil, fmt.Errorf("failed to create track %q: %w", tc.ID, err)
		}
	}

	s.view = view.New(view.Options{
		Width:    cfg.ViewWidth,
		TileSize: renderer.TileSize(),
		Renderer: renderer,
		Clock:    clockOrTicker(cfg.Clock, cfg.FrameInterval),
	})
	for _, id := range s.registry.IDs() {
		tr, _ := s.registry.Get(id)
		s.handles[id] = s.view.AddTrack(tr)
	}

	s.prefetch = NewPrefetcher(PrefetchConfig{Workers: cfg.PrefetchWorkers})
	s.prefetch.Executor = func(ctx context.Context, job PrefetchJob) error {
		_, _, err := s.tile(ctx, job.Track, job.Chrom, job.Mode, job.Resolution, job.Index)
		return err
	}
	s.prefetch.Start()

	s.logger.Infof("initialized %d track(s)", len(cfg.Tracks))
	return s, nil
}

func clockOrTicker(c view.Clock, interval time.Duration) view.Clock {
	if c != nil {
		return c
	}
	return view.NewTickerClock(interval)
}

// Close stops background work and releases every track.
func (s *TrackService) Close() {
	s.prefetch.Stop()
	s.view.Close()
	s.closeTracks()
}

func (s *TrackService) closeTracks() {
	s.registry.Close()
	if s.reference != nil {
		s.reference.Close()
	}
}

// Tracks returns info for every track in config order.
func (s *TrackService) Tracks() []TrackInfo {
	return s.registry.Tracks()
}

// Track returns the track with the given id.
func (s *TrackService) Track(id string) (track.Track, error) {
	tr, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrack, id)
	}
	return tr, nil
}

// Stats returns cache and scheduler statistics.
func (s *TrackService) Stats() map[string]interface{} {
	data := make(map[string]datamanager.Stats)
	for _, id := range s.registry.IDs() {
		tr, _ := s.registry.Get(id)
		data[id] = tr.DataStats()
	}
	out := map[string]interface{}{
		"data":     data,
		"view":     s.view.Stats(),
		"prefetch": s.prefetch.Pending(),
	}
	if s.cache != nil {
		out["cache"] = s.cache.Stats()
	}
	return out
}

func (s *TrackService) gen(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id]
}

// bump retires the encoded tiles and cached state of a track.
func (s *TrackService) bump(id string) {
	s.mu.Lock()
	s.gens[id]++
	chrom := s.chroms[id]
	s.mu.Unlock()
	if s.cache != nil {
		s.cache.DeleteQuery(cache.StateKey(id, chrom))
	}
}

// ensureChrom initializes tr for chrom unless it already is.
func (s *TrackService) ensureChrom(ctx context.Context, id string, tr track.Track, chrom string) track.Status {
	s.mu.Lock()
	cur, ok := s.chroms[id]
	s.mu.Unlock()
	if ok && cur == chrom {
		return tr.Status()
	}

	// A pending dataset keeps polling after the request returns.
	st := tr.Init(context.WithoutCancel(ctx), chrom, false)
	s.mu.Lock()
	s.chroms[id] = chrom
	s.gens[id]++
	s.mu.Unlock()
	return st
}

// State returns the dataset state of a track on chrom. Settled states are
// cached.
func (s *TrackService) State(ctx context.Context, id, chrom string) (track.Status, error) {
	tr, err := s.Track(id)
	if err != nil {
		return track.Status{}, err
	}
	key := cache.StateKey(id, chrom)
	s.mu.Lock()
	current := s.chroms[id] == chrom
	s.mu.Unlock()
	if s.cache != nil && current {
		if b, ok := s.cache.GetQuery(key); ok {
			var st track.Status
			if err := json.Unmarshal(b, &st); err == nil {
				return st, nil
			}
		}
	}

	st := s.ensureChrom(ctx, id, tr, chrom)
	if s.cache != nil && st.State != genome.StatePending {
		if b, err := json.Marshal(st); err == nil {
			s.cache.SetQuery(key, b)
		}
	}
	return st, nil
}

// Retry re-checks the dataset of a track, typically after an error.
func (s *TrackService) Retry(ctx context.Context, id, chrom string) (track.Status, error) {
	tr, err := s.Track(id)
	if err != nil {
		return track.Status{}, err
	}
	st := tr.Init(context.WithoutCancel(ctx), chrom, true)
	s.mu.Lock()
	s.chroms[id] = chrom
	s.mu.Unlock()
	s.bump(id)
	return st, nil
}

// Tile returns the encoded tile index of a track at resolution bases per
// pixel. Neighbouring tiles are prefetched.
func (s *TrackService) Tile(ctx context.Context, id, chrom, mode string, resolution float64, index int) ([]byte, TileMeta, error) {
	data, meta, err := s.tile(ctx, id, chrom, mode, resolution, index)
	if err != nil {
		return nil, meta, err
	}
	for _, i := range []int{index - 1, index + 1} {
		if i >= 0 {
			s.prefetch.Submit(PrefetchJob{Track: id, Chrom: chrom, Mode: mode, Resolution: resolution, Index: i})
		}
	}
	return data, meta, nil
}

func (s *TrackService) tile(ctx context.Context, id, chrom, mode string, resolution float64, index int) ([]byte, TileMeta, error) {
	if resolution <= 0 || index < 0 || chrom == "" {
		return nil, TileMeta{}, fmt.Errorf("%w: chrom=%q resolution=%v index=%d", ErrInvalidTile, chrom, resolution, index)
	}
	tr, err := s.Track(id)
	if err != nil {
		return nil, TileMeta{}, err
	}
	st := s.ensureChrom(ctx, id, tr, chrom)
	if !tr.CanDraw() {
		return nil, TileMeta{Track: id, Message: st.Message}, fmt.Errorf("%w: %s", ErrTrackNotReady, st.Message)
	}

	if mode == "" {
		mode = tr.Config().Mode()
	}
	key := cache.TileKey(id, s.gen(id), chrom, mode, resolution, index)
	if data, meta, ok := s.cached(key); ok {
		return data, meta, nil
	}

	req := track.TileRequest{
		Region:     tile.Bounds(chrom, index, s.renderer.TileSize(), resolution, 0),
		Resolution: resolution,
		ViewLen:    int(float64(s.view.Width()) * resolution),
		Options:    track.DrawOptions{Mode: mode},
	}

	t, err := s.drawTile(ctx, tr, req)
	if err != nil {
		return nil, TileMeta{}, err
	}
	data, err := s.renderer.EncodePNG(t.Image)
	if err != nil {
		return nil, TileMeta{}, fmt.Errorf("failed to encode tile: %w", err)
	}
	meta := TileMeta{
		Track:             id,
		Region:            t.Region,
		Resolution:        t.Resolution,
		Mode:              t.Mode,
		Height:            t.Height(),
		MaxRequiredHeight: t.MaxRequiredHeight,
		AllSlotted:        t.AllSlotted,
		Message:           t.Message,
	}
	if s.cache != nil && t.Data.OK() {
		s.store(key, data, meta)
	}
	return data, meta, nil
}

// drawTile draws req, waiting for pending data.
func (s *TrackService) drawTile(ctx context.Context, tr track.Track, req track.TileRequest) (*tile.Tile, error) {
	// The tile is finished and cached even if the caller goes away.
	drawCtx := context.WithoutCancel(ctx)
	for {
		t, p := tr.DrawTile(drawCtx, req)
		if t != nil {
			return t, nil
		}
		if p == nil {
			return nil, fmt.Errorf("%w: no data for %s", ErrTrackNotReady, req.Region)
		}
		if err := p.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *TrackService) cached(key string) ([]byte, TileMeta, bool) {
	if s.cache == nil {
		return nil, TileMeta{}, false
	}
	data, ok := s.cache.GetTile(key)
	if !ok {
		return nil, TileMeta{}, false
	}
	b, ok := s.cache.GetQuery(cache.MetaKey(key))
	if !ok {
		return nil, TileMeta{}, false
	}
	var meta TileMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, TileMeta{}, false
	}
	return data, meta, true
}

func (s *TrackService) store(key string, data []byte, meta TileMeta) {
	if err := s.cache.SetTile(key, data); err != nil {
		s.logger.Debugf("tile not cached: %v", err)
		return
	}
	if b, err := json.Marshal(meta); err == nil {
		s.cache.SetQuery(cache.MetaKey(key), b)
	}
}

// MoreData extends the data shown in region and waits for the merged
// payload. Tiles drawn from the old payload are retired.
func (s *TrackService) MoreData(ctx context.Context, id string, region genome.Region, resolution float64, kind datamanager.MoreKind) error {
	tr, err := s.Track(id)
	if err != nil {
		return err
	}
	s.ensureChrom(ctx, id, tr, region.Chrom)
	p, err := tr.GetMoreData(context.WithoutCancel(ctx), region, resolution, kind)
	if err != nil {
		return err
	}
	s.bump(id)
	return p.Wait(ctx)
}

// IncreaseRows doubles the row limit of a track and returns the new one.
func (s *TrackService) IncreaseRows(id string) (int, error) {
	tr, err := s.Track(id)
	if err != nil {
		return 0, err
	}
	rl, ok := tr.(track.RowLimited)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotRowLimited, id)
	}
	n := rl.IncreaseRows()
	s.bump(id)
	return n, nil
}

// ConfigUpdate changes track settings. Nil fields are left alone; an
// empty pref value removes the pref.
type ConfigUpdate struct {
	Name  *string           `json:"name,omitempty"`
	Mode  *string           `json:"mode,omitempty"`
	Prefs map[string]string `json:"prefs,omitempty"`
}

// Configure applies u to a track and reports what changed.
func (s *TrackService) Configure(id string, u ConfigUpdate) (track.Change, error) {
	tr, err := s.Track(id)
	if err != nil {
		return track.Change{}, err
	}
	cfg := tr.Config()
	if u.Name != nil {
		cfg = cfg.WithName(*u.Name)
	}
	if u.Mode != nil {
		cfg = cfg.WithMode(*u.Mode)
	}
	for k, v := range u.Prefs {
		if v == "" {
			cfg = cfg.WithoutPref(k)
		} else {
			cfg = cfg.WithPref(k, v)
		}
	}
	ch := tr.SetConfig(cfg)
	if ch.ClearsTiles() {
		s.bump(id)
	}
	return ch, nil
}

// ViewImage draws every track over region at width pixels and returns
// the stitched PNG once all visible tiles have arrived.
func (s *TrackService) ViewImage(ctx context.Context, region genome.Region, width int) ([]byte, error) {
	if region.Chrom == "" || region.Len() <= 0 {
		return nil, fmt.Errorf("%w: %s", genome.ErrInvalidRegion, region)
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	for _, id := range s.registry.IDs() {
		tr, _ := s.registry.Get(id)
		s.ensureChrom(ctx, id, tr, region.Chrom)
	}
	s.view.SetWidth(width)
	s.view.Navigate(context.WithoutCancel(ctx), region, 0)
	s.view.RequestRedraw(track.DrawOptions{})
	if err := s.view.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to draw view: %w", err)
	}
	data, err := s.renderer.EncodePNG(s.view.Image())
	if err != nil {
		return nil, fmt.Errorf("failed to encode view: %w", err)
	}
	return data, nil
}

// FeatureAt returns the feature under viewport pixel (x, y) of a track,
// with y relative to the top of that track.
func (s *TrackService) FeatureAt(id string, x, y float64) (painter.Placement, error) {
	h, ok := s.handles[id]
	if !ok {
		return painter.Placement{}, fmt.Errorf("%w: %q", ErrUnknownTrack, id)
	}
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.view.FeatureAt(h, x, y)
}

// EmptyTile returns a transparent placeholder tile.
func (s *TrackService) EmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile(track.MinHeight)
}
