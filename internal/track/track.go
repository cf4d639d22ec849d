// Package track composes data managers, slotters and painters into tiled
// genome tracks.
package track

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"
	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/datamanager"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/render"
	"github.com/genome-tiles/server/internal/source"
	"github.com/genome-tiles/server/internal/tile"
)

var (
	// ErrUnknownType is returned for track types with no implementation.
	ErrUnknownType = errors.New("unknown track type")
	// ErrNotEnabled is returned when a track is asked for data before its
	// dataset is ready.
	ErrNotEnabled = errors.New("track is not enabled")
)

// Track types as named in configuration.
const (
	TypeLine      = "line"
	TypeFeature   = "feature"
	TypeRead      = "read"
	TypeVariant   = "variant"
	TypeHeatmap   = "heatmap"
	TypeReference = "reference"
)

// Heights in pixels.
const (
	MinHeight     = 16
	MaxHeight     = 800
	SummaryHeight = 30
)

// MinSquishViewWidth is the view width in bases above which Auto mode
// feature tracks switch from Pack to Squish.
const MinSquishViewWidth = 12000

// Status messages shown for each dataset state.
const (
	MsgError       = "Cannot display dataset due to an error."
	MsgNoConverter = "A converter for this dataset is not installed."
	MsgNoData      = "No data for this chrom/contig."
	MsgPending     = "Preparing data. This can take a while for a large dataset."
	MsgOK          = "Ready for display"
)

// Status is the readiness of a track's dataset.
type Status struct {
	State   genome.State `json:"state"`
	Message string       `json:"message,omitempty"`
	Detail  string       `json:"detail,omitempty"`
	Enabled bool         `json:"enabled"`
}

// Drawable is anything the view can schedule for drawing.
type Drawable interface {
	ID() string
	Name() string
	Type() string
	CanDraw() bool
	// RequestDraw asks the view to draw this track on its next frame.
	RequestDraw(opts DrawOptions)
	// SetRedrawer installs the view hook RequestDraw forwards to.
	SetRedrawer(fn func(DrawOptions))
}

// TileRequest describes one tile to draw.
type TileRequest struct {
	Region     genome.Region
	Resolution float64
	// ViewLen is the width of the visible window in bases.
	ViewLen int
	Options DrawOptions
}

// Tileable is a drawable that renders in tiles.
type Tileable interface {
	Drawable
	Tiles() *tile.Cache
	// DrawTile returns the tile for req, or a pending marker that is
	// done once the tile can be drawn from cached data. Both are nil when
	// req.Options.NoFetch is set and the tile needs new data.
	DrawTile(ctx context.Context, req TileRequest) (*tile.Tile, *Pending)
}

// Configurable is a track whose settings can be replaced.
type Configurable interface {
	Config() Config
	// SetConfig installs cfg and reports what changed. Tiles are dropped
	// and a redraw requested when the change affects drawing.
	SetConfig(cfg Config) Change
}

// RowLimited is implemented by tracks that pack features into rows.
type RowLimited interface {
	// IncreaseRows doubles the row limit and returns the new limit.
	IncreaseRows() int
}

// Track is the full interface every track type implements.
type Track interface {
	Tileable
	Configurable
	// Init checks the dataset state for chrom and enables the track when
	// data is available. retry re-checks a dataset that failed before.
	Init(ctx context.Context, chrom string, retry bool) Status
	Status() Status
	GetMoreData(ctx context.Context, region genome.Region, resolution float64, kind datamanager.MoreKind) (*Pending, error)
	DataStats() datamanager.Stats
	Close()
}

// Pending marks a tile whose data is still on its way.
type Pending struct {
	done chan struct{}
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done is closed when the tile can be drawn.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the tile can be drawn or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deps are the shared services a track is built with.
type Deps struct {
	Fetcher  source.Fetcher
	Checker  source.StateChecker
	Store    datamanager.PayloadStore
	Renderer *render.TileRenderer
	// Reference supplies sequence to read tracks and is used as the data
	// manager of reference tracks when set.
	Reference *datamanager.Manager

	DataElements int
	TileElements int
	QueryWait    time.Duration
	MaxRows      int
	Subset       bool
}

// New builds the track described by tc.
func New(tc config.TrackConfig, deps Deps) (Track, error) {
	switch tc.Type {
	case TypeLine:
		return NewLineTrack(tc, deps)
	case TypeFeature:
		return NewFeatureTrack(tc, deps)
	case TypeRead:
		return NewReadTrack(tc, deps)
	case TypeVariant:
		return NewVariantTrack(tc, deps)
	case TypeHeatmap:
		return NewHeatmapTrack(tc, deps)
	case TypeReference:
		return NewReferenceTrack(tc, deps)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, tc.Type)
}

// drawInput is everything a layout needs to paint one tile.
type drawInput struct {
	data   *genome.Dataset
	mode   string
	region genome.Region
	ppb    float64
	width  int
	refSeq string
	prefs  painter.Prefs
}

// plan is a painter ready to draw plus the height it needs.
type plan struct {
	painter    painter.Painter
	height     int
	slots      map[string]int
	allSlotted bool
}

// layout is the per-type part of a track.
type layout interface {
	// dataMode maps a display mode to the mode data is requested in.
	dataMode(mode string) string
	// drawMode resolves Auto and other data-dependent modes.
	drawMode(mode string, d *genome.Dataset, viewLen int) string
	prepare(in drawInput) plan
}

// Base implements the state machine and tile drawing shared by all
// track types. Concrete tracks embed it and supply a layout.
type Base struct {
	id        string
	typ       string
	datasetID string
	hdaLdda   string

	layout    layout
	data      *datamanager.Manager
	ref       *datamanager.Manager
	checker   source.StateChecker
	renderer  *render.TileRenderer
	tiles     *tile.Cache
	queryWait time.Duration
	logger    *log.Entry

	mu       sync.Mutex
	cfg      Config
	status   Status
	chrom    string
	initGen  int
	inflight map[string]*Pending
	redraw   func(DrawOptions)
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newBase(tc config.TrackConfig, l layout, data *datamanager.Manager, deps Deps) (*Base, error) {
	tileElements := deps.TileElements
	if tileElements <= 0 {
		tileElements = 10
	}
	tiles, err := tile.NewCache(tileElements)
	if err != nil {
		return nil, err
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewTileRenderer(render.Config{TileSize: tile.Size})
	}
	queryWait := deps.QueryWait
	if queryWait <= 0 {
		queryWait = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		id:        tc.ID,
		typ:       tc.Type,
		datasetID: tc.DatasetID,
		hdaLdda:   tc.HdaLdda,
		layout:    l,
		data:      data,
		checker:   deps.Checker,
		renderer:  renderer,
		tiles:     tiles,
		queryWait: queryWait,
		logger:    log.WithFields(log.Fields{"component": "track", "track": tc.ID}),
		cfg:       NewConfig(tc.Name, tc.Mode, tc.Prefs),
		status:    Status{State: genome.StatePending, Message: MsgPending},
		inflight:  make(map[string]*Pending),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func newManager(tc config.TrackConfig, kind genome.Kind, deps Deps) (*datamanager.Manager, error) {
	return datamanager.New(deps.Fetcher, datamanager.Options{
		Track:     tc.ID,
		Kind:      kind,
		DatasetID: tc.DatasetID,
		HdaLdda:   tc.HdaLdda,
		Elements:  deps.DataElements,
		QueryWait: deps.QueryWait,
		Subset:    deps.Subset,
		Store:     deps.Store,
	})
}

// ID returns the track id.
func (b *Base) ID() string { return b.id }

// Type returns the configured track type.
func (b *Base) Type() string { return b.typ }

// Name returns the display name.
func (b *Base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Name()
}

// Tiles returns the tile cache.
func (b *Base) Tiles() *tile.Cache { return b.tiles }

// Config returns the current settings.
func (b *Base) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// SetConfig implements Configurable.
func (b *Base) SetConfig(cfg Config) Change {
	b.mu.Lock()
	ch := Diff(b.cfg, cfg)
	b.cfg = cfg
	b.mu.Unlock()

	if ch.ClearsTiles() {
		b.tiles.Clear()
		b.RequestDraw(DrawOptions{ClearTileCache: true})
	}
	return ch
}

// Status returns the dataset readiness.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// CanDraw reports whether the track is enabled.
func (b *Base) CanDraw() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.Enabled
}

// SetRedrawer implements Drawable.
func (b *Base) SetRedrawer(fn func(DrawOptions)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redraw = fn
}

// RequestDraw implements Drawable.
func (b *Base) RequestDraw(opts DrawOptions) {
	b.mu.Lock()
	fn := b.redraw
	b.mu.Unlock()
	if fn != nil {
		fn(opts)
	}
}

// DataStats returns the data manager's cache counters.
func (b *Base) DataStats() datamanager.Stats {
	return b.data.Stats()
}

// Init implements Track. Caches are dropped, then the dataset state
// decides whether the track is enabled. A pending dataset is polled in
// the background and the track redrawn once it settles.
func (b *Base) Init(ctx context.Context, chrom string, retry bool) Status {
	b.mu.Lock()
	b.initGen++
	gen := b.initGen
	b.chrom = chrom
	b.status = Status{State: genome.StatePending, Message: MsgPending}
	b.mu.Unlock()

	b.tiles.Clear()
	b.data.Clear()

	if b.datasetID == "" || b.checker == nil {
		return b.setStatus(gen, Status{State: genome.StateData, Message: MsgOK, Enabled: true})
	}
	if retry {
		b.logger.Info("retrying dataset state check")
	}

	st := b.checkState(ctx, chrom)
	if st.State != genome.StatePending {
		return b.setStatus(gen, st)
	}
	b.setStatus(gen, st)

	pctx, stop := context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		defer context.AfterFunc(b.ctx, stop)()
		final, err := source.Poll(pctx, b.queryWait, func(ctx context.Context) (Status, error) {
			return b.checkState(ctx, chrom), nil
		}, func(s Status) bool {
			return s.State != genome.StatePending
		})
		if err != nil {
			b.logger.Debugf("stopped waiting for dataset: %v", err)
			return
		}
		b.setStatus(gen, final)
	}()
	return st
}

func (b *Base) checkState(ctx context.Context, chrom string) Status {
	d, err := b.checker.CheckState(ctx, b.datasetID, b.hdaLdda, chrom)
	if err != nil {
		return Status{State: genome.StateError, Message: MsgError, Detail: err.Error()}
	}
	switch d.State {
	case genome.StateError:
		return Status{State: genome.StateError, Message: MsgError, Detail: d.Message}
	case genome.StateNoConverter:
		return Status{State: genome.StateNoConverter, Message: MsgNoConverter}
	case genome.StateNoData:
		return Status{State: genome.StateNoData, Message: MsgNoData}
	case genome.StatePending:
		return Status{State: genome.StatePending, Message: MsgPending}
	}
	return Status{State: genome.StateData, Message: MsgOK, Enabled: true}
}

// setStatus records st unless a newer Init has started, and requests a
// draw when the track became enabled.
func (b *Base) setStatus(gen int, st Status) Status {
	b.mu.Lock()
	if gen != b.initGen {
		cur := b.status
		b.mu.Unlock()
		return cur
	}
	b.status = st
	b.mu.Unlock()

	b.logger.WithField("state", st.State).Debug("dataset state")
	if st.Enabled {
		b.RequestDraw(DrawOptions{})
	}
	return st
}

// DrawTile implements Tileable: tile cache, then data manager, then
// slotting and painting. The finished tile is cached.
func (b *Base) DrawTile(ctx context.Context, req TileRequest) (*tile.Tile, *Pending) {
	b.mu.Lock()
	cfg := b.cfg
	b.mu.Unlock()
	mode := req.Options.Mode
	if mode == "" {
		mode = cfg.Mode()
	}
	if !req.Options.Force {
		if t, ok := b.tiles.Get(req.Resolution, req.Region); ok && t.Requested == mode {
			return t, nil
		}
	}
	key := tile.Key(req.Resolution, req.Region)

	b.mu.Lock()
	if p, ok := b.inflight[key]; ok {
		b.mu.Unlock()
		return nil, p
	}
	if req.Options.NoFetch {
		b.mu.Unlock()
		return nil, nil
	}

	dataRes := b.data.GetData(ctx, req.Region, b.layout.dataMode(mode), req.Resolution, nil)
	var refRes *datamanager.Result
	if b.ref != nil {
		refRes = b.ref.GetData(ctx, req.Region, referenceMode, req.Resolution, nil)
	}
	if dataRes.Ready() && (refRes == nil || refRes.Ready()) {
		b.mu.Unlock()
		return b.finish(req, cfg, mode, dataRes.Dataset(), refRes), nil
	}

	p := newPending()
	b.inflight[key] = p
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(p.done)
		defer func() {
			b.mu.Lock()
			delete(b.inflight, key)
			b.mu.Unlock()
		}()

		d, err := dataRes.Wait(ctx)
		if err != nil {
			return
		}
		if refRes != nil {
			if _, err := refRes.Wait(ctx); err != nil {
				return
			}
		}
		b.finish(req, cfg, mode, d, refRes)
	}()
	return nil, p
}

// finish paints a tile from resolved data and caches it.
func (b *Base) finish(req TileRequest, cfg Config, mode string, d *genome.Dataset, refRes *datamanager.Result) *tile.Tile {
	ppb := 1 / req.Resolution
	width := int(math.Ceil(float64(req.Region.Len()) * ppb))
	t := &tile.Tile{
		Region:     req.Region,
		Resolution: req.Resolution,
		Requested:  mode,
		Data:       d,
		AllSlotted: true,
	}

	if !d.OK() {
		t.Mode = mode
		t.Message = d.Message
		if t.Message == "" {
			t.Message = string(d.State)
		}
		t.Image = b.renderer.Render(width, MinHeight, func(*gg.Context) {})
		t.MaxRequiredHeight = MinHeight
		b.tiles.Set(t)
		return t
	}

	var refSeq string
	if refRes != nil {
		if seq := refRes.Dataset(); seq.OK() {
			if sub, ok := seq.Subset(req.Region); ok {
				refSeq = sub.Sequence
			} else if seq.Region == req.Region {
				refSeq = seq.Sequence
			}
		}
	}

	t.Mode = b.layout.drawMode(mode, d, req.ViewLen)
	p := b.layout.prepare(drawInput{
		data:   d,
		mode:   t.Mode,
		region: req.Region,
		ppb:    ppb,
		width:  width,
		refSeq: refSeq,
		prefs:  cfg.Prefs(),
	})
	height := min(max(p.height, MinHeight), MaxHeight)

	var positions *painter.PositionMap
	t.Image = b.renderer.Render(width, height, func(dc *gg.Context) {
		if p.painter != nil {
			positions = p.painter.Draw(dc, width, height, ppb, p.slots)
		}
	})
	t.Positions = positions
	t.MaxRequiredHeight = p.height
	t.AllSlotted = p.allSlotted
	t.Message = d.Message
	b.tiles.Set(t)

	b.logger.WithFields(log.Fields{
		"region": req.Region.String(),
		"mode":   t.Mode,
		"height": height,
	}).Debug("tile drawn")
	return t
}

// GetMoreData implements Track. The tile for region is marked stale and
// the returned marker is done when the extended payload is cached.
func (b *Base) GetMoreData(ctx context.Context, region genome.Region, resolution float64, kind datamanager.MoreKind) (*Pending, error) {
	if !b.CanDraw() {
		return nil, ErrNotEnabled
	}
	mode := b.Config().Mode()
	res, err := b.data.GetMoreData(ctx, region, b.layout.dataMode(mode), resolution, nil, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to request more data: %w", err)
	}
	b.tiles.MarkStale(resolution, region)

	p := newPending()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(p.done)
		if _, err := res.Wait(ctx); err != nil {
			return
		}
		b.RequestDraw(DrawOptions{})
	}()
	return p, nil
}

// Close stops background polling and fetches and waits for them.
func (b *Base) Close() {
	b.cancel()
	b.data.Close()
	b.wg.Wait()
}
