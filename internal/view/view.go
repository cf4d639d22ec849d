// Package view keeps a viewport over one chromosome, schedules track
// redraws on animation frames and stitches visible tiles into an image.
package view

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/painter"
	"github.com/genome-tiles/server/internal/render"
	"github.com/genome-tiles/server/internal/tile"
	"github.com/genome-tiles/server/internal/track"
)

// ErrUnknownHandle is returned for handles that own no track.
var ErrUnknownHandle = errors.New("unknown track handle")

// State is the redraw state of a view.
type State int

const (
	Idle State = iota
	RedrawRequested
	RedrawInProgress
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RedrawRequested:
		return "redraw_requested"
	case RedrawInProgress:
		return "redraw_in_progress"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handle identifies a track added to a view.
type Handle uint64

// Options configures a View.
type Options struct {
	// Width is the viewport width in pixels.
	Width    int
	TileSize int
	// MinSeparation is the narrowest window in bases.
	MinSeparation int
	ZoomFactor    float64
	Renderer      *render.TileRenderer
	Clock         Clock
}

// Stats counts scheduler activity.
type Stats struct {
	Requests   int `json:"requests"`
	Passes     int `json:"passes"`
	Retriggers int `json:"retriggers"`
	Placed     int `json:"placed"`
	Watching   int `json:"watching"`
}

// placement is a tile shown in the viewport.
type placement struct {
	tile   *tile.Tile
	left   int
	remove bool
}

// View is a viewport over one chromosome showing a stack of tracks.
type View struct {
	opts     Options
	renderer *render.TileRenderer
	clock    Clock
	logger   *log.Entry

	mu        sync.Mutex
	chrom     string
	low, high int
	maxLow    int
	maxHigh   int
	state     State
	next      Handle
	order     []Handle
	owners    map[Handle]track.Track
	requested map[Handle]track.DrawOptions
	placed    map[Handle]map[string]*placement
	watching  map[*track.Pending]struct{}
	changed   chan struct{}
	stats     Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a view and starts its frame loop.
func New(opts Options) *View {
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.TileSize <= 0 {
		opts.TileSize = tile.Size
	}
	if opts.MinSeparation <= 0 {
		opts.MinSeparation = 30
	}
	if opts.ZoomFactor <= 1 {
		opts.ZoomFactor = 3
	}
	if opts.Renderer == nil {
		opts.Renderer = render.NewTileRenderer(render.Config{TileSize: opts.TileSize})
	}
	if opts.Clock == nil {
		opts.Clock = NewTickerClock(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		opts:      opts,
		renderer:  opts.Renderer,
		clock:     opts.Clock,
		logger:    log.WithField("component", "view"),
		owners:    make(map[Handle]track.Track),
		requested: make(map[Handle]track.DrawOptions),
		placed:    make(map[Handle]map[string]*placement),
		watching:  make(map[*track.Pending]struct{}),
		changed:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	v.wg.Add(1)
	go v.loop()
	return v
}

// Close stops the frame loop and waits for background work.
func (v *View) Close() {
	v.cancel()
	v.clock.Stop()
	v.wg.Wait()
}

// AddTrack appends tr to the stack and returns its handle. The view
// becomes the track's redraw target.
func (v *View) AddTrack(tr track.Track) Handle {
	v.mu.Lock()
	v.next++
	h := v.next
	v.owners[h] = tr
	v.order = append(v.order, h)
	v.placed[h] = make(map[string]*placement)
	v.mu.Unlock()

	tr.SetRedrawer(func(opts track.DrawOptions) {
		v.RequestRedraw(opts, h)
	})
	return h
}

// RemoveTrack drops the track owned by h.
func (v *View) RemoveTrack(h Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	tr, ok := v.owners[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	tr.SetRedrawer(nil)
	delete(v.owners, h)
	delete(v.placed, h)
	delete(v.requested, h)
	for i, o := range v.order {
		if o == h {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return nil
}

// Track returns the track owned by h.
func (v *View) Track(h Handle) (track.Track, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tr, ok := v.owners[h]
	return tr, ok
}

// Handles returns the handles in drawing order.
func (v *View) Handles() []Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Handle(nil), v.order...)
}

// SetWidth changes the viewport width in pixels.
func (v *View) SetWidth(width int) {
	if width <= 0 {
		return
	}
	v.mu.Lock()
	changed := v.opts.Width != width
	v.opts.Width = width
	v.mu.Unlock()
	if changed {
		v.RequestRedraw(track.DrawOptions{})
	}
}

// Width returns the viewport width in pixels.
func (v *View) Width() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.opts.Width
}

// Window returns the visible region.
func (v *View) Window() genome.Region {
	v.mu.Lock()
	defer v.mu.Unlock()
	return genome.NewRegion(v.chrom, v.low, v.high)
}

// State returns the redraw state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Stats returns scheduler counters.
func (v *View) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.stats
	s.Watching = len(v.watching)
	s.Placed = 0
	for _, ps := range v.placed {
		s.Placed += len(ps)
	}
	return s
}

// Navigate shows region. Moving to another chromosome, or to the first
// one, initializes every track for it. length is the chromosome length
// and bounds later moves; zero leaves the right edge open.
func (v *View) Navigate(ctx context.Context, region genome.Region, length int) {
	v.mu.Lock()
	newChrom := region.Chrom != v.chrom
	v.chrom = region.Chrom
	v.low, v.high = region.Start, region.End
	v.maxLow, v.maxHigh = 0, length
	v.clampLocked()
	var tracks []track.Track
	if newChrom {
		for h := range v.placed {
			v.placed[h] = make(map[string]*placement)
		}
		for _, h := range v.order {
			tracks = append(tracks, v.owners[h])
		}
	}
	v.mu.Unlock()

	for _, tr := range tracks {
		tr.Init(ctx, region.Chrom, false)
	}
	v.RequestRedraw(track.DrawOptions{})
}

// ZoomIn narrows the window by the zoom factor around the pixel point,
// or around the center when point is negative.
func (v *View) ZoomIn(point float64) {
	v.mu.Lock()
	if v.maxHigh == 0 && v.high == 0 || v.high-v.low <= v.opts.MinSeparation {
		v.mu.Unlock()
		return
	}
	span := float64(v.high - v.low)
	center := span/2 + float64(v.low)
	if point >= 0 {
		center = point/float64(v.opts.Width)*span + float64(v.low)
	}
	half := span / v.opts.ZoomFactor / 2
	v.low = int(math.Floor(center - half))
	v.high = int(math.Ceil(center + half))
	v.clampLocked()
	v.mu.Unlock()
	v.RequestRedraw(track.DrawOptions{})
}

// ZoomOut widens the window by the zoom factor around its center.
func (v *View) ZoomOut() {
	v.mu.Lock()
	if v.maxHigh == 0 && v.high == 0 {
		v.mu.Unlock()
		return
	}
	span := float64(v.high - v.low)
	center := span/2 + float64(v.low)
	half := span * v.opts.ZoomFactor / 2
	v.low = int(math.Floor(center - half))
	v.high = int(math.Ceil(center + half))
	v.clampLocked()
	v.mu.Unlock()
	v.RequestRedraw(track.DrawOptions{})
}

// Move shifts the window by delta bases, keeping it on the chromosome.
func (v *View) Move(delta int) {
	v.mu.Lock()
	span := v.high - v.low
	low := max(v.low+delta, v.maxLow)
	if v.maxHigh > 0 {
		low = min(low, v.maxHigh-span)
	}
	v.low, v.high = low, low+span
	v.clampLocked()
	v.mu.Unlock()
	v.RequestRedraw(track.DrawOptions{})
}

// RequestRedraw asks for the given tracks, or every track when none is
// named, to be drawn on the next frame. Requests before that frame are
// merged into one pass.
func (v *View) RequestRedraw(opts track.DrawOptions, handles ...Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(handles) == 0 {
		handles = v.order
	}
	for _, h := range handles {
		if _, ok := v.owners[h]; !ok {
			continue
		}
		o := opts
		if prev, ok := v.requested[h]; ok {
			o = prev.Merge(opts)
		}
		v.requested[h] = o
	}
	v.stats.Requests++
	if v.state == Idle && len(v.requested) > 0 {
		v.setState(RedrawRequested)
	}
}

// setState records s and wakes waiters. Must hold v.mu.
func (v *View) setState(s State) {
	v.state = s
	v.notify()
}

// notify wakes Wait. Must hold v.mu.
func (v *View) notify() {
	close(v.changed)
	v.changed = make(chan struct{})
}

// Wait blocks until no redraw is requested or running and no tile is
// waiting for data, or ctx ends.
func (v *View) Wait(ctx context.Context) error {
	for {
		v.mu.Lock()
		if v.state == Idle && len(v.watching) == 0 {
			v.mu.Unlock()
			return nil
		}
		ch := v.changed
		v.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (v *View) loop() {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-v.clock.Frames():
			v.frame()
		}
	}
}

// frame runs one paint pass if a redraw was requested.
func (v *View) frame() {
	v.mu.Lock()
	if v.state != RedrawRequested {
		v.mu.Unlock()
		return
	}
	v.setState(RedrawInProgress)
	work := v.requested
	v.requested = make(map[Handle]track.DrawOptions)
	win := v.clampLocked()
	res := float64(win.Len()) / float64(v.opts.Width)
	v.stats.Passes++
	owners := make(map[Handle]track.Track, len(work))
	for h := range work {
		owners[h] = v.owners[h]
	}
	v.mu.Unlock()

	if win.Len() > 0 {
		// Pending tiles keep loading after the pass; only Close stops them.
		var g errgroup.Group
		for h, opts := range work {
			tr := owners[h]
			g.Go(func() error {
				v.drawTrack(v.ctx, h, tr, opts, win, res)
				return nil
			})
		}
		_ = g.Wait()
	}

	v.mu.Lock()
	if len(v.requested) > 0 {
		v.setState(RedrawRequested)
	} else {
		v.setState(Idle)
	}
	v.mu.Unlock()
}

// clampLocked keeps the window on the chromosome and at least
// MinSeparation wide. Must hold v.mu.
func (v *View) clampLocked() genome.Region {
	low, high := v.low, v.high
	if low < v.maxLow {
		low = v.maxLow
	}
	if v.maxHigh > 0 && high > v.maxHigh {
		high = v.maxHigh
	}
	if high != 0 && high-low < v.opts.MinSeparation {
		high = low + v.opts.MinSeparation
		if v.maxHigh > 0 && high > v.maxHigh {
			high = v.maxHigh
			low = max(v.maxLow, high-v.opts.MinSeparation)
		}
	}
	v.low, v.high = low, high
	return genome.NewRegion(v.chrom, low, high)
}

// drawTrack places every tile overlapping win at res bases per pixel. Tiles shown before and
// not placed again are removed afterwards, or once pending tiles arrive
// when opts.ClearAfter is set.
func (v *View) drawTrack(ctx context.Context, h Handle, tr track.Track, opts track.DrawOptions, win genome.Region, res float64) {
	if tr == nil || !tr.CanDraw() {
		return
	}
	if opts.ClearTileCache {
		tr.Tiles().Clear()
	}
	size := v.opts.TileSize

	v.mu.Lock()
	for _, p := range v.placed[h] {
		p.remove = true
	}
	maxHigh := v.maxHigh
	v.mu.Unlock()

	waiting := false
	for idx := tile.Index(win.Start, size, res); float64(idx)*float64(size)*res < float64(win.End); idx++ {
		region := tile.Bounds(win.Chrom, idx, size, res, maxHigh)
		t, p := tr.DrawTile(ctx, track.TileRequest{
			Region:     region,
			Resolution: res,
			ViewLen:    win.Len(),
			Options:    opts,
		})
		if t != nil {
			v.place(h, t, win, res)
		}
		if p != nil {
			waiting = true
			v.watch(h, p)
		}
	}

	if !opts.ClearAfter || !waiting {
		v.sweep(h)
	}
}

func (v *View) place(h Handle, t *tile.Tile, win genome.Region, res float64) {
	left := int(math.Round(float64(t.Region.Start-win.Start) / res))
	key := tile.Key(t.Resolution, t.Region)

	v.mu.Lock()
	defer v.mu.Unlock()
	ps, ok := v.placed[h]
	if !ok {
		return
	}
	ps[key] = &placement{tile: t, left: left}
}

func (v *View) sweep(h Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, p := range v.placed[h] {
		if p.remove {
			delete(v.placed[h], key)
		}
	}
}

// watch requests a redraw of h once p is done. A marker already being
// watched is not watched twice.
func (v *View) watch(h Handle, p *track.Pending) {
	v.mu.Lock()
	if _, ok := v.watching[p]; ok {
		v.mu.Unlock()
		return
	}
	v.watching[p] = struct{}{}
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		select {
		case <-p.Done():
			v.RequestRedraw(track.DrawOptions{}, h)
			v.mu.Lock()
			v.stats.Retriggers++
			v.mu.Unlock()
		case <-v.ctx.Done():
		}
		v.mu.Lock()
		delete(v.watching, p)
		v.notify()
		v.mu.Unlock()
	}()
}

// trackRows returns the placed tiles of each track, ordered by position,
// and the height of each track. Must hold v.mu.
func (v *View) trackRows() ([]Handle, map[Handle][]*placement, map[Handle]int) {
	rows := make(map[Handle][]*placement, len(v.order))
	heights := make(map[Handle]int, len(v.order))
	for _, h := range v.order {
		for _, p := range v.placed[h] {
			rows[h] = append(rows[h], p)
			heights[h] = max(heights[h], p.tile.Height())
		}
	}
	return append([]Handle(nil), v.order...), rows, heights
}

// Image stitches the placed tiles into one image, tracks stacked in
// order, each as tall as its tallest tile.
func (v *View) Image() *image.RGBA {
	v.mu.Lock()
	order, rows, heights := v.trackRows()
	width := v.opts.Width
	v.mu.Unlock()

	total := 0
	for _, h := range order {
		total += heights[h]
	}
	return v.renderer.Render(width, max(total, 1), func(dc *gg.Context) {
		dc.SetColor(color.White)
		dc.Clear()
		y := 0
		for _, h := range order {
			for _, p := range rows[h] {
				if p.tile.Image != nil {
					dc.DrawImage(p.tile.Image, p.left, y)
				}
			}
			y += heights[h]
		}
	})
}

// FeatureAt returns the feature drawn at viewport pixel (x, y) of the
// track owned by h, with y relative to the top of that track.
func (v *View) FeatureAt(h Handle, x, y float64) (painter.Placement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ps, ok := v.placed[h]
	if !ok {
		return painter.Placement{}, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	for _, p := range ps {
		if p.tile.Image == nil || p.tile.Positions == nil {
			continue
		}
		w := float64(p.tile.Image.Bounds().Dx())
		lx := x - float64(p.left)
		if lx < 0 || lx >= w {
			continue
		}
		if f, ok := p.tile.Positions.Get(lx, y); ok {
			return f, nil
		}
	}
	return painter.Placement{}, nil
}
