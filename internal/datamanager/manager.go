// Package datamanager fetches, caches and subsets the region payloads of
// a single track.
package datamanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/lru"
	"github.com/genome-tiles/server/internal/source"
)

var (
	// ErrNoCurrentData is returned by GetMoreData when there is no resolved
	// payload to extend.
	ErrNoCurrentData = errors.New("no current data for region")
	// ErrUnknownMoreKind is returned for a more-data request that is
	// neither deep nor breadth.
	ErrUnknownMoreKind = errors.New("unknown more-data request")
)

// MoreKind selects how GetMoreData extends a payload.
type MoreKind string

const (
	// Deep re-requests the same interval, skipping records already held.
	Deep MoreKind = "deep"
	// Breadth requests the interval past the furthest record held.
	Breadth MoreKind = "breadth"
)

// PayloadStore is a second-level store of resolved payloads.
type PayloadStore interface {
	Get(track, key string) (*genome.Dataset, error)
	Put(track, key string, d *genome.Dataset) error
}

// Options configures a Manager.
type Options struct {
	Track      string
	Kind       genome.Kind
	DatasetID  string
	HdaLdda    string
	FilterCols []string
	// Elements is the number of payloads kept.
	Elements int
	// QueryWait is the interval between polls of a pending dataset.
	QueryWait time.Duration
	// Subset lets GetData cut a request out of a covering cached payload.
	Subset bool
	Store  PayloadStore
}

// Stats reports cache activity.
type Stats struct {
	Entries int `json:"entries"`
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Subsets int `json:"subsets"`
	Fetches int `json:"fetches"`
	Pending int `json:"pending"`
}

type entry struct {
	result     *Result
	mode       string
	resolution float64
	stale      bool
}

// Stale implements lru.Staler.
func (e *entry) Stale() bool {
	return e.stale
}

// Manager is the data cache of one track. Concurrent requests for the same
// key share one fetch.
type Manager struct {
	mu      sync.Mutex
	opts    Options
	fetcher source.Fetcher
	cache   *lru.Cache[string, *entry]
	stats   Stats

	// maxResolution, when positive, short-circuits requests at coarser
	// resolutions with an empty payload.
	maxResolution float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a data manager that fetches through f.
func New(f source.Fetcher, opts Options) (*Manager, error) {
	if opts.Elements <= 0 {
		opts.Elements = 20
	}
	if opts.QueryWait <= 0 {
		opts.QueryWait = 5 * time.Second
	}
	cache, err := lru.New[string, *entry](opts.Elements)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		fetcher: f,
		cache:   cache,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// NewReference creates a manager for reference sequence, which is only
// fetched at single-base resolution.
func NewReference(f source.Fetcher, opts Options) (*Manager, error) {
	opts.Kind = genome.KindSequence
	m, err := New(f, opts)
	if err != nil {
		return nil, err
	}
	m.maxResolution = 1
	return m, nil
}

// Key returns the cache key for a request.
func Key(region genome.Region, mode string, resolution float64) string {
	return fmt.Sprintf("%s_%d_%d_%s_%s", region.Chrom, region.Start, region.End, mode,
		strconv.FormatFloat(resolution, 'f', -1, 64))
}

// Kind returns the payload kind fetched by the manager.
func (m *Manager) Kind() genome.Kind {
	return m.opts.Kind
}

// GetData returns the payload for region. A cached payload, or a subset
// of a covering one, is returned ready; otherwise a fetch is started and
// its pending result is cached so that concurrent callers share it.
func (m *Manager) GetData(ctx context.Context, region genome.Region, mode string, resolution float64, extra map[string]string) *Result {
	key := Key(region, mode, resolution)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache.Get(key); ok {
		m.stats.Hits++
		return e.result
	}
	if m.opts.Subset {
		if d, ok := m.subsetCached(region, mode, resolution); ok {
			m.stats.Hits++
			m.stats.Subsets++
			return Ready(d)
		}
	}
	m.stats.Misses++

	if m.maxResolution > 0 && resolution > m.maxResolution {
		return Ready(&genome.Dataset{State: genome.StateNoData, Kind: m.opts.Kind, Region: region})
	}

	e := &entry{result: newResult(), mode: mode, resolution: resolution}
	m.cache.Set(key, e)
	req := m.request(region, mode, resolution, extra)
	m.start(key, req, func(d *genome.Dataset) *genome.Dataset { return d }, e)
	return e.result
}

// GetMoreData extends the cached payload for region. The current entry is
// marked stale at once; the merged payload replaces it when the extra
// records arrive, unless the entry has been superseded in the meantime.
func (m *Manager) GetMoreData(ctx context.Context, region genome.Region, mode string, resolution float64, extra map[string]string, kind MoreKind) (*Result, error) {
	key := Key(region, mode, resolution)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.cache.Peek(key)
	if !ok || cur.stale || !cur.result.Ready() || !cur.result.Dataset().OK() {
		return nil, fmt.Errorf("%w: %s", ErrNoCurrentData, key)
	}
	data := cur.result.Dataset()

	req := m.request(region, mode, resolution, extra)
	switch kind {
	case Deep:
		req.StartVal = data.Len() + 1
	case Breadth:
		low := data.MaxHigh
		if low <= 0 {
			low = data.LastEnd()
		}
		req.Region.Start = low + 1
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMoreKind, kind)
	}
	cur.stale = true

	next := &entry{result: newResult(), mode: mode, resolution: resolution}
	m.cache.Set(key, next)
	log.WithFields(log.Fields{"track": m.opts.Track, "key": key, "kind": kind}).Debug("requesting more data")
	m.start(key, req, func(more *genome.Dataset) *genome.Dataset {
		if more.State == genome.StateError {
			return more
		}
		return data.Merge(more)
	}, next)
	return next.result, nil
}

// Subset restricts d to region without a fetch. It fails when subsetting
// is disabled for the manager or d cannot be cut, e.g. a truncated or
// non-covering payload.
func (m *Manager) Subset(d *genome.Dataset, region genome.Region) (*genome.Dataset, bool) {
	if !m.opts.Subset || d == nil {
		return nil, false
	}
	return d.Subset(region)
}

// Clear drops every cached payload. In-flight fetches still resolve their
// results but are no longer cached.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Clear()
}

// Stats returns a snapshot of cache activity.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = m.cache.Len()
	s.Pending = 0
	for _, e := range m.cache.Values() {
		if !e.result.Ready() {
			s.Pending++
		}
	}
	return s
}

// Close stops in-flight fetches and waits for them to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) request(region genome.Region, mode string, resolution float64, extra map[string]string) source.Request {
	return source.Request{
		Kind:       m.opts.Kind,
		Region:     region,
		Mode:       mode,
		Resolution: resolution,
		DatasetID:  m.opts.DatasetID,
		HdaLdda:    m.opts.HdaLdda,
		FilterCols: m.opts.FilterCols,
		Extra:      extra,
	}
}

// subsetCached looks for a resolved payload with the same mode and
// resolution whose region covers the request. Must hold m.mu.
func (m *Manager) subsetCached(region genome.Region, mode string, resolution float64) (*genome.Dataset, bool) {
	keys := m.cache.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		e, ok := m.cache.Peek(keys[i])
		if !ok || e.stale || e.mode != mode || e.resolution != resolution {
			continue
		}
		if sub, ok := m.Subset(e.result.Dataset(), region); ok {
			return sub, true
		}
	}
	return nil, false
}

// start runs the fetch for req in the background and resolves e with the
// finished payload. Must hold m.mu.
func (m *Manager) start(key string, req source.Request, finish func(*genome.Dataset) *genome.Dataset, e *entry) {
	m.stats.Fetches++
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		d := finish(m.load(key, req))

		m.mu.Lock()
		cur, ok := m.cache.Peek(key)
		m.mu.Unlock()
		if !ok || cur != e {
			log.WithFields(log.Fields{"track": m.opts.Track, "key": key}).Debug("payload superseded, not cached")
		}
		e.result.resolve(d)
	}()
}

// load returns the payload for req from the store or the data service,
// polling while the service reports the dataset as pending.
func (m *Manager) load(key string, req source.Request) *genome.Dataset {
	logger := log.WithFields(log.Fields{"track": m.opts.Track, "key": key})
	storeKey := Key(req.Region, req.Mode, req.Resolution)
	if req.StartVal > 0 {
		storeKey += "_" + strconv.Itoa(req.StartVal)
	}

	if m.opts.Store != nil {
		d, err := m.opts.Store.Get(m.opts.Track, storeKey)
		if err != nil {
			logger.Warnf("payload store read failed: %v", err)
		} else if d != nil {
			return d
		}
	}

	d, err := source.Poll(m.ctx, m.opts.QueryWait, func(ctx context.Context) (*genome.Dataset, error) {
		return m.fetcher.Fetch(ctx, req)
	}, func(d *genome.Dataset) bool {
		if d.State == genome.StatePending {
			logger.Debug("dataset pending, polling")
			return false
		}
		return true
	})
	if err != nil {
		logger.Warnf("fetch failed: %v", err)
		return genome.Failed(err.Error())
	}

	if m.opts.Store != nil && d.OK() {
		if err := m.opts.Store.Put(m.opts.Track, storeKey, d); err != nil {
			logger.Warnf("payload store write failed: %v", err)
		}
	}
	return d
}
