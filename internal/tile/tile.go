// Package tile holds rendered track tiles and the per-track cache that
// keeps them between redraws.
package tile

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/lru"
	"github.com/genome-tiles/server/internal/painter"
)

// Size is the default tile width in pixels.
const Size = 400

// Tile is one rendered piece of a track.
type Tile struct {
	Region     genome.Region
	Resolution float64
	// Requested is the display mode asked for; Mode is what it resolved
	// to. A cached tile only serves requests for the same mode.
	Requested string
	Mode      string
	Image     *image.RGBA
	Data      *genome.Dataset
	Positions *painter.PositionMap

	// MaxRequiredHeight is the height the data needs, which can exceed the
	// image height when the track height is capped.
	MaxRequiredHeight int
	AllSlotted        bool
	Message           string

	stale atomic.Bool
}

// Stale reports whether the tile was superseded and must be redrawn.
func (t *Tile) Stale() bool {
	return t.stale.Load()
}

// MarkStale flags the tile for redraw.
func (t *Tile) MarkStale() {
	t.stale.Store(true)
}

// Height returns the image height in pixels.
func (t *Tile) Height() int {
	if t.Image == nil {
		return 0
	}
	return t.Image.Bounds().Dy()
}

// Index returns the index of the tile that contains pos at resolution.
func Index(pos int, size int, resolution float64) int {
	return int(math.Floor(float64(pos) / (float64(size) * resolution)))
}

// Bounds returns the region covered by tile index on chrom. The end is
// capped at maxHigh when maxHigh is positive.
func Bounds(chrom string, index, size int, resolution float64, maxHigh int) genome.Region {
	span := float64(size) * resolution
	low := int(math.Floor(float64(index) * span))
	high := low + int(math.Ceil(span))
	if maxHigh > 0 {
		high = min(high, maxHigh)
	}
	return genome.NewRegion(chrom, low, high)
}

// Key returns the cache key of a tile: resolution|start|end.
func Key(resolution float64, region genome.Region) string {
	return fmt.Sprintf("%s|%d|%d", strconv.FormatFloat(resolution, 'f', -1, 64), region.Start, region.End)
}

// Cache is a bounded store of rendered tiles for one track. Stale tiles
// are dropped when looked up.
type Cache struct {
	tiles *lru.Cache[string, *Tile]
}

// NewCache creates a cache holding up to capacity tiles.
func NewCache(capacity int) (*Cache, error) {
	c, err := lru.New[string, *Tile](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	return &Cache{tiles: c}, nil
}

// Get returns the tile for region at resolution. Tiles cached for
// another chromosome are misses.
func (c *Cache) Get(resolution float64, region genome.Region) (*Tile, bool) {
	t, ok := c.tiles.Get(Key(resolution, region))
	if !ok || t.Region.Chrom != region.Chrom {
		return nil, false
	}
	return t, true
}

// Set stores t under its own key.
func (c *Cache) Set(t *Tile) {
	c.tiles.Set(Key(t.Resolution, t.Region), t)
}

// MarkStale flags the cached tile for region, if any.
func (c *Cache) MarkStale(resolution float64, region genome.Region) bool {
	t, ok := c.tiles.Peek(Key(resolution, region))
	if !ok {
		return false
	}
	t.MarkStale()
	return true
}

// Clear drops every tile.
func (c *Cache) Clear() {
	c.tiles.Clear()
}

// Len returns the number of cached tiles.
func (c *Cache) Len() int {
	return c.tiles.Len()
}
