// Package render provides pooled tile surfaces and PNG encoding using
// fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	TileSize int
}

// TileRenderer hands out drawing surfaces and encodes finished tiles.
type TileRenderer struct {
	config     Config
	contexts   sync.Map // [2]int{w, h} -> *sync.Pool of *gg.Context
	bufferPool sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 400
	}
	return &TileRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// TileSize returns the configured tile width in pixels.
func (r *TileRenderer) TileSize() int {
	return r.config.TileSize
}

func (r *TileRenderer) pool(w, h int) *sync.Pool {
	key := [2]int{w, h}
	if p, ok := r.contexts.Load(key); ok {
		return p.(*sync.Pool)
	}
	p, _ := r.contexts.LoadOrStore(key, &sync.Pool{
		New: func() interface{} {
			return gg.NewContext(w, h)
		},
	})
	return p.(*sync.Pool)
}

// Render runs draw on a cleared, transparent w x h surface and returns a
// copy of the result. The surface itself goes back to the pool.
func (r *TileRenderer) Render(w, h int, draw func(dc *gg.Context)) *image.RGBA {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))
	}
	pool := r.pool(w, h)
	dc := pool.Get().(*gg.Context)
	defer pool.Put(dc)

	dc.Identity()
	dc.ResetClip()
	dc.ClearPath()
	dc.SetColor(color.Transparent)
	dc.Clear()

	draw(dc)

	src := dc.Image().(*image.RGBA)
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}

// EncodePNG encodes img with the fast PNG encoder.
func (r *TileRenderer) EncodePNG(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile of the given height.
func (r *TileRenderer) CreateEmptyTile(height int) ([]byte, error) {
	if height <= 0 {
		height = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, height))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}
	return r.EncodePNG(img)
}
