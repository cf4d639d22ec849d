// Package colormap provides color schemes and value ramps for track
// rendering.
package colormap

import (
	"image/color"
	"math"
	"strings"
)

// Scheme maps a position in [0, 1] to a color.
type Scheme struct {
	stops []color.RGBA
}

// At returns the color at position t, clamped to [0, 1].
func (s Scheme) At(t float64) color.RGBA {
	n := len(s.stops)
	if n == 0 {
		return color.RGBA{A: 255}
	}
	if math.IsNaN(t) || t <= 0 {
		return s.stops[0]
	}
	if t >= 1 {
		return s.stops[n-1]
	}
	pos := t * float64(n-1)
	i := int(pos)
	return interpolate(s.stops[i], s.stops[min(i+1, n-1)], pos-float64(i))
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	ch := func(a, b uint8) uint8 {
		return uint8(float64(a) + t*(float64(b)-float64(a)) + 0.5)
	}
	return color.RGBA{R: ch(c1.R, c2.R), G: ch(c1.G, c2.G), B: ch(c1.B, c2.B), A: 255}
}

// Viridis (matplotlib).
var Viridis = Scheme{stops: []color.RGBA{
	{68, 1, 84, 255},
	{59, 82, 139, 255},
	{33, 145, 140, 255},
	{94, 201, 98, 255},
	{253, 231, 37, 255},
}}

// Magma (matplotlib).
var Magma = Scheme{stops: []color.RGBA{
	{0, 0, 4, 255},
	{81, 18, 124, 255},
	{183, 55, 121, 255},
	{252, 137, 97, 255},
	{252, 253, 191, 255},
}}

// Greys runs from white to black.
var Greys = Scheme{stops: []color.RGBA{
	{255, 255, 255, 255},
	{0, 0, 0, 255},
}}

var schemes = map[string]Scheme{
	"viridis": Viridis,
	"magma":   Magma,
	"greys":   Greys,
}

// ByName looks a scheme up case-insensitively.
func ByName(name string) (Scheme, bool) {
	s, ok := schemes[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}
