package colormap

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// ParseHex parses "#rgb" or "#rrggbb", with or without the leading '#'.
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// MustHex is ParseHex for constants; it panics on malformed input.
func MustHex(s string) color.RGBA {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// HexOr parses s, falling back to def when s is empty or malformed.
func HexOr(s string, def color.RGBA) color.RGBA {
	if c, err := ParseHex(s); err == nil {
		return c
	}
	return def
}

// Hex formats c as "#rrggbb".
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Ramp maps a data value to a color.
type Ramp interface {
	Map(v float64) color.RGBA
}

// LinearRamp interpolates between Start at Min and End at Max. Values
// outside the range take the end colors.
type LinearRamp struct {
	Start, End color.RGBA
	Min, Max   float64
}

// Map implements Ramp.
func (r LinearRamp) Map(v float64) color.RGBA {
	if r.Max == r.Min || math.IsNaN(v) {
		return r.Start
	}
	t := (v - r.Min) / (r.Max - r.Min)
	t = math.Max(0, math.Min(1, t))
	return interpolate(r.Start, r.End, t)
}

// SplitRamp colors negative values from Middle towards Neg and positive
// values from Middle towards Pos, each side scaled by its own bound.
type SplitRamp struct {
	Neg, Middle, Pos color.RGBA
	Min, Max         float64
}

// Map implements Ramp.
func (r SplitRamp) Map(v float64) color.RGBA {
	v = math.Max(r.Min, math.Min(r.Max, v))
	if v >= 0 {
		return LinearRamp{Start: r.Middle, End: r.Pos, Min: 0, Max: r.Max}.Map(v)
	}
	return LinearRamp{Start: r.Middle, End: r.Neg, Min: 0, Max: -r.Min}.Map(-v)
}

// Tint moves c towards white by 1-saturation; saturation 1 keeps c.
func Tint(c color.RGBA, saturation float64) color.RGBA {
	s := math.Max(0, math.Min(1, saturation))
	ch := func(v uint8) uint8 {
		return uint8(math.Round(float64(v) + (255-float64(v))*(1-s)))
	}
	return color.RGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: 255}
}
