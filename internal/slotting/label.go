package slotting

import (
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	// LabelSpacing separates a label from its feature.
	LabelSpacing = 2
	// PackSpacing pads packed features so labels do not touch neighbours.
	PackSpacing = 5
)

// LabelFace is the face used both to measure and to draw feature labels.
var LabelFace font.Face = basicfont.Face7x13

// MeasureLabel returns the advance width of s in pixels.
func MeasureLabel(s string) float64 {
	w := font.MeasureString(LabelFace, s)
	return float64(w) / 64
}
