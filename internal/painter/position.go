package painter

import "math"

// Placement is where a feature was drawn on a tile.
type Placement struct {
	UID    string  `json:"uid"`
	Name   string  `json:"name,omitempty"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	XStart float64 `json:"x_start"`
	XEnd   float64 `json:"x_end"`
}

// PositionMap answers which feature was drawn under a pixel.
type PositionMap struct {
	slotHeight int
	slots      map[int][]Placement

	// Translation shifts queried x values; YTranslation is the padding
	// above the first row.
	Translation  float64
	YTranslation float64
}

// NewPositionMap creates an empty map for rows slotHeight pixels tall.
func NewPositionMap(slotHeight int) *PositionMap {
	return &PositionMap{slotHeight: slotHeight, slots: make(map[int][]Placement)}
}

// Add records p in row slot.
func (m *PositionMap) Add(slot int, p Placement) {
	m.slots[slot] = append(m.slots[slot], p)
}

// Get returns the feature drawn at (x, y).
func (m *PositionMap) Get(x, y float64) (Placement, bool) {
	if m == nil || m.slotHeight <= 0 {
		return Placement{}, false
	}
	slot := int(math.Floor((y - m.YTranslation) / float64(m.slotHeight)))
	x += m.Translation
	for _, p := range m.slots[slot] {
		if x >= p.XStart && x <= p.XEnd {
			return p, true
		}
	}
	return Placement{}, false
}

// Len returns the number of recorded placements.
func (m *PositionMap) Len() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, ps := range m.slots {
		n += len(ps)
	}
	return n
}
