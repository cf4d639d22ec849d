// Package slotting assigns features to display rows so that no two features
// in a row overlap on screen, including their labels.
package slotting

import (
	"math"
	"sync"

	"github.com/biogo/store/llrb"
)

// DefaultMaxRows is the default deepest row a slotter will use.
const DefaultMaxRows = 100

// Item is the part of a feature the slotter needs.
type Item struct {
	UID   string
	Start int
	End   int
	Label string
}

// Options configures a Slotter.
type Options struct {
	PixelsPerBase float64
	MaxRows       int
	IncludeLabels bool
	// Measure returns label widths in pixels. Defaults to MeasureLabel.
	Measure func(string) float64
	// RetryLabelSide moves a left label to the right when no row fits.
	RetryLabelSide bool
}

// Slotter packs features into rows incrementally. A feature keeps its row
// for the lifetime of the slotter.
type Slotter struct {
	mu   sync.Mutex
	opts Options

	slots map[string]int
	rows  map[int]*llrb.Tree
	seq   int
}

// New creates an empty slotter.
func New(opts Options) *Slotter {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Measure == nil {
		opts.Measure = MeasureLabel
	}
	return &Slotter{
		opts:  opts,
		slots: make(map[string]int),
		rows:  make(map[int]*llrb.Tree),
	}
}

// interval is an occupied pixel span in one row, ordered by start then
// end. seq keeps identical spans distinct in the tree.
type interval struct {
	start, end float64
	seq        int
}

func (a interval) Compare(b llrb.Comparable) int {
	o := b.(interval)
	switch {
	case a.start < o.start:
		return -1
	case a.start > o.start:
		return 1
	case a.end < o.end:
		return -1
	case a.end > o.end:
		return 1
	case a.seq < o.seq:
		return -1
	case a.seq > o.seq:
		return 1
	}
	return 0
}

// SlotFeatures assigns rows to the items not yet slotted, in input order,
// and returns one more than the highest row used by items in this call.
// rowsUsed is at least 1, even for an empty batch or one where nothing
// could be slotted; it sizes the track rather than counting occupied rows.
// allSlotted is false when some item found no free row within MaxRows;
// such items are left unslotted.
func (s *Slotter) SlotFeatures(items []Item) (rowsUsed int, allSlotted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	highest := 0
	allSlotted = true
	var undone []Item
	for _, it := range items {
		if row, ok := s.slots[it.UID]; ok {
			highest = max(highest, row)
		} else {
			undone = append(undone, it)
		}
	}

	for _, it := range undone {
		if _, ok := s.slots[it.UID]; ok {
			// Duplicate uid within this batch.
			continue
		}
		start := math.Floor(float64(it.Start) * s.opts.PixelsPerBase)
		end := math.Ceil(float64(it.End) * s.opts.PixelsPerBase)

		labelLeft := false
		textLen := 0.0
		if s.opts.IncludeLabels && it.Label != "" {
			textLen = s.opts.Measure(it.Label) + LabelSpacing + PackSpacing
			if start-textLen >= 0 {
				start -= textLen
				labelLeft = true
			} else {
				end += textLen
			}
		}

		row := s.findSlot(start, end)
		if row < 0 && labelLeft && s.opts.RetryLabelSide {
			start += textLen
			end += textLen
			row = s.findSlot(start, end)
		}
		if row < 0 {
			allSlotted = false
			continue
		}
		s.occupy(row, start, end)
		s.slots[it.UID] = row
		highest = max(highest, row)
	}
	return highest + 1, allSlotted
}

// findSlot returns the first row in 0..MaxRows with no interval
// overlapping [start, end), or -1.
func (s *Slotter) findSlot(start, end float64) int {
	for row := 0; row <= s.opts.MaxRows; row++ {
		if !s.overlaps(row, start, end) {
			return row
		}
	}
	return -1
}

// overlaps reports whether any interval o in row has end > o.start and
// start < o.end. Intervals in a row never overlap each other, so ordered
// by start their ends are non-decreasing and the last interval starting
// before end has the greatest end among the candidates.
func (s *Slotter) overlaps(row int, start, end float64) bool {
	t, ok := s.rows[row]
	if !ok {
		return false
	}
	c := t.Floor(interval{start: end, end: math.Inf(-1)})
	if c == nil {
		return false
	}
	return c.(interval).end > start
}

func (s *Slotter) occupy(row int, start, end float64) {
	t, ok := s.rows[row]
	if !ok {
		t = &llrb.Tree{}
		s.rows[row] = t
	}
	s.seq++
	t.Insert(interval{start: start, end: end, seq: s.seq})
}

// Row returns the row assigned to uid.
func (s *Slotter) Row(uid string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.slots[uid]
	return row, ok
}

// Slots returns a copy of the uid to row assignment.
func (s *Slotter) Slots() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// MaxRows returns the deepest row index this slotter may use.
func (s *Slotter) MaxRows() int {
	return s.opts.MaxRows
}

// PixelsPerBase returns the scale the slotter packs at.
func (s *Slotter) PixelsPerBase() float64 {
	return s.opts.PixelsPerBase
}
