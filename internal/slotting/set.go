package slotting

import (
	"fmt"
	"sync"
)

// Set holds one slotter per zoom level and drawing mode. Changing mode
// or row limit discards the history of every slotter.
type Set struct {
	mu       sync.Mutex
	maxRows  int
	retry    bool
	slotters map[string]*Slotter
}

// NewSet creates a set whose slotters use maxRows.
func NewSet(maxRows int, retryLabelSide bool) *Set {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Set{
		maxRows:  maxRows,
		retry:    retryLabelSide,
		slotters: make(map[string]*Slotter),
	}
}

// Get returns the slotter for the scale and mode, creating it if needed.
// Labels are included for the label-bearing modes only.
func (s *Set) Get(pixelsPerBase float64, mode string, includeLabels bool) *Slotter {
	key := fmt.Sprintf("%g|%s|%t", pixelsPerBase, mode, includeLabels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slotters[key]; ok {
		return sl
	}
	sl := New(Options{
		PixelsPerBase:  pixelsPerBase,
		MaxRows:        s.maxRows,
		IncludeLabels:  includeLabels,
		RetryLabelSide: s.retry,
	})
	s.slotters[key] = sl
	return sl
}

// Reset discards every slotter.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotters = make(map[string]*Slotter)
}

// MaxRows returns the current row limit.
func (s *Set) MaxRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRows
}

// IncreaseRows doubles the row limit and discards every slotter so that
// features are packed again from empty.
func (s *Set) IncreaseRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRows *= 2
	s.slotters = make(map[string]*Slotter)
	return s.maxRows
}
