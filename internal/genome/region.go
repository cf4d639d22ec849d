// Package genome defines the genomic value types shared by the data,
// slotting, painting and tiling layers.
package genome

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRegion is returned when a region string cannot be parsed.
var ErrInvalidRegion = errors.New("invalid region")

// Region is a half-open interval [Start, End) on one chromosome.
type Region struct {
	Chrom string `json:"chrom"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// NewRegion returns the region chrom:[start, end).
func NewRegion(chrom string, start, end int) Region {
	return Region{Chrom: chrom, Start: start, End: end}
}

// Len returns the number of bases covered.
func (r Region) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Valid reports whether the region names a chromosome and is not inverted.
func (r Region) Valid() bool {
	return r.Chrom != "" && r.Start >= 0 && r.End >= r.Start
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	return r.Chrom == o.Chrom && r.Start <= o.Start && o.End <= r.End
}

// Overlaps reports whether r and o share at least one base.
func (r Region) Overlaps(o Region) bool {
	return r.Chrom == o.Chrom && r.Start < o.End && o.Start < r.End
}

// Intersect returns the shared part of r and o.
func (r Region) Intersect(o Region) (Region, bool) {
	if !r.Overlaps(o) {
		return Region{}, false
	}
	return Region{Chrom: r.Chrom, Start: max(r.Start, o.Start), End: min(r.End, o.End)}, true
}

// String formats the region as chrom:start-end.
func (r Region) String() string {
	return fmt.Sprintf("%s:%d-%d", r.Chrom, r.Start, r.End)
}

// ParseRegion parses chrom:start-end. Thousands separators are accepted.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	colon := strings.LastIndexByte(s, ':')
	if colon <= 0 {
		return Region{}, fmt.Errorf("%w: %q", ErrInvalidRegion, s)
	}
	chrom, span := s[:colon], strings.ReplaceAll(s[colon+1:], ",", "")
	lo, hi, ok := strings.Cut(span, "-")
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrInvalidRegion, s)
	}
	start, err := strconv.Atoi(lo)
	if err != nil {
		return Region{}, fmt.Errorf("%w: bad start in %q", ErrInvalidRegion, s)
	}
	end, err := strconv.Atoi(hi)
	if err != nil {
		return Region{}, fmt.Errorf("%w: bad end in %q", ErrInvalidRegion, s)
	}
	r := NewRegion(chrom, start, end)
	if !r.Valid() {
		return Region{}, fmt.Errorf("%w: %q", ErrInvalidRegion, s)
	}
	return r, nil
}
