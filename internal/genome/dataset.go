package genome

import (
	"regexp"
	"strconv"
)

// State is the availability of a dataset for a region.
type State string

const (
	StateData        State = "data"
	StateNoData      State = "no data"
	StateNoConverter State = "no converter"
	StatePending     State = "pending"
	StateError       State = "error"
)

// Kind identifies which payload slice of a Dataset is populated.
type Kind string

const (
	KindSignal   Kind = "signal"
	KindFeatures Kind = "features"
	KindReads    Kind = "reads"
	KindVariants Kind = "variants"
	KindHeatmap  Kind = "heatmap"
	KindSequence Kind = "sequence"
)

// Stats summarizes a signal dataset.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// Dataset is a resolved payload for one region. Failures are carried as
// State values rather than Go errors so that caches and schedulers can
// treat every outcome uniformly.
type Dataset struct {
	State       State   `json:"state"`
	Kind        Kind    `json:"kind"`
	Region      Region  `json:"region"`
	DatasetType string  `json:"dataset_type,omitempty"`
	Message     string  `json:"message,omitempty"`
	ExtraInfo   string  `json:"extra_info,omitempty"`
	Max         float64 `json:"max,omitempty"`
	MaxHigh     int     `json:"max_high,omitempty"`
	Stats       *Stats  `json:"stats,omitempty"`

	Signal   []SignalPoint `json:"signal,omitempty"`
	Features []Feature     `json:"features,omitempty"`
	Reads    []Read        `json:"reads,omitempty"`
	Variants []Variant     `json:"variants,omitempty"`
	Cells    []HeatmapCell `json:"cells,omitempty"`
	Sequence string        `json:"sequence,omitempty"`
}

// NoDetail is the extra_info marker for summary-only feature payloads.
const NoDetail = "no_detail"

// Failed returns an error payload carrying msg.
func Failed(msg string) *Dataset {
	return &Dataset{State: StateError, Message: msg}
}

// WithState returns an empty payload in the given state.
func WithState(s State) *Dataset {
	return &Dataset{State: s}
}

// OK reports whether the payload carries data.
func (d *Dataset) OK() bool {
	return d != nil && d.State == StateData
}

// Len returns the number of records in the populated slice.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	switch d.Kind {
	case KindSignal:
		return len(d.Signal)
	case KindFeatures:
		return len(d.Features)
	case KindReads:
		return len(d.Reads)
	case KindVariants:
		return len(d.Variants)
	case KindHeatmap:
		return len(d.Cells)
	case KindSequence:
		return len(d.Sequence)
	}
	return 0
}

// NoDetail reports whether the payload was summarized by the server.
func (d *Dataset) NoDetail() bool {
	return d.ExtraInfo == NoDetail
}

// Truncated reports whether the server returned fewer records than exist.
// The server signals this with a message.
func (d *Dataset) Truncated() bool {
	return d.Message != ""
}

// CanSubset reports whether a sub-region can be cut from d without asking
// the server again.
func (d *Dataset) CanSubset() bool {
	if !d.OK() {
		return false
	}
	switch d.Kind {
	case KindSequence:
		return true
	case KindSignal:
		// Only base-pair resolution signal is exact under subsetting.
		if d.DatasetType != "bigwig" || len(d.Signal) < 2 {
			return false
		}
		return d.Signal[1].Pos-d.Signal[0].Pos == 1
	default:
		return !d.Truncated() && !d.NoDetail()
	}
}

// Subset returns the records of d that fall in region.
func (d *Dataset) Subset(region Region) (*Dataset, bool) {
	if !d.CanSubset() || !d.Region.Contains(region) {
		return nil, false
	}
	out := d.shallowCopy()
	out.Region = region
	switch d.Kind {
	case KindSignal:
		out.Signal = nil
		for _, p := range d.Signal {
			if p.Pos >= region.Start && p.Pos < region.End {
				out.Signal = append(out.Signal, p)
			}
		}
	case KindFeatures:
		out.Features = nil
		for _, f := range d.Features {
			if f.Start < region.End && f.End > region.Start {
				out.Features = append(out.Features, f)
			}
		}
	case KindReads:
		out.Reads = nil
		for _, r := range d.Reads {
			if r.Start < region.End && r.End > region.Start {
				out.Reads = append(out.Reads, r)
			}
		}
	case KindVariants:
		out.Variants = nil
		for _, v := range d.Variants {
			if v.Pos < region.End && v.End() > region.Start {
				out.Variants = append(out.Variants, v)
			}
		}
	case KindHeatmap:
		out.Cells = nil
		for _, c := range d.Cells {
			if c.Start1 < region.End && c.End2 > region.Start {
				out.Cells = append(out.Cells, c)
			}
		}
	case KindSequence:
		lo, hi := region.Start-d.Region.Start, region.End-d.Region.Start
		hi = min(hi, len(d.Sequence))
		lo = min(lo, hi)
		out.Sequence = d.Sequence[lo:hi]
	}
	return out, true
}

// LastEnd returns the largest end coordinate among the records.
func (d *Dataset) LastEnd() int {
	end := 0
	switch d.Kind {
	case KindSignal:
		for _, p := range d.Signal {
			end = max(end, p.Pos+1)
		}
	case KindFeatures:
		for _, f := range d.Features {
			end = max(end, f.End)
		}
	case KindReads:
		for _, r := range d.Reads {
			end = max(end, r.End)
		}
	case KindVariants:
		for _, v := range d.Variants {
			end = max(end, v.End())
		}
	case KindHeatmap:
		for _, c := range d.Cells {
			end = max(end, c.End2)
		}
	case KindSequence:
		end = d.Region.Start + len(d.Sequence)
	}
	return end
}

var countPattern = regexp.MustCompile(`[0-9]+`)

// Merge returns d with the records of more appended. Records already
// present by UID are skipped. A count in the server message is rewritten
// to the merged length.
func (d *Dataset) Merge(more *Dataset) *Dataset {
	if !more.OK() {
		return d
	}
	out := d.shallowCopy()
	switch d.Kind {
	case KindSignal:
		out.Signal = append(append([]SignalPoint(nil), d.Signal...), more.Signal...)
	case KindFeatures:
		seen := make(map[string]struct{}, len(d.Features))
		out.Features = append([]Feature(nil), d.Features...)
		for _, f := range d.Features {
			seen[f.UID] = struct{}{}
		}
		for _, f := range more.Features {
			if _, dup := seen[f.UID]; !dup {
				out.Features = append(out.Features, f)
			}
		}
	case KindReads:
		seen := make(map[string]struct{}, len(d.Reads))
		out.Reads = append([]Read(nil), d.Reads...)
		for _, r := range d.Reads {
			seen[r.UID] = struct{}{}
		}
		for _, r := range more.Reads {
			if _, dup := seen[r.UID]; !dup {
				out.Reads = append(out.Reads, r)
			}
		}
	case KindVariants:
		out.Variants = append(append([]Variant(nil), d.Variants...), more.Variants...)
	case KindHeatmap:
		out.Cells = append(append([]HeatmapCell(nil), d.Cells...), more.Cells...)
	case KindSequence:
		out.Sequence = d.Sequence + more.Sequence
	}
	out.MaxHigh = max(d.MaxHigh, more.MaxHigh)
	out.Message = more.Message
	if out.Message != "" {
		out.Message = countPattern.ReplaceAllStringFunc(out.Message, onceReplacer(strconv.Itoa(out.Len())))
	}
	if more.Region.Chrom == d.Region.Chrom {
		out.Region.Start = min(d.Region.Start, more.Region.Start)
		out.Region.End = max(d.Region.End, more.Region.End)
	}
	return out
}

func onceReplacer(repl string) func(string) string {
	done := false
	return func(s string) string {
		if done {
			return s
		}
		done = true
		return repl
	}
}

func (d *Dataset) shallowCopy() *Dataset {
	out := *d
	if d.Stats != nil {
		s := *d.Stats
		out.Stats = &s
	}
	return &out
}
