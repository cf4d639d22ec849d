package genome

// Strand is the orientation of a feature.
type Strand string

const (
	StrandForward Strand = "+"
	StrandReverse Strand = "-"
	StrandNone    Strand = "."
)

// Block is one exon-like sub-interval of a feature.
type Block struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Feature is a discrete interval annotation. UID is assigned by the data
// service and is stable across overlapping fetches.
type Feature struct {
	UID        string  `json:"uid"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Name       string  `json:"name,omitempty"`
	Strand     Strand  `json:"strand,omitempty"`
	ThickStart int     `json:"thick_start,omitempty"`
	ThickEnd   int     `json:"thick_end,omitempty"`
	Blocks     []Block `json:"blocks,omitempty"`
}

// Thick returns the coding sub-interval, if the feature has one.
func (f Feature) Thick() (start, end int, ok bool) {
	if f.ThickStart == 0 || f.ThickEnd == 0 {
		return 0, 0, false
	}
	return f.ThickStart, f.ThickEnd, true
}

// ReadSegment is one aligned read. Paired reads carry two segments.
type ReadSegment struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Cigar    string `json:"cigar,omitempty"`
	Strand   Strand `json:"strand,omitempty"`
	Sequence string `json:"sequence,omitempty"`
}

// Read is an aligned read or read pair.
type Read struct {
	UID      string        `json:"uid"`
	Start    int           `json:"start"`
	End      int           `json:"end"`
	Name     string        `json:"name,omitempty"`
	Segments []ReadSegment `json:"segments"`
}

// Paired reports whether the read carries a mate.
func (r Read) Paired() bool {
	return len(r.Segments) == 2
}

// SignalPoint is one sample of a continuous signal. Missing marks a gap.
type SignalPoint struct {
	Pos     int     `json:"pos"`
	Value   float64 `json:"value"`
	Missing bool    `json:"missing,omitempty"`
}

// Variant is one locus of a multi-sample variant call set.
type Variant struct {
	UID          string    `json:"uid"`
	Pos          int       `json:"pos"`
	ID           string    `json:"id,omitempty"`
	Ref          string    `json:"ref"`
	Alt          []string  `json:"alt"`
	Qual         string    `json:"qual,omitempty"`
	Filter       string    `json:"filter,omitempty"`
	Genotypes    []string  `json:"genotypes,omitempty"`
	AlleleCounts []float64 `json:"allele_counts,omitempty"`
}

// End returns the first position past the reference allele.
func (v Variant) End() int {
	if len(v.Ref) == 0 {
		return v.Pos + 1
	}
	return v.Pos + len(v.Ref)
}

// AlleleFraction returns the fraction of samples carrying alt allele i.
func (v Variant) AlleleFraction(i int) float64 {
	if i < 0 || i >= len(v.AlleleCounts) || len(v.Genotypes) == 0 {
		return 0
	}
	return v.AlleleCounts[i] / float64(len(v.Genotypes))
}

// HeatmapCell is one interaction between two intervals.
type HeatmapCell struct {
	Chrom1 string  `json:"chrom1,omitempty"`
	Start1 int     `json:"start1"`
	End1   int     `json:"end1"`
	Chrom2 string  `json:"chrom2,omitempty"`
	Start2 int     `json:"start2"`
	End2   int     `json:"end2"`
	Value  float64 `json:"value"`
}
