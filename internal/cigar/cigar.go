// Package cigar interprets alignment operation strings for read painting.
package cigar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/biogo/hts/sam"
)

// ErrInvalid is returned for CIGAR strings that cannot be parsed.
var ErrInvalid = errors.New("invalid cigar")

// Parse parses a CIGAR string such as "10M2I5M". An empty string or "*"
// yields an empty alignment.
func Parse(s string) (sam.Cigar, error) {
	if s == "" || s == "*" {
		return nil, nil
	}
	if err := validate(s); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalid, s, err)
	}
	c, err := sam.ParseCigar([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalid, s, err)
	}
	return c, nil
}

// validate checks that s is a sequence of <length><op> pairs.
func validate(s string) error {
	digits := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= '0' && ch <= '9':
			digits++
		case strings.IndexByte(opCodes, ch) >= 0:
			if digits == 0 {
				return fmt.Errorf("operation %q at %d has no length", ch, i)
			}
			digits = 0
		default:
			return fmt.Errorf("unknown operation %q at %d", ch, i)
		}
	}
	if digits != 0 {
		return errors.New("trailing length without operation")
	}
	return nil
}

const opCodes = "MIDNSHP=X"

// Step is one operation of an alignment with the offsets in effect when
// it starts. RefOffset counts reference bases from the read start,
// SeqOffset counts bases into the read sequence.
type Step struct {
	Type      sam.CigarOpType
	Len       int
	RefOffset int
	SeqOffset int
}

// AdvancesRef reports whether the step consumes reference bases.
func (s Step) AdvancesRef() bool { return s.Type.Consumes().Reference != 0 }

// AdvancesSeq reports whether the step consumes read bases.
func (s Step) AdvancesSeq() bool { return s.Type.Consumes().Query != 0 }

// Walk calls fn for every operation. Match, equal and mismatch advance
// both offsets, insertion and soft clip only the sequence offset,
// deletion and skip only the reference offset, hard clip and padding
// neither.
func Walk(c sam.Cigar, fn func(Step)) {
	ref, seq := 0, 0
	for _, op := range c {
		s := Step{Type: op.Type(), Len: op.Len(), RefOffset: ref, SeqOffset: seq}
		fn(s)
		con := op.Type().Consumes()
		ref += con.Reference * op.Len()
		seq += con.Query * op.Len()
	}
}

// Spans returns the number of reference and read bases c consumes.
func Spans(c sam.Cigar) (ref, seq int) {
	Walk(c, func(s Step) {
		if s.AdvancesRef() {
			ref += s.Len
		}
		if s.AdvancesSeq() {
			seq += s.Len
		}
	})
	return ref, seq
}

// Block is an aligned stretch in reference offsets from the read start.
type Block struct {
	Start int
	End   int
}

// Blocks splits the reference span of c at skips, the way spliced reads
// are drawn as separate exon blocks.
func Blocks(c sam.Cigar) []Block {
	blocks := []Block{{}}
	cur := &blocks[0]
	Walk(c, func(s Step) {
		switch {
		case s.Type == sam.CigarSkipped:
			if cur.End != cur.Start {
				end := s.RefOffset + s.Len
				blocks = append(blocks, Block{Start: end, End: end})
				cur = &blocks[len(blocks)-1]
			} else {
				cur.Start = s.RefOffset + s.Len
				cur.End = cur.Start
			}
		case s.AdvancesRef():
			cur.End = s.RefOffset + s.Len
		}
	})
	if cur.End == cur.Start && len(blocks) > 1 {
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
