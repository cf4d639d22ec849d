package genome

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPayload is returned when a response body is neither a state
// sentinel nor a data object.
var ErrMalformedPayload = errors.New("malformed payload")

const cigarOps = "MIDNSHP=X"

type wirePayload struct {
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data"`
	Message     string          `json:"message"`
	ExtraInfo   string          `json:"extra_info"`
	DatasetType string          `json:"dataset_type"`
	Max         *float64        `json:"max"`
	Min         *float64        `json:"min"`
	Mean        *float64        `json:"mean"`
	SD          *float64        `json:"sd"`
	MaxHigh     *float64        `json:"max_high"`
}

// Decode parses a data service response for region into a Dataset of the
// given kind. Sentinel states decode into payloads in that state; an
// object with kind "error" decodes into an error payload.
func Decode(kind Kind, region Region, body []byte) (*Dataset, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return decodeSentinel(s)
	}

	var w wirePayload
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Kind == string(StateError) {
		return Failed(w.Message), nil
	}
	if s := State(w.Kind); s == StatePending || s == StateNoData || s == StateNoConverter {
		return WithState(s), nil
	}

	if w.DatasetType == "bigwig" {
		// Feature tracks zoomed out far receive coverage instead.
		kind = KindSignal
	}
	d := &Dataset{
		State:       StateData,
		Kind:        kind,
		Region:      region,
		DatasetType: w.DatasetType,
		Message:     w.Message,
		ExtraInfo:   w.ExtraInfo,
	}
	if w.MaxHigh != nil {
		d.MaxHigh = int(*w.MaxHigh)
	}
	if kind == KindSignal && w.Min != nil && w.Max != nil {
		d.Stats = &Stats{Min: *w.Min, Max: *w.Max}
		if w.Mean != nil {
			d.Stats.Mean = *w.Mean
		}
		if w.SD != nil {
			d.Stats.SD = *w.SD
		}
	} else if w.Max != nil {
		d.Max = *w.Max
	}

	if err := decodeData(d, w.Data); err != nil {
		return nil, err
	}
	if d.Len() == 0 {
		d.State = StateNoData
	}
	return d, nil
}

func decodeSentinel(s string) (*Dataset, error) {
	switch st := State(s); st {
	case StateNoData, StateNoConverter, StatePending:
		return WithState(st), nil
	case StateError:
		return Failed("the data service reported an error"), nil
	case StateData:
		return nil, fmt.Errorf("%w: bare %q sentinel", ErrMalformedPayload, s)
	}
	return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedPayload, s)
}

func decodeData(d *Dataset, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if d.Kind == KindSequence {
		if err := json.Unmarshal(raw, &d.Sequence); err != nil {
			return fmt.Errorf("%w: sequence: %v", ErrMalformedPayload, err)
		}
		return nil
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("%w: data rows: %v", ErrMalformedPayload, err)
	}
	for i, row := range rows {
		var err error
		switch d.Kind {
		case KindSignal:
			err = decodeSignal(d, row)
		case KindFeatures:
			err = decodeFeature(d, row)
		case KindReads:
			err = decodeRead(d, row)
		case KindVariants:
			err = decodeVariant(d, row)
		case KindHeatmap:
			err = decodeCell(d, row)
		default:
			err = fmt.Errorf("unsupported kind %q", d.Kind)
		}
		if err != nil {
			return fmt.Errorf("%w: row %d: %v", ErrMalformedPayload, i, err)
		}
	}
	return nil
}

func decodeSignal(d *Dataset, row []json.RawMessage) error {
	if len(row) < 2 {
		return errors.New("signal row needs [pos, value]")
	}
	pos, ok := number(row[0])
	if !ok {
		return errors.New("signal position is not a number")
	}
	p := SignalPoint{Pos: int(pos)}
	if v, ok := number(row[1]); ok {
		p.Value = v
	} else {
		p.Missing = true
	}
	d.Signal = append(d.Signal, p)
	return nil
}

func decodeFeature(d *Dataset, row []json.RawMessage) error {
	if len(row) < 3 {
		return errors.New("feature row needs [uid, start, end, ...]")
	}
	f := Feature{UID: text(row[0])}
	var err error
	if f.Start, f.End, err = span(row[1], row[2]); err != nil {
		return err
	}
	if len(row) > 3 {
		f.Name = text(row[3])
	}
	if len(row) > 4 {
		f.Strand = Strand(text(row[4]))
	}
	if len(row) > 6 {
		ts, ok1 := number(row[5])
		te, ok2 := number(row[6])
		if ok1 && ok2 {
			f.ThickStart, f.ThickEnd = int(ts), int(te)
		}
	}
	if len(row) > 7 && string(row[7]) != "null" {
		var blocks [][]float64
		if err := json.Unmarshal(row[7], &blocks); err != nil {
			return fmt.Errorf("blocks: %v", err)
		}
		for _, b := range blocks {
			if len(b) >= 2 {
				f.Blocks = append(f.Blocks, Block{Start: int(b[0]), End: int(b[1])})
			}
		}
	}
	d.Features = append(d.Features, f)
	return nil
}

// Unpaired: [uid, start, end, name, cigar, strand, seq].
// Paired:   [uid, start, end, name, [s, e, cigar, strand, seq], [s, e, cigar, strand, seq]].
func decodeRead(d *Dataset, row []json.RawMessage) error {
	if len(row) < 4 {
		return errors.New("read row needs [uid, start, end, name, ...]")
	}
	r := Read{UID: text(row[0]), Name: text(row[3])}
	var err error
	if r.Start, r.End, err = span(row[1], row[2]); err != nil {
		return err
	}

	if len(row) >= 6 && isArray(row[4]) && isArray(row[5]) && !isCigarArray(row[4]) {
		for _, raw := range row[4:6] {
			var parts []json.RawMessage
			if err := json.Unmarshal(raw, &parts); err != nil {
				return fmt.Errorf("mate: %v", err)
			}
			if len(parts) < 2 {
				return errors.New("mate needs [start, end, ...]")
			}
			seg := ReadSegment{}
			if seg.Start, seg.End, err = span(parts[0], parts[1]); err != nil {
				return err
			}
			if len(parts) > 2 {
				if seg.Cigar, err = cigarText(parts[2]); err != nil {
					return err
				}
			}
			if len(parts) > 3 {
				seg.Strand = Strand(text(parts[3]))
			}
			if len(parts) > 4 {
				seg.Sequence = text(parts[4])
			}
			r.Segments = append(r.Segments, seg)
		}
	} else {
		seg := ReadSegment{Start: r.Start, End: r.End}
		if len(row) > 4 {
			if seg.Cigar, err = cigarText(row[4]); err != nil {
				return err
			}
		}
		if len(row) > 5 {
			seg.Strand = Strand(text(row[5]))
		}
		if len(row) > 6 {
			seg.Sequence = text(row[6])
		}
		r.Segments = []ReadSegment{seg}
	}
	d.Reads = append(d.Reads, r)
	return nil
}

// [uid, pos, id, ref, alt, qual, filter, sample_gts, allele_counts...]
func decodeVariant(d *Dataset, row []json.RawMessage) error {
	if len(row) < 5 {
		return errors.New("variant row needs [uid, pos, id, ref, alt, ...]")
	}
	pos, ok := number(row[1])
	if !ok {
		return errors.New("variant position is not a number")
	}
	v := Variant{
		UID: text(row[0]),
		Pos: int(pos),
		ID:  text(row[2]),
		Ref: text(row[3]),
		Alt: splitNonEmpty(text(row[4])),
	}
	if len(row) > 5 {
		v.Qual = text(row[5])
	}
	if len(row) > 6 {
		v.Filter = text(row[6])
	}
	if len(row) > 7 {
		v.Genotypes = strings.Split(text(row[7]), ",")
	}
	for _, raw := range row[min(len(row), 8):] {
		c, _ := number(raw)
		v.AlleleCounts = append(v.AlleleCounts, c)
	}
	d.Variants = append(d.Variants, v)
	return nil
}

// [chrom1, start1, end1, chrom2, start2, end2, value]
func decodeCell(d *Dataset, row []json.RawMessage) error {
	if len(row) < 7 {
		return errors.New("heatmap row needs 7 columns")
	}
	c := HeatmapCell{Chrom1: text(row[0]), Chrom2: text(row[3])}
	var err error
	if c.Start1, c.End1, err = span(row[1], row[2]); err != nil {
		return err
	}
	if c.Start2, c.End2, err = span(row[4], row[5]); err != nil {
		return err
	}
	c.Value, _ = number(row[6])
	d.Cells = append(d.Cells, c)
	return nil
}

func span(a, b json.RawMessage) (int, int, error) {
	start, ok1 := number(a)
	end, ok2 := number(b)
	if !ok1 || !ok2 {
		return 0, 0, errors.New("start/end are not numbers")
	}
	return int(start), int(end), nil
}

func number(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// text returns a string column as-is and any other scalar as its JSON text.
func text(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(raw, &out); err == nil {
			return out
		}
	}
	return s
}

func isArray(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) > 0 && s[0] == '['
}

// isCigarArray reports whether raw is a pre-parsed [[op, len], ...] list.
func isCigarArray(raw json.RawMessage) bool {
	var ops [][]int
	return json.Unmarshal(raw, &ops) == nil && len(ops) > 0 && len(ops[0]) == 2
}

// cigarText accepts either a CIGAR string or a pre-parsed [[op, len], ...]
// list indexed into "MIDNSHP=X".
func cigarText(raw json.RawMessage) (string, error) {
	if !isArray(raw) {
		return text(raw), nil
	}
	var ops [][]int
	if err := json.Unmarshal(raw, &ops); err != nil {
		return "", fmt.Errorf("cigar: %v", err)
	}
	var b strings.Builder
	for _, op := range ops {
		if len(op) != 2 || op[0] < 0 || op[0] >= len(cigarOps) {
			return "", fmt.Errorf("cigar: bad operation %v", op)
		}
		b.WriteString(strconv.Itoa(op[1]))
		b.WriteByte(cigarOps[op[0]])
	}
	return b.String(), nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
