package genome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegion = NewRegion("chr1", 1000, 2000)

func TestDecodeSentinels(t *testing.T) {
	cases := map[string]State{
		`"no data"`:                               StateNoData,
		`"no converter"`:                          StateNoConverter,
		`"pending"`:                               StatePending,
		`"error"`:                                 StateError,
		`{"kind": "error", "message": "boom"}`:    StateError,
		`{"kind": "pending"}`:                     StatePending,
		`{"data": [], "dataset_type": "bigwig"}`:  StateNoData,
	}
	for body, want := range cases {
		t.Run(body, func(t *testing.T) {
			d, err := Decode(KindSignal, testRegion, []byte(body))
			require.NoError(t, err)
			assert.Equal(t, want, d.State)
		})
	}

	d, err := Decode(KindFeatures, testRegion, []byte(`{"kind": "error", "message": "boom"}`))
	require.NoError(t, err)
	assert.Equal(t, "boom", d.Message)
}

func TestDecodeMalformed(t *testing.T) {
	for _, body := range []string{``, `"bogus"`, `{"data": 5}`, `[1,2]`, `{"data": [["a"]]}`} {
		_, err := Decode(KindFeatures, testRegion, []byte(body))
		assert.True(t, errors.Is(err, ErrMalformedPayload), "body %q: %v", body, err)
	}
}

func TestDecodeSignal(t *testing.T) {
	body := `{"data": [[1000, 1.5], [1001, null], [1002, 3]], "dataset_type": "bigwig",
		"min": 0, "max": 10, "mean": 2, "sd": 1}`
	d, err := Decode(KindSignal, testRegion, []byte(body))
	require.NoError(t, err)
	require.Equal(t, 3, d.Len())
	assert.True(t, d.Signal[1].Missing)
	assert.Equal(t, 3.0, d.Signal[2].Value)
	require.NotNil(t, d.Stats)
	assert.Equal(t, Stats{Min: 0, Max: 10, Mean: 2, SD: 1}, *d.Stats)
	assert.True(t, d.CanSubset())
}

func TestDecodeFeatures(t *testing.T) {
	body := `{"data": [
		[7, 1100, 1900, "geneA", "+", 1200, 1800, [[1100, 1300], [1700, 1900]]],
		["u8", 1500, 1600, "geneB", "-"]
	], "message": "Only the first 2 features are displayed", "max_high": 1900}`
	d, err := Decode(KindFeatures, testRegion, []byte(body))
	require.NoError(t, err)
	require.Len(t, d.Features, 2)

	a := d.Features[0]
	assert.Equal(t, "7", a.UID)
	assert.Equal(t, StrandForward, a.Strand)
	ts, te, ok := a.Thick()
	assert.True(t, ok)
	assert.Equal(t, [2]int{1200, 1800}, [2]int{ts, te})
	assert.Equal(t, []Block{{1100, 1300}, {1700, 1900}}, a.Blocks)

	_, _, ok = d.Features[1].Thick()
	assert.False(t, ok)
	assert.True(t, d.Truncated())
	assert.Equal(t, 1900, d.MaxHigh)
}

func TestDecodeReads(t *testing.T) {
	body := `{"data": [
		["r1", 1000, 1015, "read1", "10M2I5M", "+", "ACGTACGTACGTACGTA"],
		["r2", 1100, 1400, "pair", [1100, 1150, "50M", "+", "A"], [1350, 1400, [[0, 50]], "-", "C"]],
		["r3", 1200, 1210, "read3", [[0, 10]], "-", "ACGTACGTAC"]
	]}`
	d, err := Decode(KindReads, testRegion, []byte(body))
	require.NoError(t, err)
	require.Len(t, d.Reads, 3)

	assert.False(t, d.Reads[0].Paired())
	assert.Equal(t, "10M2I5M", d.Reads[0].Segments[0].Cigar)

	pair := d.Reads[1]
	require.True(t, pair.Paired())
	assert.Equal(t, 1350, pair.Segments[1].Start)
	assert.Equal(t, "50M", pair.Segments[1].Cigar)
	assert.Equal(t, StrandReverse, pair.Segments[1].Strand)

	assert.Equal(t, "10M", d.Reads[2].Segments[0].Cigar)
}

func TestDecodeVariantsAndHeatmap(t *testing.T) {
	d, err := Decode(KindVariants, testRegion, []byte(
		`{"data": [["v1", 1500, "rs1", "A", "G,T", "50", "PASS", "0/1,1/1,0/0,./.", 3, 1]]}`))
	require.NoError(t, err)
	require.Len(t, d.Variants, 1)
	v := d.Variants[0]
	assert.Equal(t, []string{"G", "T"}, v.Alt)
	assert.Len(t, v.Genotypes, 4)
	assert.InDelta(t, 0.75, v.AlleleFraction(0), 1e-9)
	assert.InDelta(t, 0.25, v.AlleleFraction(1), 1e-9)

	h, err := Decode(KindHeatmap, testRegion, []byte(
		`{"data": [["chr1", 1000, 1100, "chr1", 1500, 1600, -0.5]]}`))
	require.NoError(t, err)
	require.Len(t, h.Cells, 1)
	assert.Equal(t, -0.5, h.Cells[0].Value)
	assert.Equal(t, 1600, h.Cells[0].End2)
}

func TestDecodeSequence(t *testing.T) {
	d, err := Decode(KindSequence, testRegion, []byte(`{"data": "ACGTN"}`))
	require.NoError(t, err)
	assert.Equal(t, "ACGTN", d.Sequence)
	assert.Equal(t, 5, d.Len())
}

func TestDecodeCoverageForFeatureTrack(t *testing.T) {
	body := `{"data": [[1000, 4], [1500, 9]], "dataset_type": "bigwig", "max": 9}`
	d, err := Decode(KindFeatures, testRegion, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, KindSignal, d.Kind)
	assert.Len(t, d.Signal, 2)
	assert.Equal(t, 9.0, d.Signal[1].Value)
}
