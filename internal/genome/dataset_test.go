package genome

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalDataset(region Region) *Dataset {
	d := &Dataset{State: StateData, Kind: KindSignal, Region: region, DatasetType: "bigwig"}
	for pos := region.Start; pos < region.End; pos++ {
		d.Signal = append(d.Signal, SignalPoint{Pos: pos, Value: float64(pos % 17)})
	}
	return d
}

func TestSubsetRoundTrip(t *testing.T) {
	whole := signalDataset(NewRegion("chr1", 1000, 2000))
	sub := NewRegion("chr1", 1200, 1300)

	got, ok := whole.Subset(sub)
	require.True(t, ok)
	assert.Equal(t, signalDataset(sub).Signal, got.Signal)
	assert.Equal(t, sub, got.Region)
}

func TestCanSubset(t *testing.T) {
	region := NewRegion("chr1", 0, 100)

	coarse := &Dataset{State: StateData, Kind: KindSignal, Region: region, DatasetType: "bigwig",
		Signal: []SignalPoint{{Pos: 0}, {Pos: 10}}}
	assert.False(t, coarse.CanSubset(), "binned signal must not be subset")

	features := &Dataset{State: StateData, Kind: KindFeatures, Region: region,
		Features: []Feature{{UID: "a", Start: 1, End: 5}}}
	assert.True(t, features.CanSubset())

	truncated := *features
	truncated.Message = "Only the first 50 features are shown"
	assert.False(t, truncated.CanSubset())
	_, ok := truncated.Subset(NewRegion("chr1", 0, 10))
	assert.False(t, ok)

	summary := *features
	summary.ExtraInfo = NoDetail
	assert.False(t, summary.CanSubset())

	ref := &Dataset{State: StateData, Kind: KindSequence, Region: NewRegion("chr1", 10, 20), Sequence: "ACGTACGTAC"}
	sub, ok := ref.Subset(NewRegion("chr1", 12, 15))
	require.True(t, ok)
	assert.Equal(t, "GTA", sub.Sequence)

	assert.False(t, Failed("boom").CanSubset())
}

func TestSubsetFeatures(t *testing.T) {
	d := &Dataset{State: StateData, Kind: KindFeatures, Region: NewRegion("chr1", 0, 1000),
		Features: []Feature{
			{UID: "a", Start: 10, End: 50},
			{UID: "b", Start: 90, End: 120},
			{UID: "c", Start: 500, End: 600},
		}}
	got, ok := d.Subset(NewRegion("chr1", 100, 400))
	require.True(t, ok)
	require.Len(t, got.Features, 1)
	assert.Equal(t, "b", got.Features[0].UID)

	_, ok = d.Subset(NewRegion("chr1", 900, 1100))
	assert.False(t, ok, "subset outside the held region must miss")
}

func featureSet(prefix string, n, start int) []Feature {
	out := make([]Feature, n)
	for i := range out {
		out[i] = Feature{UID: fmt.Sprintf("%s%d", prefix, i), Start: start + i*10, End: start + i*10 + 5}
	}
	return out
}

func TestMergeRewritesCount(t *testing.T) {
	cur := &Dataset{State: StateData, Kind: KindFeatures, Region: NewRegion("chr1", 0, 1000),
		Message: "Only the first 50 features are displayed", Features: featureSet("a", 50, 0)}
	more := &Dataset{State: StateData, Kind: KindFeatures, Region: NewRegion("chr1", 0, 1000),
		Message: "Only the first 30 features are displayed", Features: featureSet("b", 30, 500)}

	merged := cur.Merge(more)
	assert.Equal(t, 80, merged.Len())
	assert.Equal(t, "Only the first 80 features are displayed", merged.Message)
	assert.Equal(t, 50, cur.Len(), "merge must not mutate the receiver")
}

func TestMergeSkipsDuplicateUIDs(t *testing.T) {
	cur := &Dataset{State: StateData, Kind: KindFeatures, Features: featureSet("a", 3, 0)}
	more := &Dataset{State: StateData, Kind: KindFeatures, Features: featureSet("a", 5, 0)}
	assert.Equal(t, 5, cur.Merge(more).Len())
}

func TestMergeIgnoresFailedPayload(t *testing.T) {
	cur := &Dataset{State: StateData, Kind: KindFeatures, Features: featureSet("a", 3, 0)}
	assert.Same(t, cur, cur.Merge(Failed("timeout")))
}

func TestLastEnd(t *testing.T) {
	d := &Dataset{State: StateData, Kind: KindFeatures, Features: []Feature{
		{UID: "a", Start: 0, End: 300},
		{UID: "b", Start: 100, End: 150},
	}}
	assert.Equal(t, 300, d.LastEnd())
}
