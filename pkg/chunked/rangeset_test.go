package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeRangesAdjacentMerge(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 100, End: 200}},
		{Range: ByteRange{Start: 200, End: 350}},
		{Range: ByteRange{Start: 500, End: 600}},
	}

	merged := MergeRanges(refs)
	assert.Equal(t, []ByteRange{
		{Start: 100, End: 350},
		{Start: 500, End: 600},
	}, merged)
}

func TestMergeRangesOverlapping(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 0, End: 50}},
		{Range: ByteRange{Start: 30, End: 80}},
	}
	merged := MergeRanges(refs)
	assert.Equal(t, []ByteRange{{Start: 0, End: 80}}, merged)
}

func TestMergeRangesNoOverlapStaysSeparate(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 0, End: 10}},
		{Range: ByteRange{Start: 20, End: 30}},
	}
	merged := MergeRanges(refs)
	assert.Equal(t, []ByteRange{{Start: 0, End: 10}, {Start: 20, End: 30}}, merged)
}

func TestMergeRangesEmpty(t *testing.T) {
	assert.Empty(t, MergeRanges(nil))
}

func TestMergeRangesCoversEveryRequestedByte(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 10, End: 20}},
		{Range: ByteRange{Start: 15, End: 25}},
		{Range: ByteRange{Start: 100, End: 110}},
		{Range: ByteRange{Start: 109, End: 120}},
	}
	merged := MergeRanges(refs)

	for _, ref := range refs {
		covered := false
		for _, m := range merged {
			if ref.Range.Start >= m.Start && ref.Range.End <= m.End {
				covered = true
				break
			}
		}
		assert.Truef(t, covered, "range %v not covered by merged set %v", ref.Range, merged)
	}
	for i := 1; i < len(merged); i++ {
		assert.Lessf(t, merged[i-1].End, merged[i].Start, "merged ranges %v and %v should not be adjacent or overlapping", merged[i-1], merged[i])
	}
}
