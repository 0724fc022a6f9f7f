package chunked

import (
	"sort"

	"github.com/google/go-intervals/intervalset"
)

// ByteRange is a half-open range of byte offsets, [Start, End).
type ByteRange struct {
	Start uint64
	End   uint64
}

func (r ByteRange) length() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// byteRange adapts ByteRange to intervalset.Interval, the same way
// containers/storage's idset.go adapts its own integer interval type. It is
// kept distinct from the public ByteRange so the intervalset plumbing never
// leaks into the public API.
type byteRange ByteRange

func (b byteRange) length() uint64 {
	return ByteRange(b).length()
}

func (b byteRange) Intersect(other intervalset.Interval) intervalset.Interval {
	o := other.(byteRange)
	start, end := b.Start, b.End
	if o.Start > start {
		start = o.Start
	}
	if o.End < end {
		end = o.End
	}
	if end < start {
		end = start
	}
	return byteRange{Start: start, End: end}
}

func (b byteRange) Before(other intervalset.Interval) bool {
	o := other.(byteRange)
	return !b.IsZero() && !o.IsZero() && b.End < o.Start
}

func (b byteRange) IsZero() bool {
	return b.length() == 0
}

func (b byteRange) Bisect(other intervalset.Interval) (intervalset.Interval, intervalset.Interval) {
	o := other.(byteRange)
	if o.IsZero() {
		return b, byteRange{}
	}
	left := byteRange{Start: b.Start, End: min64(b.End, o.Start)}
	right := byteRange{Start: max64(b.Start, o.End), End: b.End}
	return left, right
}

func (b byteRange) Adjoin(other intervalset.Interval) intervalset.Interval {
	o := other.(byteRange)
	if !b.IsZero() && !o.IsZero() && (b.End == o.Start || o.End == b.Start) {
		return byteRange{Start: min64(b.Start, o.Start), End: max64(b.End, o.End)}
	}
	return byteRange{}
}

func (b byteRange) Encompass(other intervalset.Interval) intervalset.Interval {
	o := other.(byteRange)
	switch {
	case b.IsZero():
		return o
	case o.IsZero():
		return b
	default:
		return byteRange{Start: min64(b.Start, o.Start), End: max64(b.End, o.End)}
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// MergeRanges coalesces the Range fields of refs into the smallest set of
// non-overlapping, non-adjacent-merged byte ranges that still covers every
// requested byte. This lets a network-backed caller issue one HTTP range
// request per contiguous run of files instead of one per file.
func MergeRanges(refs []ContentReference) []ByteRange {
	set := intervalset.Empty()
	for _, ref := range refs {
		if ByteRange(ref.Range).length() == 0 {
			continue
		}
		set.Add(intervalset.NewSet([]intervalset.Interval{byteRange(ref.Range)}))
	}

	var out []ByteRange
	set.Intervals(func(iv intervalset.Interval) bool {
		out = append(out, ByteRange(iv.(byteRange)))
		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
