package chunked

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetchCompleteness(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 0, End: 10}, Digest: "sha256:a", Size: 10},
		{Range: ByteRange{Start: 10, End: 20}, Digest: "sha256:b", Size: 10},
		{Range: ByteRange{Start: 20, End: 30}, Digest: "sha256:c", Size: 10},
	}

	results, err := Prefetch(context.Background(), refs, 2, func(_ context.Context, ref ContentReference) ([]byte, error) {
		return []byte(ref.Digest), nil
	})
	require.NoError(t, err)
	require.Len(t, results, len(refs))
	for _, ref := range refs {
		assert.Equal(t, []byte(ref.Digest), results[ref])
	}
}

func TestPrefetchAggregatesAllErrors(t *testing.T) {
	refs := []ContentReference{
		{Range: ByteRange{Start: 0, End: 10}, Digest: "sha256:a"},
		{Range: ByteRange{Start: 10, End: 20}, Digest: "sha256:b"},
	}

	_, err := Prefetch(context.Background(), refs, 2, func(_ context.Context, ref ContentReference) ([]byte, error) {
		return nil, fmt.Errorf("failed to fetch %s", ref.Digest)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha256:a")
	assert.Contains(t, err.Error(), "sha256:b")
}

func TestPrefetchHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refs := []ContentReference{{Range: ByteRange{Start: 0, End: 10}}}
	_, err := Prefetch(ctx, refs, 1, func(ctx context.Context, ref ContentReference) ([]byte, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrefetchBoundsConcurrency(t *testing.T) {
	const concurrency = 3
	var inFlight, maxInFlight int64

	refs := make([]ContentReference, 20)
	for i := range refs {
		refs[i] = ContentReference{Range: ByteRange{Start: uint64(i), End: uint64(i) + 1}}
	}

	_, err := Prefetch(context.Background(), refs, concurrency, func(context.Context, ContentReference) ([]byte, error) {
		n := atomic.AddInt64(&inFlight, 1)
		defer atomic.AddInt64(&inFlight, -1)
		for {
			cur := atomic.LoadInt64(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
				break
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(concurrency))
}

func TestPrefetchZeroConcurrencyTreatedAsOne(t *testing.T) {
	refs := []ContentReference{{Range: ByteRange{Start: 0, End: 1}}}
	results, err := Prefetch(context.Background(), refs, 0, func(context.Context, ContentReference) ([]byte, error) {
		return []byte("x"), nil
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

var errSentinel = errors.New("sentinel")

func TestPrefetchSingleFailureIsReportedThroughErrorsIs(t *testing.T) {
	refs := []ContentReference{{Range: ByteRange{Start: 0, End: 1}}}
	_, err := Prefetch(context.Background(), refs, 1, func(context.Context, ContentReference) ([]byte, error) {
		return nil, errSentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSentinel)
}
