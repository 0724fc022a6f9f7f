package chunked

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Prefetch resolves every reference in refs concurrently, using a fixed-size
// worker pool bounded by concurrency, and collects the results into a map
// keyed by ContentReference (a comparable value: a byte range, a digest
// string, and a size). It is an opt-in convenience layered on top of
// Stream.WriteTo, which imposes no concurrency of its own.
//
// If more than one fetch fails, the returned error aggregates all of them via
// multierror rather than surfacing only the first, since a caller juggling a
// hundred concurrent range requests against a registry wants to know every
// range that failed.
func Prefetch(ctx context.Context, refs []ContentReference, concurrency int, fetch func(context.Context, ContentReference) ([]byte, error)) (map[ContentReference][]byte, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan ContentReference)
	results := make(map[ContentReference][]byte, len(refs))
	var resultsMu sync.Mutex
	var errs error
	var errsMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				data, err := fetch(ctx, ref)
				if err != nil {
					errsMu.Lock()
					errs = multierror.Append(errs, err)
					errsMu.Unlock()
					continue
				}
				resultsMu.Lock()
				results[ref] = data
				resultsMu.Unlock()
			}
		}()
	}

dispatch:
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- ref:
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		errsMu.Lock()
		errs = multierror.Append(errs, ctx.Err())
		errsMu.Unlock()
	}

	if errs != nil {
		return nil, errs
	}
	return results, nil
}
