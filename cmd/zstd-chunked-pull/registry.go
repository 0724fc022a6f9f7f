package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/containers/zstd-chunked/pkg/chunked"
)

// blobFetcher issues authenticated HTTP range requests against a single
// registry blob. It is the external collaborator that pkg/chunked's
// WriteTo/Prefetch seams are deliberately ignorant of: the core only ever
// asks for "the bytes of this range, decompressed", never how they got
// fetched.
type blobFetcher struct {
	client *http.Client
	url    string
}

// newBlobFetcher prepares a fetcher for the blob identified by digest inside
// repo, authenticating with the default keychain (docker config, podman
// auth.json, or the ambient environment, in that order of precedence).
func newBlobFetcher(repo name.Repository, digest string) (*blobFetcher, error) {
	auth, err := authn.DefaultKeychain.Resolve(repo)
	if err != nil {
		return nil, fmt.Errorf("resolving registry credentials for %s: %w", repo, err)
	}
	rt, err := transport.NewWithContext(context.Background(), repo.Registry, auth, http.DefaultTransport, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return nil, fmt.Errorf("authenticating to %s: %w", repo.Registry, err)
	}

	return &blobFetcher{
		client: &http.Client{Transport: rt},
		url:    fmt.Sprintf("%s://%s/v2/%s/blobs/%s", repo.Registry.Scheme(), repo.Registry.RegistryStr(), repo.RepositoryStr(), digest),
	}, nil
}

// fetchRange retrieves the raw (still compressed) bytes of rng, retrying up
// to maxRetries times with exponential backoff on transport errors or
// responses whose status is neither 200 nor 206.
func (f *blobFetcher) fetchRange(ctx context.Context, rng chunked.ByteRange, maxRetries int) ([]byte, error) {
	if rng.End <= rng.Start {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		data, err := f.doFetchRange(ctx, rng)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logrus.Debugf("range %v fetch attempt %d/%d failed: %v", rng, attempt+1, maxRetries+1, err)
	}
	return nil, fmt.Errorf("fetching range %v after %d attempts: %w", rng, maxRetries+1, lastErr)
}

func (f *blobFetcher) doFetchRange(ctx context.Context, rng chunked.ByteRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	// HTTP ranges are inclusive on both ends; ours are half-open.
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(rng.End-rng.Start)))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// fetchAndDecompress fetches ref's compressed range and decompresses it as a
// single zstd frame, verifying nothing but the decompressed length matching
// ref.Size (digest verification is left to the caller, per this module's
// opt-in Validate policy).
func (f *blobFetcher) fetchAndDecompress(ctx context.Context, ref chunked.ContentReference, maxRetries int) ([]byte, error) {
	compressed, err := f.fetchRange(ctx, ref.Range, maxRetries)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(compressed, make([]byte, 0, ref.Size))
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", ref.Digest, err)
	}
	if uint64(len(decompressed)) != ref.Size {
		return nil, fmt.Errorf("decompressed size mismatch for %s: got %d, want %d", ref.Digest, len(decompressed), ref.Size)
	}
	return decompressed, nil
}
