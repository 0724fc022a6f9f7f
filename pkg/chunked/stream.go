package chunked

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/containers/zstd-chunked/pkg/chunked/internal"
	digest "github.com/opencontainers/go-digest"
	jsoniter "github.com/json-iterator/go"
)

// maxTOCSize bounds the size of a decompressed manifest or tarsplit blob
// this library will attempt to parse, the same DoS guard containers/storage
// applies to its own TOC.
const maxTOCSize = (1 << 20) * 50

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ContentReference is a compressed byte range inside a layer together with
// the digest and size of the decompressed content stored there. Unlike
// MetadataReference, it always carries a digest, because it is only ever
// built from a manifest entry that required one to survive filtering.
type ContentReference struct {
	Range  ByteRange
	Digest string
	Size   uint64
}

// Validate checks the digest of decompressed against ref.Digest. It is
// an opt-in convenience for callers that want to verify content; WriteTo
// never calls it implicitly.
func (ref ContentReference) Validate(decompressed []byte) error {
	d, err := digest.Parse(ref.Digest)
	if err != nil {
		return fmt.Errorf("zstd:chunked: parsing content digest %q: %w", ref.Digest, err)
	}
	digester := d.Algorithm().Digester()
	if _, err := digester.Hash().Write(decompressed); err != nil {
		return err
	}
	if digester.Digest() != d {
		return fmt.Errorf("zstd:chunked: content digest mismatch: expected %s, got %s", d, digester.Digest())
	}
	return nil
}

// Chunk is one element of a Stream's reconstruction plan.
type Chunk interface {
	isChunk()
}

// InlineChunk is a literal run of bytes copied directly into the
// reconstructed archive (tar headers, padding, the global trailer).
type InlineChunk []byte

func (InlineChunk) isChunk() {}

// ExternalChunk is a reference to file content living elsewhere in the
// layer. It is kept as a slice, currently always of length 1, for forward
// compatibility with the sub-file chunk form this module does not build.
type ExternalChunk []ContentReference

func (ExternalChunk) isChunk() {}

// Stream is an ordered reconstruction plan: concatenating its chunks, in
// order, reproduces the layer's uncompressed tar archive byte-for-byte.
type Stream struct {
	chunks []Chunk
}

// NewFromFrames decompresses and cross-references a manifest blob and a
// tarsplit blob, producing the Stream that rebuilds the original tar
// archive. Both frames are expected to already be whole zstd frames (the
// bytes described by a MetadataReference's Range).
func NewFromFrames(manifestFrame, tarSplitFrame []byte) (*Stream, error) {
	manifestBytes, err := decodeAll(manifestFrame, maxTOCSize)
	if err != nil {
		return nil, fmt.Errorf("zstd:chunked: decompressing manifest: %w", err)
	}
	if len(manifestBytes) > maxTOCSize {
		return nil, fmt.Errorf("zstd:chunked: manifest too large: %d bytes", len(manifestBytes))
	}

	var manifest internal.Manifest
	if err := jsonAPI.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("zstd:chunked: parsing manifest JSON: %w", err)
	}
	if manifest.Version != internal.ManifestTypeCRFS {
		return nil, fmt.Errorf("zstd:chunked: unsupported manifest version %d", manifest.Version)
	}

	byName := make(map[string]ContentReference, len(manifest.Entries))
	for _, e := range manifest.Entries {
		if e.Size == nil || e.Digest == nil || e.Offset == nil || e.EndOffset == nil {
			continue
		}
		byName[e.Name] = ContentReference{
			Range:  ByteRange{Start: *e.Offset, End: *e.EndOffset},
			Digest: *e.Digest,
			Size:   *e.Size,
		}
	}

	tarSplitBytes, err := decodeAll(tarSplitFrame, maxTOCSize)
	if err != nil {
		return nil, fmt.Errorf("zstd:chunked: decompressing tarsplit: %w", err)
	}
	if len(tarSplitBytes) > maxTOCSize {
		return nil, fmt.Errorf("zstd:chunked: tarsplit too large: %d bytes", len(tarSplitBytes))
	}
	if !utf8.Valid(tarSplitBytes) {
		return nil, fmt.Errorf("zstd:chunked: tarsplit is not valid UTF-8")
	}

	var chunks []Chunk
	scanner := bufio.NewScanner(bytes.NewReader(tarSplitBytes))
	scanner.Buffer(make([]byte, 0, 64*1024), maxTOCSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var entry internal.TarSplitEntry
		if err := jsonAPI.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("zstd:chunked: parsing tarsplit record: %w", err)
		}

		switch {
		case entry.Name != "":
			ref, ok := byName[entry.Name]
			if !ok {
				return nil, fmt.Errorf("zstd:chunked tarsplit: filename %q missing from manifest", entry.Name)
			}
			if ref.Size != entry.Size {
				return nil, fmt.Errorf("zstd:chunked tarsplit: size mismatch for %q: tarsplit says %d, manifest says %d", entry.Name, entry.Size, ref.Size)
			}
			chunks = append(chunks, ExternalChunk{ref})
		case entry.Payload != nil:
			chunks = append(chunks, InlineChunk(entry.Payload))
		default:
			// Neither a named reference nor an inline payload; not a shape
			// this module recognizes.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("zstd:chunked: reading tarsplit records: %w", err)
	}

	return &Stream{chunks: chunks}, nil
}

// References returns, in plan order, every ContentReference inside every
// ExternalChunk of the stream. Used by callers that want to pre-plan fetches
// before calling WriteTo.
func (s *Stream) References() []ContentReference {
	var refs []ContentReference
	for _, c := range s.chunks {
		if ext, ok := c.(ExternalChunk); ok {
			refs = append(refs, []ContentReference(ext)...)
		}
	}
	return refs
}

// WriteTo walks the plan in order, writing InlineChunk bytes directly to w
// and, for each reference inside an ExternalChunk, writing whatever resolve
// returns for that reference. It returns the first error encountered, from
// either resolve or w.
func (s *Stream) WriteTo(w io.Writer, resolve func(ContentReference) ([]byte, error)) error {
	for _, c := range s.chunks {
		switch v := c.(type) {
		case InlineChunk:
			if _, err := w.Write(v); err != nil {
				return err
			}
		case ExternalChunk:
			for _, ref := range v {
				data, err := resolve(ref)
				if err != nil {
					return err
				}
				if _, err := w.Write(data); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
