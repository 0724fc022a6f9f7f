package chunked

import (
	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/containers/zstd-chunked/pkg/chunked/internal"
)

// Format classifies which seekable layer format a set of OCI descriptor
// annotations describes.
type Format int

const (
	// FormatUnknown means neither or both of the recognized annotation
	// namespaces were present.
	FormatUnknown Format = iota
	// FormatZstdChunked means only the zstd:chunked manifest-checksum
	// annotation was present.
	FormatZstdChunked
	// FormatEStargz means only the eStargz TOC digest annotation was
	// present.
	FormatEStargz
)

// ProbeFormat classifies annotations as zstd:chunked, eStargz, or unknown,
// mirroring the conflict rejection in containers/storage's
// pkg/chunked/toc.GetTOCDigest: a layer cannot simultaneously be both, so
// when both annotation namespaces are present (or neither is), the result is
// FormatUnknown rather than a guess.
//
// Unlike GetTOCDigest, ProbeFormat never returns an error: probing a format
// is not supposed to fail, only to classify.
func ProbeFormat(annotations map[string]string) Format {
	_, hasZstdChunked := annotations[internal.ManifestChecksumKey]
	_, hasEStargz := annotations[estargz.TOCJSONDigestAnnotation]

	switch {
	case hasZstdChunked && !hasEStargz:
		return FormatZstdChunked
	case hasEStargz && !hasZstdChunked:
		return FormatEStargz
	default:
		return FormatUnknown
	}
}
