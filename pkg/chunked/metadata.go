package chunked

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/containers/zstd-chunked/pkg/chunked/internal"
	"github.com/sirupsen/logrus"
)

// MetadataReference locates one compressed metadata blob (the manifest or
// the tarsplit) inside a layer. Digest is empty when the reference came from
// the trailing footer, which carries no digest of its own.
type MetadataReference struct {
	Range            ByteRange
	Digest           string
	UncompressedSize uint64
}

// MetadataReferences is the pair of blob locations every zstd:chunked layer
// carries: one for the manifest, one for the tarsplit.
type MetadataReferences struct {
	Manifest MetadataReference
	TarSplit MetadataReference
}

// FromFooter builds a MetadataReferences from the trailing footer found in
// suffix. It returns (nil, false) whenever the footer itself can't be
// identified; see Footer.FromSuffix.
func (*MetadataReferences) FromFooter(suffix []byte) (*MetadataReferences, bool) {
	footer, ok := new(Footer).FromSuffix(suffix)
	if !ok {
		return nil, false
	}
	return &MetadataReferences{
		Manifest: MetadataReference{
			Range:            ByteRange{Start: footer.Manifest.Offset, End: footer.Manifest.Offset + footer.Manifest.LengthCompressed},
			UncompressedSize: footer.Manifest.LengthUncompressed,
		},
		TarSplit: MetadataReference{
			Range:            ByteRange{Start: footer.TarSplit.Offset, End: footer.TarSplit.Offset + footer.TarSplit.LengthCompressed},
			UncompressedSize: footer.TarSplit.LengthUncompressed,
		},
	}, true
}

// FromOCIAnnotations builds a MetadataReferences from OCI descriptor
// annotations, using get to look up annotation values by key. It returns
// (nil, false) when a required annotation is missing or malformed; it never
// returns an error, since an image simply not being zstd:chunked is an
// ordinary, expected input.
func (*MetadataReferences) FromOCIAnnotations(get func(key string) (string, bool)) (*MetadataReferences, bool) {
	manifestPosition, ok := get(internal.ManifestPositionKey)
	if !ok {
		logrus.Debugf("zstd:chunked annotations: %s not found", internal.ManifestPositionKey)
		return nil, false
	}
	tarSplitPosition, ok := get(internal.TarSplitPositionKey)
	if !ok {
		logrus.Debugf("zstd:chunked annotations: %s not found", internal.TarSplitPositionKey)
		return nil, false
	}

	manifestFields, ok := parsePositionTokens(manifestPosition, 4)
	if !ok {
		logrus.Debugf("zstd:chunked annotations: %s has the wrong shape: %q", internal.ManifestPositionKey, manifestPosition)
		return nil, false
	}
	if manifestFields[3] != internal.ManifestTypeCRFS {
		logrus.Debugf("zstd:chunked annotations: manifest type %d != %d", manifestFields[3], internal.ManifestTypeCRFS)
		return nil, false
	}
	manifestRange, ok := rangeFrom(manifestFields[0], manifestFields[1])
	if !ok {
		logrus.Debug("zstd:chunked annotations: manifest range overflows uint64")
		return nil, false
	}

	tarSplitFields, ok := parsePositionTokens(tarSplitPosition, 3)
	if !ok {
		logrus.Debugf("zstd:chunked annotations: %s has the wrong shape: %q", internal.TarSplitPositionKey, tarSplitPosition)
		return nil, false
	}
	tarSplitRange, ok := rangeFrom(tarSplitFields[0], tarSplitFields[1])
	if !ok {
		logrus.Debug("zstd:chunked annotations: tarsplit range overflows uint64")
		return nil, false
	}

	manifestDigest, _ := get(internal.ManifestChecksumKey)
	tarSplitDigest, _ := get(internal.TarSplitChecksumKey)

	return &MetadataReferences{
		Manifest: MetadataReference{
			Range:            manifestRange,
			Digest:           manifestDigest,
			UncompressedSize: manifestFields[2],
		},
		TarSplit: MetadataReference{
			Range:            tarSplitRange,
			Digest:           tarSplitDigest,
			UncompressedSize: tarSplitFields[2],
		},
	}, true
}

// parsePositionTokens splits a colon-separated position annotation into
// exactly want base-10 uint64 tokens. Unlike fmt.Sscanf, strconv.ParseUint
// never silently accepts trailing garbage after a numeric prefix.
func parsePositionTokens(position string, want int) ([]uint64, bool) {
	tokens := strings.Split(position, ":")
	if len(tokens) != want {
		return nil, false
	}
	fields := make([]uint64, want)
	for i, tok := range tokens {
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return nil, false
		}
		fields[i] = v
	}
	return fields, true
}

// rangeFrom computes [start, start+length) with explicit overflow checking:
// a crafted annotation must not be able to wrap a uint64 addition into a
// small, misleadingly valid range.
func rangeFrom(start, length uint64) (ByteRange, bool) {
	end, carry := bits.Add64(start, length, 0)
	if carry != 0 {
		return ByteRange{}, false
	}
	return ByteRange{Start: start, End: end}, true
}
