// Package internal holds the wire-level constants and raw structures for the
// zstd:chunked footer and OCI annotation surface. It is kept separate from
// pkg/chunked the same way containers/storage keeps pkg/chunked/internal
// separate from pkg/chunked: the types here describe bytes on the wire, not
// the in-memory reconstruction plan built on top of them.
package internal

const (
	// FooterSize is the total size, in bytes, of the trailing zstd:chunked
	// footer, including its skippable-frame header and the trailing magic.
	FooterSize = 72

	// SkippableFrameBodySize is the declared length of the skippable frame
	// body (everything in the footer after the magic+size header).
	SkippableFrameBodySize = 56

	// ManifestTypeCRFS is the only manifest type this implementation
	// recognizes; it is compatible with the CRFS table of contents.
	ManifestTypeCRFS = 1
)

var (
	// SkippableFrameMagic is the zstd skippable-frame magic used to hide the
	// footer from a plain zstd decoder. See RFC 8478 section 3.1.2.
	SkippableFrameMagic = []byte{0x50, 0x2a, 0x4d, 0x18}

	// TrailingMagic is the fixed 8-byte string at the very end of the footer.
	TrailingMagic = []byte("GNUlInUx")
)

const (
	// ManifestChecksumKey is a hexadecimal sha256 digest of the compressed
	// manifest blob.
	ManifestChecksumKey = "io.github.containers.zstd-chunked.manifest-checksum"

	// ManifestPositionKey encodes "<offset>:<length>:<uncompressed
	// length>:<type>" for the manifest's skippable frame.
	ManifestPositionKey = "io.github.containers.zstd-chunked.manifest-position"

	// TarSplitPositionKey encodes "<offset>:<length>:<uncompressed length>"
	// for the tarsplit's skippable frame.
	TarSplitPositionKey = "io.github.containers.zstd-chunked.tarsplit-position"

	// TarSplitChecksumKey is retained for annotation sets that predate
	// embedding the tarsplit digest in the TOC itself.
	//
	// Deprecated: prefer a TOC-embedded digest when one is available.
	TarSplitChecksumKey = "io.github.containers.zstd-chunked.tarsplit-checksum"
)

// FooterReference is the raw, wire-shaped descriptor of a compressed byte
// range: three little-endian uint64s, 24 bytes total.
type FooterReference struct {
	Offset             uint64
	LengthCompressed   uint64
	LengthUncompressed uint64
}

// Footer is the raw, wire-shaped 72-byte trailing structure. Field order
// matches the on-disk layout exactly; see FromSuffix in pkg/chunked for the
// byte-level decoder.
type Footer struct {
	SkippableMagic [4]byte
	SkippableSize  uint32
	Manifest       FooterReference
	ManifestType   uint64
	TarSplit       FooterReference
	TrailingMagic  [8]byte
}

// Manifest is the decoded JSON document stored in the manifest blob.
type Manifest struct {
	Version int             `json:"version"`
	Entries []ManifestEntry `json:"entries"`
}

// ManifestEntry is one record of the manifest. Only entries carrying all of
// Size, Digest, Offset and EndOffset describe a whole regular file reference;
// every other shape (in particular sub-file chunk entries) is ignored by the
// stream builder.
type ManifestEntry struct {
	Name      string  `json:"name"`
	Size      *uint64 `json:"size,omitempty"`
	Digest    *string `json:"digest,omitempty"`
	Offset    *uint64 `json:"offset,omitempty"`
	EndOffset *uint64 `json:"endOffset,omitempty"`
}

// TarSplitEntry is one newline-delimited JSON record of the tarsplit stream.
// Exactly one of Name or Payload is expected to be meaningful per record;
// when both are present, Name takes precedence.
type TarSplitEntry struct {
	Name    string `json:"name,omitempty"`
	Size    uint64 `json:"size,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}
