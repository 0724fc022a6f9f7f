package chunked

import (
	"bytes"
	"encoding/binary"

	"github.com/containers/zstd-chunked/pkg/chunked/internal"
	"github.com/sirupsen/logrus"
)

// Footer is the parsed form of the trailing zstd:chunked footer.
type Footer struct {
	Manifest internal.FooterReference
	TarSplit internal.FooterReference
}

// FromSuffix parses suffix, which must be some trailing suffix of a
// candidate file, as a zstd:chunked footer. It reads only the last
// internal.FooterSize bytes of suffix; any bytes before that are ignored.
//
// It never panics on malformed input: a suffix that is too short, or whose
// magic/constant fields don't match, yields (nil, false), not an error. A
// file that isn't zstd:chunked at all is an expected input, not a bug.
func (*Footer) FromSuffix(suffix []byte) (*Footer, bool) {
	if len(suffix) < internal.FooterSize {
		logrus.Debugf("zstd:chunked footer: suffix too short: %d < %d", len(suffix), internal.FooterSize)
		return nil, false
	}
	b := suffix[len(suffix)-internal.FooterSize:]

	if !bytes.Equal(b[0:4], internal.SkippableFrameMagic) {
		logrus.Debug("zstd:chunked footer: skippable frame magic mismatch")
		return nil, false
	}
	if size := binary.LittleEndian.Uint32(b[4:8]); size != internal.SkippableFrameBodySize {
		logrus.Debugf("zstd:chunked footer: skippable frame size %d != %d", size, internal.SkippableFrameBodySize)
		return nil, false
	}

	f := &Footer{
		Manifest: internal.FooterReference{
			Offset:             binary.LittleEndian.Uint64(b[8:16]),
			LengthCompressed:   binary.LittleEndian.Uint64(b[16:24]),
			LengthUncompressed: binary.LittleEndian.Uint64(b[24:32]),
		},
	}
	manifestType := binary.LittleEndian.Uint64(b[32:40])
	if manifestType != internal.ManifestTypeCRFS {
		logrus.Debugf("zstd:chunked footer: manifest type %d != %d", manifestType, internal.ManifestTypeCRFS)
		return nil, false
	}

	f.TarSplit = internal.FooterReference{
		Offset:             binary.LittleEndian.Uint64(b[40:48]),
		LengthCompressed:   binary.LittleEndian.Uint64(b[48:56]),
		LengthUncompressed: binary.LittleEndian.Uint64(b[56:64]),
	}

	if !bytes.Equal(b[64:72], internal.TrailingMagic) {
		logrus.Debug("zstd:chunked footer: trailing magic mismatch")
		return nil, false
	}

	return f, true
}
