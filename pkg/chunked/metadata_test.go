package chunked

import (
	"fmt"
	"testing"

	"github.com/containers/zstd-chunked/pkg/chunked/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annotationGetter(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestMetadataReferencesFromFooter(t *testing.T) {
	manifest := internal.FooterReference{Offset: 8, LengthCompressed: 100, LengthUncompressed: 200}
	tarSplit := internal.FooterReference{Offset: 108, LengthCompressed: 50, LengthUncompressed: 75}
	footerBytes := buildFooter(manifest, tarSplit)

	refs, ok := new(MetadataReferences).FromFooter(footerBytes)
	require.True(t, ok)
	assert.Equal(t, ByteRange{Start: 8, End: 108}, refs.Manifest.Range)
	assert.EqualValues(t, 200, refs.Manifest.UncompressedSize)
	assert.Empty(t, refs.Manifest.Digest)
	assert.Equal(t, ByteRange{Start: 108, End: 158}, refs.TarSplit.Range)
}

func TestMetadataReferencesFromOCIAnnotations(t *testing.T) {
	annotations := map[string]string{
		internal.ManifestPositionKey: "8:100:200:1",
		internal.ManifestChecksumKey: "sha256:deadbeef",
		internal.TarSplitPositionKey: "108:50:75",
	}

	refs, ok := new(MetadataReferences).FromOCIAnnotations(annotationGetter(annotations))
	require.True(t, ok)
	assert.Equal(t, ByteRange{Start: 8, End: 108}, refs.Manifest.Range)
	assert.Equal(t, "sha256:deadbeef", refs.Manifest.Digest)
	assert.EqualValues(t, 200, refs.Manifest.UncompressedSize)
	assert.Equal(t, ByteRange{Start: 108, End: 158}, refs.TarSplit.Range)
	assert.Empty(t, refs.TarSplit.Digest)
}

func TestMetadataReferencesFromOCIAnnotationsMissingKey(t *testing.T) {
	annotations := map[string]string{
		internal.TarSplitPositionKey: "108:50:75",
	}
	_, ok := new(MetadataReferences).FromOCIAnnotations(annotationGetter(annotations))
	assert.False(t, ok)
}

func TestMetadataReferencesFromOCIAnnotationsWrongArity(t *testing.T) {
	cases := []string{
		"8:100:200",      // manifest position needs 4 fields, not 3
		"8:100:200:1:1",  // too many
		"not-a-number",
	}
	for _, position := range cases {
		t.Run(position, func(t *testing.T) {
			annotations := map[string]string{
				internal.ManifestPositionKey: position,
				internal.TarSplitPositionKey: "108:50:75",
			}
			_, ok := new(MetadataReferences).FromOCIAnnotations(annotationGetter(annotations))
			assert.False(t, ok)
		})
	}
}

func TestMetadataReferencesFromOCIAnnotationsRejectsTrailingGarbage(t *testing.T) {
	// fmt.Sscanf would silently accept "100garbage" as 100; strconv.ParseUint must not.
	annotations := map[string]string{
		internal.ManifestPositionKey: "8:100garbage:200:1",
		internal.TarSplitPositionKey: "108:50:75",
	}
	_, ok := new(MetadataReferences).FromOCIAnnotations(annotationGetter(annotations))
	assert.False(t, ok)
}

func TestMetadataReferencesFromOCIAnnotationsOverflow(t *testing.T) {
	annotations := map[string]string{
		internal.ManifestPositionKey: fmt.Sprintf("%d:%d:200:1", uint64(1)<<63, uint64(1)<<63),
		internal.TarSplitPositionKey: "108:50:75",
	}
	_, ok := new(MetadataReferences).FromOCIAnnotations(annotationGetter(annotations))
	assert.False(t, ok)
}
