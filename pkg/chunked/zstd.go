package chunked

import "github.com/klauspost/compress/zstd"

// decodeAll decompresses a single complete zstd frame into a buffer sized by
// sizeHint. It is a package-level variable, not a plain function, so tests
// can substitute a stub without constructing real zstd frames.
var decodeAll = func(data []byte, sizeHint int64) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	out := make([]byte, 0, sizeHint)
	return decoder.DecodeAll(data, out)
}
