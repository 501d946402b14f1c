package compress

import (
	"bytes"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
)

// LZ4Codec compresses chunks with the LZ4 frame format
type LZ4Codec struct {
	level lz4.CompressionLevel
}

// NewLZ4Codec creates an lz4 codec using the fast level
func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{level: lz4.Fast}
}

// Name implements Codec
func (c *LZ4Codec) Name() string { return LZ4 }

// Compress implements Codec
func (c *LZ4Codec) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress implements Codec. It reads at most one byte past expectedSize so
// an oversized frame is reported as a size mismatch instead of being drained.
func (c *LZ4Codec) Decompress(src []byte, expectedSize uint64) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := bytes.NewBuffer(make([]byte, 0, preallocSize(expectedSize)))
	limit := int64(math.MaxInt64)
	if expectedSize < math.MaxInt64 {
		limit = int64(expectedSize) + 1
	}
	if _, err := io.Copy(out, io.LimitReader(r, limit)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
