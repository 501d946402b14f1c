package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCodec compresses chunks with Zstandard. The encoder and decoder are
// created on first use and shared; EncodeAll and DecodeAll are safe for
// concurrent callers.
type ZstdCodec struct {
	level zstd.EncoderLevel

	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewZstdCodec creates a zstd codec at the default level
func NewZstdCodec() *ZstdCodec {
	return &ZstdCodec{level: zstd.SpeedDefault}
}

// NewZstdCodecLevel creates a zstd codec at the given level
func NewZstdCodecLevel(level zstd.EncoderLevel) *ZstdCodec {
	return &ZstdCodec{level: level}
}

func (z *ZstdCodec) init() error {
	z.once.Do(func() {
		z.encoder, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
		if z.initErr != nil {
			return
		}
		z.decoder, z.initErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<32))
	})
	return z.initErr
}

// Name implements Codec
func (z *ZstdCodec) Name() string { return Zstd }

// Compress implements Codec
func (z *ZstdCodec) Compress(src []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decompress implements Codec
func (z *ZstdCodec) Decompress(src []byte, expectedSize uint64) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.decoder.DecodeAll(src, make([]byte, 0, preallocSize(expectedSize)))
}
