package compress

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/codec"
)

func TestRegistry_RoundTrip(t *testing.T) {
	registry := NewDefaultRegistry()
	inputs := map[string][]byte{
		"empty":      {},
		"small":      []byte("hello chunk"),
		"repetitive": bytes.Repeat([]byte("abcdefgh"), 10000),
		"binary":     {0x00, 0xff, 0x10, 0x80, 0x7f},
	}

	for _, name := range []string{"", None, Zstd, LZ4} {
		for label, input := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				compressed, err := registry.Compress(name, input)
				require.NoError(t, err)

				out, err := registry.Decompress(name, compressed, uint64(len(input)))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(input, out))
			})
		}
	}
}

func TestRegistry_CompressesRepetitiveData(t *testing.T) {
	input := bytes.Repeat([]byte("telemetry"), 4096)
	for _, name := range []string{Zstd, LZ4} {
		compressed, err := Default().Compress(name, input)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(input)/4, name)
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	_, err := Default().Lookup("brotli")
	assert.ErrorIs(t, err, codec.ErrUnsupportedCompression)

	_, err = Default().Decompress("brotli", []byte{1}, 1)
	assert.ErrorIs(t, err, codec.ErrUnsupportedCompression)

	_, err = NewRegistry().Compress(Zstd, []byte("x"))
	assert.ErrorIs(t, err, codec.ErrUnsupportedCompression, "bare registry only knows none")
}

func TestRegistry_SizeMismatch(t *testing.T) {
	input := []byte("twelve bytes")
	for _, name := range []string{None, Zstd, LZ4} {
		compressed, err := Default().Compress(name, input)
		require.NoError(t, err)

		_, err = Default().Decompress(name, compressed, uint64(len(input))+1)
		assert.ErrorIs(t, err, codec.ErrDecompressionSizeMismatch, name)

		_, err = Default().Decompress(name, compressed, uint64(len(input))-1)
		assert.ErrorIs(t, err, codec.ErrDecompressionSizeMismatch, name)
	}
}

func TestRegistry_CorruptInput(t *testing.T) {
	input := bytes.Repeat([]byte("0123456789"), 100)
	for _, name := range []string{Zstd, LZ4} {
		compressed, err := Default().Compress(name, input)
		require.NoError(t, err)
		compressed = compressed[:len(compressed)/2]

		_, err = Default().Decompress(name, compressed, uint64(len(input)))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, codec.ErrDecompressionFailed) || errors.Is(err, codec.ErrDecompressionSizeMismatch),
			"%s: %v", name, err)
	}
}

var errBadFrame = errors.New("bad frame")

type brokenCodec struct{}

func (brokenCodec) Name() string { return "broken" }

func (brokenCodec) Compress(src []byte) ([]byte, error) { return src, nil }

func (brokenCodec) Decompress([]byte, uint64) ([]byte, error) { return nil, errBadFrame }

func TestRegistry_DecompressFailureIsTyped(t *testing.T) {
	registry := NewRegistry()
	registry.Register(brokenCodec{})

	_, err := registry.Decompress("broken", []byte("abc"), 3)
	assert.ErrorIs(t, err, codec.ErrDecompressionFailed)
	assert.ErrorIs(t, err, errBadFrame)
	var formatErr *codec.FormatError
	assert.ErrorAs(t, err, &formatErr)
}

type rot13 struct{}

func (rot13) Name() string { return "rot13" }
func (rot13) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b + 13
	}
	return out, nil
}
func (rot13) Decompress(src []byte, _ uint64) ([]byte, error) {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b - 13
	}
	return out, nil
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	registry.Register(rot13{})

	names := registry.Names()
	sort.Strings(names)
	assert.Equal(t, []string{None, "rot13"}, names)

	compressed, err := registry.Compress("rot13", []byte("abc"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("abc"), compressed)
	out, err := registry.Decompress("rot13", compressed, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}
