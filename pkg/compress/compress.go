// Package compress provides the chunk compression registry.
//
// A Codec compresses a chunk's records on write and restores them on read.
// The "none" codec (also registered under the empty name) is a pass-through.
// Registries are safe for concurrent use, and so are the built-in codecs.
package compress

import (
	"fmt"
	"sync"

	"github.com/ssargent/mcapkit/pkg/codec"
)

// Names of the built-in codecs
const (
	None = "none"
	Zstd = "zstd"
	LZ4  = "lz4"
)

// maxPrealloc caps the buffer reserved up front from a declared size, so a
// corrupted size field cannot force a huge allocation.
const maxPrealloc = 64 << 20

// Codec compresses and decompresses chunk records
type Codec interface {
	// Name is the compression string stored in Chunk records
	Name() string
	Compress(src []byte) ([]byte, error)
	// Decompress restores src. expectedSize is the declared uncompressed size.
	Decompress(src []byte, expectedSize uint64) ([]byte, error)
}

// Registry maps compression names to codecs
type Registry struct {
	codecs map[string]Codec
	mutex  sync.RWMutex
}

// NewRegistry creates a registry holding only the pass-through codec
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(noneCodec{})
	return r
}

// NewDefaultRegistry creates a registry with none, zstd and lz4
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewZstdCodec())
	r.Register(NewLZ4Codec())
	return r
}

var defaultRegistry = NewDefaultRegistry()

// Default returns the process-wide registry with the built-in codecs
func Default() *Registry {
	return defaultRegistry
}

// Register adds or replaces a codec
func (r *Registry) Register(c Codec) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.codecs[c.Name()] = c
	if c.Name() == None {
		r.codecs[""] = c
	}
}

// Lookup returns the codec registered under name
func (r *Registry) Lookup(name string) (Codec, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, codec.ErrUnsupportedCompression)
	}
	return c, nil
}

// Names lists the registered compression names, excluding the empty alias
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Compress compresses src with the named codec
func (r *Registry) Compress(name string, src []byte) ([]byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Compress(src)
}

// Decompress restores src with the named codec and checks the result has
// exactly expectedSize bytes.
func (r *Registry) Decompress(name string, src []byte, expectedSize uint64) ([]byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := c.Decompress(src, expectedSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", c.Name(), codec.ErrDecompressionFailed, err)
	}
	if uint64(len(out)) != expectedSize {
		return nil, fmt.Errorf("%s: got %d bytes, chunk declares %d: %w",
			c.Name(), len(out), expectedSize, codec.ErrDecompressionSizeMismatch)
	}
	return out, nil
}

func preallocSize(expected uint64) int {
	if expected > maxPrealloc {
		return maxPrealloc
	}
	return int(expected)
}

type noneCodec struct{}

func (noneCodec) Name() string { return None }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	return src, nil
}

func (noneCodec) Decompress(src []byte, _ uint64) ([]byte, error) {
	return src, nil
}
