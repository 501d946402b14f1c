package writer

import "github.com/ssargent/mcapkit/pkg/compress"

// DefaultChunkSize is the uncompressed size at which a chunk is sealed
const DefaultChunkSize = 1024 * 1024

// Options configures a Writer
type Options struct {
	Chunked     bool   // buffer records into compressed chunks
	ChunkSize   int64  // uncompressed bytes before a chunk is sealed (0 = DefaultChunkSize)
	Compression string // chunk compression name, "" or "none" for pass-through
	IncludeCRC  bool   // compute chunk, data section, attachment and footer CRCs

	SkipMessageIndex     bool // do not write MessageIndex records after chunks
	SkipStatistics       bool
	SkipRepeatedSchemas  bool // do not copy schemas into the summary
	SkipRepeatedChannels bool // do not copy channels into the summary
	SkipAttachmentIndex  bool
	SkipMetadataIndex    bool
	SkipChunkIndex       bool
	SkipSummaryOffsets   bool

	Registry *compress.Registry // compression codecs (nil = compress.Default())
}

// state tracks the writer lifecycle: Created -> Writing -> Finalized
type state int

const (
	stateCreated state = iota
	stateWriting
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateWriting:
		return "writing"
	case stateFinalized:
		return "finalized"
	}
	return "invalid"
}
