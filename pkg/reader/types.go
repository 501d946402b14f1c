package reader

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/logging"
)

// Mode selects how the reader reacts to damaged input
type Mode int

const (
	// BestEffort logs damage as a warning and keeps reading what it can
	BestEffort Mode = iota
	// Strict fails the read on the first integrity or framing error
	Strict
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "best-effort"
}

// ParseMode parses "strict" or "best-effort"
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "strict":
		return Strict, true
	case "best-effort", "":
		return BestEffort, true
	}
	return BestEffort, false
}

// MaxTime is the open upper bound of a time range
const MaxTime = math.MaxUint64

// Options configures a Reader
type Options struct {
	Mode Mode
	// Logger receives warnings. Defaults to a logger that discards output.
	Logger logrus.FieldLogger
	// Registry resolves chunk compression. Defaults to compress.Default().
	Registry *compress.Registry
	// OnWarning, if set, is called for every recoverable error.
	OnWarning func(error)
	// DisableIndex makes linear scans the default for message reads.
	DisableIndex bool
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Registry == nil {
		o.Registry = compress.Default()
	}
}

// Location tells where a record was read from. For a record unrolled from a
// chunk, Chunk is the file offset of that chunk and Offset is relative to its
// decompressed records; otherwise Chunk is -1 and Offset is a file offset.
type Location struct {
	Offset int64
	Chunk  int64
	Size   int64 // framed size of the record
}

// InChunk reports whether the record came from a chunk
func (l Location) InChunk() bool {
	return l.Chunk >= 0
}

// RecordOption configures a record iterator
type RecordOption func(*recordQuery)

type recordQuery struct {
	emitChunks bool
}

// WithChunks yields Chunk records as they are instead of unrolling them.
func WithChunks() RecordOption {
	return func(q *recordQuery) {
		q.emitChunks = true
	}
}

// MessageOption narrows a message iterator
type MessageOption func(*messageQuery)

type messageQuery struct {
	topics   map[string]bool
	channels map[uint16]bool
	start    uint64
	end      uint64
	useIndex bool
}

func newMessageQuery(useIndex bool, opts []MessageOption) *messageQuery {
	q := &messageQuery{end: MaxTime, useIndex: useIndex}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// WithTopics keeps messages on channels with any of the given topics
func WithTopics(topics ...string) MessageOption {
	return func(q *messageQuery) {
		if q.topics == nil {
			q.topics = make(map[string]bool)
		}
		for _, t := range topics {
			q.topics[t] = true
		}
	}
}

// WithChannels keeps messages on any of the given channel ids
func WithChannels(ids ...uint16) MessageOption {
	return func(q *messageQuery) {
		if q.channels == nil {
			q.channels = make(map[uint16]bool)
		}
		for _, id := range ids {
			q.channels[id] = true
		}
	}
}

// WithTimeRange keeps messages with start <= log_time <= end
func WithTimeRange(start, end uint64) MessageOption {
	return func(q *messageQuery) {
		q.start = start
		q.end = end
	}
}

// After keeps messages with log_time >= start
func After(start uint64) MessageOption {
	return func(q *messageQuery) {
		q.start = start
	}
}

// UsingIndex selects indexed reads when the summary allows it. Indexed
// reads are the default.
func UsingIndex(use bool) MessageOption {
	return func(q *messageQuery) {
		q.useIndex = use
	}
}

func (q *messageQuery) inRange(t uint64) bool {
	return t >= q.start && t <= q.end
}

func (q *messageQuery) overlaps(start, end uint64) bool {
	return end >= q.start && start <= q.end
}

// wantChannel applies the channel and topic filters. A nil channel only
// passes when no topic filter is set.
func (q *messageQuery) wantChannel(id uint16, channel *codec.Channel) bool {
	if q.channels != nil && !q.channels[id] {
		return false
	}
	if q.topics != nil {
		return channel != nil && q.topics[channel.Topic]
	}
	return true
}

// Summary is the decoded summary section of a file
type Summary struct {
	Schemas           map[uint16]*codec.Schema
	Channels          map[uint16]*codec.Channel
	Statistics        *codec.Statistics
	ChunkIndexes      []*codec.ChunkIndex
	AttachmentIndexes []*codec.AttachmentIndex
	MetadataIndexes   []*codec.MetadataIndex
	SummaryOffsets    map[codec.OpCode]*codec.SummaryOffset
}

func newSummary() *Summary {
	return &Summary{
		Schemas:        make(map[uint16]*codec.Schema),
		Channels:       make(map[uint16]*codec.Channel),
		SummaryOffsets: make(map[codec.OpCode]*codec.SummaryOffset),
	}
}

// Info describes a file
type Info struct {
	Header  *codec.Header
	Footer  *codec.Footer // nil when the file has no readable footer
	Summary *Summary
	// Indexed is false when Summary was rebuilt by scanning the data section.
	Indexed bool
	// Size is the file size in bytes
	Size int64
}

// MessageEvent is one message along with the channel and schema it was
// published on. Schema is nil for schemaless channels.
type MessageEvent struct {
	Schema  *codec.Schema
	Channel *codec.Channel
	Message *codec.Message
}
