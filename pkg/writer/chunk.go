package writer

import (
	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
)

// chunkBuilder buffers framed records for the open chunk and the message
// offsets of each channel inside it.
type chunkBuilder struct {
	buf          []byte
	startTime    uint64
	endTime      uint64
	messageCount int
	indexes      map[uint16]*codec.MessageIndex
	order        []uint16 // channels in order of first message
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{indexes: make(map[uint16]*codec.MessageIndex)}
}

func (c *chunkBuilder) empty() bool {
	return len(c.buf) == 0
}

func (c *chunkBuilder) size() int64 {
	return int64(len(c.buf))
}

func (c *chunkBuilder) add(r codec.Record) error {
	var err error
	c.buf, err = codec.AppendFrame(c.buf, r)
	return err
}

func (c *chunkBuilder) addMessage(msg *codec.Message) error {
	offset := uint64(len(c.buf))
	if err := c.add(msg); err != nil {
		return err
	}

	if c.messageCount == 0 || msg.LogTime < c.startTime {
		c.startTime = msg.LogTime
	}
	if c.messageCount == 0 || msg.LogTime > c.endTime {
		c.endTime = msg.LogTime
	}
	c.messageCount++

	idx, ok := c.indexes[msg.ChannelID]
	if !ok {
		idx = &codec.MessageIndex{ChannelID: msg.ChannelID}
		c.indexes[msg.ChannelID] = idx
		c.order = append(c.order, msg.ChannelID)
	}
	idx.Records = append(idx.Records, codec.MessageIndexEntry{Timestamp: msg.LogTime, Offset: offset})
	return nil
}

func (c *chunkBuilder) reset() {
	c.buf = c.buf[:0]
	c.startTime = 0
	c.endTime = 0
	c.messageCount = 0
	c.indexes = make(map[uint16]*codec.MessageIndex)
	c.order = c.order[:0]
}

// seal writes the buffered chunk and its message indexes to out and returns
// the chunk's summary index.
func (c *chunkBuilder) seal(out *output, comp compress.Codec, opts *Options) (*codec.ChunkIndex, error) {
	var crc uint32
	if opts.IncludeCRC {
		crc = codec.CRC32(c.buf)
	}
	compressed, err := comp.Compress(c.buf)
	if err != nil {
		return nil, err
	}

	chunkStart, chunkLength, err := out.writeRecord(&codec.Chunk{
		MessageStartTime: c.startTime,
		MessageEndTime:   c.endTime,
		UncompressedSize: uint64(len(c.buf)),
		UncompressedCRC:  crc,
		Compression:      compressionName(comp),
		Records:          compressed,
	})
	if err != nil {
		return nil, err
	}

	idx := &codec.ChunkIndex{
		MessageStartTime:    c.startTime,
		MessageEndTime:      c.endTime,
		ChunkStartOffset:    uint64(chunkStart),
		ChunkLength:         uint64(chunkLength),
		MessageIndexOffsets: make(map[uint16]uint64, len(c.order)),
		Compression:         compressionName(comp),
		CompressedSize:      uint64(len(compressed)),
		UncompressedSize:    uint64(len(c.buf)),
	}

	if !opts.SkipMessageIndex {
		indexStart := out.offset
		for _, channelID := range c.order {
			offset, _, err := out.writeRecord(c.indexes[channelID])
			if err != nil {
				return nil, err
			}
			idx.MessageIndexOffsets[channelID] = uint64(offset)
		}
		idx.MessageIndexLength = uint64(out.offset - indexStart)
	}

	c.reset()
	return idx, nil
}

// compressionName is the string stored in chunk records; the pass-through
// codec is recorded as the empty string.
func compressionName(c compress.Codec) string {
	if c.Name() == compress.None {
		return ""
	}
	return c.Name()
}
