package writer

import (
	"sort"

	"github.com/ssargent/mcapkit/pkg/codec"
)

// SummaryBuilder accumulates everything the summary section needs over the
// life of a writer and serializes it once on finalize.
type SummaryBuilder struct {
	schemas           map[uint16]*codec.Schema
	channels          map[uint16]*codec.Channel
	stats             codec.Statistics
	chunkIndexes      []*codec.ChunkIndex
	attachmentIndexes []*codec.AttachmentIndex
	metadataIndexes   []*codec.MetadataIndex
	haveMessages      bool
}

// NewSummaryBuilder creates an empty summary accumulator
func NewSummaryBuilder() *SummaryBuilder {
	return &SummaryBuilder{
		schemas:  make(map[uint16]*codec.Schema),
		channels: make(map[uint16]*codec.Channel),
		stats: codec.Statistics{
			ChannelMessageCounts: make(map[uint16]uint64),
		},
	}
}

// Schema returns a registered schema
func (s *SummaryBuilder) Schema(id uint16) (*codec.Schema, bool) {
	schema, ok := s.schemas[id]
	return schema, ok
}

// Channel returns a registered channel
func (s *SummaryBuilder) Channel(id uint16) (*codec.Channel, bool) {
	channel, ok := s.channels[id]
	return channel, ok
}

// AddSchema registers a schema
func (s *SummaryBuilder) AddSchema(schema *codec.Schema) {
	if _, ok := s.schemas[schema.ID]; !ok {
		s.stats.SchemaCount++
	}
	s.schemas[schema.ID] = schema
}

// AddChannel registers a channel
func (s *SummaryBuilder) AddChannel(channel *codec.Channel) {
	if _, ok := s.channels[channel.ID]; !ok {
		s.stats.ChannelCount++
	}
	s.channels[channel.ID] = channel
}

// AddMessage counts a message toward the statistics
func (s *SummaryBuilder) AddMessage(msg *codec.Message) {
	s.stats.MessageCount++
	s.stats.ChannelMessageCounts[msg.ChannelID]++
	if !s.haveMessages || msg.LogTime < s.stats.MessageStartTime {
		s.stats.MessageStartTime = msg.LogTime
	}
	if !s.haveMessages || msg.LogTime > s.stats.MessageEndTime {
		s.stats.MessageEndTime = msg.LogTime
	}
	s.haveMessages = true
}

// AddChunk records a sealed chunk
func (s *SummaryBuilder) AddChunk(idx *codec.ChunkIndex) {
	s.stats.ChunkCount++
	s.chunkIndexes = append(s.chunkIndexes, idx)
}

// AddAttachment records an attachment written to the data section
func (s *SummaryBuilder) AddAttachment(idx *codec.AttachmentIndex) {
	s.stats.AttachmentCount++
	s.attachmentIndexes = append(s.attachmentIndexes, idx)
}

// AddMetadata records a metadata record written to the data section
func (s *SummaryBuilder) AddMetadata(idx *codec.MetadataIndex) {
	s.stats.MetadataCount++
	s.metadataIndexes = append(s.metadataIndexes, idx)
}

// Statistics returns a snapshot of the counters
func (s *SummaryBuilder) Statistics() *codec.Statistics {
	stats := s.stats
	stats.ChannelMessageCounts = make(map[uint16]uint64, len(s.stats.ChannelMessageCounts))
	for k, v := range s.stats.ChannelMessageCounts {
		stats.ChannelMessageCounts[k] = v
	}
	return &stats
}

// ChunkIndexes returns the chunk indexes recorded so far, in file order
func (s *SummaryBuilder) ChunkIndexes() []*codec.ChunkIndex {
	return s.chunkIndexes
}

// groups returns the summary record groups in the order they are written,
// honoring the skip options. Empty groups are omitted.
func (s *SummaryBuilder) groups(opts *Options) [][]codec.Record {
	var groups [][]codec.Record

	if !opts.SkipRepeatedSchemas && len(s.schemas) > 0 {
		ids := make([]int, 0, len(s.schemas))
		for id := range s.schemas {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		group := make([]codec.Record, 0, len(ids))
		for _, id := range ids {
			group = append(group, s.schemas[uint16(id)])
		}
		groups = append(groups, group)
	}

	if !opts.SkipRepeatedChannels && len(s.channels) > 0 {
		ids := make([]int, 0, len(s.channels))
		for id := range s.channels {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		group := make([]codec.Record, 0, len(ids))
		for _, id := range ids {
			group = append(group, s.channels[uint16(id)])
		}
		groups = append(groups, group)
	}

	if !opts.SkipStatistics {
		groups = append(groups, []codec.Record{s.Statistics()})
	}

	if !opts.SkipChunkIndex && len(s.chunkIndexes) > 0 {
		group := make([]codec.Record, 0, len(s.chunkIndexes))
		for _, idx := range s.chunkIndexes {
			group = append(group, idx)
		}
		groups = append(groups, group)
	}

	if !opts.SkipAttachmentIndex && len(s.attachmentIndexes) > 0 {
		group := make([]codec.Record, 0, len(s.attachmentIndexes))
		for _, idx := range s.attachmentIndexes {
			group = append(group, idx)
		}
		groups = append(groups, group)
	}

	if !opts.SkipMetadataIndex && len(s.metadataIndexes) > 0 {
		group := make([]codec.Record, 0, len(s.metadataIndexes))
		for _, idx := range s.metadataIndexes {
			group = append(group, idx)
		}
		groups = append(groups, group)
	}

	return groups
}

// writeTo serializes the summary section, the summary offset section and the
// footer. The output CRC must cover every byte written since the leading
// magic.
func (s *SummaryBuilder) writeTo(out *output, opts *Options) (*codec.Footer, error) {
	footer := &codec.Footer{}
	summaryStart := out.offset

	var offsets []*codec.SummaryOffset
	for _, group := range s.groups(opts) {
		groupStart := out.offset
		for _, rec := range group {
			if _, _, err := out.writeRecord(rec); err != nil {
				return nil, err
			}
		}
		offsets = append(offsets, &codec.SummaryOffset{
			GroupOpcode: group[0].OpCode(),
			GroupStart:  uint64(groupStart),
			GroupLength: uint64(out.offset - groupStart),
		})
	}
	if len(offsets) > 0 {
		footer.SummaryStart = uint64(summaryStart)
	}

	if !opts.SkipSummaryOffsets && len(offsets) > 0 {
		footer.SummaryOffsetStart = uint64(out.offset)
		for _, so := range offsets {
			if _, _, err := out.writeRecord(so); err != nil {
				return nil, err
			}
		}
	}

	if opts.IncludeCRC {
		// covers the whole file through the footer's summary_offset_start field
		footer.SummaryCRC = codec.UpdateCRC(out.crc, codec.FooterCRCPrefix(footer))
	}

	if _, _, err := out.writeRecord(footer); err != nil {
		return nil, err
	}
	return footer, nil
}
