package codec

import (
	"encoding/binary"
	"fmt"
)

// Decode deserializes a payload into the record its opcode names.
//
// An opcode outside the fixed set returns an *Unknown record together with an
// error matching ErrUnknownOpcode.
func Decode(op OpCode, payload []byte) (Record, error) {
	switch op {
	case OpHeader:
		return ParseHeader(payload)
	case OpFooter:
		return ParseFooter(payload)
	case OpSchema:
		return ParseSchema(payload)
	case OpChannel:
		return ParseChannel(payload)
	case OpMessage:
		return ParseMessage(payload)
	case OpChunk:
		return ParseChunk(payload)
	case OpMessageIndex:
		return ParseMessageIndex(payload)
	case OpChunkIndex:
		return ParseChunkIndex(payload)
	case OpAttachment:
		return ParseAttachment(payload)
	case OpAttachmentIndex:
		return ParseAttachmentIndex(payload)
	case OpStatistics:
		return ParseStatistics(payload)
	case OpMetadata:
		return ParseMetadata(payload)
	case OpMetadataIndex:
		return ParseMetadataIndex(payload)
	case OpSummaryOffset:
		return ParseSummaryOffset(payload)
	case OpDataEnd:
		return ParseDataEnd(payload)
	}
	return &Unknown{Op: op, Data: payload}, fmt.Errorf("opcode 0x%02x: %w", byte(op), ErrUnknownOpcode)
}

// fieldReader walks a payload. The first failure sticks; later reads return
// zero values.
type fieldReader struct {
	data   []byte
	offset int
	record string
	err    error
}

func newFieldReader(record string, data []byte) *fieldReader {
	return &fieldReader{data: data, record: record}
}

func (r *fieldReader) take(field string, n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)-r.offset) {
		r.err = fmt.Errorf("%s.%s: need %d bytes at offset %d, have %d: %w",
			r.record, field, n, r.offset, len(r.data)-r.offset, ErrMalformedPayload)
		return nil
	}
	b := r.data[r.offset : r.offset+int(n)]
	r.offset += int(n)
	return b
}

func (r *fieldReader) uint8(field string) uint8 {
	b := r.take(field, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *fieldReader) uint16(field string) uint16 {
	b := r.take(field, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *fieldReader) uint32(field string) uint32 {
	b := r.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *fieldReader) uint64(field string) uint64 {
	b := r.take(field, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *fieldReader) string(field string) string {
	n := r.uint32(field)
	return string(r.take(field, uint64(n)))
}

func (r *fieldReader) bytes32(field string) []byte {
	n := r.uint32(field)
	return r.take(field, uint64(n))
}

func (r *fieldReader) bytes64(field string) []byte {
	n := r.uint64(field)
	return r.take(field, n)
}

func (r *fieldReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.offset:]
	r.offset = len(r.data)
	return b
}

// group returns a reader over a u32-length-prefixed section.
func (r *fieldReader) group(field string) *fieldReader {
	b := r.bytes32(field)
	sub := newFieldReader(r.record+"."+field, b)
	if r.err != nil {
		sub.err = r.err
	}
	return sub
}

func (r *fieldReader) done() bool {
	return r.err != nil || r.offset >= len(r.data)
}

func (r *fieldReader) stringMap(field string) map[string]string {
	g := r.group(field)
	m := make(map[string]string)
	for !g.done() {
		k := g.string("key")
		v := g.string("value")
		if g.err == nil {
			m[k] = v
		}
	}
	if g.err != nil && r.err == nil {
		r.err = g.err
	}
	return m
}

func (r *fieldReader) uint16Uint64Map(field string) map[uint16]uint64 {
	g := r.group(field)
	m := make(map[uint16]uint64)
	for !g.done() {
		k := g.uint16("key")
		v := g.uint64("value")
		if g.err == nil {
			m[k] = v
		}
	}
	if g.err != nil && r.err == nil {
		r.err = g.err
	}
	return m
}

// ParseHeader decodes a Header payload
func ParseHeader(payload []byte) (*Header, error) {
	r := newFieldReader("header", payload)
	h := &Header{
		Profile: r.string("profile"),
		Library: r.string("library"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

// ParseFooter decodes a Footer payload
func ParseFooter(payload []byte) (*Footer, error) {
	r := newFieldReader("footer", payload)
	f := &Footer{
		SummaryStart:       r.uint64("summary_start"),
		SummaryOffsetStart: r.uint64("summary_offset_start"),
		SummaryCRC:         r.uint32("summary_crc"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// ParseSchema decodes a Schema payload
func ParseSchema(payload []byte) (*Schema, error) {
	r := newFieldReader("schema", payload)
	s := &Schema{
		ID:       r.uint16("id"),
		Name:     r.string("name"),
		Encoding: r.string("encoding"),
		Data:     r.bytes32("data"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// ParseChannel decodes a Channel payload
func ParseChannel(payload []byte) (*Channel, error) {
	r := newFieldReader("channel", payload)
	c := &Channel{
		ID:              r.uint16("id"),
		SchemaID:        r.uint16("schema_id"),
		Topic:           r.string("topic"),
		MessageEncoding: r.string("message_encoding"),
		Metadata:        r.stringMap("metadata"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// MessageHeaderSize is the fixed prefix of a Message payload.
const MessageHeaderSize = 2 + 4 + 8 + 8

// ParseMessage decodes a Message payload. Data aliases payload.
func ParseMessage(payload []byte) (*Message, error) {
	r := newFieldReader("message", payload)
	m := &Message{
		ChannelID:   r.uint16("channel_id"),
		Sequence:    r.uint32("sequence"),
		LogTime:     r.uint64("log_time"),
		PublishTime: r.uint64("publish_time"),
		Data:        r.rest(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// ParseChunk decodes a Chunk payload. Records aliases payload.
func ParseChunk(payload []byte) (*Chunk, error) {
	r := newFieldReader("chunk", payload)
	c := &Chunk{
		MessageStartTime: r.uint64("message_start_time"),
		MessageEndTime:   r.uint64("message_end_time"),
		UncompressedSize: r.uint64("uncompressed_size"),
		UncompressedCRC:  r.uint32("uncompressed_crc"),
		Compression:      r.string("compression"),
		Records:          r.bytes64("records"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// ParseMessageIndex decodes a MessageIndex payload
func ParseMessageIndex(payload []byte) (*MessageIndex, error) {
	r := newFieldReader("message_index", payload)
	idx := &MessageIndex{ChannelID: r.uint16("channel_id")}
	g := r.group("records")
	if r.err != nil {
		return nil, r.err
	}
	if len(g.data)%16 != 0 {
		return nil, fmt.Errorf("message_index.records: length %d is not a multiple of 16: %w",
			len(g.data), ErrMalformedPayload)
	}
	idx.Records = make([]MessageIndexEntry, 0, len(g.data)/16)
	for !g.done() {
		idx.Records = append(idx.Records, MessageIndexEntry{
			Timestamp: g.uint64("log_time"),
			Offset:    g.uint64("offset"),
		})
	}
	return idx, nil
}

// ParseChunkIndex decodes a ChunkIndex payload
func ParseChunkIndex(payload []byte) (*ChunkIndex, error) {
	r := newFieldReader("chunk_index", payload)
	c := &ChunkIndex{
		MessageStartTime:    r.uint64("message_start_time"),
		MessageEndTime:      r.uint64("message_end_time"),
		ChunkStartOffset:    r.uint64("chunk_start_offset"),
		ChunkLength:         r.uint64("chunk_length"),
		MessageIndexOffsets: r.uint16Uint64Map("message_index_offsets"),
		MessageIndexLength:  r.uint64("message_index_length"),
		Compression:         r.string("compression"),
		CompressedSize:      r.uint64("compressed_size"),
		UncompressedSize:    r.uint64("uncompressed_size"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// ParseAttachment decodes an Attachment payload. It does not check the CRC;
// see VerifyAttachment.
func ParseAttachment(payload []byte) (*Attachment, error) {
	r := newFieldReader("attachment", payload)
	a := &Attachment{
		LogTime:    r.uint64("log_time"),
		CreateTime: r.uint64("create_time"),
		Name:       r.string("name"),
		MediaType:  r.string("media_type"),
		Data:       r.bytes64("data"),
		CRC:        r.uint32("crc"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return a, nil
}

// VerifyAttachment checks a non-zero attachment CRC.
func VerifyAttachment(a *Attachment) error {
	if a.CRC == 0 {
		return nil
	}
	if actual := AttachmentCRC(a); actual != a.CRC {
		return &CRCError{Record: "attachment", Offset: -1, Expected: a.CRC, Actual: actual}
	}
	return nil
}

// ParseAttachmentIndex decodes an AttachmentIndex payload
func ParseAttachmentIndex(payload []byte) (*AttachmentIndex, error) {
	r := newFieldReader("attachment_index", payload)
	a := &AttachmentIndex{
		Offset:     r.uint64("offset"),
		Length:     r.uint64("length"),
		LogTime:    r.uint64("log_time"),
		CreateTime: r.uint64("create_time"),
		DataSize:   r.uint64("data_size"),
		Name:       r.string("name"),
		MediaType:  r.string("media_type"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return a, nil
}

// ParseStatistics decodes a Statistics payload
func ParseStatistics(payload []byte) (*Statistics, error) {
	r := newFieldReader("statistics", payload)
	s := &Statistics{
		MessageCount:         r.uint64("message_count"),
		SchemaCount:          r.uint16("schema_count"),
		ChannelCount:         r.uint32("channel_count"),
		AttachmentCount:      r.uint32("attachment_count"),
		MetadataCount:        r.uint32("metadata_count"),
		ChunkCount:           r.uint32("chunk_count"),
		MessageStartTime:     r.uint64("message_start_time"),
		MessageEndTime:       r.uint64("message_end_time"),
		ChannelMessageCounts: r.uint16Uint64Map("channel_message_counts"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// ParseMetadata decodes a Metadata payload
func ParseMetadata(payload []byte) (*Metadata, error) {
	r := newFieldReader("metadata", payload)
	m := &Metadata{
		Name:     r.string("name"),
		Metadata: r.stringMap("metadata"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// ParseMetadataIndex decodes a MetadataIndex payload
func ParseMetadataIndex(payload []byte) (*MetadataIndex, error) {
	r := newFieldReader("metadata_index", payload)
	m := &MetadataIndex{
		Offset: r.uint64("offset"),
		Length: r.uint64("length"),
		Name:   r.string("name"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// ParseSummaryOffset decodes a SummaryOffset payload
func ParseSummaryOffset(payload []byte) (*SummaryOffset, error) {
	r := newFieldReader("summary_offset", payload)
	s := &SummaryOffset{
		GroupOpcode: OpCode(r.uint8("group_opcode")),
		GroupStart:  r.uint64("group_start"),
		GroupLength: r.uint64("group_length"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// ParseDataEnd decodes a DataEnd payload
func ParseDataEnd(payload []byte) (*DataEnd, error) {
	r := newFieldReader("data_end", payload)
	d := &DataEnd{DataSectionCRC: r.uint32("data_section_crc")}
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}
