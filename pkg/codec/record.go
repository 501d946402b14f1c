package codec

import "fmt"

// Magic is the byte sequence at the start and end of every file.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', 0x30, '\r', '\n'}

const (
	// FrameHeaderSize is the opcode byte plus the 8-byte payload length.
	FrameHeaderSize = 9
	// FooterPayloadSize is the fixed size of a Footer payload.
	FooterPayloadSize = 8 + 8 + 4
	// FooterRecordSize is a full Footer frame.
	FooterRecordSize = FrameHeaderSize + FooterPayloadSize

	// NoSchema is the schema id for channels without a schema.
	NoSchema uint16 = 0
)

// OpCode identifies the layout of a record
type OpCode byte

const (
	OpReserved        OpCode = 0x00
	OpHeader          OpCode = 0x01
	OpFooter          OpCode = 0x02
	OpSchema          OpCode = 0x03
	OpChannel         OpCode = 0x04
	OpMessage         OpCode = 0x05
	OpChunk           OpCode = 0x06
	OpMessageIndex    OpCode = 0x07
	OpChunkIndex      OpCode = 0x08
	OpAttachment      OpCode = 0x09
	OpAttachmentIndex OpCode = 0x0A
	OpStatistics      OpCode = 0x0B
	OpMetadata        OpCode = 0x0C
	OpMetadataIndex   OpCode = 0x0D
	OpSummaryOffset   OpCode = 0x0E
	OpDataEnd         OpCode = 0x0F
)

var opNames = map[OpCode]string{
	OpHeader:          "header",
	OpFooter:          "footer",
	OpSchema:          "schema",
	OpChannel:         "channel",
	OpMessage:         "message",
	OpChunk:           "chunk",
	OpMessageIndex:    "message index",
	OpChunkIndex:      "chunk index",
	OpAttachment:      "attachment",
	OpAttachmentIndex: "attachment index",
	OpStatistics:      "statistics",
	OpMetadata:        "metadata",
	OpMetadataIndex:   "metadata index",
	OpSummaryOffset:   "summary offset",
	OpDataEnd:         "data end",
}

func (c OpCode) String() string {
	if name, ok := opNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(c))
}

// Known reports whether the opcode belongs to the fixed record set.
func (c OpCode) Known() bool {
	_, ok := opNames[c]
	return ok
}

// Record is implemented by every record variant
type Record interface {
	OpCode() OpCode
}

// Header is the first record of a file
type Header struct {
	Profile string
	Library string
}

// Footer is the last record of a file
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

// Schema describes how messages on a channel are encoded
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

// Channel binds a topic to a schema
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

// Message is a single timestamped payload on a channel
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Chunk holds a compressed run of records
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      string
	Records          []byte
}

// MessageIndexEntry locates one message inside a decompressed chunk
type MessageIndexEntry struct {
	Timestamp uint64
	Offset    uint64
}

// MessageIndex lists the messages of one channel inside the preceding chunk
type MessageIndex struct {
	ChannelID uint16
	Records   []MessageIndexEntry
}

// ChunkIndex points at a chunk and its message indexes from the summary
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

// Attachment is an arbitrary named blob
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
	CRC        uint32
}

// AttachmentIndex points at an attachment record from the summary
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

// Statistics holds aggregate counters for the whole file
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// Metadata is a named string map
type Metadata struct {
	Name     string
	Metadata map[string]string
}

// MetadataIndex points at a metadata record from the summary
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

// SummaryOffset locates one group of records in the summary section
type SummaryOffset struct {
	GroupOpcode OpCode
	GroupStart  uint64
	GroupLength uint64
}

// DataEnd closes the data section
type DataEnd struct {
	DataSectionCRC uint32
}

// Unknown holds a record whose opcode is outside the fixed set.
type Unknown struct {
	Op   OpCode
	Data []byte
}

func (*Header) OpCode() OpCode          { return OpHeader }
func (*Footer) OpCode() OpCode          { return OpFooter }
func (*Schema) OpCode() OpCode          { return OpSchema }
func (*Channel) OpCode() OpCode         { return OpChannel }
func (*Message) OpCode() OpCode         { return OpMessage }
func (*Chunk) OpCode() OpCode           { return OpChunk }
func (*MessageIndex) OpCode() OpCode    { return OpMessageIndex }
func (*ChunkIndex) OpCode() OpCode      { return OpChunkIndex }
func (*Attachment) OpCode() OpCode      { return OpAttachment }
func (*AttachmentIndex) OpCode() OpCode { return OpAttachmentIndex }
func (*Statistics) OpCode() OpCode      { return OpStatistics }
func (*Metadata) OpCode() OpCode        { return OpMetadata }
func (*MetadataIndex) OpCode() OpCode   { return OpMetadataIndex }
func (*SummaryOffset) OpCode() OpCode   { return OpSummaryOffset }
func (*DataEnd) OpCode() OpCode         { return OpDataEnd }
func (u *Unknown) OpCode() OpCode       { return u.Op }
