package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
)

// CRC32 computes the IEEE checksum used throughout the format.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateCRC extends a running checksum with data.
func UpdateCRC(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}

// Encode serializes a record into its opcode and payload.
func Encode(r Record) (OpCode, []byte, error) {
	payload, err := AppendPayload(nil, r)
	if err != nil {
		return 0, nil, err
	}
	return r.OpCode(), payload, nil
}

// AppendFrame appends the full frame of r (opcode, length, payload) to dst.
func AppendFrame(dst []byte, r Record) ([]byte, error) {
	start := len(dst)
	dst = append(dst, byte(r.OpCode()), 0, 0, 0, 0, 0, 0, 0, 0)
	dst, err := AppendPayload(dst, r)
	if err != nil {
		return dst[:start], err
	}
	binary.LittleEndian.PutUint64(dst[start+1:], uint64(len(dst)-start-FrameHeaderSize))
	return dst, nil
}

// AppendFrameHeader appends an opcode and payload length.
func AppendFrameHeader(dst []byte, op OpCode, length uint64) []byte {
	dst = append(dst, byte(op))
	return binary.LittleEndian.AppendUint64(dst, length)
}

// AppendPayload appends the payload encoding of r to dst.
func AppendPayload(dst []byte, r Record) ([]byte, error) {
	switch r := r.(type) {
	case *Header:
		dst = appendString(dst, r.Profile)
		dst = appendString(dst, r.Library)
	case *Footer:
		dst = binary.LittleEndian.AppendUint64(dst, r.SummaryStart)
		dst = binary.LittleEndian.AppendUint64(dst, r.SummaryOffsetStart)
		dst = binary.LittleEndian.AppendUint32(dst, r.SummaryCRC)
	case *Schema:
		dst = binary.LittleEndian.AppendUint16(dst, r.ID)
		dst = appendString(dst, r.Name)
		dst = appendString(dst, r.Encoding)
		dst = appendBytes32(dst, r.Data)
	case *Channel:
		dst = binary.LittleEndian.AppendUint16(dst, r.ID)
		dst = binary.LittleEndian.AppendUint16(dst, r.SchemaID)
		dst = appendString(dst, r.Topic)
		dst = appendString(dst, r.MessageEncoding)
		dst = appendStringMap(dst, r.Metadata)
	case *Message:
		dst = AppendMessageHeader(dst, r)
		dst = append(dst, r.Data...)
	case *Chunk:
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageStartTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageEndTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.UncompressedSize)
		dst = binary.LittleEndian.AppendUint32(dst, r.UncompressedCRC)
		dst = appendString(dst, r.Compression)
		dst = appendBytes64(dst, r.Records)
	case *MessageIndex:
		dst = binary.LittleEndian.AppendUint16(dst, r.ChannelID)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Records)*16))
		for _, e := range r.Records {
			dst = binary.LittleEndian.AppendUint64(dst, e.Timestamp)
			dst = binary.LittleEndian.AppendUint64(dst, e.Offset)
		}
	case *ChunkIndex:
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageStartTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageEndTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.ChunkStartOffset)
		dst = binary.LittleEndian.AppendUint64(dst, r.ChunkLength)
		dst = appendUint16Uint64Map(dst, r.MessageIndexOffsets)
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageIndexLength)
		dst = appendString(dst, r.Compression)
		dst = binary.LittleEndian.AppendUint64(dst, r.CompressedSize)
		dst = binary.LittleEndian.AppendUint64(dst, r.UncompressedSize)
	case *Attachment:
		dst = appendAttachmentBody(dst, r)
		dst = binary.LittleEndian.AppendUint32(dst, r.CRC)
	case *AttachmentIndex:
		dst = binary.LittleEndian.AppendUint64(dst, r.Offset)
		dst = binary.LittleEndian.AppendUint64(dst, r.Length)
		dst = binary.LittleEndian.AppendUint64(dst, r.LogTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.CreateTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.DataSize)
		dst = appendString(dst, r.Name)
		dst = appendString(dst, r.MediaType)
	case *Statistics:
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageCount)
		dst = binary.LittleEndian.AppendUint16(dst, r.SchemaCount)
		dst = binary.LittleEndian.AppendUint32(dst, r.ChannelCount)
		dst = binary.LittleEndian.AppendUint32(dst, r.AttachmentCount)
		dst = binary.LittleEndian.AppendUint32(dst, r.MetadataCount)
		dst = binary.LittleEndian.AppendUint32(dst, r.ChunkCount)
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageStartTime)
		dst = binary.LittleEndian.AppendUint64(dst, r.MessageEndTime)
		dst = appendUint16Uint64Map(dst, r.ChannelMessageCounts)
	case *Metadata:
		dst = appendString(dst, r.Name)
		dst = appendStringMap(dst, r.Metadata)
	case *MetadataIndex:
		dst = binary.LittleEndian.AppendUint64(dst, r.Offset)
		dst = binary.LittleEndian.AppendUint64(dst, r.Length)
		dst = appendString(dst, r.Name)
	case *SummaryOffset:
		dst = append(dst, byte(r.GroupOpcode))
		dst = binary.LittleEndian.AppendUint64(dst, r.GroupStart)
		dst = binary.LittleEndian.AppendUint64(dst, r.GroupLength)
	case *DataEnd:
		dst = binary.LittleEndian.AppendUint32(dst, r.DataSectionCRC)
	case *Unknown:
		dst = append(dst, r.Data...)
	default:
		return dst, fmt.Errorf("cannot encode %T: %w", r, ErrUnknownOpcode)
	}
	return dst, nil
}

// AppendMessageHeader appends the fixed part of a Message payload, everything
// but Data.
func AppendMessageHeader(dst []byte, m *Message) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, m.ChannelID)
	dst = binary.LittleEndian.AppendUint32(dst, m.Sequence)
	dst = binary.LittleEndian.AppendUint64(dst, m.LogTime)
	return binary.LittleEndian.AppendUint64(dst, m.PublishTime)
}

// AttachmentCRC computes the checksum an Attachment record carries, over all
// payload fields preceding the crc.
func AttachmentCRC(a *Attachment) uint32 {
	return CRC32(appendAttachmentBody(nil, a))
}

// FooterCRCPrefix returns the footer bytes the summary CRC covers after the
// rest of the file: the footer's frame header and its two offset fields.
func FooterCRCPrefix(f *Footer) []byte {
	prefix := AppendFrameHeader(make([]byte, 0, FrameHeaderSize+16), OpFooter, FooterPayloadSize)
	prefix = binary.LittleEndian.AppendUint64(prefix, f.SummaryStart)
	return binary.LittleEndian.AppendUint64(prefix, f.SummaryOffsetStart)
}

func appendAttachmentBody(dst []byte, a *Attachment) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, a.LogTime)
	dst = binary.LittleEndian.AppendUint64(dst, a.CreateTime)
	dst = appendString(dst, a.Name)
	dst = appendString(dst, a.MediaType)
	return appendBytes64(dst, a.Data)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendBytes32(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func appendBytes64(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendStringMap(dst []byte, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	size := 0
	for k, v := range m {
		keys = append(keys, k)
		size += 8 + len(k) + len(v)
	}
	sort.Strings(keys)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(size))
	for _, k := range keys {
		dst = appendString(dst, k)
		dst = appendString(dst, m[k])
	}
	return dst
}

func appendUint16Uint64Map(dst []byte, m map[uint16]uint64) []byte {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m)*10))
	for _, k := range keys {
		dst = binary.LittleEndian.AppendUint16(dst, k)
		dst = binary.LittleEndian.AppendUint64(dst, m[k])
	}
	return dst
}
