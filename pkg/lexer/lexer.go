// Package lexer frames opcode-tagged records out of a byte stream.
//
// The lexer reads a 1-byte opcode and an 8-byte little-endian payload length,
// then exactly that many payload bytes. It never interprets payloads; that is
// the job of package codec. The same lexer runs over a chunk's decompressed
// records, bounded by the decompressed length instead of end of file.
package lexer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ssargent/mcapkit/pkg/codec"
)

// Frame is one record as it appears on the wire
type Frame struct {
	Op      codec.OpCode
	Payload []byte
	Offset  int64 // offset of the opcode byte
}

// Size returns the framed size in bytes including the opcode and length.
func (f Frame) Size() int64 {
	return codec.FrameHeaderSize + int64(len(f.Payload))
}

// End returns the offset of the first byte after the frame.
func (f Frame) End() int64 {
	return f.Offset + f.Size()
}

// Header returns the 9 framing bytes preceding the payload.
func (f Frame) Header() []byte {
	return codec.AppendFrameHeader(make([]byte, 0, codec.FrameHeaderSize), f.Op, uint64(len(f.Payload)))
}

// Lexer yields frames from a cursor
type Lexer struct {
	cursor *Cursor
	header [codec.FrameHeaderSize]byte
}

// New creates a lexer reading from c at its current offset
func New(c *Cursor) *Lexer {
	return &Lexer{cursor: c}
}

// NewChunkLexer creates a lexer over the decompressed records of a chunk.
// Frame offsets are relative to the start of records.
func NewChunkLexer(records []byte) *Lexer {
	return New(NewBytesCursor(records))
}

// Cursor returns the underlying cursor
func (l *Lexer) Cursor() *Cursor {
	return l.cursor
}

// Offset returns the offset of the next frame
func (l *Lexer) Offset() int64 {
	return l.cursor.Offset()
}

// Seek positions the lexer at an absolute offset
func (l *Lexer) Seek(offset int64) error {
	return l.cursor.Seek(offset)
}

// ReadMagic consumes and checks the magic byte sequence.
func (l *Lexer) ReadMagic() error {
	offset := l.cursor.Offset()
	got, err := l.cursor.ReadExactly(uint64(len(codec.Magic)))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if !bytes.Equal(got, codec.Magic) {
		return fmt.Errorf("at offset %d: got %x: %w", offset, got, codec.ErrInvalidMagic)
	}
	return nil
}

// Next reads the next frame. It returns io.EOF when the stream ends cleanly
// on a frame boundary and an error matching codec.ErrTruncatedRecord when it
// ends mid-frame.
func (l *Lexer) Next() (Frame, error) {
	start := l.cursor.Offset()
	n, err := io.ReadFull(l.cursor, l.header[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("frame header at offset %d: %d of %d bytes: %w",
				start, n, codec.FrameHeaderSize, codec.ErrTruncatedRecord)
		}
		return Frame{}, err
	}

	op := codec.OpCode(l.header[0])
	length := binary.LittleEndian.Uint64(l.header[1:])
	payload, err := l.cursor.ReadExactly(length)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%s record at offset %d: declared %d bytes, %d available: %w",
				op, start, length, len(payload), codec.ErrTruncatedRecord)
		}
		return Frame{}, err
	}
	return Frame{Op: op, Payload: payload, Offset: start}, nil
}

// ReadFrameAt seeks to offset and reads one frame.
func (l *Lexer) ReadFrameAt(offset int64) (Frame, error) {
	if err := l.cursor.Seek(offset); err != nil {
		return Frame{}, err
	}
	frame, err := l.Next()
	if errors.Is(err, io.EOF) {
		return Frame{}, fmt.Errorf("no record at offset %d: %w", offset, codec.ErrTruncatedRecord)
	}
	return frame, err
}
