package lexer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrNotSeekable is returned when a seek is requested on a plain stream.
var ErrNotSeekable = errors.New("cursor: underlying reader is not seekable")

// Cursor is a positionable byte source over an in-memory buffer or a stream.
// It tracks the absolute offset of the next byte to be read.
type Cursor struct {
	r        io.Reader
	seeker   io.Seeker
	base     io.Reader     // source under the buffer, when buffered
	buffered *bufio.Reader // nil for unbuffered cursors
	offset   int64
	size     int64 // -1 when unknown
}

// NewBytesCursor creates a cursor over an in-memory buffer
func NewBytesCursor(data []byte) *Cursor {
	br := bytes.NewReader(data)
	return &Cursor{r: br, seeker: br, size: int64(len(data))}
}

// NewStreamCursor creates a cursor over r. If r also implements io.Seeker
// the cursor supports Seek and knows the stream size.
func NewStreamCursor(r io.Reader) (*Cursor, error) {
	c := &Cursor{r: r, size: -1}
	if s, ok := r.(io.Seeker); ok {
		c.seeker = s
		current, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("cursor: locate current offset: %w", err)
		}
		end, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("cursor: locate end: %w", err)
		}
		if _, err := s.Seek(current, io.SeekStart); err != nil {
			return nil, fmt.Errorf("cursor: restore offset: %w", err)
		}
		c.offset = current
		c.size = end
	}
	return c, nil
}

// NewBufferedCursor creates a seekable cursor that reads rs through a buffer.
// The buffer is discarded on every Seek.
func NewBufferedCursor(rs io.ReadSeeker, size int) (*Cursor, error) {
	c, err := NewStreamCursor(rs)
	if err != nil {
		return nil, err
	}
	c.base = rs
	c.buffered = bufio.NewReaderSize(rs, size)
	c.r = c.buffered
	return c, nil
}

// Offset returns the absolute offset of the next byte
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Size returns the total source size, or -1 if unknown
func (c *Cursor) Size() int64 {
	return c.size
}

// Remaining returns the number of unread bytes, or -1 if unknown
func (c *Cursor) Remaining() int64 {
	if c.size < 0 {
		return -1
	}
	return c.size - c.offset
}

// Seekable reports whether Seek is supported
func (c *Cursor) Seekable() bool {
	return c.seeker != nil
}

// Seek moves the cursor to an absolute offset
func (c *Cursor) Seek(offset int64) error {
	if c.seeker == nil {
		return ErrNotSeekable
	}
	if _, err := c.seeker.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if c.buffered != nil {
		c.buffered.Reset(c.base)
	}
	c.offset = offset
	return nil
}

// Read implements io.Reader
func (c *Cursor) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset += int64(n)
	return n, err
}

// largeRead is the size above which ReadExactly grows its buffer as data
// arrives instead of trusting the declared length.
const largeRead = 1 << 20

// ReadExactly reads n bytes. A short read returns the bytes that were
// available along with io.ErrUnexpectedEOF, or io.EOF if none were.
func (c *Cursor) ReadExactly(n uint64) ([]byte, error) {
	if remaining := c.Remaining(); remaining >= 0 && n > uint64(remaining) {
		// avoid allocating for a length that cannot be satisfied
		got, err := io.ReadAll(c)
		if err != nil {
			return got, err
		}
		if len(got) == 0 {
			return nil, io.EOF
		}
		return got, io.ErrUnexpectedEOF
	}
	if n <= largeRead {
		buf := make([]byte, n)
		read, err := io.ReadFull(c, buf)
		return buf[:read], err
	}
	buf, err := io.ReadAll(io.LimitReader(c, int64(n)))
	if err != nil {
		return buf, err
	}
	if uint64(len(buf)) < n {
		if len(buf) == 0 {
			return nil, io.EOF
		}
		return buf, io.ErrUnexpectedEOF
	}
	return buf, nil
}
