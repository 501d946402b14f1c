package lexer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/codec"
)

func buildStream(t *testing.T, records ...codec.Record) []byte {
	t.Helper()
	buf := append([]byte{}, codec.Magic...)
	for _, r := range records {
		var err error
		buf, err = codec.AppendFrame(buf, r)
		require.NoError(t, err)
	}
	return buf
}

func TestLexer_Next(t *testing.T) {
	data := buildStream(t,
		&codec.Header{Profile: "p"},
		&codec.Message{ChannelID: 1, LogTime: 10, Data: []byte("a")},
		&codec.Unknown{Op: 0x77, Data: []byte{1, 2}},
		&codec.DataEnd{},
	)
	lx := New(NewBytesCursor(data))
	require.NoError(t, lx.ReadMagic())
	assert.Equal(t, int64(8), lx.Offset())

	var ops []codec.OpCode
	var offsets []int64
	for {
		frame, err := lx.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, frame.End(), lx.Offset(), "offset after frame")
		ops = append(ops, frame.Op)
		offsets = append(offsets, frame.Offset)
	}

	assert.Equal(t, []codec.OpCode{codec.OpHeader, codec.OpMessage, 0x77, codec.OpDataEnd}, ops)
	assert.Equal(t, int64(8), offsets[0])
	assert.Equal(t, int64(len(data)), lx.Offset())
}

func TestLexer_Truncated(t *testing.T) {
	data := buildStream(t,
		&codec.Header{Profile: "p"},
		&codec.Message{ChannelID: 1, LogTime: 10, Data: []byte("payload")},
	)

	headerEnd := 8 + codec.FrameHeaderSize + 4 + 1 + 4
	for cut := headerEnd + 1; cut < len(data); cut++ {
		lx := New(NewBytesCursor(data[:cut]))
		require.NoError(t, lx.ReadMagic())
		_, err := lx.Next()
		require.NoError(t, err, "header frame is intact")
		_, err = lx.Next()
		assert.ErrorIs(t, err, codec.ErrTruncatedRecord, "cut at %d", cut)
	}

	lx := New(NewBytesCursor(data[:headerEnd]))
	require.NoError(t, lx.ReadMagic())
	_, err := lx.Next()
	require.NoError(t, err)
	_, err = lx.Next()
	assert.ErrorIs(t, err, io.EOF, "cut on a frame boundary is a clean end")
}

func TestLexer_HugeDeclaredLength(t *testing.T) {
	frame := codec.AppendFrameHeader(nil, codec.OpMessage, 1<<62)
	frame = append(frame, 1, 2, 3)

	// a plain stream has no known size: the read must still fail softly
	lx := New(&Cursor{r: bytes.NewBuffer(frame), size: -1})
	_, err := lx.Next()
	assert.ErrorIs(t, err, codec.ErrTruncatedRecord)

	lx = New(NewBytesCursor(frame))
	_, err = lx.Next()
	assert.ErrorIs(t, err, codec.ErrTruncatedRecord)
}

func TestLexer_InvalidMagic(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", codec.Magic[:4]},
		{"wrong", []byte("NOTMCAP!")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lx := New(NewBytesCursor(tc.data))
			assert.ErrorIs(t, lx.ReadMagic(), codec.ErrInvalidMagic)
		})
	}
}

func TestLexer_ReadFrameAt(t *testing.T) {
	data := buildStream(t,
		&codec.Header{},
		&codec.Schema{ID: 1, Name: "S"},
		&codec.Channel{ID: 1, SchemaID: 1, Topic: "/t"},
	)
	lx := New(NewBytesCursor(data))
	require.NoError(t, lx.ReadMagic())
	_, err := lx.Next()
	require.NoError(t, err)
	schemaFrame, err := lx.Next()
	require.NoError(t, err)
	_, err = lx.Next()
	require.NoError(t, err)

	again, err := lx.ReadFrameAt(schemaFrame.Offset)
	require.NoError(t, err)
	assert.Equal(t, schemaFrame, again)

	_, err = lx.ReadFrameAt(int64(len(data)))
	assert.ErrorIs(t, err, codec.ErrTruncatedRecord)
}

func TestFrame_Header(t *testing.T) {
	f := Frame{Op: codec.OpDataEnd, Payload: []byte{0, 0, 0, 0}}
	assert.Equal(t, []byte{0x0F, 4, 0, 0, 0, 0, 0, 0, 0}, f.Header())
	assert.Equal(t, int64(13), f.Size())
}

func TestStreamCursor_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.bin")
	data := buildStream(t, &codec.Header{Profile: "file"})
	require.NoError(t, os.WriteFile(path, data, 0600))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	c, err := NewStreamCursor(f)
	require.NoError(t, err)
	assert.True(t, c.Seekable())
	assert.Equal(t, int64(len(data)), c.Size())

	lx := New(c)
	require.NoError(t, lx.ReadMagic())
	frame, err := lx.Next()
	require.NoError(t, err)
	rec, err := codec.Decode(frame.Op, frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, "file", rec.(*codec.Header).Profile)

	require.NoError(t, c.Seek(0))
	assert.Equal(t, int64(0), c.Offset())
}

func TestStreamCursor_NotSeekable(t *testing.T) {
	c, err := NewStreamCursor(bytes.NewBufferString("abc"))
	require.NoError(t, err)
	assert.False(t, c.Seekable())
	assert.Equal(t, int64(-1), c.Remaining())
	assert.ErrorIs(t, c.Seek(1), ErrNotSeekable)
}

func TestBufferedCursor_Seek(t *testing.T) {
	data := buildStream(t,
		&codec.Header{Profile: "buffered"},
		&codec.Message{ChannelID: 1, Data: bytes.Repeat([]byte("m"), 100)},
	)
	c, err := NewBufferedCursor(bytes.NewReader(data), 16)
	require.NoError(t, err)
	lx := New(c)
	require.NoError(t, lx.ReadMagic())
	first, err := lx.Next()
	require.NoError(t, err)
	second, err := lx.Next()
	require.NoError(t, err)

	// seeking back must drop whatever the buffer read ahead
	again, err := lx.ReadFrameAt(first.Offset)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, second.Offset, lx.Offset())
}
