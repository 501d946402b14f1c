package transcode

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/writer"
)

func source(t *testing.T, opts writer.Options) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := writer.New(&buf, opts)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&codec.Header{Profile: "ros2", Library: "src"}))
	require.NoError(t, w.WriteSchema(&codec.Schema{ID: 1, Name: "Pose", Encoding: "ros2msg", Data: []byte("float64 x")}))
	require.NoError(t, w.WriteChannel(&codec.Channel{
		ID: 1, SchemaID: 1, Topic: "/pose", MessageEncoding: "cdr", Metadata: map[string]string{"qos": "reliable"},
	}))
	require.NoError(t, w.WriteChannel(&codec.Channel{ID: 2, Topic: "/log", MessageEncoding: "raw"}))
	for i := 0; i < 50; i++ {
		require.NoError(t, w.WriteMessage(&codec.Message{
			ChannelID: uint16(i%2 + 1), Sequence: uint32(i), LogTime: uint64(1000 + i), PublishTime: uint64(999 + i),
			Data: []byte(fmt.Sprintf("m%02d", i)),
		}))
	}
	require.NoError(t, w.WriteAttachment(&codec.Attachment{Name: "map.png", MediaType: "image/png", Data: []byte{1, 2, 3}}))
	require.NoError(t, w.WriteMetadata(&codec.Metadata{Name: "run", Metadata: map[string]string{"driver": "a"}}))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func convert(t *testing.T, src []byte, opts writer.Options) (*Stats, []byte) {
	t.Helper()
	r, err := reader.Open(bytes.NewReader(src), reader.Options{Mode: reader.Strict})
	require.NoError(t, err)

	var out bytes.Buffer
	w, err := writer.New(&out, opts)
	require.NoError(t, err)
	stats, err := Copy(w, r)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return stats, out.Bytes()
}

func messages(t *testing.T, data []byte) []*codec.Message {
	t.Helper()
	r, err := reader.Open(bytes.NewReader(data), reader.Options{Mode: reader.Strict})
	require.NoError(t, err)
	it := r.Messages()
	var out []*codec.Message
	for it.Next() {
		out = append(out, it.Message())
	}
	require.NoError(t, it.Err())
	return out
}

func TestCopy_ChangesCompression(t *testing.T) {
	src := source(t, writer.Options{Chunked: true, ChunkSize: 128, Compression: compress.Zstd, IncludeCRC: true})

	stats, out := convert(t, src, writer.Options{Chunked: true, ChunkSize: 4096, Compression: compress.LZ4, IncludeCRC: true})
	assert.Equal(t, &Stats{Schemas: 1, Channels: 2, Messages: 50, Attachments: 1, Metadata: 1}, stats)

	r, err := reader.Open(bytes.NewReader(out), reader.Options{Mode: reader.Strict})
	require.NoError(t, err)
	info, err := r.Info()
	require.NoError(t, err)
	assert.True(t, info.Indexed)
	assert.Equal(t, "ros2", info.Header.Profile)
	require.NotEmpty(t, info.Summary.ChunkIndexes)
	for _, ci := range info.Summary.ChunkIndexes {
		assert.Equal(t, compress.LZ4, ci.Compression)
	}
	assert.Equal(t, map[string]string{"qos": "reliable"}, info.Summary.Channels[1].Metadata)

	a, err := r.Attachment(info.Summary.AttachmentIndexes[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, a.Data)
	assert.NotZero(t, a.CRC)

	assert.Equal(t, messages(t, src), messages(t, out))
}

func TestCopy_Unchunk(t *testing.T) {
	src := source(t, writer.Options{Chunked: true, ChunkSize: 64, Compression: compress.Zstd, IncludeCRC: true})

	stats, out := convert(t, src, writer.Options{IncludeCRC: true})
	assert.Equal(t, 1, stats.Schemas)
	assert.Equal(t, 2, stats.Channels)

	r, err := reader.Open(bytes.NewReader(out), reader.Options{Mode: reader.Strict})
	require.NoError(t, err)
	assert.Empty(t, r.Summary().ChunkIndexes)
	assert.Equal(t, messages(t, src), messages(t, out))
}

func TestCopy_RecoversTruncatedSource(t *testing.T) {
	src := source(t, writer.Options{Chunked: true, ChunkSize: 128, Compression: compress.None, IncludeCRC: true})
	cut := src[:len(src)/2]

	r, err := reader.Open(bytes.NewReader(cut), reader.Options{})
	require.NoError(t, err)
	require.Nil(t, r.Summary())

	var out bytes.Buffer
	w, err := writer.New(&out, writer.Options{Chunked: true, Compression: compress.Zstd, IncludeCRC: true})
	require.NoError(t, err)
	stats, err := Copy(w, r)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Positive(t, stats.Messages)
	assert.Less(t, stats.Messages, uint64(50))
	assert.NotEmpty(t, r.Warnings())

	// the copy is a complete file with a summary again
	msgs := messages(t, out.Bytes())
	assert.Len(t, msgs, int(stats.Messages))
}
