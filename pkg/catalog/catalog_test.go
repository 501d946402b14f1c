package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/writer"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog"), nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	t.Cleanup(func() { c.Close() })
	return c
}

// writeLog writes n messages on each topic. Topics share one schema.
func writeLog(t *testing.T, path string, opts writer.Options, n int, topics ...string) {
	t.Helper()
	w, err := writer.Create(path, opts)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&codec.Header{Profile: "ros2", Library: "catalog-test"}))
	require.NoError(t, w.WriteSchema(&codec.Schema{ID: 1, Name: "pose", Encoding: "jsonschema", Data: []byte("{}")}))
	for i, topic := range topics {
		require.NoError(t, w.WriteChannel(&codec.Channel{
			ID: uint16(i + 1), SchemaID: 1, Topic: topic, MessageEncoding: "json",
		}))
	}
	for i := 0; i < n; i++ {
		for j := range topics {
			require.NoError(t, w.WriteMessage(&codec.Message{
				ChannelID: uint16(j + 1),
				LogTime:   uint64(100 + i),
				Data:      []byte(fmt.Sprintf(`{"i":%d}`, i)),
			}))
		}
	}
	require.NoError(t, w.Close())
}

func chunked(compression string) writer.Options {
	return writer.Options{Chunked: true, ChunkSize: 256, Compression: compression, IncludeCRC: true}
}

func TestAddAndGet(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), "drive.mcap")
	writeLog(t, path, chunked(compress.Zstd), 20, "/pose", "/imu")

	entry, err := c.Add(path, reader.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, path, entry.Path)
	assert.Equal(t, "ros2", entry.Profile)
	assert.Equal(t, "catalog-test", entry.Library)
	assert.True(t, entry.Indexed)
	assert.Equal(t, uint64(40), entry.MessageCount)
	assert.Equal(t, uint64(100), entry.MessageStartTime)
	assert.Equal(t, uint64(119), entry.MessageEndTime)
	assert.Greater(t, entry.ChunkCount, uint32(1))
	assert.Equal(t, []string{"zstd"}, entry.Compression)
	assert.Equal(t, 0, entry.Warnings)

	require.Len(t, entry.Topics, 2)
	assert.Equal(t, TopicStats{
		Topic: "/imu", MessageEncoding: "json", SchemaName: "pose", SchemaEncoding: "jsonschema", MessageCount: 20,
	}, entry.Topics[0])
	assert.Equal(t, "/pose", entry.Topics[1].Topic)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, stat.Size(), entry.Size)

	got, err := c.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestAddSamePathKeepsID(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), "drive.mcap")

	writeLog(t, path, chunked(compress.LZ4), 5, "/old", "/kept")
	first, err := c.Add(path, reader.Options{})
	require.NoError(t, err)

	writeLog(t, path, chunked(compress.LZ4), 7, "/kept", "/new")
	second, err := c.Add(path, reader.Options{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, uint64(14), second.MessageCount)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stale, err := c.FindByTopic("/old")
	require.NoError(t, err)
	assert.Empty(t, stale)

	fresh, err := c.FindByTopic("/new")
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, first.ID, fresh[0].ID)
}

func TestListAndFindByTopic(t *testing.T) {
	c := newTestCatalog(t)
	dir := t.TempDir()

	a := filepath.Join(dir, "a.mcap")
	b := filepath.Join(dir, "b.mcap")
	writeLog(t, a, chunked(compress.Zstd), 3, "/camera", "/lidar")
	writeLog(t, b, writer.Options{}, 3, "/camera/info")

	ea, err := c.Add(a, reader.Options{})
	require.NoError(t, err)
	eb, err := c.Add(b, reader.Options{})
	require.NoError(t, err)
	assert.Empty(t, eb.Compression, "unchunked files have no chunk compression")

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	found, err := c.FindByTopic("/camera")
	require.NoError(t, err)
	require.Len(t, found, 1, "a topic must not prefix-match a longer one")
	assert.Equal(t, ea.ID, found[0].ID)

	found, err = c.FindByTopic("/camera/info")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, eb.ID, found[0].ID)

	found, err = c.FindByTopic("/missing")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRemove(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), "gone.mcap")
	writeLog(t, path, chunked(compress.None), 2, "/x")

	entry, err := c.Add(path, reader.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"none"}, entry.Compression)

	require.NoError(t, c.Remove(entry.ID))

	_, err = c.Get(entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := c.FindByTopic("/x")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = os.Stat(path)
	assert.NoError(t, err, "removing an entry keeps the file")

	assert.ErrorIs(t, c.Remove(entry.ID), ErrNotFound)
}

func TestGetInvalidID(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Get("not-a-ksuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRejectsNonLogFile(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a log file"), 0600))

	_, err := c.Add(path, reader.Options{})
	assert.ErrorIs(t, err, codec.ErrInvalidMagic)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddDamagedFileCountsWarnings(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), "cut.mcap")
	writeLog(t, path, chunked(compress.Zstd), 10, "/a")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-30], 0600))

	entry, err := c.Add(path, reader.Options{})
	require.NoError(t, err)
	assert.False(t, entry.Indexed)
	assert.Positive(t, entry.Warnings)
	assert.True(t, entry.HasTopic("/a"))
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "catalog")
	path := filepath.Join(t.TempDir(), "keep.mcap")
	writeLog(t, path, chunked(compress.Zstd), 2, "/keep")

	c, err := Open(dir, nil)
	require.NoError(t, err)
	entry, err := c.Add(path, reader.Options{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(dir, nil)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Get(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Path, got.Path)
}
