package reader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/writer"
)

func headerEnd(t *testing.T) int {
	t.Helper()
	frame, err := codec.AppendFrame(nil, testHeader)
	require.NoError(t, err)
	return len(codec.Magic) + len(frame)
}

func flipByteAt(data []byte, offset int) []byte {
	out := append([]byte{}, data...)
	out[offset] ^= 0xff
	return out
}

// withoutFooterCRC clears the footer CRC so that strict reads reach the
// damage instead of stopping at Open.
func withoutFooterCRC(data []byte) []byte {
	out := append([]byte{}, data...)
	at := len(out) - len(codec.Magic) - 4
	copy(out[at:at+4], []byte{0, 0, 0, 0})
	return out
}

func drain(it *MessageIterator) (int, error) {
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

func hasError(errs []error, target error) bool {
	for _, err := range errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestReader_TruncationYieldsPrefix(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) { writeStandard(t, w, 60) })
	full := logTimes(collect(t, openBytes(t, data, Options{Mode: Strict}).Messages()))
	require.Len(t, full, 60)

	for cut := headerEnd(t); cut < len(data); cut += 7 {
		r, err := Open(bytes.NewReader(data[:cut]), Options{})
		require.NoError(t, err, "cut at %d", cut)

		got := logTimes(collect(t, r.Messages()))
		require.LessOrEqual(t, len(got), len(full), "cut at %d", cut)
		assert.Equal(t, full[:len(got)], got, "cut at %d", cut)
		assert.NotEmpty(t, r.Warnings(), "cut at %d", cut)
	}
}

func TestReader_TruncationIsFatalInStrictMode(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) { writeStandard(t, w, 60) })

	r := openBytes(t, data[:len(data)/2], Options{Mode: Strict})
	assert.Nil(t, r.Summary())

	it := r.Records()
	for it.Next() {
	}
	assert.ErrorIs(t, it.Err(), codec.ErrTruncatedRecord)

	_, err := drain(r.Messages())
	assert.ErrorIs(t, err, codec.ErrTruncatedRecord)
}

func TestReader_ChunkCRCMismatch(t *testing.T) {
	opts := chunkedOptions()
	opts.Compression = compress.None
	data := writeTestFile(t, opts, func(w *writer.Writer) { writeStandard(t, w, 60) })
	at := bytes.Index(data, []byte("payload-0005"))
	require.Positive(t, at)
	damaged := flipByteAt(data, at+8)

	t.Run("strict", func(t *testing.T) {
		_, err := Open(bytes.NewReader(damaged), Options{Mode: Strict})
		require.ErrorIs(t, err, codec.ErrIntegrity, "the footer crc covers the chunk")

		r := openBytes(t, withoutFooterCRC(damaged), Options{Mode: Strict})
		_, err = drain(r.Messages())
		require.ErrorIs(t, err, codec.ErrIntegrity)
		var crcErr *codec.CRCError
		require.ErrorAs(t, err, &crcErr)
		assert.Equal(t, "chunk", crcErr.Record)

		it := r.Records()
		for it.Next() {
		}
		assert.ErrorIs(t, it.Err(), codec.ErrIntegrity)
	})

	t.Run("best effort", func(t *testing.T) {
		r := openBytes(t, damaged, Options{})
		n, err := drain(r.Messages())
		require.NoError(t, err)
		assert.Equal(t, 60, n)
		assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))
	})

	t.Run("without crc", func(t *testing.T) {
		opts.IncludeCRC = false
		plain := writeTestFile(t, opts, func(w *writer.Writer) { writeStandard(t, w, 60) })
		at := bytes.Index(plain, []byte("payload-0005"))
		r := openBytes(t, flipByteAt(plain, at+8), Options{Mode: Strict})
		n, err := drain(r.Messages())
		require.NoError(t, err)
		assert.Equal(t, 60, n)
	})
}

func TestReader_DataSectionCRCMismatch(t *testing.T) {
	data := writeTestFile(t, writer.Options{IncludeCRC: true}, func(w *writer.Writer) { writeStandard(t, w, 12) })
	at := bytes.Index(data, []byte("payload-0003"))
	require.Positive(t, at)
	damaged := flipByteAt(data, at+8)

	r := openBytes(t, withoutFooterCRC(damaged), Options{Mode: Strict})
	it := r.Records()
	for it.Next() {
	}
	var crcErr *codec.CRCError
	require.ErrorAs(t, it.Err(), &crcErr)
	assert.Equal(t, "data section", crcErr.Record)

	r = openBytes(t, damaged, Options{})
	n, err := drain(r.Messages())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))
}

func TestReader_SummaryCRCMismatch(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) { writeStandard(t, w, 60) })
	footer := openBytes(t, data, Options{}).Footer()
	require.NotNil(t, footer)
	require.NotZero(t, footer.SummaryCRC)
	damaged := flipByteAt(data, int(footer.SummaryStart)+10)

	_, err := Open(bytes.NewReader(damaged), Options{Mode: Strict})
	assert.ErrorIs(t, err, codec.ErrIntegrity)

	r := openBytes(t, damaged, Options{})
	assert.Nil(t, r.Summary())
	assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))

	it := r.Messages()
	assert.False(t, it.Indexed())
	n, err := drain(it)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}

func TestReader_FooterCRCCoversDataSection(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) { writeStandard(t, w, 60) })
	at := bytes.Index(data, []byte(testHeader.Library))
	require.Positive(t, at)
	damaged := flipByteAt(data, at+2)

	_, err := Open(bytes.NewReader(damaged), Options{Mode: Strict})
	require.ErrorIs(t, err, codec.ErrIntegrity)
	var crcErr *codec.CRCError
	require.ErrorAs(t, err, &crcErr)
	assert.Equal(t, "summary", crcErr.Record)

	// the data section crc fails too, so the damage is not in the summary
	r := openBytes(t, damaged, Options{})
	require.NotNil(t, r.Summary())
	assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))
	it := r.Messages()
	assert.True(t, it.Indexed())
	n, err := drain(it)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	r = openBytes(t, withoutFooterCRC(damaged), Options{Mode: Strict})
	assert.NotNil(t, r.Summary())
}

func TestReader_CompressedChunkCorruption(t *testing.T) {
	for _, name := range []string{compress.Zstd, compress.LZ4} {
		t.Run(name, func(t *testing.T) {
			opts := chunkedOptions()
			opts.Compression = name
			data := writeTestFile(t, opts, func(w *writer.Writer) { writeStandard(t, w, 60) })

			summary := openBytes(t, data, Options{Mode: Strict}).Summary()
			require.Greater(t, len(summary.ChunkIndexes), 1)
			ci := summary.ChunkIndexes[0]
			require.Equal(t, name, ci.Compression)
			require.Positive(t, ci.CompressedSize)
			// the compressed records end the chunk frame
			at := int(ci.ChunkStartOffset + ci.ChunkLength - ci.CompressedSize/2 - 1)
			damaged := withoutFooterCRC(flipByteAt(data, at))

			r := openBytes(t, damaged, Options{Mode: Strict})
			_, err := drain(r.Messages())
			require.ErrorIs(t, err, codec.ErrIntegrity)
			var crcErr *codec.CRCError
			require.ErrorAs(t, err, &crcErr)
			assert.Equal(t, "chunk", crcErr.Record)
			assert.Equal(t, int64(ci.ChunkStartOffset), crcErr.Offset)

			r = openBytes(t, damaged, Options{Mode: Strict})
			it := r.Records()
			for it.Next() {
			}
			assert.ErrorIs(t, it.Err(), codec.ErrIntegrity)

			r = openBytes(t, damaged, Options{})
			n, err := drain(r.Messages())
			require.NoError(t, err)
			assert.LessOrEqual(t, n, 60)
			assert.Positive(t, n, "later chunks are still read")
			assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))
		})
	}
}

func TestReader_ChannelLookupStopsAtDamage(t *testing.T) {
	var records []byte
	var err error
	records, err = codec.AppendFrame(records, &codec.Channel{ID: 1, Topic: "/inner", MessageEncoding: "raw"})
	require.NoError(t, err)
	messageAt := len(records)
	records, err = codec.AppendFrame(records, &codec.Message{ChannelID: 1, LogTime: 5, Data: []byte("x")})
	require.NoError(t, err)
	// a frame declaring more bytes than the chunk holds
	records = codec.AppendFrameHeader(records, codec.OpMessage, 1000)

	buf := append([]byte{}, codec.Magic...)
	buf, err = codec.AppendFrame(buf, testHeader)
	require.NoError(t, err)
	chunkAt := len(buf)
	buf, err = codec.AppendFrame(buf, &codec.Chunk{
		MessageStartTime: 5, MessageEndTime: 5,
		UncompressedSize: uint64(len(records)),
		Compression:      compress.None,
		Records:          records,
	})
	require.NoError(t, err)
	chunkLength := len(buf) - chunkAt
	indexAt := len(buf)
	buf, err = codec.AppendFrame(buf, &codec.MessageIndex{
		ChannelID: 1,
		Records:   []codec.MessageIndexEntry{{Timestamp: 5, Offset: uint64(messageAt)}},
	})
	require.NoError(t, err)
	indexLength := len(buf) - indexAt
	buf, err = codec.AppendFrame(buf, &codec.DataEnd{})
	require.NoError(t, err)

	summaryStart := len(buf)
	for _, rec := range []codec.Record{
		&codec.Channel{ID: 2, Topic: "/outer", MessageEncoding: "raw"},
		&codec.ChunkIndex{
			MessageStartTime: 5, MessageEndTime: 5,
			ChunkStartOffset:    uint64(chunkAt),
			ChunkLength:         uint64(chunkLength),
			MessageIndexOffsets: map[uint16]uint64{1: uint64(indexAt)},
			MessageIndexLength:  uint64(indexLength),
			Compression:         compress.None,
			CompressedSize:      uint64(len(records)),
			UncompressedSize:    uint64(len(records)),
		},
		&codec.Footer{SummaryStart: uint64(summaryStart)},
	} {
		buf, err = codec.AppendFrame(buf, rec)
		require.NoError(t, err)
	}
	buf = append(buf, codec.Magic...)

	r := openBytes(t, buf, Options{})
	it := r.Messages()
	require.True(t, it.Indexed())
	var topics []string
	for it.Next() {
		topics = append(topics, it.Event().Channel.Topic)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"/inner"}, topics, "channels before the damage are still learned")
	assert.True(t, hasError(r.Warnings(), codec.ErrTruncatedRecord))

	r = openBytes(t, buf, Options{Mode: Strict})
	_, err = drain(r.Messages())
	assert.ErrorIs(t, err, codec.ErrTruncatedRecord)
}

func TestReader_MissingFooterFallsBackToScan(t *testing.T) {
	attachment := &codec.Attachment{LogTime: 7, Name: "calib.yaml", MediaType: "application/yaml", Data: []byte("calibration-data-1")}
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) {
		writeStandard(t, w, 60)
		require.NoError(t, w.WriteAttachment(attachment))
		require.NoError(t, w.WriteMetadata(&codec.Metadata{Name: "robot", Metadata: map[string]string{"id": "r2"}}))
	})
	original := openBytes(t, data, Options{Mode: Strict})
	want, err := original.Info()
	require.NoError(t, err)
	require.True(t, want.Indexed)

	cut := data[:len(data)-len(codec.Magic)-codec.FooterRecordSize]
	r := openBytes(t, cut, Options{})
	assert.Nil(t, r.Footer())
	assert.Nil(t, r.Summary())

	it := r.Messages()
	assert.False(t, it.Indexed())
	assert.Equal(t, logTimes(collect(t, original.Messages())), logTimes(collect(t, it)))

	info, err := r.Info()
	require.NoError(t, err)
	assert.False(t, info.Indexed)
	stats := info.Summary.Statistics
	assert.Equal(t, uint64(60), stats.MessageCount)
	assert.Equal(t, uint16(1), stats.SchemaCount)
	assert.Equal(t, uint32(3), stats.ChannelCount)
	assert.Equal(t, uint32(1), stats.AttachmentCount)
	assert.Equal(t, uint32(1), stats.MetadataCount)
	assert.Equal(t, want.Summary.Statistics.ChannelMessageCounts, stats.ChannelMessageCounts)
	require.Len(t, info.Summary.ChunkIndexes, len(want.Summary.ChunkIndexes))
	for i, ci := range info.Summary.ChunkIndexes {
		assert.Equal(t, want.Summary.ChunkIndexes[i].ChunkStartOffset, ci.ChunkStartOffset)
		assert.Equal(t, want.Summary.ChunkIndexes[i].ChunkLength, ci.ChunkLength)
	}
	require.Len(t, info.Summary.AttachmentIndexes, 1)
	assert.Equal(t, want.Summary.AttachmentIndexes[0], info.Summary.AttachmentIndexes[0])

	got, err := r.Attachment(info.Summary.AttachmentIndexes[0])
	require.NoError(t, err)
	assert.Equal(t, attachment.Data, got.Data)
}

type xorCodec struct{}

func (xorCodec) Name() string { return "xor" }

func (xorCodec) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (c xorCodec) Decompress(src []byte, _ uint64) ([]byte, error) {
	return c.Compress(src)
}

func TestReader_UnsupportedCompression(t *testing.T) {
	registry := compress.NewDefaultRegistry()
	registry.Register(xorCodec{})
	opts := chunkedOptions()
	opts.Compression = "xor"
	opts.Registry = registry
	data := writeTestFile(t, opts, func(w *writer.Writer) { writeStandard(t, w, 30) })

	r := openBytes(t, data, Options{})
	n, err := drain(r.Messages())
	require.NoError(t, err)
	assert.Zero(t, n, "every chunk is skipped")
	assert.True(t, hasError(r.Warnings(), codec.ErrUnsupportedCompression))

	r = openBytes(t, data, Options{Mode: Strict})
	_, err = drain(r.Messages())
	assert.ErrorIs(t, err, codec.ErrUnsupportedCompression)

	r = openBytes(t, data, Options{Mode: Strict, Registry: registry})
	n, err = drain(r.Messages())
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestReader_AttachmentsAndMetadata(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) {
		writeStandard(t, w, 10)
		require.NoError(t, w.WriteAttachment(&codec.Attachment{
			LogTime: 3, CreateTime: 4, Name: "map.pgm", MediaType: "image/x-portable-graymap",
			Data: []byte("occupancy-grid-bytes"),
		}))
		require.NoError(t, w.WriteMetadata(&codec.Metadata{Name: "session", Metadata: map[string]string{"operator": "ops", "site": "lab"}}))
	})

	r := openBytes(t, data, Options{Mode: Strict})
	summary := r.Summary()
	require.Len(t, summary.AttachmentIndexes, 1)
	require.Len(t, summary.MetadataIndexes, 1)

	a, err := r.Attachment(summary.AttachmentIndexes[0])
	require.NoError(t, err)
	assert.Equal(t, "map.pgm", a.Name)
	assert.Equal(t, []byte("occupancy-grid-bytes"), a.Data)
	assert.NotZero(t, a.CRC)

	m, err := r.Metadata(summary.MetadataIndexes[0])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"operator": "ops", "site": "lab"}, m.Metadata)

	_, err = r.Metadata(&codec.MetadataIndex{Offset: summary.AttachmentIndexes[0].Offset, Length: summary.AttachmentIndexes[0].Length})
	assert.ErrorIs(t, err, codec.ErrMalformedPayload)

	at := bytes.Index(data, []byte("occupancy-grid-bytes"))
	damaged := flipByteAt(data, at)
	r = openBytes(t, withoutFooterCRC(damaged), Options{Mode: Strict})
	_, err = r.Attachment(r.Summary().AttachmentIndexes[0])
	assert.ErrorIs(t, err, codec.ErrIntegrity)

	r = openBytes(t, damaged, Options{})
	a, err = r.Attachment(r.Summary().AttachmentIndexes[0])
	require.NoError(t, err)
	assert.Equal(t, "map.pgm", a.Name)
	assert.True(t, hasError(r.Warnings(), codec.ErrIntegrity))
}

func TestReader_WarningsAreLogged(t *testing.T) {
	data := writeTestFile(t, chunkedOptions(), func(w *writer.Writer) { writeStandard(t, w, 30) })
	logger, hook := test.NewNullLogger()

	var seen []error
	r := openBytes(t, data[:len(data)-3], Options{
		Logger:    logger,
		OnWarning: func(err error) { seen = append(seen, err) },
	})
	require.NotEmpty(t, hook.AllEntries())
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Data, "offset")
	assert.Contains(t, entry.Data, logrus.ErrorKey)
	assert.Equal(t, r.Warnings(), seen)
}
