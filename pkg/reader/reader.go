// Package reader reads MCAP files.
//
// Open checks the leading magic and the Header, then tries to load the
// summary section through the footer. Without a usable summary every read
// falls back to a linear scan of the data section, so truncated and
// in-progress files stay readable.
//
// Damage is handled according to the Mode. In BestEffort mode (the default)
// truncation, bad chunks and checksum mismatches are logged as warnings and
// the reader recovers as much data as it can. In Strict mode the first such
// error ends the read.
//
// A Reader and its iterators share one cursor and are not safe for
// concurrent use. Open the file once per goroutine instead.
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/lexer"
)

const (
	readBufferSize = 64 * 1024

	// dataEndRecordSize is a full DataEnd frame
	dataEndRecordSize = codec.FrameHeaderSize + 4
)

// Reader provides sequential and indexed access to an MCAP file
type Reader struct {
	cursor    *lexer.Cursor
	lx        *lexer.Lexer
	opts      Options
	log       logrus.FieldLogger
	header    *codec.Header
	dataStart int64
	footer    *codec.Footer
	summary   *Summary
	scanned   *Summary
	warnings  []error
	closer    io.Closer
}

// Open reads the header and summary of the file in rs
func Open(rs io.ReadSeeker, opts Options) (*Reader, error) {
	opts.setDefaults()
	cursor, err := lexer.NewBufferedCursor(rs, readBufferSize)
	if err != nil {
		return nil, err
	}
	if err := cursor.Seek(0); err != nil {
		return nil, err
	}

	r := &Reader{
		cursor: cursor,
		lx:     lexer.New(cursor),
		opts:   opts,
		log:    opts.Logger,
	}
	if err := r.lx.ReadMagic(); err != nil {
		return nil, err
	}
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	if err := r.loadSummary(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenFile opens the file at path. Close releases it.
func OpenFile(path string, opts Options) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := Open(file, opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = file
	return r, nil
}

// Close releases the file opened by OpenFile
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Header returns the file's header record
func (r *Reader) Header() *codec.Header {
	return r.header
}

// Footer returns the footer, or nil if the file has none
func (r *Reader) Footer() *codec.Footer {
	return r.footer
}

// Summary returns the summary section loaded at open, or nil when the file
// has no usable summary.
func (r *Reader) Summary() *Summary {
	return r.summary
}

// Warnings returns every recoverable error seen so far
func (r *Reader) Warnings() []error {
	out := make([]error, len(r.warnings))
	copy(out, r.warnings)
	return out
}

func (r *Reader) readHeader() error {
	frame, err := r.lx.Next()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("file has no header: %w", codec.ErrTruncatedRecord)
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if frame.Op != codec.OpHeader {
		return fmt.Errorf("first record is %s, want header: %w", frame.Op, codec.ErrMalformedPayload)
	}
	header, err := codec.ParseHeader(frame.Payload)
	if err != nil {
		return err
	}
	r.header = header
	r.dataStart = frame.End()
	return nil
}

// loadSummary locates the footer and parses the summary section. A missing
// or unreadable footer only leaves the reader without a summary.
func (r *Reader) loadSummary() error {
	size := r.cursor.Size()
	magicStart := size - int64(len(codec.Magic))
	footerStart := magicStart - codec.FooterRecordSize
	if footerStart < r.dataStart {
		r.warn(fmt.Errorf("file of %d bytes has no room for a footer: %w", size, codec.ErrTruncatedRecord),
			logrus.Fields{"offset": size})
		return nil
	}

	if err := r.cursor.Seek(magicStart); err != nil {
		return err
	}
	if err := r.lx.ReadMagic(); err != nil {
		r.warn(fmt.Errorf("trailing magic: %w", err), logrus.Fields{"offset": magicStart})
		return nil
	}

	frame, err := r.lx.ReadFrameAt(footerStart)
	if err != nil || frame.Op != codec.OpFooter || frame.End() != magicStart {
		r.warn(fmt.Errorf("no footer before trailing magic: %w", codec.ErrMalformedPayload),
			logrus.Fields{"offset": footerStart})
		return nil
	}
	footer, err := codec.ParseFooter(frame.Payload)
	if err != nil {
		r.warn(err, logrus.Fields{"offset": footerStart})
		return nil
	}
	r.footer = footer

	summary, err := r.readSummary(footer, footerStart)
	if err != nil {
		// the summary is dropped and reads scan the data section
		return r.tolerate(err, logrus.Fields{"offset": footer.SummaryStart})
	}
	r.summary = summary
	return nil
}

func (r *Reader) readSummary(footer *codec.Footer, footerStart int64) (*Summary, error) {
	start := int64(footer.SummaryStart)
	if start != 0 {
		if start < r.dataStart || start > footerStart {
			return nil, fmt.Errorf("summary start %d outside [%d, %d]: %w", start, r.dataStart, footerStart, codec.ErrMalformedPayload)
		}
		if so := int64(footer.SummaryOffsetStart); so != 0 && (so < start || so > footerStart) {
			return nil, fmt.Errorf("summary offset start %d outside [%d, %d]: %w", so, start, footerStart, codec.ErrMalformedPayload)
		}
	}

	if footer.SummaryCRC != 0 {
		if err := r.verifyFooterCRC(footer, footerStart); err != nil {
			return nil, err
		}
	}
	if start == 0 {
		return nil, nil
	}

	if err := r.cursor.Seek(start); err != nil {
		return nil, err
	}
	data, err := r.cursor.ReadExactly(uint64(footerStart - start))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", codec.ErrTruncatedRecord)
	}

	summary := newSummary()
	lx := lexer.NewChunkLexer(data)
	for {
		frame, err := lx.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("summary: %w", err)
		}
		rec, err := codec.Decode(frame.Op, frame.Payload)
		if errors.Is(err, codec.ErrUnknownOpcode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("summary %s record at offset %d: %w", frame.Op, start+frame.Offset, err)
		}
		switch rec := rec.(type) {
		case *codec.Schema:
			summary.Schemas[rec.ID] = rec
		case *codec.Channel:
			summary.Channels[rec.ID] = rec
		case *codec.Statistics:
			summary.Statistics = rec
		case *codec.ChunkIndex:
			summary.ChunkIndexes = append(summary.ChunkIndexes, rec)
		case *codec.AttachmentIndex:
			summary.AttachmentIndexes = append(summary.AttachmentIndexes, rec)
		case *codec.MetadataIndex:
			summary.MetadataIndexes = append(summary.MetadataIndexes, rec)
		case *codec.SummaryOffset:
			summary.SummaryOffsets[rec.GroupOpcode] = rec
		}
	}
	sort.SliceStable(summary.ChunkIndexes, func(i, j int) bool {
		return summary.ChunkIndexes[i].ChunkStartOffset < summary.ChunkIndexes[j].ChunkStartOffset
	})
	return summary, nil
}

// verifyFooterCRC checks the footer CRC, which covers every byte from the
// start of the file through the footer's summary_offset_start field. In
// best-effort mode a mismatch is only fatal to the summary when the data
// section verifies on its own, which places the damage after DataEnd.
func (r *Reader) verifyFooterCRC(footer *codec.Footer, footerStart int64) error {
	dataEndAt := footerStart
	if footer.SummaryStart != 0 {
		dataEndAt = int64(footer.SummaryStart)
	}
	dataEndAt = max(dataEndAt-dataEndRecordSize, r.dataStart)

	dataCRC, err := r.crcRange(0, 0, dataEndAt)
	if err != nil {
		return err
	}
	crc, err := r.crcRange(dataCRC, dataEndAt, footerStart)
	if err != nil {
		return err
	}
	crc = codec.UpdateCRC(crc, codec.FooterCRCPrefix(footer))
	if crc == footer.SummaryCRC {
		return nil
	}

	crcErr := &codec.CRCError{Record: "summary", Offset: footerStart, Expected: footer.SummaryCRC, Actual: crc}
	if r.opts.Mode == Strict || r.dataSectionVerifies(dataEndAt, dataCRC) {
		return crcErr
	}
	// the damage is in the data section, where chunk and attachment CRCs
	// still guard what the summary indexes
	r.warn(crcErr, logrus.Fields{"offset": footerStart, "opcode": codec.OpFooter})
	return nil
}

// crcRange extends crc with the file bytes in [from, to).
func (r *Reader) crcRange(crc uint32, from, to int64) (uint32, error) {
	if err := r.cursor.Seek(from); err != nil {
		return crc, err
	}
	buf := make([]byte, min(to-from, readBufferSize))
	for from < to {
		n := min(to-from, int64(len(buf)))
		if _, err := io.ReadFull(r.cursor, buf[:n]); err != nil {
			return crc, fmt.Errorf("read at offset %d: %w", from, codec.ErrTruncatedRecord)
		}
		crc = codec.UpdateCRC(crc, buf[:n])
		from += n
	}
	return crc, nil
}

// dataSectionVerifies reports whether a DataEnd record at offset carries a
// data section CRC equal to crc.
func (r *Reader) dataSectionVerifies(offset int64, crc uint32) bool {
	frame, err := r.lx.ReadFrameAt(offset)
	if err != nil || frame.Op != codec.OpDataEnd {
		return false
	}
	end, err := codec.ParseDataEnd(frame.Payload)
	return err == nil && end.DataSectionCRC != 0 && end.DataSectionCRC == crc
}

// Info describes the file. Without a summary the description is rebuilt by
// scanning the data section once; the scan is cached.
func (r *Reader) Info() (*Info, error) {
	info := &Info{
		Header: r.header,
		Footer: r.footer,
		Size:   r.cursor.Size(),
	}
	if r.summary != nil {
		info.Summary = r.summary
		info.Indexed = true
		return info, nil
	}
	if r.scanned == nil {
		scanned, err := r.scan()
		if err != nil {
			return nil, err
		}
		r.scanned = scanned
	}
	info.Summary = r.scanned
	return info, nil
}

// Scan rebuilds a summary from the data section alone, ignoring the summary
// section even when it is readable.
func (r *Reader) Scan() (*Summary, error) {
	return r.scan()
}

// scan rebuilds a summary from the data section. Chunk indexes built this
// way carry no message index offsets.
func (r *Reader) scan() (*Summary, error) {
	summary := newSummary()
	stats := &codec.Statistics{ChannelMessageCounts: make(map[uint16]uint64)}
	summary.Statistics = stats

	it := r.Records()
	it.onChunk = func(idx *codec.ChunkIndex) {
		summary.ChunkIndexes = append(summary.ChunkIndexes, idx)
		stats.ChunkCount++
	}
	defer it.Close()

	for it.Next() {
		loc := it.Location()
		switch rec := it.Record().(type) {
		case *codec.Schema:
			if _, ok := summary.Schemas[rec.ID]; !ok {
				stats.SchemaCount++
			}
			summary.Schemas[rec.ID] = rec
		case *codec.Channel:
			if _, ok := summary.Channels[rec.ID]; !ok {
				stats.ChannelCount++
			}
			summary.Channels[rec.ID] = rec
		case *codec.Message:
			if stats.MessageCount == 0 || rec.LogTime < stats.MessageStartTime {
				stats.MessageStartTime = rec.LogTime
			}
			if stats.MessageCount == 0 || rec.LogTime > stats.MessageEndTime {
				stats.MessageEndTime = rec.LogTime
			}
			stats.MessageCount++
			stats.ChannelMessageCounts[rec.ChannelID]++
		case *codec.Attachment:
			stats.AttachmentCount++
			summary.AttachmentIndexes = append(summary.AttachmentIndexes, &codec.AttachmentIndex{
				Offset:     uint64(loc.Offset),
				Length:     uint64(loc.Size),
				LogTime:    rec.LogTime,
				CreateTime: rec.CreateTime,
				DataSize:   uint64(len(rec.Data)),
				Name:       rec.Name,
				MediaType:  rec.MediaType,
			})
		case *codec.Metadata:
			stats.MetadataCount++
			summary.MetadataIndexes = append(summary.MetadataIndexes, &codec.MetadataIndex{
				Offset: uint64(loc.Offset),
				Length: uint64(loc.Size),
				Name:   rec.Name,
			})
		case *codec.DataEnd:
			// the summary section repeats what was already counted
			return summary, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

// Attachment reads the attachment an index entry points at and verifies its
// CRC.
func (r *Reader) Attachment(idx *codec.AttachmentIndex) (*codec.Attachment, error) {
	frame, err := r.readIndexed(codec.OpAttachment, idx.Offset, idx.Length)
	if err != nil {
		return nil, err
	}
	a, err := codec.ParseAttachment(frame.Payload)
	if err != nil {
		return nil, err
	}
	if err := codec.VerifyAttachment(a); err != nil {
		var crcErr *codec.CRCError
		if errors.As(err, &crcErr) {
			crcErr.Offset = frame.Offset
		}
		if err := r.tolerate(err, logrus.Fields{"offset": frame.Offset, "name": a.Name}); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Metadata reads the metadata record an index entry points at
func (r *Reader) Metadata(idx *codec.MetadataIndex) (*codec.Metadata, error) {
	frame, err := r.readIndexed(codec.OpMetadata, idx.Offset, idx.Length)
	if err != nil {
		return nil, err
	}
	return codec.ParseMetadata(frame.Payload)
}

func (r *Reader) readIndexed(op codec.OpCode, offset, length uint64) (lexer.Frame, error) {
	frame, err := r.lx.ReadFrameAt(int64(offset))
	if err != nil {
		return lexer.Frame{}, err
	}
	if frame.Op != op || uint64(frame.Size()) != length {
		return lexer.Frame{}, fmt.Errorf("index points at %s record of %d bytes at offset %d, want %s of %d: %w",
			frame.Op, frame.Size(), offset, op, length, codec.ErrMalformedPayload)
	}
	return frame, nil
}

// chunkRecords decompresses a chunk and checks its CRC. A CRC mismatch that
// is tolerated still returns the records. A chunk with a CRC that fails to
// decompress is reported as an integrity error.
func (r *Reader) chunkRecords(c *codec.Chunk, offset int64) ([]byte, error) {
	records, err := r.opts.Registry.Decompress(c.Compression, c.Records, c.UncompressedSize)
	if err != nil {
		if c.UncompressedCRC != 0 && !errors.Is(err, codec.ErrUnsupportedCompression) {
			// damaged compressed bytes fail to decode before the CRC can run
			return nil, &codec.CRCError{Record: "chunk", Offset: offset, Expected: c.UncompressedCRC, Cause: err}
		}
		return nil, fmt.Errorf("chunk at offset %d: %w", offset, err)
	}
	if c.UncompressedCRC != 0 {
		if actual := codec.CRC32(records); actual != c.UncompressedCRC {
			crcErr := &codec.CRCError{Record: "chunk", Offset: offset, Expected: c.UncompressedCRC, Actual: actual}
			if err := r.tolerate(crcErr, logrus.Fields{"offset": offset, "opcode": codec.OpChunk}); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

// tolerate applies the read mode to a recoverable error: strict mode returns
// it, best-effort mode records a warning and returns nil.
func (r *Reader) tolerate(err error, fields logrus.Fields) error {
	if r.opts.Mode == Strict {
		return err
	}
	r.warn(err, fields)
	return nil
}

func (r *Reader) warn(err error, fields logrus.Fields) {
	r.warnings = append(r.warnings, err)
	r.log.WithFields(fields).WithError(err).Warn("recovered from damaged input")
	if r.opts.OnWarning != nil {
		r.opts.OnWarning(err)
	}
}
