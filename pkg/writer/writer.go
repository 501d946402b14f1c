// Package writer produces MCAP files.
//
// A Writer appends records either straight to the output or, in chunked
// mode, into a buffer that is compressed and sealed as a Chunk once it
// reaches the configured size, on Flush, or on Close. Each sealed chunk is
// followed by one MessageIndex per channel it contains. Close writes DataEnd,
// the summary section (schemas, channels, statistics, chunk, attachment and
// metadata indexes), the summary offsets and the footer.
//
// A Writer is not safe for concurrent use.
package writer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/compress"
)

// Writer writes an MCAP file
type Writer struct {
	out     *output
	opts    Options
	codec   compress.Codec
	state   state
	chunk   *chunkBuilder
	summary *SummaryBuilder
	footer  *codec.Footer

	flusher interface{ Flush() error }
	closer  io.Closer
}

// New creates a writer over w and writes the leading magic
func New(w io.Writer, opts Options) (*Writer, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Registry == nil {
		opts.Registry = compress.Default()
	}
	comp, err := opts.Registry.Lookup(opts.Compression)
	if err != nil {
		return nil, err
	}

	writer := &Writer{
		out:     &output{w: w},
		opts:    opts,
		codec:   comp,
		state:   stateCreated,
		chunk:   newChunkBuilder(),
		summary: NewSummaryBuilder(),
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		writer.flusher = f
	}

	if _, err := writer.out.Write(codec.Magic); err != nil {
		return nil, err
	}
	return writer, nil
}

// Create creates the file at path and returns a writer that owns it
func Create(path string, opts Options) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	w, err := New(bufio.NewWriterSize(file, 64*1024), opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// Offset returns the number of bytes written so far
func (w *Writer) Offset() int64 {
	return w.out.offset
}

// Statistics returns a snapshot of the statistics accumulated so far
func (w *Writer) Statistics() *codec.Statistics {
	return w.summary.Statistics()
}

// ChunkIndexes returns the indexes of the chunks sealed so far
func (w *Writer) ChunkIndexes() []*codec.ChunkIndex {
	return w.summary.ChunkIndexes()
}

// Footer returns the footer written by Close, or nil before that
func (w *Writer) Footer() *codec.Footer {
	return w.footer
}

func (w *Writer) checkWritable() error {
	switch w.state {
	case stateFinalized:
		return codec.ErrWriteAfterFinalize
	case stateCreated:
		return codec.ErrHeaderRequired
	}
	return nil
}

// WriteHeader writes the Header record. It must be the first record.
func (w *Writer) WriteHeader(h *codec.Header) error {
	switch w.state {
	case stateFinalized:
		return codec.ErrWriteAfterFinalize
	case stateWriting:
		return codec.ErrHeaderWritten
	}
	if _, _, err := w.out.writeRecord(h); err != nil {
		return err
	}
	w.state = stateWriting
	return nil
}

// WriteSchema writes a Schema record. Id 0 is reserved for "no schema".
func (w *Writer) WriteSchema(s *codec.Schema) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if s.ID == codec.NoSchema {
		return fmt.Errorf("schema id %d is reserved: %w", s.ID, codec.ErrMalformedPayload)
	}
	if err := w.writeDataRecord(s); err != nil {
		return err
	}
	w.summary.AddSchema(s)
	return nil
}

// WriteChannel writes a Channel record. Its schema must have been written
// already unless it is codec.NoSchema.
func (w *Writer) WriteChannel(c *codec.Channel) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if c.SchemaID != codec.NoSchema {
		if _, ok := w.summary.Schema(c.SchemaID); !ok {
			return fmt.Errorf("channel %d references schema %d: %w", c.ID, c.SchemaID, codec.ErrUnknownSchema)
		}
	}
	if err := w.writeDataRecord(c); err != nil {
		return err
	}
	w.summary.AddChannel(c)
	return nil
}

// WriteMessage writes a Message record on a previously written channel
func (w *Writer) WriteMessage(m *codec.Message) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if _, ok := w.summary.Channel(m.ChannelID); !ok {
		return fmt.Errorf("message references channel %d: %w", m.ChannelID, codec.ErrUnknownChannel)
	}

	if w.opts.Chunked {
		if err := w.chunk.addMessage(m); err != nil {
			return err
		}
	} else if _, _, err := w.out.writeRecord(m); err != nil {
		return err
	}
	w.summary.AddMessage(m)
	return w.maybeSeal()
}

// WriteAttachment writes an Attachment record. Attachments are never placed
// in chunks. With IncludeCRC the record's CRC is computed when it is zero.
func (w *Writer) WriteAttachment(a *codec.Attachment) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if w.opts.IncludeCRC && a.CRC == 0 {
		a.CRC = codec.AttachmentCRC(a)
	}
	offset, length, err := w.out.writeRecord(a)
	if err != nil {
		return err
	}
	w.summary.AddAttachment(&codec.AttachmentIndex{
		Offset:     uint64(offset),
		Length:     uint64(length),
		LogTime:    a.LogTime,
		CreateTime: a.CreateTime,
		DataSize:   uint64(len(a.Data)),
		Name:       a.Name,
		MediaType:  a.MediaType,
	})
	return nil
}

// WriteMetadata writes a Metadata record. Metadata is never placed in chunks.
func (w *Writer) WriteMetadata(m *codec.Metadata) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	offset, length, err := w.out.writeRecord(m)
	if err != nil {
		return err
	}
	w.summary.AddMetadata(&codec.MetadataIndex{
		Offset: uint64(offset),
		Length: uint64(length),
		Name:   m.Name,
	})
	return nil
}

// writeDataRecord routes schemas and channels into the open chunk in chunked
// mode so a chunk can be decoded on its own.
func (w *Writer) writeDataRecord(r codec.Record) error {
	if !w.opts.Chunked {
		_, _, err := w.out.writeRecord(r)
		return err
	}
	if err := w.chunk.add(r); err != nil {
		return err
	}
	return w.maybeSeal()
}

func (w *Writer) maybeSeal() error {
	if w.opts.Chunked && w.chunk.size() >= w.opts.ChunkSize {
		return w.sealChunk()
	}
	return nil
}

func (w *Writer) sealChunk() error {
	if w.chunk.empty() {
		return nil
	}
	idx, err := w.chunk.seal(w.out, w.codec, &w.opts)
	if err != nil {
		return err
	}
	w.summary.AddChunk(idx)
	return nil
}

// Flush seals the open chunk, if any, and flushes a buffered output
func (w *Writer) Flush() error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	if err := w.sealChunk(); err != nil {
		return err
	}
	if w.flusher != nil {
		return w.flusher.Flush()
	}
	return nil
}

// Close finalizes the file: it seals the open chunk and writes DataEnd, the
// summary, the summary offsets, the footer and the trailing magic. A second
// call fails with codec.ErrAlreadyFinalized. A Close that fails part way still
// finalizes the writer and closes the destination.
func (w *Writer) Close() error {
	switch w.state {
	case stateFinalized:
		return codec.ErrAlreadyFinalized
	case stateCreated:
		return codec.ErrHeaderRequired
	}
	w.state = stateFinalized

	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) finish() error {
	if err := w.sealChunk(); err != nil {
		return err
	}

	dataEnd := &codec.DataEnd{}
	if w.opts.IncludeCRC {
		dataEnd.DataSectionCRC = w.out.crc
	}
	if _, _, err := w.out.writeRecord(dataEnd); err != nil {
		return err
	}

	footer, err := w.summary.writeTo(w.out, &w.opts)
	if err != nil {
		return err
	}
	if _, err := w.out.Write(codec.Magic); err != nil {
		return err
	}
	w.footer = footer

	if w.flusher != nil {
		return w.flusher.Flush()
	}
	return nil
}
