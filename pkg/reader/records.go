package reader

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/lexer"
)

// RecordIterator walks every record of a file in file order, starting at the
// Header. Chunks are unrolled in place unless WithChunks is given.
type RecordIterator struct {
	r     *Reader
	query recordQuery

	pos        int64
	crc        uint32
	dataEnd    bool
	footerSeen bool

	chunk   *lexer.Lexer
	chunkAt int64

	schemas  map[uint16]*codec.Schema
	channels map[uint16]*codec.Channel

	record codec.Record
	loc    Location
	err    error
	done   bool

	onChunk func(*codec.ChunkIndex)
}

// Records returns an iterator over every record in the file
func (r *Reader) Records(opts ...RecordOption) *RecordIterator {
	it := &RecordIterator{
		r:        r,
		pos:      int64(len(codec.Magic)),
		crc:      codec.CRC32(codec.Magic),
		schemas:  make(map[uint16]*codec.Schema),
		channels: make(map[uint16]*codec.Channel),
	}
	for _, opt := range opts {
		opt(&it.query)
	}
	return it
}

// Next advances to the next record
func (it *RecordIterator) Next() bool {
	for !it.done {
		var ok bool
		var err error
		if it.chunk != nil {
			ok, err = it.nextInChunk()
		} else {
			ok, err = it.nextTopLevel()
		}
		if err != nil {
			it.err = err
			it.done = true
			it.record = nil
			return false
		}
		if ok {
			return true
		}
	}
	it.record = nil
	return false
}

// Record returns the current record
func (it *RecordIterator) Record() codec.Record {
	return it.record
}

// Location returns where the current record was read from
func (it *RecordIterator) Location() Location {
	return it.loc
}

// Schema returns a schema seen so far
func (it *RecordIterator) Schema(id uint16) *codec.Schema {
	return it.schemas[id]
}

// Channel returns a channel seen so far
func (it *RecordIterator) Channel(id uint16) *codec.Channel {
	return it.channels[id]
}

// Err returns the error that ended iteration, if any
func (it *RecordIterator) Err() error {
	return it.err
}

// Close stops the iteration
func (it *RecordIterator) Close() error {
	it.done = true
	it.chunk = nil
	it.record = nil
	return nil
}

func (it *RecordIterator) nextTopLevel() (bool, error) {
	lx := it.r.lx
	if lx.Offset() != it.pos {
		if err := lx.Seek(it.pos); err != nil {
			return false, err
		}
	}

	frame, err := lx.Next()
	if errors.Is(err, io.EOF) {
		it.done = true
		return false, it.r.tolerate(
			fmt.Errorf("file ends at offset %d without a footer: %w", it.pos, codec.ErrTruncatedRecord),
			logrus.Fields{"offset": it.pos})
	}
	if err != nil {
		it.done = true
		if errors.Is(err, codec.ErrTruncatedRecord) {
			return false, it.r.tolerate(err, logrus.Fields{"offset": it.pos})
		}
		return false, err
	}
	it.pos = frame.End()
	loc := Location{Offset: frame.Offset, Chunk: -1, Size: frame.Size()}

	if !it.dataEnd && frame.Op != codec.OpDataEnd {
		it.crc = codec.UpdateCRC(codec.UpdateCRC(it.crc, frame.Header()), frame.Payload)
	}

	rec, err := codec.Decode(frame.Op, frame.Payload)
	if err != nil && !errors.Is(err, codec.ErrUnknownOpcode) {
		err = fmt.Errorf("%s record at offset %d: %w", frame.Op, frame.Offset, err)
		return false, it.r.tolerate(err, logrus.Fields{"offset": frame.Offset, "opcode": frame.Op})
	}

	switch rec := rec.(type) {
	case *codec.DataEnd:
		it.dataEnd = true
		if rec.DataSectionCRC != 0 && rec.DataSectionCRC != it.crc {
			crcErr := &codec.CRCError{Record: "data section", Offset: frame.Offset, Expected: rec.DataSectionCRC, Actual: it.crc}
			if err := it.r.tolerate(crcErr, logrus.Fields{"offset": frame.Offset, "opcode": frame.Op}); err != nil {
				return false, err
			}
		}
	case *codec.Footer:
		it.footerSeen = true
		it.done = true
		if err := lx.ReadMagic(); err != nil {
			if err := it.r.tolerate(fmt.Errorf("after footer: %w", err), logrus.Fields{"offset": it.pos}); err != nil {
				return false, err
			}
		}
	case *codec.Chunk:
		if it.onChunk != nil {
			it.onChunk(chunkIndexOf(rec, frame))
		}
		if it.query.emitChunks {
			break
		}
		records, err := it.r.chunkRecords(rec, frame.Offset)
		if err != nil {
			// the chunk is skipped
			return false, it.r.tolerate(err, logrus.Fields{"offset": frame.Offset, "opcode": frame.Op})
		}
		it.chunk = lexer.NewChunkLexer(records)
		it.chunkAt = frame.Offset
		return false, nil
	default:
		if err := it.track(rec); err != nil {
			return false, err
		}
	}

	it.record = rec
	it.loc = loc
	return true, nil
}

func (it *RecordIterator) nextInChunk() (bool, error) {
	frame, err := it.chunk.Next()
	if errors.Is(err, io.EOF) {
		it.chunk = nil
		return false, nil
	}
	fields := logrus.Fields{"chunk": it.chunkAt, "offset": frame.Offset, "opcode": frame.Op}
	if err != nil {
		// the rest of the chunk is dropped
		it.chunk = nil
		return false, it.r.tolerate(fmt.Errorf("chunk at offset %d: %w", it.chunkAt, err), fields)
	}

	rec, err := codec.Decode(frame.Op, frame.Payload)
	switch {
	case errors.Is(err, codec.ErrUnknownOpcode):
	case err != nil:
		err = fmt.Errorf("%s record at offset %d of chunk %d: %w", frame.Op, frame.Offset, it.chunkAt, err)
		return false, it.r.tolerate(err, fields)
	case !allowedInChunk(frame.Op):
		err = fmt.Errorf("%s record inside chunk %d: %w", frame.Op, it.chunkAt, codec.ErrMalformedPayload)
		return false, it.r.tolerate(err, fields)
	}
	if err := it.track(rec); err != nil {
		return false, err
	}

	it.record = rec
	it.loc = Location{Offset: frame.Offset, Chunk: it.chunkAt, Size: frame.Size()}
	return true, nil
}

// track remembers schemas and channels and checks references to them. A
// dangling reference is tolerated and the record is still yielded.
func (it *RecordIterator) track(rec codec.Record) error {
	switch rec := rec.(type) {
	case *codec.Schema:
		it.schemas[rec.ID] = rec
	case *codec.Channel:
		if rec.SchemaID != codec.NoSchema && it.schemas[rec.SchemaID] == nil {
			err := fmt.Errorf("channel %d references schema %d: %w", rec.ID, rec.SchemaID, codec.ErrUnknownSchema)
			if err := it.r.tolerate(err, logrus.Fields{"channel": rec.ID}); err != nil {
				return err
			}
		}
		it.channels[rec.ID] = rec
	case *codec.Message:
		if it.channels[rec.ChannelID] == nil {
			err := fmt.Errorf("message references channel %d: %w", rec.ChannelID, codec.ErrUnknownChannel)
			if err := it.r.tolerate(err, logrus.Fields{"channel": rec.ChannelID}); err != nil {
				return err
			}
		}
	}
	return nil
}

func allowedInChunk(op codec.OpCode) bool {
	switch op {
	case codec.OpSchema, codec.OpChannel, codec.OpMessage:
		return true
	}
	return !op.Known()
}

func chunkIndexOf(c *codec.Chunk, frame lexer.Frame) *codec.ChunkIndex {
	return &codec.ChunkIndex{
		MessageStartTime:    c.MessageStartTime,
		MessageEndTime:      c.MessageEndTime,
		ChunkStartOffset:    uint64(frame.Offset),
		ChunkLength:         uint64(frame.Size()),
		MessageIndexOffsets: map[uint16]uint64{},
		Compression:         c.Compression,
		CompressedSize:      uint64(len(c.Records)),
		UncompressedSize:    c.UncompressedSize,
	}
}
