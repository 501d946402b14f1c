package reader

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/lexer"
)

// MessageIterator yields the messages matching a set of MessageOptions.
//
// With a usable summary it visits only the chunks whose time range and
// message indexes can match, in chunk file order, and within a chunk in
// offset order. Messages are never re-sorted across chunks. Without a
// summary it filters a linear scan.
type MessageIterator struct {
	r *Reader
	q *messageQuery

	linear *RecordIterator

	chunks   []*codec.ChunkIndex
	next     int
	records  *lexer.Lexer // decompressed records of the open chunk
	chunkAt  int64
	offsets  []uint64 // remaining message offsets in the open chunk
	scanning bool     // the open chunk has no usable message index
	learned  bool     // the open chunk's channels have been collected

	schemas  map[uint16]*codec.Schema
	channels map[uint16]*codec.Channel

	event MessageEvent
	err   error
	done  bool
}

// Messages returns an iterator over the messages matching opts
func (r *Reader) Messages(opts ...MessageOption) *MessageIterator {
	q := newMessageQuery(!r.opts.DisableIndex, opts)
	it := &MessageIterator{r: r, q: q}
	if q.useIndex && r.indexUsable() {
		it.schemas = make(map[uint16]*codec.Schema, len(r.summary.Schemas))
		for id, s := range r.summary.Schemas {
			it.schemas[id] = s
		}
		it.channels = make(map[uint16]*codec.Channel, len(r.summary.Channels))
		for id, c := range r.summary.Channels {
			it.channels[id] = c
		}
		for _, ci := range r.summary.ChunkIndexes {
			if q.overlaps(ci.MessageStartTime, ci.MessageEndTime) {
				it.chunks = append(it.chunks, ci)
			}
		}
		return it
	}
	it.linear = r.Records()
	return it
}

// SeekToTime returns an iterator positioned at the first message with
// log_time >= t
func (r *Reader) SeekToTime(t uint64, opts ...MessageOption) *MessageIterator {
	return r.Messages(append(opts, After(t))...)
}

// indexUsable reports whether the summary can answer queries. Chunks may
// be skipped, so the channels they define must be repeated in the summary.
func (r *Reader) indexUsable() bool {
	return r.summary != nil && len(r.summary.ChunkIndexes) > 0 && len(r.summary.Channels) > 0
}

// Indexed reports whether the iterator reads through the summary indexes
func (it *MessageIterator) Indexed() bool {
	return it.linear == nil
}

// Next advances to the next matching message
func (it *MessageIterator) Next() bool {
	if it.done {
		return false
	}
	var ok bool
	var err error
	if it.linear != nil {
		ok, err = it.nextLinear()
	} else {
		ok, err = it.nextIndexed()
	}
	if err != nil {
		it.err = err
	}
	if !ok || err != nil {
		it.done = true
		it.event = MessageEvent{}
		return false
	}
	return true
}

// Event returns the current message with its channel and schema
func (it *MessageIterator) Event() MessageEvent {
	return it.event
}

// Message returns the current message
func (it *MessageIterator) Message() *codec.Message {
	return it.event.Message
}

// Channel returns the channel of the current message
func (it *MessageIterator) Channel() *codec.Channel {
	return it.event.Channel
}

// Schema returns the schema of the current message, nil if it has none
func (it *MessageIterator) Schema() *codec.Schema {
	return it.event.Schema
}

// Err returns the error that ended iteration, if any
func (it *MessageIterator) Err() error {
	return it.err
}

// Close stops the iteration
func (it *MessageIterator) Close() error {
	it.done = true
	it.records = nil
	it.offsets = nil
	if it.linear != nil {
		return it.linear.Close()
	}
	return nil
}

func (it *MessageIterator) nextLinear() (bool, error) {
	for it.linear.Next() {
		msg, ok := it.linear.Record().(*codec.Message)
		if !ok {
			continue
		}
		channel := it.linear.Channel(msg.ChannelID)
		if channel == nil {
			continue
		}
		if !it.q.wantChannel(msg.ChannelID, channel) || !it.q.inRange(msg.LogTime) {
			continue
		}
		it.event = MessageEvent{
			Schema:  it.linear.Schema(channel.SchemaID),
			Channel: channel,
			Message: msg,
		}
		return true, nil
	}
	return false, it.linear.Err()
}

func (it *MessageIterator) nextIndexed() (bool, error) {
	for {
		if it.records != nil {
			var frame lexer.Frame
			var err error
			if it.scanning {
				frame, err = it.records.Next()
				if errors.Is(err, io.EOF) {
					it.records = nil
					continue
				}
			} else if len(it.offsets) > 0 {
				offset := it.offsets[0]
				it.offsets = it.offsets[1:]
				frame, err = it.records.ReadFrameAt(int64(offset))
				if err == nil && frame.Op != codec.OpMessage {
					err = fmt.Errorf("message index points at %s record: %w", frame.Op, codec.ErrMalformedPayload)
				}
			} else {
				it.records = nil
				continue
			}

			fields := logrus.Fields{"chunk": it.chunkAt, "offset": frame.Offset}
			if err != nil {
				if it.scanning {
					it.records = nil
				}
				if err := it.r.tolerate(fmt.Errorf("chunk at offset %d: %w", it.chunkAt, err), fields); err != nil {
					return false, err
				}
				continue
			}
			ok, err := it.consider(frame)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
			continue
		}

		if it.next >= len(it.chunks) {
			return false, nil
		}
		ci := it.chunks[it.next]
		it.next++
		if err := it.openChunk(ci); err != nil {
			return false, err
		}
	}
}

// consider decodes one record of the open chunk and reports whether it is a
// matching message.
func (it *MessageIterator) consider(frame lexer.Frame) (bool, error) {
	fields := logrus.Fields{"chunk": it.chunkAt, "offset": frame.Offset, "opcode": frame.Op}
	rec, err := codec.Decode(frame.Op, frame.Payload)
	if errors.Is(err, codec.ErrUnknownOpcode) {
		return false, nil
	}
	if err != nil {
		err = fmt.Errorf("%s record at offset %d of chunk %d: %w", frame.Op, frame.Offset, it.chunkAt, err)
		return false, it.r.tolerate(err, fields)
	}

	switch rec := rec.(type) {
	case *codec.Schema:
		it.schemas[rec.ID] = rec
	case *codec.Channel:
		it.channels[rec.ID] = rec
	case *codec.Message:
		channel := it.channels[rec.ChannelID]
		if channel == nil && !it.learned {
			if err := it.learnChannels(); err != nil {
				return false, err
			}
			channel = it.channels[rec.ChannelID]
		}
		if channel == nil {
			err := fmt.Errorf("message references channel %d: %w", rec.ChannelID, codec.ErrUnknownChannel)
			return false, it.r.tolerate(err, fields)
		}
		if !it.q.wantChannel(rec.ChannelID, channel) || !it.q.inRange(rec.LogTime) {
			return false, nil
		}
		it.event = MessageEvent{
			Schema:  it.schemas[channel.SchemaID],
			Channel: channel,
			Message: rec,
		}
		return true, nil
	}
	return false, nil
}

// learnChannels collects the schemas and channels written inside the open
// chunk, for summaries that do not repeat every channel. Damage ends the
// lookahead; the records read before it stay known.
func (it *MessageIterator) learnChannels() (err error) {
	it.learned = true
	fields := logrus.Fields{"chunk": it.chunkAt}
	resume := it.records.Offset()
	defer func() {
		if serr := it.records.Seek(resume); serr != nil {
			// the rest of the chunk is dropped
			it.records = nil
			if err == nil {
				err = it.r.tolerate(fmt.Errorf("chunk at offset %d: resume at %d: %w", it.chunkAt, resume, serr), fields)
			}
		}
	}()
	if err := it.records.Seek(0); err != nil {
		return it.r.tolerate(fmt.Errorf("chunk at offset %d: rewind: %w", it.chunkAt, err), fields)
	}
	for {
		frame, err := it.records.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return it.r.tolerate(fmt.Errorf("chunk at offset %d: looking up channels: %w", it.chunkAt, err), fields)
		}
		switch frame.Op {
		case codec.OpSchema:
			if s, err := codec.ParseSchema(frame.Payload); err == nil {
				it.schemas[s.ID] = s
			}
		case codec.OpChannel:
			if c, err := codec.ParseChannel(frame.Payload); err == nil {
				it.channels[c.ID] = c
			}
		}
	}
}

// openChunk reads the message indexes of a chunk and, if any entry matches,
// decompresses the chunk. A chunk without message indexes is scanned.
func (it *MessageIterator) openChunk(ci *codec.ChunkIndex) error {
	fields := logrus.Fields{"chunk": ci.ChunkStartOffset}
	entries, indexed, err := it.indexEntries(ci)
	if err != nil {
		return err
	}
	if indexed && len(entries) == 0 {
		return nil
	}

	frame, err := it.r.lx.ReadFrameAt(int64(ci.ChunkStartOffset))
	if err == nil && (frame.Op != codec.OpChunk || uint64(frame.Size()) != ci.ChunkLength) {
		err = fmt.Errorf("chunk index points at %s record of %d bytes, want chunk of %d: %w",
			frame.Op, frame.Size(), ci.ChunkLength, codec.ErrMalformedPayload)
	}
	if err != nil {
		return it.r.tolerate(fmt.Errorf("chunk at offset %d: %w", ci.ChunkStartOffset, err), fields)
	}
	chunk, err := codec.ParseChunk(frame.Payload)
	if err != nil {
		return it.r.tolerate(fmt.Errorf("chunk at offset %d: %w", frame.Offset, err), fields)
	}
	records, err := it.r.chunkRecords(chunk, frame.Offset)
	if err != nil {
		return it.r.tolerate(err, fields)
	}

	it.records = lexer.NewChunkLexer(records)
	it.chunkAt = frame.Offset
	it.learned = false
	it.scanning = !indexed
	it.offsets = it.offsets[:0]
	if indexed {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
		for i, e := range entries {
			if i > 0 && e.Offset == entries[i-1].Offset {
				continue
			}
			it.offsets = append(it.offsets, e.Offset)
		}
	}
	return nil
}

// indexEntries returns the message index entries of ci that match the
// query. indexed is false when the chunk must be scanned instead.
func (it *MessageIterator) indexEntries(ci *codec.ChunkIndex) ([]codec.MessageIndexEntry, bool, error) {
	if len(ci.MessageIndexOffsets) == 0 {
		return nil, false, nil
	}

	ids := make([]int, 0, len(ci.MessageIndexOffsets))
	for id := range ci.MessageIndexOffsets {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var entries []codec.MessageIndexEntry
	for _, raw := range ids {
		id := uint16(raw)
		if !it.q.wantChannel(id, it.channels[id]) {
			continue
		}
		offset := ci.MessageIndexOffsets[id]
		idx, err := it.readMessageIndex(offset)
		if err == nil && idx.ChannelID != id {
			err = fmt.Errorf("message index at offset %d is for channel %d, want %d: %w",
				offset, idx.ChannelID, id, codec.ErrMalformedPayload)
		}
		if err != nil {
			fields := logrus.Fields{"chunk": ci.ChunkStartOffset, "offset": offset}
			if err := it.r.tolerate(err, fields); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		for _, e := range idx.Records {
			if it.q.inRange(e.Timestamp) {
				entries = append(entries, e)
			}
		}
	}
	return entries, true, nil
}

func (it *MessageIterator) readMessageIndex(offset uint64) (*codec.MessageIndex, error) {
	frame, err := it.r.lx.ReadFrameAt(int64(offset))
	if err != nil {
		return nil, err
	}
	if frame.Op != codec.OpMessageIndex {
		return nil, fmt.Errorf("offset %d holds %s, want message index: %w", offset, frame.Op, codec.ErrMalformedPayload)
	}
	return codec.ParseMessageIndex(frame.Payload)
}

// Range calls fn for each message until fn returns false or the iterator is
// exhausted, then closes it.
func Range(it *MessageIterator, fn func(MessageEvent) bool) error {
	defer it.Close()
	for it.Next() {
		if !fn(it.Event()) {
			return nil
		}
	}
	return it.Err()
}
