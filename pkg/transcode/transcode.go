// Package transcode rewrites a log file with different writer options,
// for example to change the chunk compression or to add a summary to a file
// that lost its own.
package transcode

import (
	"bytes"
	"maps"

	"github.com/ssargent/mcapkit/pkg/codec"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/writer"
)

// Stats counts what Copy wrote and skipped
type Stats struct {
	Schemas     int
	Channels    int
	Messages    uint64
	Attachments int
	Metadata    int
	// Skipped counts data records with opcodes the writer does not produce
	Skipped int
}

// Copy writes every data record of src to dst and returns what it wrote.
// Indexes and the summary are rebuilt by dst. Schemas and channels repeated
// by the source chunks are written once unless they change. dst is not
// closed.
func Copy(dst *writer.Writer, src *reader.Reader) (*Stats, error) {
	stats := &Stats{}
	schemas := make(map[uint16]*codec.Schema)
	channels := make(map[uint16]*codec.Channel)

	it := src.Records()
	defer it.Close()

	for it.Next() {
		switch rec := it.Record().(type) {
		case *codec.Header:
			if err := dst.WriteHeader(rec); err != nil {
				return stats, err
			}
		case *codec.Schema:
			if prev, ok := schemas[rec.ID]; ok && sameSchema(prev, rec) {
				continue
			}
			if err := dst.WriteSchema(rec); err != nil {
				return stats, err
			}
			schemas[rec.ID] = rec
			stats.Schemas++
		case *codec.Channel:
			if prev, ok := channels[rec.ID]; ok && sameChannel(prev, rec) {
				continue
			}
			if err := dst.WriteChannel(rec); err != nil {
				return stats, err
			}
			channels[rec.ID] = rec
			stats.Channels++
		case *codec.Message:
			if err := dst.WriteMessage(rec); err != nil {
				return stats, err
			}
			stats.Messages++
		case *codec.Attachment:
			// recomputed by dst when it includes CRCs
			rec.CRC = 0
			if err := dst.WriteAttachment(rec); err != nil {
				return stats, err
			}
			stats.Attachments++
		case *codec.Metadata:
			if err := dst.WriteMetadata(rec); err != nil {
				return stats, err
			}
			stats.Metadata++
		case *codec.MessageIndex:
			// rebuilt by dst
		case *codec.DataEnd:
			return stats, it.Err()
		case *codec.Unknown:
			stats.Skipped++
		}
	}
	return stats, it.Err()
}

func sameSchema(a, b *codec.Schema) bool {
	return a.Name == b.Name && a.Encoding == b.Encoding && bytes.Equal(a.Data, b.Data)
}

func sameChannel(a, b *codec.Channel) bool {
	return a.SchemaID == b.SchemaID &&
		a.Topic == b.Topic &&
		a.MessageEncoding == b.MessageEncoding &&
		maps.Equal(a.Metadata, b.Metadata)
}
