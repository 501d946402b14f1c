// Package catalog keeps a persistent index of log files: where they live,
// what they contain and which topics they carry.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/ssargent/mcapkit/pkg/compress"
	"github.com/ssargent/mcapkit/pkg/logging"
	"github.com/ssargent/mcapkit/pkg/reader"
	"github.com/ssargent/mcapkit/pkg/storage"
)

// ErrNotFound is returned for an unknown entry id
var ErrNotFound = errors.New("catalog: entry not found")

const (
	filePrefix  = "file/"
	pathPrefix  = "path/"
	topicPrefix = "topic/"
)

// Entry describes one cataloged file
type Entry struct {
	ID               string       `json:"id"`
	Path             string       `json:"path"`
	Size             int64        `json:"size"`
	AddedAt          time.Time    `json:"added_at"`
	Profile          string       `json:"profile"`
	Library          string       `json:"library"`
	Indexed          bool         `json:"indexed"`
	Warnings         int          `json:"warnings"`
	MessageCount     uint64       `json:"message_count"`
	MessageStartTime uint64       `json:"message_start_time"`
	MessageEndTime   uint64       `json:"message_end_time"`
	ChunkCount       uint32       `json:"chunk_count"`
	AttachmentCount  uint32       `json:"attachment_count"`
	MetadataCount    uint32       `json:"metadata_count"`
	Compression      []string     `json:"compression"`
	Topics           []TopicStats `json:"topics"`
}

// TopicStats summarizes the channels that publish on one topic
type TopicStats struct {
	Topic           string `json:"topic"`
	MessageEncoding string `json:"message_encoding"`
	SchemaName      string `json:"schema_name,omitempty"`
	SchemaEncoding  string `json:"schema_encoding,omitempty"`
	MessageCount    uint64 `json:"message_count"`
}

// HasTopic reports whether the file carries topic
func (e *Entry) HasTopic(topic string) bool {
	for _, t := range e.Topics {
		if t.Topic == topic {
			return true
		}
	}
	return false
}

// Catalog is a pebble-backed set of entries
type Catalog struct {
	store *storage.DefaultStorage
	log   logrus.FieldLogger
	now   func() time.Time
}

// Open opens or creates the catalog stored in dir
func Open(dir string, logger logrus.FieldLogger) (*Catalog, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	store, err := storage.NewDefaultStorage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return &Catalog{
		store: store,
		log:   logger.WithField("component", "catalog"),
		now:   time.Now,
	}, nil
}

// Close releases the underlying store
func (c *Catalog) Close() error {
	return c.store.Close()
}

// Add reads the file at path and records its description. Adding a path
// that is already cataloged refreshes the existing entry and keeps its id.
func (c *Catalog) Add(path string, opts reader.Options) (*Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	r, err := reader.OpenFile(abs, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info, err := r.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", abs, err)
	}

	entry := Describe(info)
	entry.Path = abs
	entry.AddedAt = c.now().UTC()
	entry.Warnings = len(r.Warnings())

	previous, err := c.lookupPath(abs)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		entry.ID = previous.ID
	} else {
		entry.ID = ksuid.New().String()
	}

	if err := c.put(entry, previous); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"id":       entry.ID,
		"path":     abs,
		"messages": entry.MessageCount,
		"indexed":  entry.Indexed,
	}).Info("cataloged file")
	return entry, nil
}

// Get returns the entry with the given id
func (c *Catalog) Get(id string) (*Entry, error) {
	if _, err := ksuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := c.store.Get([]byte(filePrefix + id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

// List returns every entry, oldest first
func (c *Catalog) List() ([]*Entry, error) {
	var entries []*Entry
	err := c.store.Scan([]byte(filePrefix), func(_, value []byte) error {
		entry, err := decodeEntry(value)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindByTopic returns the entries whose files carry topic
func (c *Catalog) FindByTopic(topic string) ([]*Entry, error) {
	prefix := topicKey(topic, "")

	var ids []string
	err := c.store.Scan(prefix, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes an entry. The file itself is left alone.
func (c *Catalog) Remove(id string) error {
	entry, err := c.Get(id)
	if err != nil {
		return err
	}

	err = c.store.Update(func(b *storage.Batch) error {
		if err := b.Delete([]byte(filePrefix + id)); err != nil {
			return err
		}
		if err := b.Delete([]byte(pathPrefix + entry.Path)); err != nil {
			return err
		}
		for _, t := range entry.Topics {
			if err := b.Delete(topicKey(t.Topic, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}

	c.log.WithField("id", id).Info("removed catalog entry")
	return nil
}

func (c *Catalog) lookupPath(path string) (*Entry, error) {
	id, err := c.store.Get([]byte(pathPrefix + path))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Get(string(id))
}

// put writes entry and its secondary keys, dropping topic keys that only
// previous had.
func (c *Catalog) put(entry, previous *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	return c.store.Update(func(b *storage.Batch) error {
		if previous != nil {
			for _, t := range previous.Topics {
				if !entry.HasTopic(t.Topic) {
					if err := b.Delete(topicKey(t.Topic, entry.ID)); err != nil {
						return err
					}
				}
			}
		}
		if err := b.Set([]byte(filePrefix+entry.ID), data); err != nil {
			return err
		}
		if err := b.Set([]byte(pathPrefix+entry.Path), []byte(entry.ID)); err != nil {
			return err
		}
		for _, t := range entry.Topics {
			if err := b.Set(topicKey(t.Topic, entry.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// topicKey separates topic from id with a zero byte so one topic is never
// a prefix match for another.
func topicKey(topic, id string) []byte {
	key := make([]byte, 0, len(topicPrefix)+len(topic)+1+len(id))
	key = append(key, topicPrefix...)
	key = append(key, topic...)
	key = append(key, 0)
	return append(key, id...)
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, nil
}

// Describe summarizes info as a catalog entry without an id, path or time
func Describe(info *reader.Info) *Entry {
	entry := &Entry{
		Size:    info.Size,
		Indexed: info.Indexed,
	}
	if info.Header != nil {
		entry.Profile = info.Header.Profile
		entry.Library = info.Header.Library
	}

	summary := info.Summary
	stats := summary.Statistics
	if stats != nil {
		entry.MessageCount = stats.MessageCount
		entry.MessageStartTime = stats.MessageStartTime
		entry.MessageEndTime = stats.MessageEndTime
		entry.ChunkCount = stats.ChunkCount
		entry.AttachmentCount = stats.AttachmentCount
		entry.MetadataCount = stats.MetadataCount
	} else {
		entry.ChunkCount = uint32(len(summary.ChunkIndexes))
		entry.AttachmentCount = uint32(len(summary.AttachmentIndexes))
		entry.MetadataCount = uint32(len(summary.MetadataIndexes))
	}

	seen := make(map[string]bool)
	for _, ci := range summary.ChunkIndexes {
		name := ci.Compression
		if name == "" {
			name = compress.None
		}
		if !seen[name] {
			seen[name] = true
			entry.Compression = append(entry.Compression, name)
		}
	}
	sort.Strings(entry.Compression)

	topics := make(map[string]*TopicStats)
	for id, ch := range summary.Channels {
		ts, ok := topics[ch.Topic]
		if !ok {
			ts = &TopicStats{Topic: ch.Topic, MessageEncoding: ch.MessageEncoding}
			if schema, ok := summary.Schemas[ch.SchemaID]; ok {
				ts.SchemaName = schema.Name
				ts.SchemaEncoding = schema.Encoding
			}
			topics[ch.Topic] = ts
		}
		if stats != nil {
			ts.MessageCount += stats.ChannelMessageCounts[id]
		}
	}
	for _, ts := range topics {
		entry.Topics = append(entry.Topics, *ts)
	}
	sort.Slice(entry.Topics, func(i, j int) bool {
		return entry.Topics[i].Topic < entry.Topics[j].Topic
	})

	return entry
}
