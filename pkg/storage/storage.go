// Package storage is a small keyed store on top of pebble. Keys are grouped
// by byte prefix and batches commit atomically.
package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("storage: key not found")

type DefaultStorage struct {
	db *pebble.DB
}

func NewDefaultStorage(path string) (*DefaultStorage, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &DefaultStorage{db: db}, nil
}

// Get returns a copy of the value stored under key
func (s *DefaultStorage) Get(key []byte) ([]byte, error) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// data is only valid until closer.Close
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Has reports whether key is present
func (s *DefaultStorage) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Scan calls fn for every key starting with prefix, in key order. The slices
// passed to fn must not be retained.
func (s *DefaultStorage) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to iterate over %q: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch collects writes applied by Update
type Batch struct {
	b *pebble.Batch
}

func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// Update runs fn and commits its writes atomically. Nothing is written when
// fn returns an error.
func (s *DefaultStorage) Update(fn func(*Batch) error) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := fn(&Batch{b: batch}); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *DefaultStorage) Close() error {
	return s.db.Close()
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
