// Package store persists painted masks in a badger key-value database,
// keyed by track path.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nzoschke/specmask/pkg/stft"
)

// ErrNotFound is returned when a track has no stored mask.
var ErrNotFound = errors.New("mask not found")

const maskPrefix = "mask/"

// MaskStore saves one mask per track.
type MaskStore struct {
	db  *badger.DB
	log *zap.Logger
}

// Open opens or creates the database in dir. An empty dir keeps everything
// in memory.
func Open(dir string, log *zap.Logger) (*MaskStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open mask db: %w", err)
	}

	log.Info("mask store opened", zap.String("dir", dir), zap.Bool("in_memory", dir == ""))
	return &MaskStore{db: db, log: log}, nil
}

// Close flushes and closes the database.
func (s *MaskStore) Close() error {
	return s.db.Close()
}

func key(track string) []byte {
	return []byte(maskPrefix + track)
}

// Save stores mask for track, replacing any previous one.
func (s *MaskStore) Save(track string, mask *stft.Mask) error {
	data, err := json.Marshal(mask)
	if err != nil {
		return fmt.Errorf("marshal mask: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(track), data)
	})
	if err != nil {
		return fmt.Errorf("save mask %s: %w", track, err)
	}

	s.log.Debug("mask saved", zap.String("track", track),
		zap.Int("frames", mask.Frames()), zap.Int("bins", mask.Bins()))
	return nil
}

// Load returns the mask stored for track or ErrNotFound.
func (s *MaskStore) Load(track string) (*stft.Mask, error) {
	var mask stft.Mask

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(track))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &mask)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, track)
	}
	if err != nil {
		return nil, fmt.Errorf("load mask %s: %w", track, err)
	}
	return &mask, nil
}

// Delete removes the mask for track. Deleting a missing mask is not an error.
func (s *MaskStore) Delete(track string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(track))
	})
	if err != nil {
		return fmt.Errorf("delete mask %s: %w", track, err)
	}
	s.log.Debug("mask deleted", zap.String("track", track))
	return nil
}

// Tracks lists every track with a stored mask.
func (s *MaskStore) Tracks() ([]string, error) {
	var tracks []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(maskPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			tracks = append(tracks, string(k[len(maskPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list masks: %w", err)
	}
	return tracks, nil
}
