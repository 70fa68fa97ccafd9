package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindcare-mx/mindcare-web/internal/models"
	bolt "go.etcd.io/bbolt"
)

var placesBucket = []byte("places")

// BoltCache stores nearby-lookup results in a BoltDB file so repeated
// queries around the same point don't hammer the Overpass API. Entries carry
// their write time and are ignored once older than the configured TTL.
type BoltCache struct {
	db  *bolt.DB
	ttl time.Duration
}

type cacheEntry struct {
	SavedAt time.Time      `json:"savedAt"`
	Places  []models.Place `json:"places"`
}

// NewBoltCache opens (or creates, with 0600 permissions) the cache database
// at the given path.
func NewBoltCache(path string, ttl time.Duration) (BoltCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltCache{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(placesBucket)
		return err
	})

	return BoltCache{db: db, ttl: ttl}, err
}

// Get returns the cached places for key, or false when the key is absent or
// the entry has expired.
func (c BoltCache) Get(_ context.Context, key string) ([]models.Place, bool) {
	var entry cacheEntry
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(placesBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal cache entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false
	}
	if time.Since(entry.SavedAt) > c.ttl {
		return nil, false
	}
	return entry.Places, true
}

// Put stores places under key, stamping the entry with the current time.
func (c BoltCache) Put(_ context.Context, key string, places []models.Place) error {
	v, err := json.Marshal(cacheEntry{
		SavedAt: time.Now(),
		Places:  places,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(placesBucket)
		if b == nil {
			return nil
		}
		return b.Put([]byte(key), v)
	})
}

// Close releases the underlying database file.
func (c BoltCache) Close() error {
	return c.db.Close()
}
