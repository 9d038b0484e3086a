package suffix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketList   = []byte("public_suffix_list")
	keyBody      = []byte("body")
	keyFetchedAt = []byte("fetched_at")
)

// Cache keeps the last downloaded suffix list in a bbolt file.
type Cache struct {
	db *bolt.DB
}

// Entry is a cached list body and when it was downloaded.
type Entry struct {
	Body      []byte
	FetchedAt time.Time
}

// Fresh reports whether the entry is younger than ttl.
func (e Entry) Fresh(ttl time.Duration, now time.Time) bool {
	return !e.FetchedAt.IsZero() && now.Sub(e.FetchedAt) < ttl
}

// OpenCache opens (or creates) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bbolt database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Load returns the cached entry. ok is false when nothing has been stored yet.
func (c *Cache) Load() (entry Entry, ok bool, err error) {
	if c == nil || c.db == nil {
		return Entry{}, false, errors.New("suffix cache is not open")
	}
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketList)
		if b == nil {
			return nil
		}
		body := b.Get(keyBody)
		if body == nil {
			return nil
		}
		// bbolt slices are only valid inside the transaction.
		entry.Body = make([]byte, len(body))
		copy(entry.Body, body)
		if raw := b.Get(keyFetchedAt); raw != nil {
			at, perr := time.Parse(time.RFC3339Nano, string(raw))
			if perr != nil {
				return fmt.Errorf("parse fetched_at: %w", perr)
			}
			entry.FetchedAt = at
		}
		ok = true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, ok, nil
}

// Store replaces the cached list.
func (c *Cache) Store(body []byte, fetchedAt time.Time) error {
	if c == nil || c.db == nil {
		return errors.New("suffix cache is not open")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketList)
		if err != nil {
			return err
		}
		if err := b.Put(keyBody, body); err != nil {
			return err
		}
		return b.Put(keyFetchedAt, []byte(fetchedAt.UTC().Format(time.RFC3339Nano)))
	})
}
