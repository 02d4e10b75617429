// Package database provides data persistence using BoltDB.
package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/amaumene/nyaarr/internal/models"
)

const (
	dbFileMode = 0600
	dbDirMode  = 0755

	defaultDBFile = "nyaarr.db"
)

var (
	bucketMappings  = []byte("mappings")
	bucketOverrides = []byte("overrides")
	bucketTheXEM    = []byte("thexem")
)

// XEMCacheEntry is one cached TheXEM response, keyed by request signature.
type XEMCacheEntry struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
}

// Database defines the interface for data persistence operations.
type Database interface {
	// GetMapping retrieves a cached anime mapping by TVDB id
	GetMapping(tvdbID int) (*models.AnimeMapping, error)
	// StoreMapping persists an anime mapping
	StoreMapping(mapping *models.AnimeMapping) error
	// DeleteMapping removes a cached mapping
	DeleteMapping(tvdbID int) error
	// GetAllMappings retrieves every cached mapping
	GetAllMappings() ([]models.AnimeMapping, error)

	// GetOverride retrieves a user override by TVDB id
	GetOverride(tvdbID int) (*models.MappingOverride, error)
	// StoreOverride persists a user override
	StoreOverride(override *models.MappingOverride) error
	// GetAllOverrides retrieves every user override keyed by TVDB id
	GetAllOverrides() (map[int]models.MappingOverride, error)

	// GetXEMEntry retrieves a cached TheXEM response by request signature
	GetXEMEntry(key string) (*XEMCacheEntry, error)
	// StoreXEMEntry persists a TheXEM response
	StoreXEMEntry(key string, entry *XEMCacheEntry) error

	// Close closes the database
	Close() error
}

// BoltDB implements the Database interface using BoltDB. Writes are
// transactional, so readers never observe a half-written store.
type BoltDB struct {
	db *bolt.DB
}

// New opens (or creates) the BoltDB store under dataDir.
func New(dataDir string) (*BoltDB, error) {
	if err := os.MkdirAll(dataDir, dbDirMode); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, defaultDBFile)
	db, err := bolt.Open(path, dbFileMode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMappings, bucketOverrides, bucketTheXEM} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) GetMapping(tvdbID int) (*models.AnimeMapping, error) {
	var mapping *models.AnimeMapping
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMappings).Get(intKey(tvdbID))
		if data == nil {
			return nil
		}
		var m models.AnimeMapping
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("corrupt mapping for tvdb %d: %w", tvdbID, err)
		}
		mapping = &m
		return nil
	})
	return mapping, err
}

func (b *BoltDB) StoreMapping(mapping *models.AnimeMapping) error {
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).Put(intKey(mapping.TvdbID), data)
	})
}

func (b *BoltDB) DeleteMapping(tvdbID int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).Delete(intKey(tvdbID))
	})
}

func (b *BoltDB) GetAllMappings() ([]models.AnimeMapping, error) {
	var mappings []models.AnimeMapping
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).ForEach(func(k, v []byte) error {
			var m models.AnimeMapping
			if err := json.Unmarshal(v, &m); err != nil {
				// Skip corrupt entries rather than failing the listing
				return nil
			}
			mappings = append(mappings, m)
			return nil
		})
	})
	return mappings, err
}

func (b *BoltDB) GetOverride(tvdbID int) (*models.MappingOverride, error) {
	var override *models.MappingOverride
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOverrides).Get(intKey(tvdbID))
		if data == nil {
			return nil
		}
		var o models.MappingOverride
		if err := json.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("corrupt override for tvdb %d: %w", tvdbID, err)
		}
		override = &o
		return nil
	})
	return override, err
}

func (b *BoltDB) StoreOverride(override *models.MappingOverride) error {
	data, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOverrides).Put(intKey(override.TvdbID), data)
	})
}

func (b *BoltDB) GetAllOverrides() (map[int]models.MappingOverride, error) {
	overrides := make(map[int]models.MappingOverride)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOverrides).ForEach(func(k, v []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return nil
			}
			var o models.MappingOverride
			if err := json.Unmarshal(v, &o); err != nil {
				return nil
			}
			overrides[id] = o
			return nil
		})
	})
	return overrides, err
}

func (b *BoltDB) GetXEMEntry(key string) (*XEMCacheEntry, error) {
	var entry *XEMCacheEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTheXEM).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e XEMCacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("corrupt thexem entry %q: %w", key, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

func (b *BoltDB) StoreXEMEntry(key string, entry *XEMCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal thexem entry: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTheXEM).Put([]byte(key), data)
	})
}

func intKey(id int) []byte {
	return []byte(strconv.Itoa(id))
}
