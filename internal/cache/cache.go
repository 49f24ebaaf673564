// Package cache is the version-scoped read-through cache that sits in
// front of the metadata database: an in-memory L1 for hot reads and a
// bounded on-disk L2 shared across processes. The database itself is
// the L3 tier and is reached only on a miss in both.
package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	bolt "go.etcd.io/bbolt"
)

var (
	dataBucket   = []byte("data")
	accessBucket = []byte("access")
	statsBucket  = []byte("stats")
	sizeKey      = []byte("size")
)

// Config tunes both tiers. Keys naturally include the owning
// global_version_id (see Key), so a new GlobalVersion never collides
// with stale entries from an old one; eviction only has to reclaim
// space, not track explicit invalidation.
type Config struct {
	L1TTL      time.Duration
	L1Capacity uint64
	L2MaxBytes int64
}

func DefaultConfig() Config {
	return Config{
		L1TTL:      300 * time.Second,
		L1Capacity: 1000,
		L2MaxBytes: 100 * 1024 * 1024,
	}
}

// Cache is the two-tier cache. L2 is a bbolt file, whose own file
// locking is what gives cross-process consistency — two client
// processes pointed at the same cache_dir serialize through it rather
// than racing a hand-rolled lock file.
type Cache struct {
	l1         *ttlcache.Cache[string, []byte]
	l2         *bolt.DB
	l2MaxBytes int64
}

// Key builds the cache key for a version-scoped value. Including
// globalVersionID means a GlobalVersion switch never serves stale
// data: old keys simply stop being requested and age out of L1/L2 on
// their own.
func Key(globalVersionID int64, kind, name string) string {
	return fmt.Sprintf("%d:%s:%s", globalVersionID, kind, name)
}

func Open(path string, cfg Config) (*Cache, error) {
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = DefaultConfig().L1TTL
	}
	if cfg.L1Capacity == 0 {
		cfg.L1Capacity = DefaultConfig().L1Capacity
	}
	if cfg.L2MaxBytes <= 0 {
		cfg.L2MaxBytes = DefaultConfig().L2MaxBytes
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{dataBucket, accessBucket, statsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init disk cache buckets: %w", err)
	}

	l1 := ttlcache.New[string, []byte](
		ttlcache.WithTTL[string, []byte](cfg.L1TTL),
		ttlcache.WithCapacity[string, []byte](cfg.L1Capacity),
	)
	go l1.Start()

	return &Cache{l1: l1, l2: db, l2MaxBytes: cfg.L2MaxBytes}, nil
}

func (c *Cache) Close() error {
	c.l1.Stop()
	return c.l2.Close()
}

// Get checks L1 then L2, populating L1 on an L2 hit. A false ok with
// a nil error means neither tier has the key; the caller falls
// through to the database.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	if item := c.l1.Get(key); item != nil {
		return item.Value(), true, nil
	}

	var value []byte
	err := c.l2.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)
		v := data.Get([]byte(key))
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		return tx.Bucket(accessBucket).Put([]byte(key), nowBytes())
	})
	if err != nil {
		return nil, false, fmt.Errorf("disk cache get: %w", err)
	}
	if value == nil {
		return nil, false, nil
	}

	c.l1.Set(key, value, ttlcache.DefaultTTL)
	return value, true, nil
}

// Set writes through to both tiers, evicting the least-recently-used
// L2 entries until the disk tier is back under its byte budget.
func (c *Cache) Set(key string, value []byte) error {
	c.l1.Set(key, value, ttlcache.DefaultTTL)

	return c.l2.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)
		access := tx.Bucket(accessBucket)
		stats := tx.Bucket(statsBucket)

		var delta int64
		if old := data.Get([]byte(key)); old != nil {
			delta -= int64(len(old))
		}
		delta += int64(len(value))

		if err := data.Put([]byte(key), value); err != nil {
			return err
		}
		if err := access.Put([]byte(key), nowBytes()); err != nil {
			return err
		}

		total := readSize(stats) + delta
		total = evictUntilUnderBudget(data, access, total, c.l2MaxBytes)
		return writeSize(stats, total)
	})
}

func (c *Cache) Delete(key string) error {
	c.l1.Delete(key)
	return c.l2.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)
		old := data.Get([]byte(key))
		if old == nil {
			return nil
		}
		stats := tx.Bucket(statsBucket)
		if err := writeSize(stats, readSize(stats)-int64(len(old))); err != nil {
			return err
		}
		if err := data.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(accessBucket).Delete([]byte(key))
	})
}

func nowBytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(time.Now().UnixNano()))
	return b
}

func readSize(stats *bolt.Bucket) int64 {
	v := stats.Get(sizeKey)
	if v == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func writeSize(stats *bolt.Bucket, size int64) error {
	if size < 0 {
		size = 0
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(size))
	return stats.Put(sizeKey, b)
}

// evictUntilUnderBudget removes the oldest-accessed entries (by the
// access bucket's recorded timestamp) until total is within max,
// returning the resulting total.
func evictUntilUnderBudget(data, access *bolt.Bucket, total, max int64) int64 {
	for total > max {
		oldestKey, ok := findOldest(access)
		if !ok {
			break
		}
		val := data.Get(oldestKey)
		total -= int64(len(val))
		_ = data.Delete(oldestKey)
		_ = access.Delete(oldestKey)
	}
	return total
}

func findOldest(access *bolt.Bucket) ([]byte, bool) {
	cur := access.Cursor()
	var oldestKey []byte
	var oldestTime uint64
	first := true
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		t := binary.BigEndian.Uint64(v)
		if first || t < oldestTime {
			oldestTime = t
			oldestKey = append([]byte(nil), k...)
			first = false
		}
	}
	return oldestKey, oldestKey != nil
}
