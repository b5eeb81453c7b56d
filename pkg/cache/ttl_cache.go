// Package cache provides a sharded in-memory cache with per-entry expiry.
// It backs the credential-validation cache and the last-known price book.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTLCache is a string-keyed cache split into fnv-hashed shards so that
// concurrent lookups for different keys rarely contend.
// A ttl of zero means entries never expire.
type TTLCache[V any] struct {
	shards [numShards]*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// New creates a cache whose entries expire ttl after being written.
func New[V any](ttl time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

// WithClock swaps the time source; used by tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.now = now
	return c
}

func (c *TTLCache[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

func (c *TTLCache[V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.updatedAt) > c.ttl
}

// Set stores value under key, resetting its age.
func (c *TTLCache[V]) Set(key string, value V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the live value for key. Expired entries report a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge returns the value and how long ago it was written.
func (c *TTLCache[V]) GetWithAge(key string) (V, time.Duration, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	now := c.now()
	if !ok || c.expired(e, now) {
		var zero V
		return zero, 0, false
	}
	return e.value, now.Sub(e.updatedAt), true
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len counts stored entries, including ones that expired but were not yet swept.
func (c *TTLCache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Sweep drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if c.expired(e, now) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Snapshot copies every live entry.
func (c *TTLCache[V]) Snapshot() map[string]V {
	out := make(map[string]V)
	now := c.now()
	for _, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.items {
			if !c.expired(e, now) {
				out[k] = e.value
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Stats describes shard occupancy.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns occupancy per shard and the age of the oldest entry.
func (c *TTLCache[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.updatedAt.Before(oldest) {
				oldest = e.updatedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
