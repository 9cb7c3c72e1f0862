package cache

import (
	"time"

	"github.com/coconiss/WalkTracker/config"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"
)

// NameCache memoizes userId -> displayName lookups for the ranking pipeline.
// Display names are assumed stable for the duration of one run; the TTL only
// bounds staleness across runs.
type NameCache struct {
	client *ristretto.Cache
	ttl    time.Duration
}

// New creates a new name cache with the given configuration
func New(cfg config.CacheConfig) (*NameCache, error) {
	// Calculate max cost in bytes (convert MB to bytes)
	maxCost := int64(cfg.MaxSizeMB) * 1024 * 1024

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.CounterSize), // Number of keys to track frequency for admission
		MaxCost:     maxCost,                // Maximum cache size in bytes
		BufferItems: 64,                     // Number of keys per Get buffer
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("max_size_mb", cfg.MaxSizeMB).
		Int("ttl_seconds", cfg.TTLSeconds).
		Int("counter_size", cfg.CounterSize).
		Msg("Name cache initialized")

	return &NameCache{
		client: client,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}, nil
}

// Get retrieves a cached display name.
// Returns (name, true) if found, ("", false) if not found
func (c *NameCache) Get(userID string) (string, bool) {
	if c.client == nil {
		return "", false
	}
	value, found := c.client.Get(userID)
	if !found {
		return "", false
	}
	name, ok := value.(string)
	if !ok {
		return "", false
	}
	return name, true
}

// Set stores a display name with the configured TTL. Cost is the length of
// the name; entries are tiny so eviction pressure is effectively zero.
func (c *NameCache) Set(userID, name string) bool {
	if c.client == nil {
		return false
	}
	return c.client.SetWithTTL(userID, name, int64(len(name)), c.ttl)
}

// Wait blocks until pending sets are applied. Tests use it; the pipeline
// does not need to.
func (c *NameCache) Wait() {
	if c.client != nil {
		c.client.Wait()
	}
}

// Close cleanly shuts down the cache
func (c *NameCache) Close() {
	if c.client != nil {
		c.client.Close()
		log.Info().Msg("Name cache closed")
	}
}

// MetricsSnapshot is a point-in-time view of cache performance
type MetricsSnapshot struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	KeysAdded   uint64  `json:"keys_added"`
	KeysEvicted uint64  `json:"keys_evicted"`
	HitRatio    float64 `json:"hit_ratio"`
	TTLSeconds  int     `json:"ttl_seconds"`
}

// GetMetricsSnapshot returns current cache metrics as a snapshot
func (c *NameCache) GetMetricsSnapshot() MetricsSnapshot {
	if c.client == nil || c.client.Metrics == nil {
		return MetricsSnapshot{TTLSeconds: int(c.ttl.Seconds())}
	}

	m := c.client.Metrics
	hits := m.Hits()
	misses := m.Misses()
	total := hits + misses

	hitRatio := 0.0
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return MetricsSnapshot{
		Hits:        hits,
		Misses:      misses,
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
		HitRatio:    hitRatio,
		TTLSeconds:  int(c.ttl.Seconds()),
	}
}
