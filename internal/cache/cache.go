// Package cache provides short-lived caching for the data feeding the
// feature computer: ADV20 normalizers, funding rates, and exchange
// filter metadata. An in-process TTLCache fronts an optional go-redis
// shared tier so multiple engine instances can share warm values.
package cache

import "time"

// Stats summarizes cache hit/miss behavior for a single tier.
type Stats struct {
	Hits      int64
	Misses    int64
	Entries   int64
	Evictions int64
	HitRatio  float64
}

// Cache is the minimal contract the feature computer and venue clients
// use to read/write short-lived values. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Stats() Stats
	Clear()
}
