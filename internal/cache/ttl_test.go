package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("adv20:BTC-USD", 125000.5, time.Minute)

	v, ok := c.Get("adv20:BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 125000.5, v)
}

func TestTTLCacheExpiration(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("funding:ETH-USD", 0.0001, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("funding:ETH-USD")
	assert.False(t, ok)
}

func TestTTLCacheLRUEviction(t *testing.T) {
	c := NewTTLCache(2)
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, int64(2))
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
}

func TestTTLCacheClear(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	c.Set("x", 1, time.Minute)
	c.Clear()

	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Entries)
}

func TestTTLCacheMissStats(t *testing.T) {
	c := NewTTLCache(10)
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.0, stats.HitRatio)
}
