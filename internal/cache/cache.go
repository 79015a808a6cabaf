package cache

import (
	"time"
	"valorant-rank-proxy/internal/config"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// ResponseCache maps request fingerprints to upstream JSON payloads. Each entry
// carries its own expiry; the LRU bounds memory and sweeps anything older than
// the longest TTL.
type ResponseCache struct {
	lru    *expirable.LRU[string, entry]
	maxTTL time.Duration
	now    func() time.Time
}

// Capacity of zero means unlimited size.
func New(capacity int, maxTTL time.Duration) *ResponseCache {
	return &ResponseCache{
		lru:    expirable.NewLRU[string, entry](capacity, nil, maxTTL),
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

func NewFromConfig(cfg *config.Config) *ResponseCache {
	return New(cfg.CacheCapacity, cfg.CacheTTL)
}

func (c *ResponseCache) Get(key string) ([]byte, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A ttl above the cache's maximum is clamped to it.
func (c *ResponseCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *ResponseCache) Len() int {
	return c.lru.Len()
}
