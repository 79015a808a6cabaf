package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(capacity int) (*ResponseCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	c := New(capacity, time.Hour)
	c.now = clock.Now
	return c, clock
}

func TestGetWithinTTL(t *testing.T) {
	c, clock := newTestCache(0)

	c.Set("mmr:eu:abc123", []byte(`{"ranking_in_tier":45}`), 600*time.Second)
	clock.Advance(599 * time.Second)

	got, ok := c.Get("mmr:eu:abc123")
	require.True(t, ok)
	assert.JSONEq(t, `{"ranking_in_tier":45}`, string(got))
}

func TestGetAfterTTL(t *testing.T) {
	c, clock := newTestCache(0)

	c.Set("k", []byte("v"), 600*time.Second)
	clock.Advance(600 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestSetOverwritesAndRefreshesExpiry(t *testing.T) {
	c, clock := newTestCache(0)

	c.Set("k", []byte("old"), time.Minute)
	clock.Advance(50 * time.Second)
	c.Set("k", []byte("new"), time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", string(got))
}

func TestMissingKey(t *testing.T) {
	c, _ := newTestCache(0)

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestNonPositiveTTLIsNotStored(t *testing.T) {
	c, _ := newTestCache(0)

	c.Set("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLClampedToMax(t *testing.T) {
	c, clock := newTestCache(0)

	c.Set("k", []byte("v"), 24*time.Hour)
	clock.Advance(time.Hour)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(3)

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}
