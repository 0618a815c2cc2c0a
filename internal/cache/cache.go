// Package cache implements the TTL-bounded metric cache keyed by
// (quantity, asset) described in spec.md §4.C.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"flexalert/internal/metrics"
)

// Sample is one metric reading. Samples are never mutated in place —
// a later publication for the same key replaces the sample wholesale.
type Sample struct {
	Asset     string
	Quantity  string
	Value     string
	Timestamp time.Time
	TTL       time.Duration
}

// Expired reports whether the sample is stale as of now.
func (s Sample) Expired(now time.Time) bool {
	return now.After(s.Timestamp.Add(s.TTL))
}

// Key returns the cache key "<quantity>@<asset>" for this sample.
func Key(quantity, asset string) string {
	return fmt.Sprintf("%s@%s", quantity, asset)
}

// Cache is a concurrency-safe (quantity, asset) -> Sample store.
type Cache struct {
	mu      sync.Mutex
	samples map[string]Sample
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{samples: make(map[string]Sample)}
}

// Upsert stores sample, replacing any prior sample for the same key.
func (c *Cache) Upsert(sample Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[Key(sample.Quantity, sample.Asset)] = sample
	metrics.CacheSize.Set(float64(len(c.samples)))
}

// Get returns the sample for (quantity, asset). Absence (including
// already-swept expiry) is reported the same way: ok is false.
func (c *Cache) Get(quantity, asset string) (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.samples[Key(quantity, asset)]
	return s, ok
}

// Sweep removes every sample expired as of now and returns the count
// removed. Sweeping twice in a row with no intervening writes removes
// zero the second time — the operation is idempotent.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for key, s := range c.samples {
		if s.Expired(now) {
			delete(c.samples, key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheEvictedTotal.Add(float64(evicted))
		metrics.CacheSize.Set(float64(len(c.samples)))
	}
	return evicted
}

// Len returns the current number of samples held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// TruncatePortQuantity truncates a quantity of the form
// "status.<PORT>.<INDEX>" down to "status.<PORT>" — the special case
// for sensors connected to other sensors via an ext-port auxiliary
// (§4.C). Quantities without a second "." component are returned
// unchanged.
func TruncatePortQuantity(quantity string) string {
	first := strings.Index(quantity, ".")
	if first < 0 {
		return quantity
	}
	second := strings.Index(quantity[first+1:], ".")
	if second < 0 {
		return quantity
	}
	return quantity[:first+1+second]
}
