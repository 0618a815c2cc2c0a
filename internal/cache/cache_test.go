package cache

import (
	"testing"
	"time"
)

func TestUpsertAndGet(t *testing.T) {
	c := New()
	now := time.Now()
	c.Upsert(Sample{Asset: "ups-1234", Quantity: "status.ups", Value: "64", Timestamp: now, TTL: 10 * time.Second})

	got, ok := c.Get("status.ups", "ups-1234")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Value != "64" {
		t.Errorf("Value = %q, want 64", got.Value)
	}
}

func TestGetMissingIsAbsent(t *testing.T) {
	c := New()
	_, ok := c.Get("status.ups", "ups-9999")
	if ok {
		t.Error("Get() ok = true for missing key, want false")
	}
}

func TestUpsertReplacesWholesale(t *testing.T) {
	c := New()
	now := time.Now()
	c.Upsert(Sample{Asset: "a", Quantity: "q", Value: "1", Timestamp: now, TTL: time.Minute})
	c.Upsert(Sample{Asset: "a", Quantity: "q", Value: "2", Timestamp: now, TTL: time.Minute})

	got, _ := c.Get("q", "a")
	if got.Value != "2" {
		t.Errorf("Value = %q, want 2 (latest write wins)", got.Value)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	c := New()
	now := time.Now()
	c.Upsert(Sample{Asset: "a", Quantity: "fresh", Timestamp: now, TTL: time.Hour})
	c.Upsert(Sample{Asset: "a", Quantity: "stale", Timestamp: now.Add(-time.Hour), TTL: time.Second})

	evicted := c.Sweep(now)
	if evicted != 1 {
		t.Fatalf("Sweep() evicted = %d, want 1", evicted)
	}
	if _, ok := c.Get("stale", "a"); ok {
		t.Error("stale sample survived sweep")
	}
	if _, ok := c.Get("fresh", "a"); !ok {
		t.Error("fresh sample evicted")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	c := New()
	now := time.Now()
	c.Upsert(Sample{Asset: "a", Quantity: "stale", Timestamp: now.Add(-time.Hour), TTL: time.Second})

	first := c.Sweep(now)
	second := c.Sweep(now)
	if first != 1 {
		t.Errorf("first sweep evicted %d, want 1", first)
	}
	if second != 0 {
		t.Errorf("second sweep evicted %d, want 0 (idempotent)", second)
	}
}

func TestTruncatePortQuantity(t *testing.T) {
	cases := map[string]string{
		"status.GPI1.3":  "status.GPI1",
		"status.ups":     "status.ups",
		"ambient.temp":   "ambient.temp",
		"a.b.c.d":        "a.b",
		"noseparatorhere": "noseparatorhere",
	}
	for in, want := range cases {
		if got := TruncatePortQuantity(in); got != want {
			t.Errorf("TruncatePortQuantity(%q) = %q, want %q", in, got, want)
		}
	}
}
