package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *clock) {
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("a lost: %q %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(4, time.Second)
	c.Set("a", "1")
	c.Set("b", "2")

	clk.t = clk.t.Add(2 * time.Second)
	c.Set("c", "3")

	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired = %d, want 1", n)
	}
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Fatalf("c missing")
	}
}

func TestLRUDeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("items:1|", "x")
	c.Set("items:1|q=milk", "y")
	c.Set("items:2|", "z")
	c.Set("todos|", "w")

	if n := c.DeletePrefix("items:1|"); n != 2 {
		t.Fatalf("DeletePrefix = %d, want 2", n)
	}
	if _, ok := c.Get("items:2|"); !ok {
		t.Fatalf("other list evicted")
	}
	c.Delete("todos|")
	if c.Size() != 1 {
		t.Fatalf("size = %d", c.Size())
	}
}

type countingCleaner struct{ n int }

func (c *countingCleaner) CleanExpired() int { c.n++; return 1 }

func TestManagerSweep(t *testing.T) {
	m := NewManager(nil)
	a, b := &countingCleaner{}, &countingCleaner{}
	m.Register(a)
	m.Register(b)

	if n := m.Sweep(); n != 2 {
		t.Fatalf("Sweep = %d", n)
	}
	m.Stop() // not started, must not block

	m.StartCleanup(5 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	if a.n < 2 {
		t.Fatalf("periodic sweep did not run")
	}
}
