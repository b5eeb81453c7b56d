package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestTTLCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](time.Minute).WithClock(clock.Now)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	clock.Advance(30 * time.Second)
	if _, age, ok := c.GetWithAge("a"); !ok || age != 30*time.Second {
		t.Fatalf("expected age 30s, got %v %v", age, ok)
	}

	clock.Advance(31 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry should stay until swept")
	}
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after sweep")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New[string](0).WithClock(clock.Now)
	c.Set("k", "v")
	clock.Advance(24 * time.Hour)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected persistent entry")
	}
	if c.Sweep() != 0 {
		t.Fatalf("sweep should be a no-op without ttl")
	}
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := New[int](time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("sym-%d", i)
			for j := 0; j < 100; j++ {
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	snap := c.Snapshot()
	if len(snap) != 32 {
		t.Fatalf("expected 32 keys, got %d", len(snap))
	}
	for k, v := range snap {
		if v != 99 {
			t.Fatalf("%s: expected last write 99, got %d", k, v)
		}
	}
	if st := c.Stats(); st.TotalItems != 32 {
		t.Fatalf("stats total = %d", st.TotalItems)
	}
}
