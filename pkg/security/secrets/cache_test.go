package secrets

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute})

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss")
	}
	c.Set("k", "v")
	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Errorf("Get() = %q, %v", got, ok)
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: 20 * time.Millisecond})
	c.Set("k", "v")
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected expired entry")
	}
}

func TestCache_MaxSize(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2})
	c.Set("a", "1")
	time.Sleep(time.Millisecond)
	c.Set("b", "2")
	c.Set("b", "2b")
	if c.Size() != 2 {
		t.Fatalf("overwriting must not evict, Size() = %d", c.Size())
	}
	c.Set("c", "3")

	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry evicted")
	}
}

func TestCache_Disabled(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: false})
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache must not store")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, "v")
			c.Get(key)
		}(i)
	}
	wg.Wait()
	if c.Size() > 10 {
		t.Errorf("Size() = %d exceeds MaxSize", c.Size())
	}
}
