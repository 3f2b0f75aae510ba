package quota

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Capacity:    5,
		RefillRate:  5,
		Interval:    time.Minute,
		RequestCost: 1,
	}
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBucketStore_ExhaustsAtCapacity(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := testConfig()
	key := Key{Client: "10.0.0.1", Scope: "interview-quota"}

	// With no elapsed time between requests, exactly Capacity are allowed.
	for i := 0; i < cfg.Capacity; i++ {
		dec, err := store.Consume(context.Background(), key, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !dec.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	for i := 0; i < 3; i++ {
		dec, err := store.Consume(context.Background(), key, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if dec.Allowed {
			t.Errorf("request past capacity should be denied")
		}
		if dec.RetryAfter <= 0 {
			t.Error("denied decision should carry a retry hint")
		}
	}
}

func TestBucketStore_RefillRestoresFullCapacity(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := testConfig()
	key := Key{Client: "10.0.0.1", Scope: "interview-quota"}

	for i := 0; i < cfg.Capacity; i++ {
		store.Consume(context.Background(), key, cfg)
	}

	// One full interval restores exactly capacity, never more.
	clock.Advance(cfg.Interval)

	for i := 0; i < cfg.Capacity; i++ {
		dec, err := store.Consume(context.Background(), key, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !dec.Allowed {
			t.Errorf("request %d after refill should be allowed", i+1)
		}
	}

	dec, _ := store.Consume(context.Background(), key, cfg)
	if dec.Allowed {
		t.Error("refill must cap at capacity, not accumulate beyond it")
	}
}

func TestBucketStore_PartialRefill(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := testConfig()
	key := Key{Client: "10.0.0.1", Scope: "s"}

	for i := 0; i < cfg.Capacity; i++ {
		store.Consume(context.Background(), key, cfg)
	}

	// 5 tokens per minute: 12 seconds earns exactly one token.
	clock.Advance(12 * time.Second)

	dec, _ := store.Consume(context.Background(), key, cfg)
	if !dec.Allowed {
		t.Error("one token should have accrued")
	}
	dec, _ = store.Consume(context.Background(), key, cfg)
	if dec.Allowed {
		t.Error("only one token should have accrued")
	}
}

func TestBucketStore_ClockSkew(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := testConfig()
	key := Key{Client: "10.0.0.1", Scope: "s"}

	dec, _ := store.Consume(context.Background(), key, cfg)
	if !dec.Allowed {
		t.Fatal("first request should be allowed")
	}
	before := dec.Remaining

	// Clock goes backwards: elapsed is treated as zero, tokens never drop
	// below a plain consume.
	clock.Advance(-time.Hour)

	dec, _ = store.Consume(context.Background(), key, cfg)
	if !dec.Allowed {
		t.Fatal("request under clock skew should still consume normally")
	}
	if dec.Remaining != before-1 {
		t.Errorf("expected %g tokens remaining, got %g", before-1, dec.Remaining)
	}
}

func TestBucketStore_RequestCost(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := Config{Capacity: 10, RefillRate: 10, Interval: time.Minute, RequestCost: 4}
	key := Key{Client: "10.0.0.1", Scope: "s"}

	for i := 0; i < 2; i++ {
		dec, _ := store.Consume(context.Background(), key, cfg)
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 2 tokens left, cost 4.
	dec, _ := store.Consume(context.Background(), key, cfg)
	if dec.Allowed {
		t.Error("insufficient tokens for request cost")
	}
	if dec.Remaining != 2 {
		t.Errorf("deny must not partially consume, got %g remaining", dec.Remaining)
	}
}

func TestBucketStore_ConcurrentConsume(t *testing.T) {
	store := NewBucketStore()
	const capacity = 50
	cfg := Config{
		Capacity: capacity,
		// Refill negligible during the test window.
		RefillRate:  1,
		Interval:    time.Hour,
		RequestCost: 1,
	}
	key := Key{Client: "10.0.0.1", Scope: "s"}

	var wg sync.WaitGroup
	results := make(chan bool, 2*capacity)
	for i := 0; i < 2*capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := store.Consume(context.Background(), key, cfg)
			if err != nil {
				t.Error(err)
				return
			}
			results <- dec.Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != capacity {
		t.Errorf("expected exactly %d allowed under concurrency, got %d", capacity, allowed)
	}
}

func TestBucketStore_IndependentKeys(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := Config{Capacity: 1, RefillRate: 1, Interval: time.Hour, RequestCost: 1}

	a := Key{Client: "10.0.0.1", Scope: "s"}
	b := Key{Client: "10.0.0.2", Scope: "s"}
	c := Key{Client: "10.0.0.1", Scope: "other"}

	if dec, _ := store.Consume(context.Background(), a, cfg); !dec.Allowed {
		t.Error("first key should be allowed")
	}
	if dec, _ := store.Consume(context.Background(), a, cfg); dec.Allowed {
		t.Error("first key should be exhausted")
	}
	if dec, _ := store.Consume(context.Background(), b, cfg); !dec.Allowed {
		t.Error("different client must have its own bucket")
	}
	if dec, _ := store.Consume(context.Background(), c, cfg); !dec.Allowed {
		t.Error("different scope must have its own bucket")
	}
}

func TestBucketStore_JanitorEvictsIdle(t *testing.T) {
	clock := newFakeClock()
	store := NewBucketStore(WithClock(clock.Now))
	cfg := testConfig()

	store.Consume(context.Background(), Key{Client: "10.0.0.1", Scope: "s"}, cfg)
	store.Consume(context.Background(), Key{Client: "10.0.0.2", Scope: "s"}, cfg)

	clock.Advance(30 * time.Minute)
	// Touch one bucket so only the other is idle.
	store.Consume(context.Background(), Key{Client: "10.0.0.1", Scope: "s"}, cfg)

	evicted := store.evictIdle(15 * time.Minute)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 bucket left, got %d", store.Len())
	}

	// The evicted key comes back at full capacity.
	dec, _ := store.Consume(context.Background(), Key{Client: "10.0.0.2", Scope: "s"}, cfg)
	if !dec.Allowed || dec.Remaining != float64(cfg.Capacity)-1 {
		t.Errorf("recreated bucket should start full, got remaining %g", dec.Remaining)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := []Config{
		{Capacity: 0, RefillRate: 1, Interval: time.Second, RequestCost: 1},
		{Capacity: 1, RefillRate: 0, Interval: time.Second, RequestCost: 1},
		{Capacity: 1, RefillRate: 1, Interval: 0, RequestCost: 1},
		{Capacity: 1, RefillRate: 1, Interval: time.Second, RequestCost: 0},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %d should not validate", i)
		}
	}
}
