package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// bucket holds the mutable state for one key. Its mutex serializes the
// refill-then-consume sequence; the store's outer lock is only held for
// map access, so distinct keys do not contend.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
	lastSeen time.Time
}

// BucketStore is the in-process bucket store. Buckets are created lazily
// at full capacity on first observation of a key and may be evicted by the
// janitor after prolonged inactivity.
type BucketStore struct {
	mu      sync.RWMutex
	buckets map[Key]*bucket

	now func() time.Time

	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
}

// StoreOption configures a BucketStore.
type StoreOption func(*BucketStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *BucketStore) { s.now = now }
}

// NewBucketStore creates an empty in-memory bucket store.
func NewBucketStore(opts ...StoreOption) *BucketStore {
	s := &BucketStore{
		buckets: make(map[Key]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BucketStore) getOrCreate(key Key, cfg Config, now time.Time) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have created the bucket while we waited for
	// the write lock.
	if b, ok = s.buckets[key]; ok {
		return b
	}

	b = &bucket{
		tokens:   float64(cfg.Capacity),
		lastFill: now,
		lastSeen: now,
	}
	s.buckets[key] = b
	return b
}

// Consume applies the token-bucket algorithm for key: refill proportional
// to elapsed time, capped at capacity, then take RequestCost tokens if the
// balance allows.
func (s *BucketStore) Consume(_ context.Context, key Key, cfg Config) (Decision, error) {
	now := s.now()
	b := s.getOrCreate(key, cfg, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastFill)
	if elapsed < 0 {
		// Clock went backwards; refill must stay monotonic.
		elapsed = 0
	}

	refill := float64(elapsed) / float64(cfg.Interval) * cfg.RefillRate
	b.tokens += refill
	if b.tokens > float64(cfg.Capacity) {
		b.tokens = float64(cfg.Capacity)
	}
	b.lastFill = now
	b.lastSeen = now

	cost := float64(cfg.RequestCost)
	if b.tokens >= cost {
		b.tokens -= cost
		return Decision{Allowed: true, Remaining: b.tokens}, nil
	}

	perToken := float64(cfg.Interval) / cfg.RefillRate
	wait := time.Duration((cost - b.tokens) * perToken)
	return Decision{Allowed: false, Remaining: b.tokens, RetryAfter: wait}, nil
}

// Len returns the number of tracked buckets.
func (s *BucketStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// StartJanitor begins periodic eviction of buckets idle longer than ttl.
// Eviction never affects active keys: a bucket is only dropped when it has
// not been touched within ttl, so its next observation recreates it full.
func (s *BucketStore) StartJanitor(parent context.Context, interval, ttl time.Duration, logger *slog.Logger) {
	s.mu.Lock()
	if s.cleanupCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cleanupCancel = cancel
	s.mu.Unlock()

	s.cleanupWg.Add(1)
	go func() {
		defer s.cleanupWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := s.evictIdle(ttl)
				if evicted > 0 {
					logger.Debug("evicted idle quota buckets", "count", evicted)
				}
			}
		}
	}()
}

func (s *BucketStore) evictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for k, b := range s.buckets {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(s.buckets, k)
			evicted++
		}
	}
	return evicted
}

// StopJanitor cancels the eviction goroutine and waits for it to exit.
func (s *BucketStore) StopJanitor() {
	s.mu.Lock()
	cancel := s.cleanupCancel
	s.cleanupCancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.cleanupWg.Wait()
}
