package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgegate/edgegate/api"
)

// Throttle smooths per-client request rates ahead of the inspection
// stages. It protects the pipeline itself and is distinct from quota
// scopes, which meter named application budgets.
type Throttle struct {
	rps    rate.Limit
	burst  int
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*throttleEntry

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates the ingress throttle stage.
func NewThrottle(rps float64, burst int, logger *slog.Logger) *Throttle {
	return &Throttle{
		rps:          rate.Limit(rps),
		burst:        burst,
		logger:       logger,
		clients:      make(map[string]*throttleEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
}

func (t *Throttle) Name() string { return "throttle" }

func (t *Throttle) Evaluate(_ context.Context, rc *RequestContext) error {
	if !t.limiterFor(rc.Client).Allow() {
		rc.RetryAfter = time.Second
		rc.deny(t.Name(), api.ReasonThrottled)
	}
	return nil
}

func (t *Throttle) limiterFor(client string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.clients[client]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.clients[client] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops limiters idle longer than the TTL.
func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for client, ent := range t.clients {
		if ent.lastSeen.Before(cutoff) {
			delete(t.clients, client)
		}
	}
}

// StartJanitor cleans idle client limiters periodically until ctx is done.
func (t *Throttle) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(t.cleanupEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
			}
		}
	}()
}
