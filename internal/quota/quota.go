// Package quota implements continuous-refill token-bucket rate limiting
// keyed by (client, scope). Backends share one contract: the
// refill-then-consume sequence for a key is atomic with respect to every
// concurrent caller of that key, and distinct keys never contend.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Config is the static policy for one quota scope.
type Config struct {
	// Capacity is the maximum number of tokens the bucket holds.
	Capacity int

	// RefillRate is the number of tokens earned per Interval.
	RefillRate float64

	// Interval is the period RefillRate is measured over.
	Interval time.Duration

	// RequestCost is the number of tokens one admitted request consumes.
	RequestCost int
}

// Validate rejects configurations that must not be silently defaulted.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("refill rate must be positive, got %g", c.RefillRate)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.RequestCost <= 0 {
		return fmt.Errorf("request cost must be positive, got %d", c.RequestCost)
	}
	return nil
}

// Key identifies one bucket: a client address within a named scope.
type Key struct {
	Client string
	Scope  string
}

func (k Key) String() string {
	return k.Scope + ":" + k.Client
}

// Decision is the result of one consume attempt.
type Decision struct {
	Allowed bool

	// Remaining is the token balance after the decision was applied.
	Remaining float64

	// RetryAfter estimates how long until enough tokens accrue for one
	// request. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter applies the token-bucket algorithm for a key under a scope config.
type Limiter interface {
	Consume(ctx context.Context, key Key, cfg Config) (Decision, error)
}
