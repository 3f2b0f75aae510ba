package quota

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// RedisStore is a distributed bucket store backed by Redis. The
// refill-then-consume cycle runs inside a Lua script, so it is atomic per
// key across every process sharing the Redis instance.
type RedisStore struct {
	client    *redis.Client
	scriptSHA string
	prefix    string
}

// NewRedisStore verifies connectivity and preloads the consume script.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		return nil, fmt.Errorf("loading token bucket script: %w", err)
	}

	return &RedisStore{
		client:    client,
		scriptSHA: sha,
		prefix:    "edgegate:quota:",
	}, nil
}

// Consume runs the bucket script for key. The key expires after roughly
// two refill intervals of inactivity so abandoned clients do not leak.
func (s *RedisStore) Consume(ctx context.Context, key Key, cfg Config) (Decision, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	ttl := int64(cfg.Interval/time.Second) * 2
	if ttl < 60 {
		ttl = 60
	}

	cmd := s.client.EvalSha(ctx, s.scriptSHA, []string{s.prefix + key.String()},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.Interval.Seconds(),
		now,
		cfg.RequestCost,
		ttl,
	)

	result, err := cmd.Result()
	if err != nil {
		return Decision{}, fmt.Errorf("evaluating bucket script: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, errors.New("unexpected bucket script reply shape")
	}

	allowed, _ := values[0].(int64)
	remaining := replyFloat(values[1])
	retryAfter := replyFloat(values[2])

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfter * float64(time.Second)),
	}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func replyFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
