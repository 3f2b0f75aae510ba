package cli

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgegate/edgegate/internal/admission"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/quota"
	"github.com/edgegate/edgegate/internal/routes"
	"github.com/edgegate/edgegate/internal/rules"
)

// buildEngine constructs the shield signature engine the config selects.
// A nil engine (no signatures, yaml mode) skips signature evaluation.
func buildEngine(cfg *config.Config) (rules.Engine, error) {
	switch cfg.SignatureEngine {
	case "opa":
		engine, err := rules.NewOPAEngine(cfg.OPAPolicy)
		if err != nil {
			return nil, fmt.Errorf("creating OPA signature engine: %w", err)
		}
		return engine, nil
	default:
		if cfg.Signatures == nil {
			return nil, nil
		}
		engine, err := rules.NewYAMLEngineFromFile(cfg.Signatures)
		if err != nil {
			return nil, fmt.Errorf("creating signature engine: %w", err)
		}
		return engine, nil
	}
}

// buildLimiter constructs the quota backend. The returned cleanup closes
// the backend; it is non-nil even for the memory store.
func buildLimiter(cfg *config.Config) (quota.Limiter, func(), error) {
	if cfg.QuotaStore == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store, err := quota.NewRedisStore(client)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis quota store: %w", err)
		}
		return store, func() { store.Close() }, nil
	}

	store := quota.NewBucketStore()
	return store, func() { store.StopJanitor() }, nil
}

// buildPipeline assembles the full admission pipeline from a validated
// config.
func buildPipeline(cfg *config.Config, engine rules.Engine, limiter quota.Limiter) (*admission.Built, error) {
	matcher, err := routes.NewMatcher(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("building route matcher: %w", err)
	}

	var provider admission.SessionProvider
	if cfg.ProviderURL != "" {
		provider = admission.NewHTTPSessionProvider(cfg.ProviderURL)
	}

	pc := admission.PipelineConfig{
		Shield:          cfg.Shield,
		SignatureEngine: engine,
		BotPolicy:       cfg.BotPolicy,
		BotAllowList:    cfg.BotAllow,
		Limiter:         limiter,
		QuotaPolicy:     cfg.QuotaPolicy,
		Scopes:          cfg.Scopes,
		Routes:          matcher,
		Provider:        provider,
		ProviderTimeout: cfg.ProviderTimeout,
		Logger:          logger,
	}
	if cfg.ThrottleEnabled {
		pc.ThrottleRPS = cfg.ThrottleRPS
		pc.ThrottleBurst = cfg.ThrottleBurst
	}

	return admission.Build(pc), nil
}

// janitorInterval derives the memory-store eviction cadence from the
// longest scope interval so full buckets are not evicted mid-window.
func janitorInterval(cfg *config.Config) (interval, ttl time.Duration) {
	longest := time.Minute
	for _, s := range cfg.Scopes {
		if s.Config.Interval > longest {
			longest = s.Config.Interval
		}
	}
	return 5 * time.Minute, 2 * longest
}
