package admission

import (
	"log/slog"
	"time"

	"github.com/edgegate/edgegate/internal/quota"
	"github.com/edgegate/edgegate/internal/routes"
	"github.com/edgegate/edgegate/internal/rules"
)

// PipelineConfig holds everything needed to assemble the stage chain.
type PipelineConfig struct {
	Shield          ShieldConfig
	SignatureEngine rules.Engine

	BotClassifier Classifier
	BotPolicy     FailurePolicy
	BotAllowList  []string

	ThrottleRPS   float64
	ThrottleBurst int

	Limiter     quota.Limiter
	QuotaPolicy FailurePolicy
	Scopes      []ScopeBinding

	Routes          *routes.Matcher
	Provider        SessionProvider
	ProviderTimeout time.Duration

	Logger *slog.Logger
}

// Built bundles the pipeline with the stages a caller may want to update
// at runtime (config reload).
type Built struct {
	Pipeline *Pipeline
	Throttle *Throttle
	Bot      *BotStage
	Quota    *QuotaStage
}

// Build assembles the fixed stage order: throttle (when enabled), then
// shield, bot, quota, auth. Cheapest and broadest checks run first; the
// session provider call is last so its cost is never spent on requests
// an earlier stage denies.
func Build(cfg PipelineConfig) *Built {
	b := &Built{}
	var stages []Stage

	if cfg.ThrottleRPS > 0 {
		b.Throttle = NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst, cfg.Logger)
		stages = append(stages, b.Throttle)
	}

	classifier := cfg.BotClassifier
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}

	stages = append(stages, NewShieldFilter(cfg.Shield, cfg.SignatureEngine, cfg.Logger))

	b.Bot = NewBotStage(classifier, cfg.BotPolicy, cfg.BotAllowList, cfg.Logger)
	stages = append(stages, b.Bot)

	b.Quota = NewQuotaStage(cfg.Limiter, cfg.QuotaPolicy, cfg.Scopes, cfg.Logger)
	stages = append(stages, b.Quota)

	provider := cfg.Provider
	if provider == nil {
		provider = RejectAllSessions{}
	}
	stages = append(stages, NewAuthGate(cfg.Routes, provider, cfg.ProviderTimeout))

	b.Pipeline = NewPipeline(cfg.Logger, stages...)
	return b
}
