package admission

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/edgegate/edgegate/api"
)

// Classification is a bot classifier's view of a request's origin.
type Classification struct {
	// Category names the traffic class, e.g. "human", "search_engine",
	// "script".
	Category string

	// Automated is false only for human-like traffic.
	Automated bool
}

// Classifier categorizes the origin of a request. Implementations are
// injectable so the pipeline can run with deterministic fakes.
type Classifier interface {
	Classify(ctx context.Context, rc *RequestContext) (Classification, error)
}

// BotStage denies abusive automation. Automated traffic passes only when
// its category is on the configured allow-list; the list is config, not
// logic, and can be swapped at runtime.
type BotStage struct {
	classifier Classifier
	policy     FailurePolicy
	logger     *slog.Logger

	mu    sync.RWMutex
	allow map[string]struct{}
}

// NewBotStage creates the bot classification stage.
func NewBotStage(classifier Classifier, policy FailurePolicy, allowList []string, logger *slog.Logger) *BotStage {
	s := &BotStage{
		classifier: classifier,
		policy:     policy,
		logger:     logger,
	}
	s.UpdateAllow(allowList)
	return s
}

func (s *BotStage) Name() string { return "bot" }

// UpdateAllow replaces the allowed-category set. Safe to call while the
// stage is serving.
func (s *BotStage) UpdateAllow(categories []string) {
	allow := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		allow[c] = struct{}{}
	}
	s.mu.Lock()
	s.allow = allow
	s.mu.Unlock()
}

func (s *BotStage) Evaluate(ctx context.Context, rc *RequestContext) error {
	cl, err := s.classifier.Classify(ctx, rc)
	if err != nil {
		if s.policy == FailOpen {
			s.logger.Warn("bot classifier unavailable, failing open", "error", err)
			return nil
		}
		rc.deny(s.Name(), api.ReasonBotUnavailable)
		return nil
	}

	if !cl.Automated {
		return nil
	}

	s.mu.RLock()
	_, exempt := s.allow[cl.Category]
	s.mu.RUnlock()
	if exempt {
		return nil
	}

	rc.deny(s.Name(), "abusive automation: "+cl.Category)
	return nil
}

// HeuristicClassifier is the built-in classifier: a fast User-Agent
// taxonomy. Deployments with a vendor classifier supply their own
// Classifier instead.
type HeuristicClassifier struct{}

var agentCategories = []struct {
	category string
	needles  []string
}{
	{"search_engine", []string{"googlebot", "bingbot", "duckduckbot", "yandexbot", "baiduspider"}},
	{"preview_fetcher", []string{"slackbot", "discordbot", "twitterbot", "facebookexternalhit", "linkedinbot"}},
	{"script", []string{"curl/", "wget/", "python-requests", "go-http-client", "okhttp", "java/"}},
	{"headless", []string{"headlesschrome", "phantomjs", "puppeteer", "playwright"}},
}

func (HeuristicClassifier) Classify(_ context.Context, rc *RequestContext) (Classification, error) {
	ua := strings.ToLower(rc.UserAgent())
	if ua == "" {
		return Classification{Category: "unknown", Automated: true}, nil
	}
	for _, ac := range agentCategories {
		for _, needle := range ac.needles {
			if strings.Contains(ua, needle) {
				return Classification{Category: ac.category, Automated: true}, nil
			}
		}
	}
	return Classification{Category: "human"}, nil
}
