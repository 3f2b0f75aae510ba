package admission

import (
	"context"
	"log/slog"
	"sync"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/quota"
	"github.com/edgegate/edgegate/internal/routes"
)

// ScopeBinding ties a named quota scope to the route patterns it governs.
// FailurePolicy, when set, overrides the stage-wide policy for backend
// errors on this scope.
type ScopeBinding struct {
	Name          string
	Patterns      []string
	Config        quota.Config
	FailurePolicy FailurePolicy
}

// QuotaStage evaluates every quota scope matching the request's path.
// Scopes are independent buckets; the first deny wins. Consumed tokens
// are final even when a later stage denies the request.
type QuotaStage struct {
	limiter quota.Limiter
	policy  FailurePolicy
	logger  *slog.Logger

	mu     sync.RWMutex
	scopes []ScopeBinding
}

// NewQuotaStage creates the quota stage over the given limiter backend.
func NewQuotaStage(limiter quota.Limiter, policy FailurePolicy, scopes []ScopeBinding, logger *slog.Logger) *QuotaStage {
	s := &QuotaStage{
		limiter: limiter,
		policy:  policy,
		logger:  logger,
	}
	s.UpdateScopes(scopes)
	return s
}

func (s *QuotaStage) Name() string { return "quota" }

// UpdateScopes replaces the scope set. Safe to call while serving; bucket
// state is keyed by scope name and survives the swap.
func (s *QuotaStage) UpdateScopes(scopes []ScopeBinding) {
	cp := make([]ScopeBinding, len(scopes))
	copy(cp, scopes)
	s.mu.Lock()
	s.scopes = cp
	s.mu.Unlock()
}

func (s *QuotaStage) Evaluate(ctx context.Context, rc *RequestContext) error {
	s.mu.RLock()
	scopes := s.scopes
	s.mu.RUnlock()

	for _, scope := range scopes {
		if !scopeMatches(scope, rc.Path) {
			continue
		}

		key := quota.Key{Client: rc.Client, Scope: scope.Name}
		dec, err := s.limiter.Consume(ctx, key, scope.Config)
		if err != nil {
			policy := s.policy
			if scope.FailurePolicy != "" {
				policy = scope.FailurePolicy
			}
			if policy == FailOpen {
				s.logger.Warn("quota backend unavailable, failing open",
					"scope", scope.Name, "error", err)
				continue
			}
			// The deny verdict names the scope, not the stage.
			rc.deny(scope.Name, api.ReasonQuotaUnavailable)
			return nil
		}

		if !dec.Allowed {
			rc.RetryAfter = dec.RetryAfter
			rc.deny(scope.Name, api.ReasonQuotaExceeded)
			return nil
		}
	}

	return nil
}

func scopeMatches(scope ScopeBinding, path string) bool {
	for _, pattern := range scope.Patterns {
		if routes.Match(pattern, path) {
			return true
		}
	}
	return false
}
