package admission

import (
	"context"
	"log/slog"
	"strings"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/rules"
)

// Mode selects whether the shield enforces or only observes.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeDryRun Mode = "dry_run"
)

// FailurePolicy decides what happens when a classifier backend errors.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

// ShieldConfig bounds the structural checks and selects the mode.
type ShieldConfig struct {
	Mode           Mode
	FailurePolicy  FailurePolicy
	MaxHeaderBytes int
	MaxBodyBytes   int64
	AllowedMethods []string
}

// ShieldFilter rejects structurally anomalous requests and requests
// matching the known-bad-signature set. The checks are stateless and run
// in small constant time; the signature engine is injectable.
type ShieldFilter struct {
	cfg     ShieldConfig
	allowed map[string]struct{}
	engine  rules.Engine
	logger  *slog.Logger
}

// NewShieldFilter creates the shield stage. engine may be nil when no
// signature set is configured.
func NewShieldFilter(cfg ShieldConfig, engine rules.Engine, logger *slog.Logger) *ShieldFilter {
	allowed := make(map[string]struct{}, len(cfg.AllowedMethods))
	for _, m := range cfg.AllowedMethods {
		allowed[strings.ToUpper(m)] = struct{}{}
	}
	return &ShieldFilter{
		cfg:     cfg,
		allowed: allowed,
		engine:  engine,
		logger:  logger,
	}
}

func (f *ShieldFilter) Name() string { return "shield" }

func (f *ShieldFilter) Evaluate(ctx context.Context, rc *RequestContext) error {
	if reason := f.structural(rc); reason != "" {
		f.reject(rc, reason)
		return nil
	}

	if f.engine == nil {
		return nil
	}

	result, err := f.engine.Evaluate(ctx, &rules.EvalInput{
		Method:    rc.Method,
		Path:      rc.Path,
		UserAgent: rc.UserAgent(),
		Client:    rc.Client,
		Header:    flattenHeader(rc),
	})
	if err != nil {
		if f.cfg.FailurePolicy == FailOpen {
			f.logger.Warn("signature engine unavailable, failing open", "error", err)
			return nil
		}
		f.reject(rc, api.ReasonShieldUnavailable)
		return nil
	}

	if result.Outcome == api.OutcomeDeny {
		reason := result.Message
		if reason == "" {
			reason = "blocked signature: " + result.Rule
		}
		f.reject(rc, reason)
	}

	return nil
}

func (f *ShieldFilter) structural(rc *RequestContext) string {
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[strings.ToUpper(rc.Method)]; !ok {
			return "disallowed method"
		}
	}

	if f.cfg.MaxBodyBytes > 0 && rc.ContentLength > f.cfg.MaxBodyBytes {
		return "payload too large"
	}

	size := 0
	for key, values := range rc.Header {
		size += len(key)
		for _, v := range values {
			size += len(v)
			if malformedHeaderValue(v) {
				return "malformed header"
			}
		}
	}
	if f.cfg.MaxHeaderBytes > 0 && size > f.cfg.MaxHeaderBytes {
		return "header block too large"
	}

	return ""
}

// reject enforces in live mode; in dry-run it records the would-be deny
// and lets the request continue.
func (f *ShieldFilter) reject(rc *RequestContext, reason string) {
	if f.cfg.Mode == ModeDryRun {
		v := api.Deny(f.Name(), reason)
		rc.ShadowVerdict = &v
		f.logger.Warn("shield dry-run hit",
			"reason", reason,
			"method", rc.Method,
			"path", rc.Path,
			"client", rc.Client,
		)
		return
	}
	rc.deny(f.Name(), reason)
}

func malformedHeaderValue(v string) bool {
	for _, r := range v {
		if r < 0x20 && r != '\t' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}

func flattenHeader(rc *RequestContext) map[string]string {
	flat := make(map[string]string, len(rc.Header))
	for key := range rc.Header {
		flat[key] = rc.Header.Get(key)
	}
	return flat
}
