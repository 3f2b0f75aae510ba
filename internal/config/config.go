// Package config loads the edgegate YAML configuration, applies the
// environment overlay, and validates everything that must not be
// silently defaulted.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/edgegate/edgegate/internal/admission"
	"github.com/edgegate/edgegate/internal/quota"
	"github.com/edgegate/edgegate/internal/routes"
	"github.com/edgegate/edgegate/internal/rules"
)

// File mirrors the YAML configuration file. Durations are strings so the
// file stays readable; parsing happens in fromFile.
type File struct {
	Version  int          `yaml:"version"`
	Server   ServerFile   `yaml:"server"`
	LogDir   string       `yaml:"log_dir,omitempty"`
	Shield   ShieldFile   `yaml:"shield"`
	Bot      BotFile      `yaml:"bot"`
	Throttle ThrottleFile `yaml:"throttle"`
	Auth     AuthFile     `yaml:"auth"`
	Routes   []RouteFile  `yaml:"routes"`
	Quota    QuotaFile    `yaml:"quota"`
}

type ServerFile struct {
	Listen    string `yaml:"listen"`
	Target    string `yaml:"target"`
	OpsListen string `yaml:"ops_listen,omitempty"`
}

type ShieldFile struct {
	Mode            string            `yaml:"mode,omitempty"`
	FailurePolicy   string            `yaml:"failure_policy,omitempty"`
	MaxHeaderBytes  int               `yaml:"max_header_bytes,omitempty"`
	MaxBodyBytes    int64             `yaml:"max_body_bytes,omitempty"`
	AllowedMethods  []string          `yaml:"allowed_methods,omitempty"`
	SignatureEngine string            `yaml:"signature_engine,omitempty"`
	OPAPolicy       string            `yaml:"opa_policy,omitempty"`
	Signatures      []rules.Signature `yaml:"signatures,omitempty"`
}

type BotFile struct {
	FailurePolicy string   `yaml:"failure_policy,omitempty"`
	Allow         []string `yaml:"allow,omitempty"`
}

type ThrottleFile struct {
	Enabled bool    `yaml:"enabled,omitempty"`
	RPS     float64 `yaml:"rps,omitempty"`
	Burst   int     `yaml:"burst,omitempty"`
}

type AuthFile struct {
	ProviderURL     string `yaml:"provider_url,omitempty"`
	ProviderTimeout string `yaml:"provider_timeout,omitempty"`
}

type RouteFile struct {
	Pattern string `yaml:"pattern"`
	Access  string `yaml:"access"`
}

type QuotaFile struct {
	Store     string               `yaml:"store,omitempty"`
	RedisAddr string               `yaml:"redis_addr,omitempty"`
	Scopes    map[string]ScopeFile `yaml:"scopes,omitempty"`
}

type ScopeFile struct {
	Routes        []string `yaml:"routes"`
	Capacity      int      `yaml:"capacity"`
	RefillRate    float64  `yaml:"refill_rate"`
	Interval      string   `yaml:"interval"`
	RequestCost   int      `yaml:"request_cost,omitempty"`
	FailurePolicy string   `yaml:"failure_policy,omitempty"`
}

// Config is the validated runtime configuration.
type Config struct {
	Path      string
	Listen    string
	Target    string
	OpsListen string
	LogDir    string

	Shield          admission.ShieldConfig
	SignatureEngine string
	OPAPolicy       string
	Signatures      *rules.SignatureFile

	BotPolicy admission.FailurePolicy
	BotAllow  []string

	ThrottleEnabled bool
	ThrottleRPS     float64
	ThrottleBurst   int

	ProviderURL     string
	ProviderTimeout time.Duration

	Routes []routes.Rule

	QuotaStore  string
	RedisAddr   string
	QuotaPolicy admission.FailurePolicy
	Scopes      []admission.ScopeBinding
}

// Load reads the YAML file at path, applies the environment overlay, and
// produces a validated runtime Config. `.env` in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// LoadBytes parses YAML data and produces a validated runtime Config.
func LoadBytes(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromFile(&f)
}

func fromFile(f *File) (*Config, error) {
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported config version %d (expected 1)", f.Version)
	}

	cfg := &Config{
		Listen:    f.Server.Listen,
		Target:    f.Server.Target,
		OpsListen: f.Server.OpsListen,
		LogDir:    f.LogDir,
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if v := os.Getenv("EDGEGATE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("EDGEGATE_TARGET"); v != "" {
		cfg.Target = v
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
	cfg.LogDir = expandHome(cfg.LogDir)

	if err := shieldFromFile(cfg, f.Shield); err != nil {
		return nil, err
	}

	cfg.BotPolicy = admission.FailClosed
	if f.Bot.FailurePolicy != "" {
		p, err := parsePolicy(f.Bot.FailurePolicy)
		if err != nil {
			return nil, fmt.Errorf("bot: %w", err)
		}
		cfg.BotPolicy = p
	}
	cfg.BotAllow = f.Bot.Allow

	cfg.ThrottleEnabled = f.Throttle.Enabled
	cfg.ThrottleRPS = f.Throttle.RPS
	cfg.ThrottleBurst = f.Throttle.Burst
	if cfg.ThrottleEnabled && cfg.ThrottleRPS <= 0 {
		return nil, fmt.Errorf("throttle: rps must be positive, got %g", cfg.ThrottleRPS)
	}
	if cfg.ThrottleEnabled && cfg.ThrottleBurst <= 0 {
		cfg.ThrottleBurst = int(cfg.ThrottleRPS)
	}

	cfg.ProviderURL = f.Auth.ProviderURL
	if v := os.Getenv("AUTH_PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	cfg.ProviderTimeout = DefaultProviderTimeout
	if f.Auth.ProviderTimeout != "" {
		d, err := time.ParseDuration(f.Auth.ProviderTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid provider_timeout %q: %w", f.Auth.ProviderTimeout, err)
		}
		cfg.ProviderTimeout = d
	}

	for _, r := range f.Routes {
		cfg.Routes = append(cfg.Routes, routes.Rule{
			Pattern: r.Pattern,
			Access:  routes.Access(r.Access),
		})
	}

	return cfg, quotaFromFile(cfg, f.Quota)
}

func shieldFromFile(cfg *Config, sf ShieldFile) error {
	sc := admission.ShieldConfig{
		Mode:           admission.ModeLive,
		FailurePolicy:  admission.FailClosed,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		AllowedMethods: DefaultAllowedMethods(),
	}

	switch sf.Mode {
	case "":
	case string(admission.ModeLive), string(admission.ModeDryRun):
		sc.Mode = admission.Mode(sf.Mode)
	default:
		return fmt.Errorf("shield: invalid mode %q (expected live or dry_run)", sf.Mode)
	}
	if sf.FailurePolicy != "" {
		p, err := parsePolicy(sf.FailurePolicy)
		if err != nil {
			return fmt.Errorf("shield: %w", err)
		}
		sc.FailurePolicy = p
	}
	if sf.MaxHeaderBytes > 0 {
		sc.MaxHeaderBytes = sf.MaxHeaderBytes
	}
	if sf.MaxBodyBytes > 0 {
		sc.MaxBodyBytes = sf.MaxBodyBytes
	}
	if len(sf.AllowedMethods) > 0 {
		sc.AllowedMethods = sf.AllowedMethods
	}
	cfg.Shield = sc

	cfg.SignatureEngine = sf.SignatureEngine
	switch cfg.SignatureEngine {
	case "":
		cfg.SignatureEngine = "yaml"
	case "yaml":
	case "opa":
		if sf.OPAPolicy == "" {
			return fmt.Errorf("shield: signature_engine opa requires opa_policy")
		}
	default:
		return fmt.Errorf("shield: invalid signature_engine %q (expected yaml or opa)", cfg.SignatureEngine)
	}
	cfg.OPAPolicy = expandHome(sf.OPAPolicy)

	if len(sf.Signatures) > 0 {
		signatures := &rules.SignatureFile{Version: 1, Rules: sf.Signatures}
		if err := rules.Validate(signatures); err != nil {
			return fmt.Errorf("shield signatures: %w", err)
		}
		cfg.Signatures = signatures
	}
	return nil
}

func quotaFromFile(cfg *Config, qf QuotaFile) error {
	cfg.QuotaStore = qf.Store
	switch cfg.QuotaStore {
	case "":
		cfg.QuotaStore = "memory"
	case "memory", "redis":
	default:
		return fmt.Errorf("quota: invalid store %q (expected memory or redis)", cfg.QuotaStore)
	}

	cfg.RedisAddr = qf.RedisAddr
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if cfg.QuotaStore == "redis" && cfg.RedisAddr == "" {
		return fmt.Errorf("quota: store redis requires redis_addr or REDIS_ADDR")
	}

	// Iterate in name order so reload comparisons and the first-deny-wins
	// evaluation order stay stable.
	names := make([]string, 0, len(qf.Scopes))
	for name := range qf.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg.QuotaPolicy = admission.FailClosed
	for _, name := range names {
		sf := qf.Scopes[name]
		var scopePolicy admission.FailurePolicy
		if sf.FailurePolicy != "" {
			p, err := parsePolicy(sf.FailurePolicy)
			if err != nil {
				return fmt.Errorf("quota scope %q: %w", name, err)
			}
			scopePolicy = p
		}
		if len(sf.Routes) == 0 {
			return fmt.Errorf("quota scope %q: routes must not be empty", name)
		}
		interval, err := time.ParseDuration(sf.Interval)
		if err != nil {
			return fmt.Errorf("quota scope %q: invalid interval %q: %w", name, sf.Interval, err)
		}
		cost := sf.RequestCost
		if cost == 0 {
			cost = 1
		}
		qc := quota.Config{
			Capacity:    sf.Capacity,
			RefillRate:  sf.RefillRate,
			Interval:    interval,
			RequestCost: cost,
		}
		if err := qc.Validate(); err != nil {
			return fmt.Errorf("quota scope %q: %w", name, err)
		}
		cfg.Scopes = append(cfg.Scopes, admission.ScopeBinding{
			Name:          name,
			Patterns:      sf.Routes,
			Config:        qc,
			FailurePolicy: scopePolicy,
		})
	}
	return nil
}

func parsePolicy(s string) (admission.FailurePolicy, error) {
	switch s {
	case string(admission.FailOpen), string(admission.FailClosed):
		return admission.FailurePolicy(s), nil
	}
	return "", fmt.Errorf("invalid failure_policy %q (expected open or closed)", s)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
