// Package rules provides the shield's known-bad-signature matching as an
// injectable engine. Two backends exist: an ordered YAML rule list and an
// embedded OPA/Rego policy.
package rules

import "github.com/edgegate/edgegate/api"

// SignatureFile represents the top-level YAML signature configuration.
type SignatureFile struct {
	Version int         `yaml:"version" json:"version"`
	Rules   []Signature `yaml:"rules" json:"rules"`
}

// Signature is a single named matching rule.
type Signature struct {
	Name    string         `yaml:"name" json:"name"`
	Match   SignatureMatch `yaml:"match" json:"match"`
	Action  string         `yaml:"action" json:"action"`
	Message string         `yaml:"message,omitempty" json:"message,omitempty"`
}

// SignatureMatch specifies conditions for matching a request. All present
// fields must match.
type SignatureMatch struct {
	Method         string                 `yaml:"method,omitempty" json:"method,omitempty"`
	Path           string                 `yaml:"path,omitempty" json:"path,omitempty"`
	PathRegex      string                 `yaml:"path_regex,omitempty" json:"path_regex,omitempty"`
	UserAgent      string                 `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	UserAgentRegex string                 `yaml:"user_agent_regex,omitempty" json:"user_agent_regex,omitempty"`
	Headers        map[string]HeaderMatch `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// HeaderMatch is a matching condition for one header value.
type HeaderMatch struct {
	Exact string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// EvalInput is the request shape presented to a signature engine.
type EvalInput struct {
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	UserAgent string            `json:"user_agent,omitempty"`
	Client    string            `json:"client,omitempty"`
	Header    map[string]string `json:"header,omitempty"`
}

// EvalResult is the outcome of a signature evaluation.
type EvalResult struct {
	Outcome api.Outcome `json:"outcome"`
	Rule    string      `json:"rule,omitempty"`
	Message string      `json:"message,omitempty"`
}
