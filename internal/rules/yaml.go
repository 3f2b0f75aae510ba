package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/edgegate/edgegate/api"
)

// YAMLEngine implements first-match-wins signature evaluation over an
// ordered YAML rule list. No match means allow: the signature set is a
// deny-list.
type YAMLEngine struct {
	mu   sync.RWMutex
	file *SignatureFile
	path string

	regexCache map[string]*regexp.Regexp
}

// NewYAMLEngine creates a signature engine from a file path.
func NewYAMLEngine(path string) (*YAMLEngine, error) {
	e := &YAMLEngine{path: path}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewYAMLEngineFromFile creates a signature engine from an already-loaded set.
func NewYAMLEngineFromFile(sf *SignatureFile) (*YAMLEngine, error) {
	if err := Validate(sf); err != nil {
		return nil, err
	}
	e := &YAMLEngine{file: sf, regexCache: make(map[string]*regexp.Regexp)}
	if err := e.compileRegexes(); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate checks the input against rules in order, returning the first match.
func (e *YAMLEngine) Evaluate(_ context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.file.Rules {
		if e.matches(&rule, input) {
			outcome := api.OutcomeDeny
			if rule.Action == "allow" {
				outcome = api.OutcomeAllow
			}
			return &EvalResult{
				Outcome: outcome,
				Rule:    rule.Name,
				Message: rule.Message,
			}, nil
		}
	}

	return &EvalResult{Outcome: api.OutcomeAllow}, nil
}

// Reload re-reads the signature file from disk.
func (e *YAMLEngine) Reload(_ context.Context) error {
	if e.path == "" {
		return nil
	}
	sf, err := LoadFile(e.path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.file = sf
	e.regexCache = make(map[string]*regexp.Regexp)
	return e.compileRegexes()
}

// Update swaps in a new signature set. Used when the signatures live
// inline in the main config rather than in their own file.
func (e *YAMLEngine) Update(sf *SignatureFile) error {
	if err := Validate(sf); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old, oldCache := e.file, e.regexCache
	e.file = sf
	e.regexCache = make(map[string]*regexp.Regexp)
	if err := e.compileRegexes(); err != nil {
		e.file, e.regexCache = old, oldCache
		return err
	}
	return nil
}

func (e *YAMLEngine) compileRegexes() error {
	for _, rule := range e.file.Rules {
		if rule.Match.PathRegex != "" {
			if err := e.cacheRegex(rule.Name+":path", rule.Match.PathRegex); err != nil {
				return fmt.Errorf("signature %q: %w", rule.Name, err)
			}
		}
		if rule.Match.UserAgentRegex != "" {
			if err := e.cacheRegex(rule.Name+":user_agent", rule.Match.UserAgentRegex); err != nil {
				return fmt.Errorf("signature %q: %w", rule.Name, err)
			}
		}
		for key, hm := range rule.Match.Headers {
			if hm.Regex != "" {
				if err := e.cacheRegex(rule.Name+":header:"+key, hm.Regex); err != nil {
					return fmt.Errorf("signature %q header %q: %w", rule.Name, key, err)
				}
			}
		}
	}
	return nil
}

func (e *YAMLEngine) cacheRegex(key, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.regexCache[key] = re
	return nil
}

func (e *YAMLEngine) matches(rule *Signature, input *EvalInput) bool {
	m := rule.Match

	if m.Method != "" && !strings.EqualFold(m.Method, input.Method) {
		return false
	}
	if m.Path != "" && m.Path != input.Path {
		return false
	}
	if m.PathRegex != "" && !e.regexMatch(rule.Name+":path", input.Path) {
		return false
	}
	if m.UserAgent != "" && m.UserAgent != input.UserAgent {
		return false
	}
	if m.UserAgentRegex != "" && !e.regexMatch(rule.Name+":user_agent", input.UserAgent) {
		return false
	}

	for key, hm := range m.Headers {
		val, ok := input.Header[key]
		if !ok {
			return false
		}
		if hm.Exact != "" && val != hm.Exact {
			return false
		}
		if hm.Regex != "" && !e.regexMatch(rule.Name+":header:"+key, val) {
			return false
		}
	}

	return true
}

func (e *YAMLEngine) regexMatch(cacheKey, value string) bool {
	re, ok := e.regexCache[cacheKey]
	if !ok {
		return false
	}
	return re.MatchString(value)
}
