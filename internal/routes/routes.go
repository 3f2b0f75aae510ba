// Package routes classifies request paths against static configuration:
// public vs protected access, and which quota scopes apply.
package routes

import (
	"fmt"
	"strings"
)

// Access is a route's static classification.
type Access string

const (
	AccessPublic    Access = "public"
	AccessProtected Access = "protected"
)

// Rule binds one path pattern to an access classification.
type Rule struct {
	Pattern string
	Access  Access
}

// Matcher resolves a path to its access classification using an ordered
// rule list, first match wins. Paths matching no rule are treated as
// protected.
type Matcher struct {
	rules []Rule
}

// NewMatcher validates the rule list and builds a matcher.
func NewMatcher(rules []Rule) (*Matcher, error) {
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("route rule %d: pattern is required", i)
		}
		if r.Access != AccessPublic && r.Access != AccessProtected {
			return nil, fmt.Errorf("route rule %d: invalid access %q", i, r.Access)
		}
	}
	return &Matcher{rules: rules}, nil
}

// Classify returns the access classification for path.
func (m *Matcher) Classify(path string) Access {
	for _, r := range m.rules {
		if Match(r.Pattern, path) {
			return r.Access
		}
	}
	return AccessProtected
}

// Match reports whether path matches pattern. A pattern is either an
// exact path or a prefix ending in '*'.
func Match(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return pattern == path
}
