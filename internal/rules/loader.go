package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a YAML signature file.
func LoadFile(path string) (*SignatureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signature file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates YAML signature data.
func LoadBytes(data []byte) (*SignatureFile, error) {
	var sf SignatureFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing signature YAML: %w", err)
	}
	if err := Validate(&sf); err != nil {
		return nil, err
	}
	return &sf, nil
}

// Validate checks a signature set for startup-fatal configuration errors.
func Validate(sf *SignatureFile) error {
	if sf.Version != 1 {
		return fmt.Errorf("unsupported signature version: %d (expected 1)", sf.Version)
	}

	for i, rule := range sf.Rules {
		if rule.Name == "" {
			return fmt.Errorf("signature %d: name is required", i)
		}
		if rule.Action != "allow" && rule.Action != "deny" {
			return fmt.Errorf("signature %q: invalid action %q", rule.Name, rule.Action)
		}
		if isEmptyMatch(rule.Match) {
			return fmt.Errorf("signature %q: at least one match condition is required", rule.Name)
		}
		for _, pattern := range []string{rule.Match.PathRegex, rule.Match.UserAgentRegex} {
			if pattern != "" {
				if _, err := regexp.Compile(pattern); err != nil {
					return fmt.Errorf("signature %q: invalid regex: %w", rule.Name, err)
				}
			}
		}
		for key, hm := range rule.Match.Headers {
			if hm.Regex != "" {
				if _, err := regexp.Compile(hm.Regex); err != nil {
					return fmt.Errorf("signature %q header %q: invalid regex: %w", rule.Name, key, err)
				}
			}
		}
	}

	return nil
}

func isEmptyMatch(m SignatureMatch) bool {
	return m.Method == "" && m.Path == "" && m.PathRegex == "" &&
		m.UserAgent == "" && m.UserAgentRegex == "" && len(m.Headers) == 0
}
