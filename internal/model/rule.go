package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuleKind tags the variant held by a Rule.
type RuleKind string

const (
	RuleMinLength RuleKind = "minLength"
	RuleMaxLength RuleKind = "maxLength"
	RuleRegex     RuleKind = "regex"
)

// Rule is one parsed validation directive.  N is set for length rules and
// Pattern for regex rules.
type Rule struct {
	Kind    RuleKind
	N       int
	Pattern *regexp.Regexp
}

// ParseValidationRule parses a directive string such as
// "minLength:2;maxLength:40;regex:^[A-Z].*$".  Directives are separated by
// ';'.  A regex directive takes the rest of the string, so it must come
// last when other directives are present.  Unknown directives and
// malformed values are reported as errors; the rules parsed before the
// failure are still returned.
func ParseValidationRule(s string) ([]Rule, error) {
	rules := []Rule{}
	rest := strings.TrimSpace(s)
	for rest != "" {
		if strings.HasPrefix(rest, string(RuleRegex)+":") {
			pat := strings.TrimPrefix(rest, string(RuleRegex)+":")
			re, err := regexp.Compile(pat)
			if err != nil {
				return rules, fmt.Errorf("invalid regex %q: %w", pat, err)
			}
			rules = append(rules, Rule{Kind: RuleRegex, Pattern: re})
			break
		}
		var part string
		part, rest, _ = strings.Cut(rest, ";")
		rest = strings.TrimSpace(rest)
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, ":")
		if !ok {
			return rules, fmt.Errorf("malformed directive %q", part)
		}
		kind := RuleKind(strings.TrimSpace(name))
		if kind != RuleMinLength && kind != RuleMaxLength {
			return rules, fmt.Errorf("unknown directive %q", name)
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n < 0 {
			return rules, fmt.Errorf("invalid length in %q", part)
		}
		rules = append(rules, Rule{Kind: kind, N: n})
	}
	return rules, nil
}

// LoadRules parses f.ValidationRule into f.Rules, keeping whatever parsed
// cleanly.  Repositories call it once when a field is loaded.
func (f *Field) LoadRules() error {
	rules, err := ParseValidationRule(f.ValidationRule)
	f.Rules = rules
	return err
}
