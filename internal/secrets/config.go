package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	Enabled   bool
	Rules     []Rule
	Redaction string
	// AllowList holds patterns for matches that must never be redacted.
	AllowList []string
	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool
}

// Rule defines a secret detection rule.
type Rule struct {
	ID       string
	Pattern  string
	Keywords []string // at least one must appear for the rule to run
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns a configuration with the standard rules.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Rules: DefaultRules(), Redaction: DefaultRedaction}
}

// WithExtraPatterns returns a copy of c with one rule per extra pattern.
func (c *Config) WithExtraPatterns(patterns []string) *Config {
	out := *c
	out.Rules = append([]Rule(nil), c.Rules...)
	for i, p := range patterns {
		out.Rules = append(out.Rules, Rule{ID: fmt.Sprintf("custom-%d", i), Pattern: p})
	}
	return &out
}

func (c *Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := make([]compiledRule, 0, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: ID is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern %q: %v", r.ID, r.Pattern, err)
		}
		cr := compiledRule{id: r.ID, pattern: re}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
