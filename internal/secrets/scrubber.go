package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(content string) Result
	// Redaction is the marker that replaces detected secrets.
	Redaction() string
}

// Result is the outcome of scrubbing.
type Result struct {
	Scrubbed string
	// ByRule counts findings per rule ID. Matched values are never kept.
	ByRule        map[string]int
	TotalFindings int
}

// HasFindings returns true if any secrets were found.
func (r Result) HasFindings() bool {
	return r.TotalFindings > 0
}

type scrubber struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string
	gitleaks  *gitleaksDetector
}

type span struct{ start, end int }

// New creates a Scrubber. A nil config uses DefaultConfig; a disabled
// config yields a NoopScrubber.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	redaction := cfg.Redaction
	if redaction == "" {
		redaction = DefaultRedaction
	}
	s := &scrubber{rules: rules, allow: allow, redaction: redaction}
	if cfg.Gitleaks {
		g, err := newGitleaksDetector()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.gitleaks = g
	}
	return s, nil
}

// Scrub implements Scrubber.
func (s *scrubber) Scrub(content string) Result {
	result := Result{Scrubbed: content, ByRule: map[string]int{}}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			result.ByRule[rule.id]++
			result.TotalFindings++
		}
	}
	if s.gitleaks != nil {
		for _, f := range s.gitleaks.detect(content) {
			if s.allowed(f.secret) {
				continue
			}
			found := spansOf(content, f.secret)
			if len(found) == 0 {
				continue
			}
			spans = append(spans, found...)
			result.ByRule[f.ruleID]++
			result.TotalFindings++
		}
	}
	if len(spans) == 0 {
		return result
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	pos := 0
	for _, sp := range mergeSpans(spans) {
		b.WriteString(content[pos:sp.start])
		b.WriteString(s.redaction)
		pos = sp.end
	}
	b.WriteString(content[pos:])
	result.Scrubbed = b.String()
	return result
}

// Redaction implements Scrubber.
func (s *scrubber) Redaction() string {
	return s.redaction
}

func (r compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans merges overlapping spans; input must be sorted by start.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

// Scrub implements Scrubber.
func (NoopScrubber) Scrub(content string) Result {
	return Result{Scrubbed: content, ByRule: map[string]int{}}
}

// Redaction implements Scrubber.
func (NoopScrubber) Redaction() string {
	return DefaultRedaction
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
