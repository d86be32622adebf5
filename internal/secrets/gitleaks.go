package secrets

import (
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksRulePrefix namespaces gitleaks rule IDs in Result.ByRule.
const gitleaksRulePrefix = "gitleaks:"

// gitleaksDetector runs the gitleaks default rule set (800+ patterns) over
// content. A Detector accumulates findings internally, so calls are
// serialized.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksDetector() (*gitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &gitleaksDetector{detector: d}, nil
}

// finding is one secret value and the rule that matched it.
type finding struct {
	ruleID string
	secret string
}

func (g *gitleaksDetector) detect(content string) []finding {
	g.mu.Lock()
	defer g.mu.Unlock()

	found := g.detector.DetectString(content)
	out := make([]finding, 0, len(found))
	for _, f := range found {
		if strings.TrimSpace(f.Secret) == "" {
			continue
		}
		out = append(out, finding{ruleID: gitleaksRulePrefix + f.RuleID, secret: f.Secret})
	}
	return out
}

// spansOf returns every occurrence of needle in content.
func spansOf(content, needle string) []span {
	var spans []span
	for off := 0; off < len(content); {
		i := strings.Index(content[off:], needle)
		if i < 0 {
			break
		}
		start := off + i
		spans = append(spans, span{start, start + len(needle)})
		off = start + len(needle)
	}
	return spans
}
