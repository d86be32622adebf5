package planner

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

const responseFormat = `Respond in exactly this format and nothing else:

STATUS: <one of READY, NEEDS_MORE_INFO, NO_SOLUTION, DOMAIN_SPECIFIC>
CONFIDENCE: <number between 0 and 1>
BEFORE_CODE:
` + "```python" + `
<the entire failing cell, copied verbatim from FAILING CODE>
` + "```" + `
AFTER_CODE:
` + "```python" + `
<the complete corrected source of that whole cell>
` + "```" + `
REASONING: <one or two sentences>

AFTER_CODE replaces the whole cell, so it must repeat every line of the cell
that does not change. Only include BEFORE_CODE and AFTER_CODE when STATUS is
READY.`

// PromptBuilder renders planner prompts. Output depends only on its inputs.
type PromptBuilder struct {
	// Domain names the library that DOMAIN_SPECIFIC refers to.
	Domain string

	MaxSnippets     int
	MaxContextChars int
}

// Direct renders a prompt that relies on the model's own knowledge.
func (b PromptBuilder) Direct(details extraction.ErrorDetails) string {
	var sb strings.Builder
	sb.WriteString("You are fixing a Jupyter notebook cell that fails to execute.\n\n")
	writeError(&sb, details)
	sb.WriteString("Fix the error using general Python knowledge only. ")
	if b.Domain != "" {
		fmt.Fprintf(&sb, "If the fix depends on details of the %s API that you are not certain about, answer STATUS: DOMAIN_SPECIFIC. ", b.Domain)
	} else {
		sb.WriteString("If the fix depends on a library API you are not certain about, answer STATUS: DOMAIN_SPECIFIC. ")
	}
	sb.WriteString("If the code cannot be fixed, answer STATUS: NO_SOLUTION.\n\n")
	sb.WriteString(responseFormat)
	sb.WriteString("\n")
	return sb.String()
}

// WithContext renders a prompt grounded in retrieved snippets, in rank order.
func (b PromptBuilder) WithContext(details extraction.ErrorDetails, snippets []retrieval.Snippet) string {
	var sb strings.Builder
	sb.WriteString("You are fixing a Jupyter notebook cell that fails to execute.\n\n")
	writeError(&sb, details)

	sb.WriteString("DOCUMENTATION CONTEXT:\n")
	used := 0
	written := 0
	for _, s := range snippets {
		if b.MaxSnippets > 0 && written >= b.MaxSnippets {
			break
		}
		text := strings.TrimSpace(s.Text)
		if b.MaxContextChars > 0 && used+len(text) > b.MaxContextChars {
			remaining := b.MaxContextChars - used
			if remaining <= 0 {
				break
			}
			for remaining > 0 && !utf8.RuneStart(text[remaining]) {
				remaining--
			}
			text = strings.TrimSpace(text[:remaining])
			if text == "" {
				break
			}
		}
		if text == "" {
			continue
		}
		written++
		used += len(text)
		fmt.Fprintf(&sb, "[%d] %s (score %.2f)\n%s\n\n", written, s.SourceID, s.Score, text)
	}
	if written == 0 {
		sb.WriteString("(no documentation found)\n\n")
	}

	sb.WriteString("Fix the error using the documentation above. ")
	sb.WriteString("If the documentation is not enough to write a fix, answer STATUS: NEEDS_MORE_INFO. ")
	sb.WriteString("If the code cannot be fixed, answer STATUS: NO_SOLUTION.\n\n")
	sb.WriteString(responseFormat)
	sb.WriteString("\n")
	return sb.String()
}

func writeError(sb *strings.Builder, d extraction.ErrorDetails) {
	fmt.Fprintf(sb, "ERROR TYPE: %s\n", d.ErrorType)
	fmt.Fprintf(sb, "ERROR MESSAGE: %s\n\n", d.ErrorMessage)
	sb.WriteString("FAILING CODE:\n```python\n")
	sb.WriteString(d.FailingCode)
	if !strings.HasSuffix(d.FailingCode, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n\n")
}

// SearchQueries derives retrieval queries for an error, most specific
// first, without duplicates.
func SearchQueries(d extraction.ErrorDetails, domain string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q != "" && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	add(d.ErrorType + ": " + d.ErrorMessage)
	if line := firstCodeLine(d.FailingCode); line != "" {
		add(strings.TrimSpace(domain + " " + line))
	}
	add(strings.TrimSpace(domain + " " + d.ErrorType + " " + keyTerms(d.ErrorMessage)))
	return out
}

// firstCodeLine returns the first line that is neither blank nor a comment.
func firstCodeLine(code string) string {
	for _, l := range strings.Split(code, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "#") {
			return l
		}
	}
	return ""
}

// keyTerms keeps quoted identifiers from an error message, which usually
// name the missing attribute or symbol.
func keyTerms(msg string) string {
	var terms []string
	parts := strings.Split(msg, "'")
	for i := 1; i < len(parts); i += 2 {
		terms = append(terms, parts[i])
	}
	return strings.Join(terms, " ")
}
