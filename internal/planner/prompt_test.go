package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/nbfix/internal/extraction"
	"github.com/fyrsmithlabs/nbfix/internal/retrieval"
)

var cubeError = extraction.ErrorDetails{
	ErrorType:    "AttributeError",
	ErrorMessage: "'Session' object has no attribute 'create_cube_from'",
	FailingCode:  "cube = session.create_cube_from(table)\nh = cube.hierarchies",
}

func TestPromptBuilder_Deterministic(t *testing.T) {
	b := PromptBuilder{Domain: "atoti", MaxSnippets: 5, MaxContextChars: 1000}
	snips := []retrieval.Snippet{{Text: "use create_cube", SourceID: "a.md#0", Score: 0.9}}

	assert.Equal(t, b.Direct(cubeError), b.Direct(cubeError))
	assert.Equal(t, b.WithContext(cubeError, snips), b.WithContext(cubeError, snips))
}

func TestPromptBuilder_EmbedsErrorVerbatim(t *testing.T) {
	b := PromptBuilder{Domain: "atoti"}
	for _, prompt := range []string{b.Direct(cubeError), b.WithContext(cubeError, nil)} {
		assert.Contains(t, prompt, cubeError.FailingCode)
		assert.Contains(t, prompt, cubeError.ErrorMessage)
		assert.Contains(t, prompt, "STATUS: <one of READY, NEEDS_MORE_INFO, NO_SOLUTION, DOMAIN_SPECIFIC>")
	}
	assert.Contains(t, b.Direct(cubeError), "atoti API")
}

func TestPromptBuilder_AsksForWholeCell(t *testing.T) {
	for _, prompt := range []string{PromptBuilder{}.Direct(cubeError), PromptBuilder{}.WithContext(cubeError, nil)} {
		assert.Contains(t, prompt, "<the entire failing cell, copied verbatim from FAILING CODE>")
		assert.Contains(t, prompt, "<the complete corrected source of that whole cell>")
		assert.Contains(t, prompt, "AFTER_CODE replaces the whole cell")
		assert.NotContains(t, prompt, "replacement for those lines")
	}
}

func TestPromptBuilder_SnippetsInRankOrderWithinLimits(t *testing.T) {
	b := PromptBuilder{MaxSnippets: 2, MaxContextChars: 100}
	snips := []retrieval.Snippet{
		{Text: "first snippet", SourceID: "one", Score: 0.9},
		{Text: "second snippet", SourceID: "two", Score: 0.8},
		{Text: "third snippet", SourceID: "three", Score: 0.7},
	}
	prompt := b.WithContext(cubeError, snips)
	assert.Less(t, strings.Index(prompt, "first snippet"), strings.Index(prompt, "second snippet"))
	assert.NotContains(t, prompt, "third snippet")

	b = PromptBuilder{MaxContextChars: 10}
	prompt = b.WithContext(cubeError, snips)
	assert.Contains(t, prompt, "first snip")
	assert.NotContains(t, prompt, "second")
}

func TestPromptBuilder_BudgetNeverWritesEmptySnippet(t *testing.T) {
	b := PromptBuilder{MaxContextChars: 6}
	snips := []retrieval.Snippet{
		{Text: "abcde", SourceID: "one", Score: 0.9},
		{Text: "日本語のドキュメント", SourceID: "two", Score: 0.8},
		{Text: "   ", SourceID: "blank", Score: 0.7},
	}
	prompt := b.WithContext(cubeError, snips)
	assert.Contains(t, prompt, "[1] one")
	assert.NotContains(t, prompt, "[2]")
	assert.NotContains(t, prompt, "] two")
	assert.NotContains(t, prompt, "] blank")
}

func TestPromptBuilder_NoSnippets(t *testing.T) {
	assert.Contains(t, PromptBuilder{}.WithContext(cubeError, nil), "(no documentation found)")
}

func TestSearchQueries(t *testing.T) {
	qs := SearchQueries(cubeError, "atoti")
	assert.Equal(t, []string{
		"AttributeError: 'Session' object has no attribute 'create_cube_from'",
		"atoti cube = session.create_cube_from(table)",
		"atoti AttributeError Session create_cube_from",
	}, qs)

	qs = SearchQueries(extraction.ErrorDetails{ErrorType: "NameError", ErrorMessage: "x", FailingCode: "# only a comment"}, "")
	assert.Equal(t, []string{"NameError: x", "NameError"}, qs)
}
