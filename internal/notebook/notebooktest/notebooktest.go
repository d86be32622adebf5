// Package notebooktest builds notebook fixtures for tests.
package notebooktest

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
)

// Cell describes a fixture cell. Outputs are filled in for code cells so
// tests can observe them being cleared.
type Cell struct {
	Type   string
	Source string
}

// Code returns a code cell fixture.
func Code(src string) Cell { return Cell{Type: "code", Source: src} }

// Markdown returns a markdown cell fixture.
func Markdown(src string) Cell { return Cell{Type: "markdown", Source: src} }

// JSON renders cells as an nbformat v4 document.
func JSON(t testing.TB, cells ...Cell) []byte {
	t.Helper()

	rendered := make([]map[string]any, 0, len(cells))
	for i, c := range cells {
		cell := map[string]any{
			"cell_type": c.Type,
			"id":        "cell-" + string(rune('a'+i)),
			"metadata":  map[string]any{},
			"source":    splitLines(c.Source),
		}
		if c.Type == "code" {
			cell["execution_count"] = i + 1
			cell["outputs"] = []any{map[string]any{
				"name":        "stdout",
				"output_type": "stream",
				"text":        []string{"previous output\n"},
			}}
		}
		rendered = append(rendered, cell)
	}

	data, err := json.MarshalIndent(map[string]any{
		"cells": rendered,
		"metadata": map[string]any{
			"kernelspec": map[string]any{"name": "python3", "display_name": "Python 3", "language": "python"},
		},
		"nbformat":       4,
		"nbformat_minor": 5,
	}, "", " ")
	if err != nil {
		t.Fatalf("rendering notebook fixture: %v", err)
	}
	return data
}

// Write renders cells to path on fs, creating parent directories.
func Write(t testing.TB, fs afero.Fs, path string, cells ...Cell) {
	t.Helper()
	if err := afero.WriteFile(fs, path, JSON(t, cells...), 0644); err != nil {
		t.Fatalf("writing notebook fixture: %v", err)
	}
}

func splitLines(s string) []string {
	out := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
