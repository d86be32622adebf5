package retrieval

import (
	"strings"
	"unicode/utf8"
)

// ChunkPlain packs paragraphs of text into chunks of at most size bytes.
func ChunkPlain(text string, size int) []string {
	if size <= 0 {
		size = 1500
	}
	return pack(text, size)
}

// Chunk splits text at markdown headings, then packs paragraphs into
// chunks of at most size bytes. Lines longer than size are hard split.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = 1500
	}
	var chunks []string
	for _, section := range splitSections(text) {
		chunks = append(chunks, pack(section, size)...)
	}
	return chunks
}

func splitSections(text string) []string {
	var sections []string
	var cur strings.Builder
	inFence := false
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(trimmed, "#") && cur.Len() > 0 && !strings.HasPrefix(trimmed, "#!") {
			sections = append(sections, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		sections = append(sections, cur.String())
	}
	return sections
}

func pack(section string, size int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, para := range strings.SplitAfter(section, "\n\n") {
		if cur.Len()+len(para) > size {
			flush()
		}
		for len(para) > size {
			cut := strings.LastIndex(para[:size], "\n")
			if cut <= 0 {
				cut = size
				for cut > 1 && !utf8.RuneStart(para[cut]) {
					cut--
				}
			}
			cur.WriteString(para[:cut])
			flush()
			para = para[cut:]
		}
		cur.WriteString(para)
	}
	flush()
	return out
}
