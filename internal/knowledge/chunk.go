package knowledge

import "strings"

// SplitParagraphs splits raw text into ingestion units on blank lines.
// Each paragraph is trimmed and empty paragraphs are discarded, so
// "a\n\n\n\nb" yields exactly ["a", "b"]. Text with no blank lines comes
// back as a single chunk.
func SplitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks
}
