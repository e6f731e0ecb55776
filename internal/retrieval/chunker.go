// Package retrieval turns a task and the project's code corpus into a
// bounded-token context payload.
package retrieval

import (
	"fmt"
	"strings"

	"github.com/autoforge/autoforge/pkg/models"
)

// maxChunkLines caps chunk size when no declaration boundary appears.
const maxChunkLines = 50

// estimateTokens approximates the model token count of a string.
// Roughly four characters per token for code; whole words are never split
// finer than this in practice, so the estimate errs slightly high.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// declPrefixes mark declaration boundaries the chunker splits on.
var declPrefixes = []string{
	"func ", "type ", "class ", "def ", "function ", "var ", "const ",
}

func isDeclaration(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range declPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// splitChunks cuts file content into chunks on declaration boundaries,
// falling back to a fixed line cap for long stretches without one.
func splitChunks(source, content string) []models.ContextChunk {
	lines := strings.Split(content, "\n")
	var chunks []models.ContextChunk
	var current []string
	start := 0

	flush := func(end int) {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n")
		if strings.TrimSpace(text) == "" {
			current = nil
			return
		}
		chunks = append(chunks, models.ContextChunk{
			ID:         fmt.Sprintf("%s:%d-%d", source, start, end),
			Source:     source,
			Content:    text,
			TokenCount: estimateTokens(text),
		})
		current = nil
	}

	for i, line := range lines {
		if isDeclaration(line) && len(current) > 0 {
			flush(i - 1)
			start = i
		}
		current = append(current, line)
		if len(current) >= maxChunkLines {
			flush(i)
			start = i + 1
		}
	}
	flush(len(lines) - 1)
	return chunks
}

// summarize condenses a file to its declaration lines. These become the
// interface/summary chunks of phase three.
func summarize(source, content string) (models.ContextChunk, bool) {
	var decls []string
	for _, line := range strings.Split(content, "\n") {
		if isDeclaration(line) {
			decls = append(decls, strings.TrimRight(strings.TrimSuffix(strings.TrimSpace(line), "{"), " "))
		}
	}
	if len(decls) == 0 {
		return models.ContextChunk{}, false
	}
	text := strings.Join(decls, "\n")
	return models.ContextChunk{
		ID:         source + ":summary",
		Source:     source,
		Content:    text,
		TokenCount: estimateTokens(text),
	}, true
}
