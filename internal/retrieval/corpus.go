package retrieval

import (
	"regexp"
	"strings"
	"sync"

	"github.com/autoforge/autoforge/pkg/models"
)

// Corpus holds the project's accumulated source as immutable chunks.
// Every mutation bumps the version, which keys the engine's selection cache.
type Corpus struct {
	mu sync.RWMutex
	// chunks maps source path to its chunks.
	chunks map[string][]models.ContextChunk
	// summaries maps source path to its interface summary chunk.
	summaries map[string]models.ContextChunk
	// imports maps source path to the paths/modules it references.
	imports map[string][]string
	// version increases monotonically on every mutation.
	version uint64
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{
		chunks:    make(map[string][]models.ContextChunk),
		summaries: make(map[string]models.ContextChunk),
		imports:   make(map[string][]string),
	}
}

var importLine = regexp.MustCompile(`(?m)^\s*(?:import|from|#include|require)\b.*?["'<]([^"'>]+)["'>]`)

// AddFile chunks a file's content and records it under the source path,
// replacing any previous content for that path.
func (c *Corpus) AddFile(source, content string) {
	refs := extractImports(content)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[source] = splitChunks(source, content)
	if summary, ok := summarize(source, content); ok {
		c.summaries[source] = summary
	} else {
		delete(c.summaries, source)
	}
	c.imports[source] = refs
	c.version++
}

// RemoveFile drops a file from the corpus.
func (c *Corpus) RemoveFile(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, source)
	delete(c.summaries, source)
	delete(c.imports, source)
	c.version++
}

// Version returns the current corpus version.
func (c *Corpus) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Sources returns all source paths currently in the corpus.
func (c *Corpus) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sources := make([]string, 0, len(c.chunks))
	for s := range c.chunks {
		sources = append(sources, s)
	}
	return sources
}

// snapshot returns the chunk, summary, and import maps as of one version.
// Chunks are immutable, so sharing the slices is safe.
func (c *Corpus) snapshot() (map[string][]models.ContextChunk, map[string]models.ContextChunk, map[string][]string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chunks := make(map[string][]models.ContextChunk, len(c.chunks))
	for k, v := range c.chunks {
		chunks[k] = v
	}
	summaries := make(map[string]models.ContextChunk, len(c.summaries))
	for k, v := range c.summaries {
		summaries[k] = v
	}
	imports := make(map[string][]string, len(c.imports))
	for k, v := range c.imports {
		imports[k] = v
	}
	return chunks, summaries, imports, c.version
}

func extractImports(content string) []string {
	var refs []string
	for _, m := range importLine.FindAllStringSubmatch(content, -1) {
		refs = append(refs, m[1])
	}
	return refs
}

// related reports whether two sources are linked by an import edge in
// either direction. Matching is by path suffix so "pkg/store" matches
// "pkg/store/store.go".
func related(imports map[string][]string, a, b string) bool {
	return importsRef(imports[a], b) || importsRef(imports[b], a)
}

func importsRef(refs []string, source string) bool {
	base := strings.TrimSuffix(source, sourceExt(source))
	for _, ref := range refs {
		if ref == source || strings.HasSuffix(base, ref) || strings.HasSuffix(source, ref) {
			return true
		}
	}
	return false
}

func sourceExt(source string) string {
	if i := strings.LastIndex(source, "."); i >= 0 {
		return source[i:]
	}
	return ""
}

// isExample reports whether a source path holds usage examples.
func isExample(source string) bool {
	lower := strings.ToLower(source)
	return strings.Contains(lower, "example") ||
		strings.Contains(lower, "_test.") ||
		strings.HasPrefix(lower, "test")
}
