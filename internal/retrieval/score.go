package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// Scorer blends a lexical token-overlap score with a semantic character
// n-gram similarity. The blend weight is configuration, not a constant:
// it was never empirically tuned and callers are expected to adjust it.
type Scorer struct {
	// LexicalWeight is the share of the lexical score in the blend; the
	// semantic score receives the complement.
	LexicalWeight float64
}

// Score returns the blended relevance of content against the query.
// Both component scores are in [0,1], so the blend is too. The result is
// deterministic for a given query, content, and weight.
func (s Scorer) Score(query, content string) float64 {
	lex := lexicalScore(query, content)
	sem := trigramCosine(query, content)
	return s.LexicalWeight*lex + (1-s.LexicalWeight)*sem
}

// lexicalScore is the fraction of query tokens that appear in the content,
// the same token-overlap measure the corpus scoring has always used.
func lexicalScore(query, content string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := make(map[string]struct{})
	for _, tok := range tokenizeList(content) {
		contentTokens[tok] = struct{}{}
	}
	matched := 0
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// trigramCosine computes cosine similarity between character trigram
// frequency vectors. It stands in for embedding similarity: cheap, entirely
// local, and deterministic.
func trigramCosine(a, b string) float64 {
	va := trigrams(a)
	vb := trigrams(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for gram, ca := range va {
		normA += float64(ca * ca)
		if cb, ok := vb[gram]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range vb {
		normB += float64(cb * cb)
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func trigrams(s string) map[string]int {
	s = strings.ToLower(s)
	grams := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])]++
	}
	return grams
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenizeList(s) {
		set[tok] = struct{}{}
	}
	return set
}

func tokenizeList(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
