package retrieval

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/internal/config"
	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Engine assembles a bounded-token context payload from the corpus.
//
// Selection runs in four ordered phases, each with its own sub-budget:
// directly-related chunks, dependency chunks, interface summaries, and
// usage examples. Output is deterministic for a given corpus snapshot and
// blend weight, which makes it cacheable by (task, corpus version).
type Engine struct {
	corpus *Corpus
	scorer Scorer
	cfg    config.RetrievalConfig
	log    zerolog.Logger

	cacheMu sync.Mutex
	cache   map[string][]models.ContextChunk
}

// NewEngine creates a retrieval engine over the given corpus.
func NewEngine(corpus *Corpus, cfg config.RetrievalConfig, log zerolog.Logger) *Engine {
	return &Engine{
		corpus: corpus,
		scorer: Scorer{LexicalWeight: cfg.LexicalWeight},
		cfg:    cfg,
		log:    log,
		cache:  make(map[string][]models.ContextChunk),
	}
}

// Select returns a context payload for the task whose total estimated
// tokens never exceed the configured budget. When even the mandatory
// direct chunks cannot be reduced under the budget, the payload is
// truncated best-effort and ErrBudgetExceeded is returned alongside it;
// the condition is logged, never silently dropped.
func (e *Engine) Select(task *models.Task) ([]models.ContextChunk, error) {
	chunks, summaries, imports, version := e.corpus.snapshot()

	key := fmt.Sprintf("%s@%d", task.ID, version)
	e.cacheMu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.cacheMu.Unlock()
		return cached, nil
	}
	e.cacheMu.Unlock()

	selection, err := e.assemble(task, chunks, summaries, imports)
	if err == nil {
		e.cacheMu.Lock()
		e.cache[key] = selection
		e.cacheMu.Unlock()
	}
	return selection, err
}

func (e *Engine) assemble(
	task *models.Task,
	bySource map[string][]models.ContextChunk,
	summaries map[string]models.ContextChunk,
	imports map[string][]string,
) ([]models.ContextChunk, error) {
	budget := e.cfg.TokenBudget
	query := task.Description
	if task.Target != "" {
		query = task.Target + " " + query
	}

	directSources := make(map[string]bool)
	var direct, dependency, examples []models.ContextChunk
	for source, chunks := range bySource {
		if isExample(source) {
			examples = append(examples, e.scored(query, chunks)...)
			continue
		}
		if e.isDirect(task, source, chunks) {
			directSources[source] = true
			direct = append(direct, e.scored(query, chunks)...)
		}
	}
	for source, chunks := range bySource {
		if directSources[source] || isExample(source) {
			continue
		}
		for ds := range directSources {
			if related(imports, ds, source) {
				dependency = append(dependency, e.scored(query, chunks)...)
				break
			}
		}
	}
	var ifaces []models.ContextChunk
	for source, summary := range summaries {
		if directSources[source] {
			continue
		}
		s := summary
		s.Score = e.scorer.Score(query, s.Content)
		ifaces = append(ifaces, s)
	}

	// Phase 1: direct chunks, unconditionally up to their own size.
	selection := append([]models.ContextChunk(nil), direct...)
	used := totalTokens(selection)

	// Phase 2: dependency chunks, greedily up to 30% of the remaining budget.
	remaining := budget - used
	if remaining > 0 {
		phase2 := int(float64(remaining) * e.cfg.DependencyShare)
		selection = append(selection, greedyFill(dependency, phase2)...)
		used = totalTokens(selection)
	}

	// Phase 3: interface summaries, up to 20% of the total budget.
	phase3 := int(float64(budget) * e.cfg.InterfaceShare)
	if budget-used > 0 {
		selection = append(selection, greedyFill(ifaces, min(phase3, budget-used))...)
		used = totalTokens(selection)
	}

	// Phase 4: usage examples, only if phases 1-3 stayed under the
	// threshold, filling at most the example share.
	if float64(used) < float64(budget)*e.cfg.ExampleThreshold {
		phase4 := int(float64(budget) * e.cfg.ExampleShare)
		selection = append(selection, greedyFill(examples, min(phase4, budget-used))...)
		used = totalTokens(selection)
	}

	// Truncate lowest-relevance chunks first until the budget invariant
	// holds again.
	if used > budget {
		selection, used = truncate(selection, budget)
	}

	if used > budget {
		// A single mandatory chunk is larger than the whole budget. Clip
		// its content and report the condition.
		selection = clipToBudget(selection, budget)
		e.log.Warn().
			Str("task_id", task.ID).
			Int("budget", budget).
			Msg("context could not be reduced under token budget, proceeding truncated")
		return selection, fmt.Errorf("task %s: %w", task.ID, autoerr.ErrBudgetExceeded)
	}

	e.log.Debug().
		Str("task_id", task.ID).
		Int("chunks", len(selection)).
		Int("tokens", used).
		Int("budget", budget).
		Msg("context assembled")
	return selection, nil
}

// isDirect reports whether a source is explicitly tied to the task's
// target file or symbol.
func (e *Engine) isDirect(task *models.Task, source string, chunks []models.ContextChunk) bool {
	if task.Target == "" {
		return false
	}
	if strings.HasSuffix(source, task.Target) || strings.HasSuffix(task.Target, source) {
		return true
	}
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, task.Target) {
			return true
		}
	}
	return false
}

func (e *Engine) scored(query string, chunks []models.ContextChunk) []models.ContextChunk {
	out := make([]models.ContextChunk, len(chunks))
	for i, chunk := range chunks {
		chunk.Score = e.scorer.Score(query, chunk.Content)
		out[i] = chunk
	}
	return out
}

// greedyFill returns the highest-relevance chunks that fit the budget,
// visiting candidates in descending score order with ID as the
// deterministic tie-break.
func greedyFill(candidates []models.ContextChunk, budget int) []models.ContextChunk {
	if budget <= 0 || len(candidates) == 0 {
		return nil
	}
	ordered := append([]models.ContextChunk(nil), candidates...)
	sortByRelevance(ordered)

	var out []models.ContextChunk
	used := 0
	for _, chunk := range ordered {
		if used+chunk.TokenCount > budget {
			continue
		}
		out = append(out, chunk)
		used += chunk.TokenCount
	}
	return out
}

// truncate drops lowest-relevance chunks until the total fits the budget.
func truncate(selection []models.ContextChunk, budget int) ([]models.ContextChunk, int) {
	ordered := append([]models.ContextChunk(nil), selection...)
	sortByRelevance(ordered)

	used := totalTokens(ordered)
	for used > budget && len(ordered) > 1 {
		used -= ordered[len(ordered)-1].TokenCount
		ordered = ordered[:len(ordered)-1]
	}
	return ordered, used
}

// clipToBudget hard-clips the remaining chunk contents to the byte
// equivalent of the budget. Last resort when dropping whole chunks cannot
// get under the budget.
func clipToBudget(selection []models.ContextChunk, budget int) []models.ContextChunk {
	var out []models.ContextChunk
	used := 0
	for _, chunk := range selection {
		if used >= budget {
			break
		}
		if used+chunk.TokenCount > budget {
			keep := (budget - used) * 4
			if keep <= 0 {
				break
			}
			if keep < len(chunk.Content) {
				chunk.Content = chunk.Content[:keep]
				chunk.TokenCount = estimateTokens(chunk.Content)
			}
		}
		out = append(out, chunk)
		used += chunk.TokenCount
	}
	return out
}

func sortByRelevance(chunks []models.ContextChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
}

func totalTokens(chunks []models.ContextChunk) int {
	total := 0
	for _, chunk := range chunks {
		total += chunk.TokenCount
	}
	return total
}
