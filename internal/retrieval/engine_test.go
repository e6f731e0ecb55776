package retrieval

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/autoforge/autoforge/internal/config"
	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/logging"
	"github.com/autoforge/autoforge/pkg/models"
)

func retrievalConfig(budget int) config.RetrievalConfig {
	return config.RetrievalConfig{
		TokenBudget:      budget,
		LexicalWeight:    0.6,
		DependencyShare:  0.3,
		InterfaceShare:   0.2,
		ExampleShare:     0.2,
		ExampleThreshold: 0.8,
	}
}

func devTask(target, description string) *models.Task {
	return &models.Task{
		ID:          "task-1",
		Kind:        models.KindDevelop,
		Target:      target,
		Description: description,
		Status:      models.TaskStatusPending,
	}
}

func TestSelectSmallCorpusIncludesEverything(t *testing.T) {
	corpus := NewCorpus()
	corpus.AddFile("auth.go", "func Login(user string) error {\n\treturn nil\n}")
	corpus.AddFile("users.go", "import \"auth\"\nfunc CreateUser(name string) error {\n\treturn nil\n}")

	engine := NewEngine(corpus, retrievalConfig(2048), logging.Nop())
	selection, err := engine.Select(devTask("auth.go", "add login handler"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(selection) == 0 {
		t.Fatal("expected non-empty selection")
	}
	if got := totalTokens(selection); got > 2048 {
		t.Errorf("selection exceeds budget: %d tokens", got)
	}
}

func TestSelectNeverExceedsBudget(t *testing.T) {
	// Candidate chunks sum to roughly 5000 tokens against a 2048 budget.
	corpus := NewCorpus()
	for i := 0; i < 20; i++ {
		content := fmt.Sprintf("func Handler%d() {\n%s\n}", i,
			strings.Repeat(fmt.Sprintf("\t// auth handler logic %d\n", i), 40))
		corpus.AddFile(fmt.Sprintf("handler_%d.go", i), content)
	}
	corpus.AddFile("auth.go", "func Login() {\n"+strings.Repeat("\t// login auth flow\n", 60)+"}")

	engine := NewEngine(corpus, retrievalConfig(2048), logging.Nop())
	selection, err := engine.Select(devTask("auth.go", "extend the login auth flow"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if got := totalTokens(selection); got > 2048 {
		t.Fatalf("selection exceeds budget: %d tokens", got)
	}
}

func TestSelectRelevanceDominance(t *testing.T) {
	// Within the dependency phase, every included chunk must score at
	// least as high as any excluded chunk.
	corpus := NewCorpus()
	corpus.AddFile("target.go", "func Target() { login(session) }")
	big := strings.Repeat("\tx := 1\n", 30)
	corpus.AddFile("dep_good.go", "import \"target\"\nfunc LoginSession() {\n// login session handling\n"+big+"}")
	corpus.AddFile("dep_bad.go", "import \"target\"\nfunc Unrelated() {\n// zebra quux\n"+big+"}")

	engine := NewEngine(corpus, retrievalConfig(400), logging.Nop())
	selection, err := engine.Select(devTask("target.go", "login session handling"))
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	included := make(map[string]float64)
	for _, chunk := range selection {
		included[chunk.Source] = chunk.Score
	}
	goodScore, goodIn := included["dep_good.go"]
	badScore, badIn := included["dep_bad.go"]
	if goodIn && badIn && badScore > goodScore {
		t.Errorf("lower-relevance chunk included over higher: good=%v bad=%v", goodScore, badScore)
	}
	if badIn && !goodIn {
		t.Error("excluded chunk dominates an included chunk of the same phase")
	}
}

func TestSelectDeterministic(t *testing.T) {
	corpus := NewCorpus()
	for i := 0; i < 10; i++ {
		corpus.AddFile(fmt.Sprintf("f%d.go", i), fmt.Sprintf("func F%d() { /* store logic */ }", i))
	}
	corpus.AddFile("store.go", "func Store() { /* store logic */ }")

	first := NewEngine(corpus, retrievalConfig(512), logging.Nop())
	second := NewEngine(corpus, retrievalConfig(512), logging.Nop())

	task := devTask("store.go", "store logic")
	a, err := first.Select(task)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	b, err := second.Select(task)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("non-deterministic selection sizes: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("non-deterministic order at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}

func TestSelectCachedByCorpusVersion(t *testing.T) {
	corpus := NewCorpus()
	corpus.AddFile("a.go", "func A() { /* alpha */ }")

	engine := NewEngine(corpus, retrievalConfig(512), logging.Nop())
	task := devTask("a.go", "alpha")

	if _, err := engine.Select(task); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(engine.cache) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(engine.cache))
	}

	// A corpus mutation changes the version, so the old entry no longer
	// serves and a fresh one is added.
	corpus.AddFile("b.go", "func B() { /* beta */ }")
	if _, err := engine.Select(task); err != nil {
		t.Fatalf("select after mutation: %v", err)
	}
	if len(engine.cache) != 2 {
		t.Errorf("expected 2 cache entries after version bump, got %d", len(engine.cache))
	}
}

func TestSelectBudgetExceededBestEffort(t *testing.T) {
	// One mandatory direct chunk far larger than the whole budget.
	corpus := NewCorpus()
	corpus.AddFile("huge.go", "func Huge() {\n"+strings.Repeat("\t// line about target\n", 500)+"}")

	engine := NewEngine(corpus, retrievalConfig(32), logging.Nop())
	selection, err := engine.Select(devTask("huge.go", "target"))
	if !errors.Is(err, autoerr.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	// Best-effort payload still provided and clipped under the budget.
	if len(selection) == 0 {
		t.Fatal("expected best-effort truncated selection")
	}
	if got := totalTokens(selection); got > 32 {
		t.Errorf("clipped selection still over budget: %d", got)
	}
}

func TestSplitChunksOnDeclarations(t *testing.T) {
	content := "func A() {\n\tx := 1\n}\nfunc B() {\n\ty := 2\n}"
	chunks := splitChunks("f.go", content)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "func A") || !strings.Contains(chunks[1].Content, "func B") {
		t.Errorf("chunks not split on declarations: %+v", chunks)
	}
	for _, c := range chunks {
		if c.TokenCount <= 0 {
			t.Errorf("chunk %s has no token estimate", c.ID)
		}
	}
}

func TestSummarize(t *testing.T) {
	summary, ok := summarize("f.go", "func A(x int) error {\n\treturn nil\n}\ntype B struct {\n}")
	if !ok {
		t.Fatal("expected summary")
	}
	if !strings.Contains(summary.Content, "func A(x int) error") {
		t.Errorf("summary missing signature: %q", summary.Content)
	}
	if strings.Contains(summary.Content, "return nil") {
		t.Errorf("summary leaked body: %q", summary.Content)
	}

	if _, ok := summarize("empty.txt", "just prose\n"); ok {
		t.Error("expected no summary for declaration-free content")
	}
}

func TestScorerBlend(t *testing.T) {
	lexOnly := Scorer{LexicalWeight: 1.0}
	semOnly := Scorer{LexicalWeight: 0.0}

	query := "login session"
	match := "func Login(session Session) error"
	miss := "zebra quux corge"

	if lexOnly.Score(query, match) <= lexOnly.Score(query, miss) {
		t.Error("lexical score did not prefer matching content")
	}
	if semOnly.Score(query, match) <= semOnly.Score(query, miss) {
		t.Error("semantic score did not prefer matching content")
	}
}
