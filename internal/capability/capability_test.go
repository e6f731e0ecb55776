package capability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

var testParams = models.GenerationParams{Temperature: 0.7, MaxTokens: 1024, TopP: 0.95}

func successResponse(code string) *models.InferenceResponse {
	return &models.InferenceResponse{
		RequestID:     "req-1",
		Status:        "success",
		GeneratedCode: code,
		Metadata:      models.ResponseMetadata{InferenceTimeMS: 120, TokenCount: 64, ConfidenceScore: 0.9},
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	planner := NewPlanner(testParams)
	r.Register(planner)

	got, err := r.Get(models.KindPlan)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Capability(planner) {
		t.Error("Get returned a different capability")
	}

	if _, err := r.Get(models.KindDevelop); !errors.Is(err, autoerr.ErrCapabilityNotFound) {
		t.Errorf("err = %v, want ErrCapabilityNotFound", err)
	}
	if r.Has(models.KindDevelop) {
		t.Error("Has reported unregistered kind")
	}
}

func TestDefaultRegistryCoversAllKinds(t *testing.T) {
	r := DefaultRegistry(testParams, t.TempDir())
	for _, kind := range []models.TaskKind{models.KindPlan, models.KindDevelop, models.KindTest} {
		if !r.Has(kind) {
			t.Errorf("default registry missing %s", kind)
		}
	}
}

func TestPlannerBuildRequest(t *testing.T) {
	p := NewPlanner(testParams)
	task := &models.Task{ID: "t1", Kind: models.KindPlan, Description: "a todo list service"}

	req, err := p.BuildRequest(task, nil)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Kind != models.RequestCompletion {
		t.Errorf("Kind = %s, want completion", req.Kind)
	}
	if req.RequestID == "" {
		t.Error("empty request id")
	}
	if !strings.Contains(req.Prompt, "a todo list service") {
		t.Error("prompt missing project description")
	}

	second, _ := p.BuildRequest(task, nil)
	if second.RequestID == req.RequestID {
		t.Error("request ids must be unique per attempt")
	}
}

func TestPlannerDecomposition(t *testing.T) {
	p := NewPlanner(testParams)
	task := &models.Task{ID: "t1", ProjectID: "proj", Kind: models.KindPlan}

	output := `Here is the plan you asked for:
{
    "components": ["storage", "api"],
    "dependencies": {"api": ["storage"]},
    "framework_choices": {"backend": "net/http"},
    "estimated_timeline": {"storage": 4, "api": 6}
}`
	result, err := p.InterpretResponse(task, successResponse(output))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if len(result.FollowUps) != 4 {
		t.Fatalf("follow-ups = %d, want 4 (develop+test per component)", len(result.FollowUps))
	}

	byDesc := make(map[string]*models.Task)
	for _, ft := range result.FollowUps {
		byDesc[ft.Description] = ft
		if ft.ProjectID != "proj" {
			t.Errorf("follow-up %q has project %q", ft.Description, ft.ProjectID)
		}
	}

	api := byDesc["Implement api"]
	storage := byDesc["Implement storage"]
	if api == nil || storage == nil {
		t.Fatal("missing develop follow-ups")
	}
	if len(api.DependsOn) != 1 || api.DependsOn[0] != storage.ID {
		t.Errorf("api.DependsOn = %v, want [%s]", api.DependsOn, storage.ID)
	}

	testAPI := byDesc["Test api"]
	if testAPI == nil || len(testAPI.DependsOn) != 1 || testAPI.DependsOn[0] != api.ID {
		t.Error("test task not gated on its develop task")
	}
	if testAPI.Target != "api.go" {
		t.Errorf("Target = %q, want api.go", testAPI.Target)
	}
}

func TestPlannerRejectsBadPlans(t *testing.T) {
	p := NewPlanner(testParams)
	task := &models.Task{ID: "t1", Kind: models.KindPlan}

	tests := []struct {
		name   string
		output string
	}{
		{"no json", "I could not produce a plan."},
		{"empty components", `{"components": [], "dependencies": {}}`},
		{"undeclared dependency", `{"components": ["api"], "dependencies": {"api": ["ghost"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.InterpretResponse(task, successResponse(tt.output))
			if !errors.Is(err, autoerr.ErrTaskExecution) {
				t.Errorf("err = %v, want ErrTaskExecution", err)
			}
		})
	}
}

func TestPlannerErrorStatus(t *testing.T) {
	p := NewPlanner(testParams)
	resp := &models.InferenceResponse{RequestID: "r", Status: "error", Error: "overloaded"}
	_, err := p.InterpretResponse(&models.Task{ID: "t1"}, resp)
	if !errors.Is(err, autoerr.ErrTaskExecution) {
		t.Fatalf("err = %v, want ErrTaskExecution", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"wrapped in prose", `sure: {"a": {"b": 2}} done`, `{"a": {"b": 2}}`},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`},
		{"unbalanced", `{"a": 1`, ""},
		{"none", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.input); got != tt.want {
				t.Errorf("extractJSONObject(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDeveloperGenerateVersusRefactor(t *testing.T) {
	root := t.TempDir()
	d := NewDeveloper(testParams, root)

	fresh := &models.Task{ID: "t1", Kind: models.KindDevelop, Description: "Implement storage", Target: "storage.go"}
	req, err := d.BuildRequest(fresh, nil)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if req.Kind != models.RequestCodeGeneration {
		t.Errorf("Kind = %s, want code_generation", req.Kind)
	}

	if err := os.WriteFile(filepath.Join(root, "storage.go"), []byte("package storage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err = d.BuildRequest(fresh, nil)
	if err != nil {
		t.Fatalf("BuildRequest after write: %v", err)
	}
	if req.Kind != models.RequestRefactoring {
		t.Errorf("Kind = %s, want refactoring", req.Kind)
	}
	if !strings.Contains(req.Prompt, "package storage") {
		t.Error("refactor prompt missing original code")
	}
}

func TestDeveloperParsesFileBlocks(t *testing.T) {
	d := NewDeveloper(testParams, "")
	task := &models.Task{ID: "t1", Kind: models.KindDevelop, Target: "api.go"}

	output := "Here you go:\n" +
		"```go\n// file: api.go\npackage api\n\nfunc Serve() {}\n```\n" +
		"```go\n// file: api_util.go\npackage api\n\nfunc helper() {}\n```\n"
	result, err := d.InterpretResponse(task, successResponse(output))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("Files = %d entries, want 2", len(result.Files))
	}
	if !strings.Contains(result.Files["api.go"], "func Serve()") {
		t.Errorf("api.go content = %q", result.Files["api.go"])
	}
	if !strings.Contains(result.Files["api_util.go"], "func helper()") {
		t.Errorf("api_util.go content = %q", result.Files["api_util.go"])
	}
}

func TestDeveloperFallbackToTarget(t *testing.T) {
	d := NewDeveloper(testParams, "")
	task := &models.Task{ID: "t1", Kind: models.KindDevelop, Target: "api.go"}

	output := "```go\npackage api\n```"
	result, err := d.InterpretResponse(task, successResponse(output))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if got := result.Files["api.go"]; got != "package api" {
		t.Errorf("Files[api.go] = %q, want fence stripped", got)
	}
}

func TestDeveloperEmptyOutput(t *testing.T) {
	d := NewDeveloper(testParams, "")
	_, err := d.InterpretResponse(&models.Task{ID: "t1"}, successResponse("   \n"))
	if !errors.Is(err, autoerr.ErrTaskExecution) {
		t.Fatalf("err = %v, want ErrTaskExecution", err)
	}
}

func TestTesterPassingReport(t *testing.T) {
	tr := NewTester(testParams)
	task := &models.Task{ID: "t1", ProjectID: "proj", Kind: models.KindTest, Target: "api.go"}

	output := `tests ran: {"passed": true, "summary": "12 passed"}`
	result, err := tr.InterpretResponse(task, successResponse(output))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if result.Report == nil || !result.Report.Passed {
		t.Fatal("expected a passing report")
	}
	if len(result.FollowUps) != 0 {
		t.Errorf("follow-ups = %d, want 0 for a passing report", len(result.FollowUps))
	}
}

func TestTesterFailingReportSynthesizesRemediation(t *testing.T) {
	tr := NewTester(testParams)
	task := &models.Task{ID: "t1", ProjectID: "proj", Kind: models.KindTest, Target: "api.go", Priority: 1}

	output := `{"passed": false, "failures": ["TestServe: got 500, want 200"], "summary": "1 failed"}`
	result, err := tr.InterpretResponse(task, successResponse(output))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if result.Report == nil || result.Report.Passed {
		t.Fatal("expected a failing report")
	}
	if len(result.FollowUps) != 1 {
		t.Fatalf("follow-ups = %d, want 1", len(result.FollowUps))
	}

	fix := result.FollowUps[0]
	if fix.Kind != models.KindDevelop {
		t.Errorf("remediation kind = %s, want develop", fix.Kind)
	}
	if fix.Target != "api.go" {
		t.Errorf("remediation target = %q, want api.go", fix.Target)
	}
	if !strings.Contains(fix.Description, "TestServe") {
		t.Errorf("remediation description missing failure detail: %q", fix.Description)
	}
	if fix.Priority <= task.Priority {
		t.Error("remediation should outrank the originating task")
	}
}

func TestTesterPlainTestCode(t *testing.T) {
	tr := NewTester(testParams)
	task := &models.Task{ID: "t1", Kind: models.KindTest, Target: "api.go"}

	result, err := tr.InterpretResponse(task, successResponse("package api\n\nfunc TestServe(t *testing.T) {}\n"))
	if err != nil {
		t.Fatalf("InterpretResponse: %v", err)
	}
	if result.Report != nil {
		t.Error("no report expected for plain test code")
	}
	if _, ok := result.Files["api_test.go"]; !ok {
		t.Errorf("Files = %v, want api_test.go entry", result.Files)
	}
}
