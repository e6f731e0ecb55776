package capability

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Tester generates tests for a component and interprets the returned test
// report. A failing report does not fail the task: it completes with the
// report attached and a remediation develop task synthesized as a
// follow-up, so fixing the regression flows back through the scheduler.
type Tester struct {
	params models.GenerationParams
}

// NewTester creates the testing capability.
func NewTester(params models.GenerationParams) *Tester {
	return &Tester{params: params}
}

func (t *Tester) Kind() models.TaskKind { return models.KindTest }

func (t *Tester) BuildRequest(task *models.Task, chunks []models.ContextChunk) (*models.InferenceRequest, error) {
	return &models.InferenceRequest{
		RequestID: uuid.New().String(),
		Kind:      models.RequestCodeGeneration,
		Prompt:    testPrompt(task),
		Params:    t.params,
		Chunks:    chunks,
	}, nil
}

func (t *Tester) InterpretResponse(task *models.Task, resp *models.InferenceResponse) (*models.TaskResult, error) {
	if !resp.OK() {
		return nil, fmt.Errorf("%w: test generation failed: %s", autoerr.ErrTaskExecution, resp.Error)
	}

	result := &models.TaskResult{
		Kind:       models.KindTest,
		Output:     resp.GeneratedCode,
		TokenCount: resp.Metadata.TokenCount,
		Confidence: resp.Metadata.ConfidenceScore,
		Duration:   time.Duration(resp.Metadata.InferenceTimeMS) * time.Millisecond,
	}

	report := parseReport(resp.GeneratedCode)
	if report == nil {
		// Plain test code with no embedded report.
		target := testFile(task.Target)
		result.Files = map[string]string{target: stripFence(resp.GeneratedCode)}
		return result, nil
	}

	result.Report = report
	if !report.Passed {
		result.FollowUps = []*models.Task{remediation(task, report)}
	}
	return result, nil
}

// parseReport looks for an embedded test report object in the output.
// Reports are identified by a top-level "passed" key.
func parseReport(output string) *models.TestReport {
	raw := extractJSONObject(output)
	if raw == "" {
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil
	}
	if _, ok := probe["passed"]; !ok {
		return nil
	}

	var report models.TestReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil
	}
	return &report
}

// remediation synthesizes the develop task that addresses a failing report.
func remediation(task *models.Task, report *models.TestReport) *models.Task {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix failures reported against %s:", task.Target)
	for _, f := range report.Failures {
		fmt.Fprintf(&b, "\n- %s", f)
	}
	if len(report.Failures) == 0 && report.Summary != "" {
		fmt.Fprintf(&b, "\n- %s", report.Summary)
	}

	return &models.Task{
		ID:          uuid.New().String(),
		ProjectID:   task.ProjectID,
		Kind:        models.KindDevelop,
		Description: b.String(),
		Target:      task.Target,
		Status:      models.TaskStatusPending,
		// A notch above fresh work so fixes land before new components
		// pile onto broken code.
		Priority: task.Priority + 1,
	}
}

func testPrompt(task *models.Task) string {
	var b strings.Builder
	b.WriteString("Generate test cases for the following component:\n\n")
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	if task.Target != "" {
		fmt.Fprintf(&b, "Component file: %s\n", task.Target)
	}
	b.WriteString(`
Requirements:
1. Include both positive and negative test cases
2. Test edge cases
3. Use table-driven style where it fits
4. If you executed the tests, append a JSON report:
   {"passed": true|false, "failures": ["..."], "summary": "..."}
`)
	return b.String()
}

// testFile derives the test file path for a target source file.
func testFile(target string) string {
	if target == "" {
		return "component_test.go"
	}
	if ext := ".go"; strings.HasSuffix(target, ext) {
		return strings.TrimSuffix(target, ext) + "_test" + ext
	}
	return target + "_test"
}
