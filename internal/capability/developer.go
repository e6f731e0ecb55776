package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Developer generates code for a component, or refactors the component's
// existing file when one is already on disk.
type Developer struct {
	params models.GenerationParams
	root   string
}

// NewDeveloper creates the development capability. root is the project
// directory generated files are relative to.
func NewDeveloper(params models.GenerationParams, root string) *Developer {
	return &Developer{params: params, root: root}
}

func (d *Developer) Kind() models.TaskKind { return models.KindDevelop }

// BuildRequest emits a refactoring request when the task's target file
// already exists, a generation request otherwise.
func (d *Developer) BuildRequest(task *models.Task, chunks []models.ContextChunk) (*models.InferenceRequest, error) {
	existing, err := d.loadTarget(task.Target)
	if err != nil {
		return nil, err
	}

	req := &models.InferenceRequest{
		RequestID: uuid.New().String(),
		Params:    d.params,
		Chunks:    chunks,
	}
	if existing != "" {
		req.Kind = models.RequestRefactoring
		req.Prompt = refactorPrompt(task, existing)
	} else {
		req.Kind = models.RequestCodeGeneration
		req.Prompt = componentPrompt(task)
	}
	return req, nil
}

// InterpretResponse splits the generated output into file blocks. Output
// without file markers all lands in the task's target file.
func (d *Developer) InterpretResponse(task *models.Task, resp *models.InferenceResponse) (*models.TaskResult, error) {
	if !resp.OK() {
		return nil, fmt.Errorf("%w: generation failed: %s", autoerr.ErrTaskExecution, resp.Error)
	}
	if strings.TrimSpace(resp.GeneratedCode) == "" {
		return nil, fmt.Errorf("%w: empty generation output", autoerr.ErrTaskExecution)
	}

	files := parseFileBlocks(resp.GeneratedCode)
	if len(files) == 0 {
		target := task.Target
		if target == "" {
			target = "component.go"
		}
		files = map[string]string{target: stripFence(resp.GeneratedCode)}
	}

	return &models.TaskResult{
		Kind:       models.KindDevelop,
		Output:     resp.GeneratedCode,
		Files:      files,
		TokenCount: resp.Metadata.TokenCount,
		Confidence: resp.Metadata.ConfidenceScore,
		Duration:   time.Duration(resp.Metadata.InferenceTimeMS) * time.Millisecond,
	}, nil
}

// loadTarget reads the task's target file under the project root. A missing
// file means fresh generation, not an error.
func (d *Developer) loadTarget(target string) (string, error) {
	if target == "" || d.root == "" {
		return "", nil
	}
	path := filepath.Join(d.root, filepath.FromSlash(target))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read target %s: %w", target, err)
	}
	return string(data), nil
}

func componentPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate code for the following component:\n\n")
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	if task.Target != "" {
		fmt.Fprintf(&b, "Target file: %s\n", task.Target)
	}
	b.WriteString(`
Requirements:
1. Follow the conventions of the surrounding project context
2. Include error handling
3. Make the code testable
4. Add documentation for exported identifiers

Emit each file as a fenced block starting with a "// file: <path>" line.
`)
	return b.String()
}

func refactorPrompt(task *models.Task, existing string) string {
	return fmt.Sprintf(`Refactor the following code according to the description:

Description: %s

Original Code:
%s

Requirements:
1. Maintain functionality
2. Improve code quality
3. Add missing error handling

Emit each file as a fenced block starting with a "// file: <path>" line.
`, task.Description, existing)
}

// parseFileBlocks extracts "// file: path" fenced blocks from generated
// output. It returns nil when no marker is present.
func parseFileBlocks(output string) map[string]string {
	files := make(map[string]string)

	lines := strings.Split(output, "\n")
	var (
		current string
		body    []string
		inBlock bool
	)
	flush := func() {
		if current != "" {
			files[current] = strings.Join(body, "\n")
		}
		current = ""
		body = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			if inBlock {
				flush()
			}
			inBlock = !inBlock
		case inBlock && current == "" && strings.HasPrefix(trimmed, "// file:"):
			current = strings.TrimSpace(strings.TrimPrefix(trimmed, "// file:"))
		case inBlock && current != "":
			body = append(body, line)
		}
	}
	flush()

	if len(files) == 0 {
		return nil
	}
	return files
}

// stripFence removes a single surrounding code fence, if present.
func stripFence(output string) string {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "```") {
		return output
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return output
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
