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

// ProjectPlan is the structured plan the planner asks the model for.
type ProjectPlan struct {
	// Components lists the parts of the system to build, in no order.
	Components []string `json:"components"`
	// Dependencies maps a component to the components it builds on.
	Dependencies map[string][]string `json:"dependencies"`
	// FrameworkChoices maps a concern (e.g. "backend") to a framework.
	FrameworkChoices map[string]string `json:"framework_choices"`
	// EstimatedTimeline maps a component to hours of estimated effort.
	EstimatedTimeline map[string]int `json:"estimated_timeline"`
}

// Planner turns a project description into a structured plan and decomposes
// it into develop and test tasks wired with component dependencies.
type Planner struct {
	params models.GenerationParams
}

// NewPlanner creates the planning capability.
func NewPlanner(params models.GenerationParams) *Planner {
	return &Planner{params: params}
}

func (p *Planner) Kind() models.TaskKind { return models.KindPlan }

func (p *Planner) BuildRequest(task *models.Task, chunks []models.ContextChunk) (*models.InferenceRequest, error) {
	return &models.InferenceRequest{
		RequestID: uuid.New().String(),
		Kind:      models.RequestCompletion,
		Prompt:    planningPrompt(task.Description),
		Params:    p.params,
		Chunks:    chunks,
	}, nil
}

// InterpretResponse parses the plan JSON and decomposes it into follow-up
// tasks: one develop task per component with dependency edges mapped from
// the plan, and one test task per component gated on its develop task.
func (p *Planner) InterpretResponse(task *models.Task, resp *models.InferenceResponse) (*models.TaskResult, error) {
	if !resp.OK() {
		return nil, fmt.Errorf("%w: planning failed: %s", autoerr.ErrTaskExecution, resp.Error)
	}

	plan, err := parsePlan(resp.GeneratedCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autoerr.ErrTaskExecution, err)
	}

	followUps, err := decompose(task, plan)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autoerr.ErrTaskExecution, err)
	}

	return &models.TaskResult{
		Kind:       models.KindPlan,
		Output:     resp.GeneratedCode,
		TokenCount: resp.Metadata.TokenCount,
		Confidence: resp.Metadata.ConfidenceScore,
		Duration:   time.Duration(resp.Metadata.InferenceTimeMS) * time.Millisecond,
		FollowUps:  followUps,
	}, nil
}

// parsePlan decodes the plan, tolerating surrounding prose by extracting
// the outermost JSON object.
func parsePlan(output string) (*ProjectPlan, error) {
	raw := extractJSONObject(output)
	if raw == "" {
		return nil, fmt.Errorf("no plan object in response")
	}

	var plan ProjectPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(plan.Components) == 0 {
		return nil, fmt.Errorf("plan names no components")
	}
	return &plan, nil
}

// decompose creates the develop and test tasks for a plan. Dependency
// references to components the plan never declared are an error: the
// scheduler's graph would reject them anyway, better to fail here with a
// message naming the offender.
func decompose(parent *models.Task, plan *ProjectPlan) ([]*models.Task, error) {
	developIDs := make(map[string]string, len(plan.Components))
	for _, component := range plan.Components {
		developIDs[component] = uuid.New().String()
	}

	tasks := make([]*models.Task, 0, 2*len(plan.Components))
	for _, component := range plan.Components {
		deps := make([]string, 0, len(plan.Dependencies[component]))
		for _, dep := range plan.Dependencies[component] {
			id, ok := developIDs[dep]
			if !ok {
				return nil, fmt.Errorf("component %q depends on undeclared component %q", component, dep)
			}
			deps = append(deps, id)
		}

		developID := developIDs[component]
		tasks = append(tasks, &models.Task{
			ID:          developID,
			ProjectID:   parent.ProjectID,
			Kind:        models.KindDevelop,
			Description: fmt.Sprintf("Implement %s", component),
			Target:      componentFile(component),
			DependsOn:   deps,
			Status:      models.TaskStatusPending,
		})
		tasks = append(tasks, &models.Task{
			ID:          uuid.New().String(),
			ProjectID:   parent.ProjectID,
			Kind:        models.KindTest,
			Description: fmt.Sprintf("Test %s", component),
			Target:      componentFile(component),
			DependsOn:   []string{developID},
			Status:      models.TaskStatusPending,
		})
	}
	return tasks, nil
}

// componentFile derives the file a component's code lands in.
func componentFile(component string) string {
	slug := strings.ToLower(component)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slug)
	return strings.Trim(slug, "_") + ".go"
}

func planningPrompt(description string) string {
	return fmt.Sprintf(`Analyze the following project description and create a detailed development plan:

Description:
%s

Please provide:
1. Core components needed
2. Component dependencies
3. Required frameworks and technologies

Format the response as JSON with the following structure:
{
    "components": ["component1", "component2"],
    "dependencies": {"component1": ["component2"]},
    "framework_choices": {"backend": "framework"},
    "estimated_timeline": {"component1": 4}
}`, description)
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// skipping braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
