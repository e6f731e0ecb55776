package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started and may still have
	// unmet dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are completed and the task is
	// waiting for an admission slot.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is executing an attempt.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusRetrying indicates the task failed an attempt and is waiting
	// out a backoff delay, or is parked while the inference service is
	// unavailable.
	TaskStatusRetrying TaskStatus = "retrying"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusRetrying:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskKind identifies the capability that executes a task.
type TaskKind string

const (
	// KindPlan produces a project plan and decomposes it into further tasks.
	KindPlan TaskKind = "plan"
	// KindDevelop generates or refactors code for a component.
	KindDevelop TaskKind = "develop"
	// KindTest generates tests and interprets their reports.
	KindTest TaskKind = "test"
)

// Valid returns true if the kind is a known value.
func (k TaskKind) Valid() bool {
	switch k {
	case KindPlan, KindDevelop, KindTest:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in a project.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ProjectID is the ID of the project this task belongs to.
	ProjectID string `json:"project_id"`
	// Kind selects the capability that executes this task.
	Kind TaskKind `json:"kind"`
	// Description is the textual description of the work.
	Description string `json:"description"`
	// DependsOn lists task IDs that must complete before this task runs.
	// The set of edges across a project must form a DAG.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task. Transitions happen only
	// through the scheduler.
	Status TaskStatus `json:"status"`
	// Priority breaks ties among mutually runnable tasks. Higher runs first.
	Priority int `json:"priority,omitempty"`
	// Attempts is the number of execution attempts made so far.
	Attempts int `json:"attempts"`
	// Target names the file or symbol this task is tied to, used by
	// context retrieval to find directly-related chunks.
	Target string `json:"target,omitempty"`
	// Result holds the task's result payload once completed.
	Result *TaskResult `json:"result,omitempty"`
	// Progress is the task's completion fraction (0.0-1.0).
	Progress float64 `json:"progress"`
	// Error contains the most recent error message if an attempt failed.
	Error string `json:"error,omitempty"`
	// FailureReason categorizes a terminal failure (e.g. "retries_exhausted",
	// "dependency_failed", "cancelled", "park_expired").
	FailureReason string `json:"failure_reason,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the first attempt began, if any.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskResult is the payload produced by a completed task attempt.
type TaskResult struct {
	// Kind mirrors the task kind that produced this result.
	Kind TaskKind `json:"kind"`
	// Output is the raw generated artifact: a plan, generated code, or a
	// test report, depending on Kind.
	Output string `json:"output"`
	// Files maps relative file paths to generated content, when the
	// capability parsed file blocks out of the output.
	Files map[string]string `json:"files,omitempty"`
	// TokenCount is the token count reported by the inference service.
	TokenCount int `json:"token_count,omitempty"`
	// Confidence is the confidence score reported by the inference service.
	Confidence float64 `json:"confidence,omitempty"`
	// Duration is how long the successful attempt took.
	Duration time.Duration `json:"duration,omitempty"`
	// Report is the parsed test report, set by the tester capability.
	Report *TestReport `json:"report,omitempty"`
	// FollowUps are tasks synthesized from this result: the planner's
	// decomposition, or a remediation task for a failed test report. The
	// scheduler inserts them into the running graph.
	FollowUps []*Task `json:"follow_ups,omitempty"`
}

// TestReport is the structured form of a tester capability result.
type TestReport struct {
	// Passed is true when every generated check passed.
	Passed bool `json:"passed"`
	// Failures describes each failing check.
	Failures []string `json:"failures,omitempty"`
	// Summary is a one-line description of the report.
	Summary string `json:"summary,omitempty"`
}
