package models

import "time"

// ProjectStatus represents the overall state of a project.
type ProjectStatus string

const (
	// ProjectStatusPlanning indicates the project graph is still being built.
	ProjectStatusPlanning ProjectStatus = "planning"
	// ProjectStatusRunning indicates tasks are executing.
	ProjectStatusRunning ProjectStatus = "running"
	// ProjectStatusCompleted indicates every task completed.
	ProjectStatusCompleted ProjectStatus = "completed"
	// ProjectStatusFailed indicates at least one task failed terminally.
	ProjectStatusFailed ProjectStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPlanning, ProjectStatusRunning, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

// Project is the authoritative record of a generation run.
// It is created on initialization, destroyed only by explicit deletion,
// and mutated only through the state store.
type Project struct {
	// ID is the unique identifier for this project.
	ID string `json:"id"`
	// Name is the short project name, used for scaffolding paths.
	Name string `json:"name"`
	// Description is the high-level goal the project decomposes.
	Description string `json:"description"`
	// Framework is the target framework for generated code, if any.
	Framework string `json:"framework,omitempty"`
	// Status is the overall project state.
	Status ProjectStatus `json:"status"`
	// Progress is the aggregate completion fraction (0.0-1.0), recomputed
	// from a consistent snapshot of task state.
	Progress float64 `json:"progress"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the project reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskFailure enumerates per-task failure detail for a failed project.
type TaskFailure struct {
	// TaskID is the failed task.
	TaskID string `json:"task_id"`
	// Reason is the failure category recorded by the scheduler.
	Reason string `json:"reason"`
	// Error is the last error message, if any.
	Error string `json:"error,omitempty"`
	// Attempts is how many attempts were made before failing.
	Attempts int `json:"attempts"`
}
