// Package orchestrator schedules a project's task graph: it admits ready
// tasks up to the concurrency limit, drives each attempt through the
// capability and inference layers, and applies the retry, parking, and
// contagious-failure rules on the outcomes.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task entered the graph and awaits its
	// dependencies.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task attempt began executing.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetrying indicates a failed attempt will be retried after
	// backoff.
	EventTaskRetrying EventType = "task_retrying"
	// EventTaskParked indicates a task is waiting out a service outage.
	EventTaskParked EventType = "task_parked"
	// EventTaskCancelled indicates a running task was aborted.
	EventTaskCancelled EventType = "task_cancelled"
	// EventProjectDone indicates the project reached a terminal status.
	EventProjectDone EventType = "project_done"
)

// Event is emitted by the orchestrator as tasks move through the graph.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ProjectID is the owning project.
	ProjectID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Attempt is the attempt count for retry events.
	Attempt int
	// Progress is the project's aggregate progress at emission time.
	Progress float64
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
