// Package errors defines the sentinel error taxonomy for the orchestration
// engine. Callers categorize failures with errors.Is.
//
// This package must not import any other internal package.
package errors

import "errors"

var (
	// ErrGraphCycle indicates the task dependency graph is cyclic or
	// malformed. Fatal: the project is aborted before any task runs.
	ErrGraphCycle = errors.New("dependency graph cycle")

	// ErrUnknownDependency indicates a task depends on a task id that does
	// not exist in the project. Treated like a graph error.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrTransport indicates the inference channel is unreachable. Retried
	// with backoff inside the inference client; surfaces only when
	// reconnection attempts exhaust.
	ErrTransport = errors.New("transport unreachable")

	// ErrTimeout indicates no inference response arrived within the
	// deadline. Counted as a task attempt failure.
	ErrTimeout = errors.New("inference timeout")

	// ErrServiceUnavailable indicates the remote service reported a
	// degraded or offline state. Tasks are parked rather than failed until
	// availability resumes or the park window elapses.
	ErrServiceUnavailable = errors.New("inference service unavailable")

	// ErrTaskExecution indicates a capability-specific semantic failure,
	// such as generated output failing validation. Counted as an attempt
	// failure.
	ErrTaskExecution = errors.New("task execution failed")

	// ErrBudgetExceeded indicates the context payload could not be reduced
	// under the token budget. Logged; the task proceeds with best-effort
	// truncated context.
	ErrBudgetExceeded = errors.New("context token budget exceeded")

	// ErrCancelled indicates the project or request was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrCapabilityNotFound indicates no capability is registered for a
	// task kind.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrProjectNotFound indicates a state store lookup missed.
	ErrProjectNotFound = errors.New("project not found")

	// ErrTaskNotFound indicates a state store lookup missed.
	ErrTaskNotFound = errors.New("task not found")
)
