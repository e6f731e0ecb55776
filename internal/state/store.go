// Package state provides the project state store: the single authoritative
// record of a project's tasks and their statuses. All status and result
// mutations flow through it; aggregate progress is always recomputed from a
// consistent snapshot.
package state

import "github.com/autoforge/autoforge/pkg/models"

// Store is the interface every component reads and writes project state
// through. One instance serves one database; each project's records are
// disjoint, so concurrent tasks never contend on the same rows.
type Store interface {
	// CreateProject persists a new project record.
	CreateProject(p *models.Project) error
	// GetProject returns the project, or ErrProjectNotFound.
	GetProject(id string) (*models.Project, error)
	// UpdateProject persists project status and progress.
	UpdateProject(p *models.Project) error
	// DeleteProject removes a project and its tasks. Projects are destroyed
	// only through this explicit call.
	DeleteProject(id string) error
	// ListProjects returns every project, newest first.
	ListProjects() ([]*models.Project, error)

	// CreateTask persists a new task record.
	CreateTask(t *models.Task) error
	// GetTask returns the task, or ErrTaskNotFound.
	GetTask(id string) (*models.Task, error)
	// UpdateTask persists the task's current status, attempts, and result.
	UpdateTask(t *models.Task) error
	// ListTasks returns every task belonging to a project.
	ListTasks(projectID string) ([]*models.Task, error)

	// RecomputeProgress reads a consistent snapshot of a project's tasks,
	// recomputes the aggregate progress fraction, persists it, and returns
	// it. Progress is never incrementally accumulated from stale reads.
	RecomputeProgress(projectID string) (float64, error)

	// FailureDetail enumerates per-task failure records for a project.
	FailureDetail(projectID string) ([]models.TaskFailure, error)

	// Close releases the underlying resources.
	Close() error
}

// Progress computes the aggregate completion fraction from a task snapshot.
// Completed tasks count fully, running and retrying tasks count their own
// partial progress, everything else counts zero.
func Progress(tasks []*models.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			sum += 1.0
		case models.TaskStatusRunning, models.TaskStatusRetrying:
			sum += t.Progress
		}
	}
	return sum / float64(len(tasks))
}
