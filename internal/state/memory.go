package state

import (
	"fmt"
	"sort"
	"sync"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Memory is an in-memory Store used by tests and ephemeral runs.
// It applies the same per-record update discipline as the SQLite store.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
	tasks    map[string]*models.Task
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*models.Project),
		tasks:    make(map[string]*models.Task),
	}
}

// CreateProject persists a new project record.
func (m *Memory) CreateProject(p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

// GetProject returns a copy of the project, or ErrProjectNotFound.
func (m *Memory) GetProject(id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autoerr.ErrProjectNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// ListProjects returns every project, newest first.
func (m *Memory) ListProjects() ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	projects := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		cp := *p
		projects = append(projects, &cp)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// UpdateProject persists project status and progress.
func (m *Memory) UpdateProject(p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return fmt.Errorf("%w: %s", autoerr.ErrProjectNotFound, p.ID)
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

// DeleteProject removes a project and its tasks.
func (m *Memory) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	for taskID, t := range m.tasks {
		if t.ProjectID == id {
			delete(m.tasks, taskID)
		}
	}
	return nil
}

// CreateTask persists a new task record.
func (m *Memory) CreateTask(t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

// GetTask returns a copy of the task, or ErrTaskNotFound.
func (m *Memory) GetTask(id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autoerr.ErrTaskNotFound, id)
	}
	cp := *t
	return &cp, nil
}

// UpdateTask persists the task's current status, attempts, and result.
func (m *Memory) UpdateTask(t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("%w: %s", autoerr.ErrTaskNotFound, t.ID)
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

// ListTasks returns every task belonging to a project.
func (m *Memory) ListTasks(projectID string) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []*models.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			cp := *t
			tasks = append(tasks, &cp)
		}
	}
	return tasks, nil
}

// RecomputeProgress recomputes aggregate progress from a snapshot taken
// under the lock, then persists it.
func (m *Memory) RecomputeProgress(projectID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snapshot []*models.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			snapshot = append(snapshot, t)
		}
	}
	progress := Progress(snapshot)
	if p, ok := m.projects[projectID]; ok {
		p.Progress = progress
	}
	return progress, nil
}

// FailureDetail enumerates per-task failure records for a project.
func (m *Memory) FailureDetail(projectID string) ([]models.TaskFailure, error) {
	tasks, err := m.ListTasks(projectID)
	if err != nil {
		return nil, err
	}
	var failures []models.TaskFailure
	for _, t := range tasks {
		if t.Status != models.TaskStatusFailed {
			continue
		}
		failures = append(failures, models.TaskFailure{
			TaskID:   t.ID,
			Reason:   t.FailureReason,
			Error:    t.Error,
			Attempts: t.Attempts,
		})
	}
	return failures, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
