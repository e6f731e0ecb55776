// Package graph provides the task dependency DAG used by the scheduler.
package graph

import (
	"fmt"
	"sync"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// DependencyGraph is a directed acyclic graph of task dependencies.
// Tasks are nodes; edges point from a task to the tasks it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to the IDs of tasks it depends on.
	edges map[string][]string
	// completed tracks tasks that have been marked complete.
	completed map[string]bool
	// failed tracks tasks that have been marked terminally failed.
	failed map[string]bool
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
	}
}

// Build constructs the graph from a slice of tasks. It fails with
// ErrUnknownDependency if an edge references a missing task, and with
// ErrGraphCycle if the edges do not form a DAG. On error the graph is left
// unchanged, so no task from a rejected project can ever be scheduled.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make(map[string]*models.Task, len(tasks))
	edges := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		nodes[task.ID] = task
		edges[task.ID] = nil
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := nodes[depID]; !exists {
				return fmt.Errorf("task %s: %w: %s", task.ID, autoerr.ErrUnknownDependency, depID)
			}
			edges[task.ID] = append(edges[task.ID], depID)
		}
	}

	if hasCycle(nodes, edges) {
		return autoerr.ErrGraphCycle
	}

	g.nodes = nodes
	g.edges = edges
	g.completed = make(map[string]bool)
	g.failed = make(map[string]bool)
	return nil
}

// Insert adds a single task to an existing graph, re-validating acyclicity
// before committing. This is the only path for runtime graph mutation
// (e.g. remediation tasks synthesized from a failed test report).
func (g *DependencyGraph) Insert(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return fmt.Errorf("task %s already in graph", task.ID)
	}
	for _, depID := range task.DependsOn {
		if _, exists := g.nodes[depID]; !exists {
			return fmt.Errorf("task %s: %w: %s", task.ID, autoerr.ErrUnknownDependency, depID)
		}
	}

	g.nodes[task.ID] = task
	g.edges[task.ID] = append([]string(nil), task.DependsOn...)

	if hasCycle(g.nodes, g.edges) {
		delete(g.nodes, task.ID)
		delete(g.edges, task.ID)
		return autoerr.ErrGraphCycle
	}
	return nil
}

// hasCycle runs a depth-first search with coloring to detect back edges.
// Color states: 0 = unvisited, 1 = in progress, 2 = done.
func hasCycle(nodes map[string]*models.Task, edges map[string][]string) bool {
	colors := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs in an order where every dependency comes
// before the tasks that depend on it.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if hasCycle(g.nodes, g.edges) {
		return nil, autoerr.ErrGraphCycle
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}
	return result, nil
}

// Ready returns the IDs of tasks whose dependencies are all completed and
// whose status is pending. Failed tasks and tasks downstream of a failure
// never become ready.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] || g.failed[id] {
			continue
		}
		if task.Status != models.TaskStatusPending {
			continue
		}
		satisfied := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a task as completed, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// MarkFailed marks a task as terminally failed and propagates the failure
// to every transitive dependent. Returns the IDs of dependents that were
// newly failed without ever running, in no particular order.
func (g *DependencyGraph) MarkFailed(taskID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failed[taskID] = true

	var contagious []string
	queue := []string{taskID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, depID := range g.dependentsLocked(current) {
			if g.failed[depID] || g.completed[depID] {
				continue
			}
			g.failed[depID] = true
			contagious = append(contagious, depID)
			queue = append(queue, depID)
		}
	}
	return contagious
}

// Failed returns true if the task has been marked failed.
func (g *DependencyGraph) Failed(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.failed[taskID]
}

// Done reports whether every task has reached a terminal mark, and whether
// none of them failed.
func (g *DependencyGraph) Done() (done, allCompleted bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id := range g.nodes {
		if !g.completed[id] && !g.failed[id] {
			return false, false
		}
	}
	return true, len(g.failed) == 0
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked(taskID)
}

func (g *DependencyGraph) dependentsLocked(taskID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// CompletedIDs returns the IDs of all tasks marked complete.
func (g *DependencyGraph) CompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.completed))
	for id := range g.completed {
		ids = append(ids, id)
	}
	return ids
}
