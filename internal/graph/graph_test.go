package graph

import (
	"errors"
	"testing"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

func pendingTask(id string, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		Kind:      models.KindDevelop,
		Status:    models.TaskStatusPending,
		DependsOn: deps,
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		pendingTask("a", "c"),
		pendingTask("b", "a"),
		pendingTask("c", "b"),
	}

	err := g.Build(tasks)
	if !errors.Is(err, autoerr.ErrGraphCycle) {
		t.Fatalf("expected ErrGraphCycle, got %v", err)
	}
	// A rejected build must leave nothing schedulable.
	if len(g.Ready()) != 0 {
		t.Errorf("expected no ready tasks after rejected build, got %v", g.Ready())
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{pendingTask("a", "ghost")})
	if !errors.Is(err, autoerr.ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestTopologicalSortOrder(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		pendingTask("c", "b"),
		pendingTask("b", "a"),
		pendingTask("a"),
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("build: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("sort: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if pos[dep] > pos[task.ID] {
				t.Errorf("dependency %s sorted after %s", dep, task.ID)
			}
		}
	}
}

func TestReadyLinearChain(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "b"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only a ready, got %v", ready)
	}

	g.MarkComplete("a")
	ready = g.Ready()
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("expected only b ready after a completes, got %v", ready)
	}

	g.MarkComplete("b")
	ready = g.Ready()
	if len(ready) != 1 || ready[0] != "c" {
		t.Fatalf("expected only c ready after b completes, got %v", ready)
	}
}

func TestReadyDiamond(t *testing.T) {
	// d depends on both a and b; it must not become ready until both are
	// complete, regardless of completion order.
	g := New()
	if err := g.Build([]*models.Task{
		pendingTask("a"),
		pendingTask("b"),
		pendingTask("c"),
		pendingTask("d", "a", "b"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	g.MarkComplete("b")
	for _, id := range g.Ready() {
		if id == "d" {
			t.Fatal("d became ready with only b complete")
		}
	}

	g.MarkComplete("a")
	found := false
	for _, id := range g.Ready() {
		if id == "d" {
			found = true
		}
	}
	if !found {
		t.Fatal("d not ready after both a and b complete")
	}
}

func TestMarkFailedContagion(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "b"),
		pendingTask("side"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	contagious := g.MarkFailed("a")
	if len(contagious) != 2 {
		t.Fatalf("expected 2 contagious failures, got %v", contagious)
	}
	if !g.Failed("b") || !g.Failed("c") {
		t.Error("transitive dependents not marked failed")
	}
	if g.Failed("side") {
		t.Error("unrelated task marked failed")
	}
	// Failed tasks never become ready.
	for _, id := range g.Ready() {
		if id == "b" || id == "c" {
			t.Errorf("failed task %s reported ready", id)
		}
	}
}

func TestInsertRevalidatesAcyclicity(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	// A remediation task depending on b is fine.
	if err := g.Insert(pendingTask("fix-1", "b")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	// An insert that closes a cycle is rejected and rolled back.
	cyclic := pendingTask("evil", "b")
	g.nodes["a"].DependsOn = []string{"evil"}
	g.edges["a"] = []string{"evil"}
	err := g.Insert(cyclic)
	if !errors.Is(err, autoerr.ErrGraphCycle) {
		t.Fatalf("expected ErrGraphCycle, got %v", err)
	}
	if g.Task("evil") != nil {
		t.Error("rejected insert left node in graph")
	}
}

func TestDone(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{pendingTask("a"), pendingTask("b", "a")}); err != nil {
		t.Fatalf("build: %v", err)
	}

	done, _ := g.Done()
	if done {
		t.Fatal("graph done before any work")
	}

	g.MarkComplete("a")
	g.MarkComplete("b")
	done, all := g.Done()
	if !done || !all {
		t.Fatalf("expected done with all completed, got done=%v all=%v", done, all)
	}

	g2 := New()
	if err := g2.Build([]*models.Task{pendingTask("a"), pendingTask("b", "a")}); err != nil {
		t.Fatalf("build: %v", err)
	}
	g2.MarkFailed("a")
	done, all = g2.Done()
	if !done || all {
		t.Fatalf("expected done with failure, got done=%v all=%v", done, all)
	}
}

func TestDependents(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "a"),
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents of a, got %v", deps)
	}
}
