package orchestrator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

func TestPoolRunsConcurrentProjects(t *testing.T) {
	client := newScriptClient(func(taskID string, call int) (*models.InferenceResponse, error) {
		return success(taskID)
	})
	store := state.NewMemory()

	pool := NewPool(PoolConfig{
		Required: RequiredConfig{Client: client, Registry: testRegistry(nil), Store: store},
		Options: []Option{
			WithBackoff(time.Millisecond, 10*time.Millisecond),
			WithPark(100*time.Millisecond, 5*time.Millisecond),
		},
		Logger: zerolog.Nop(),
	})

	idA, err := pool.Submit(&models.Project{ID: "pa", Status: models.ProjectStatusPlanning}, []*models.Task{task("a1", "pa")})
	if err != nil {
		t.Fatalf("Submit pa: %v", err)
	}
	idB, err := pool.Submit(&models.Project{ID: "pb", Status: models.ProjectStatusPlanning}, []*models.Task{task("b1", "pb")})
	if err != nil {
		t.Fatalf("Submit pb: %v", err)
	}
	if idA == idB {
		t.Error("run IDs must be unique")
	}

	// Both runs finish and report project_done on the shared stream.
	done := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(done) < 2 {
		select {
		case ev := <-pool.Events():
			if ev.Type == EventProjectDone {
				done[ev.ProjectID] = true
			}
		case <-deadline:
			t.Fatalf("timed out, done = %v", done)
		}
	}

	for _, id := range []string{"pa", "pb"} {
		p, err := store.GetProject(id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != models.ProjectStatusCompleted {
			t.Errorf("%s status = %s, want completed", id, p.Status)
		}
	}

	pool.Stop()
	if pool.Count() != 0 {
		t.Errorf("Count = %d after Stop, want 0", pool.Count())
	}
}

func TestPoolCancelUnknownRun(t *testing.T) {
	pool := NewPool(PoolConfig{
		Required: RequiredConfig{
			Client:   newScriptClient(func(string, int) (*models.InferenceResponse, error) { return success("x") }),
			Registry: testRegistry(nil),
			Store:    state.NewMemory(),
		},
		Logger: zerolog.Nop(),
	})
	defer pool.Stop()

	if err := pool.Cancel("missing"); err == nil {
		t.Error("Cancel of unknown run should fail")
	}
}

func TestPoolRejectsSubmitAfterStop(t *testing.T) {
	pool := NewPool(PoolConfig{
		Required: RequiredConfig{
			Client:   newScriptClient(func(string, int) (*models.InferenceResponse, error) { return success("x") }),
			Registry: testRegistry(nil),
			Store:    state.NewMemory(),
		},
		Logger: zerolog.Nop(),
	})
	pool.Stop()

	if _, err := pool.Submit(&models.Project{ID: "p"}, nil); err == nil {
		t.Error("Submit after Stop should fail")
	}
}
