// Package capability maps task kinds to the prompt construction and
// response interpretation that kind needs. The scheduler stays generic:
// adding a capability means registering another variant here.
package capability

import (
	"fmt"
	"sync"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Capability turns a task plus retrieved context into an inference request,
// and turns the correlated response into a task result.
type Capability interface {
	// Kind reports which task kind this capability executes.
	Kind() models.TaskKind

	// BuildRequest assembles the inference request for one task attempt.
	// The chunks are the retrieval engine's budgeted selection.
	BuildRequest(task *models.Task, chunks []models.ContextChunk) (*models.InferenceRequest, error)

	// InterpretResponse converts the service response into a result.
	// Semantic failures (unparseable plan, error status) are execution
	// errors so the scheduler counts the attempt and retries.
	InterpretResponse(task *models.Task, resp *models.InferenceResponse) (*models.TaskResult, error)
}

// Registry provides thread-safe registration and lookup of capabilities
// keyed by task kind.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[models.TaskKind]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[models.TaskKind]Capability)}
}

// Register adds a capability for its kind. An existing registration for
// the same kind is replaced.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[c.Kind()] = c
}

// Get retrieves the capability for a task kind.
// Returns ErrCapabilityNotFound if none is registered.
func (r *Registry) Get(kind models.TaskKind) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.capabilities[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autoerr.ErrCapabilityNotFound, kind)
	}
	return c, nil
}

// Has checks whether a capability is registered for the kind.
func (r *Registry) Has(kind models.TaskKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.capabilities[kind]
	return ok
}

// Kinds returns every registered task kind.
func (r *Registry) Kinds() []models.TaskKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.TaskKind, 0, len(r.capabilities))
	for k := range r.capabilities {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultRegistry wires the standard planner, developer, and tester
// capabilities with shared generation parameters.
func DefaultRegistry(params models.GenerationParams, projectRoot string) *Registry {
	r := NewRegistry()
	r.Register(NewPlanner(params))
	r.Register(NewDeveloper(params, projectRoot))
	r.Register(NewTester(params))
	return r
}
