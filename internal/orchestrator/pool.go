package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/pkg/models"
)

// PoolConfig contains the dependencies shared by every orchestrator the
// pool creates.
type PoolConfig struct {
	Required RequiredConfig
	// Options are applied to every orchestrator.
	Options []Option
	// Logger is the pool's logger.
	Logger zerolog.Logger
}

// Pool manages multiple concurrent project orchestrators and aggregates
// their event streams into one channel.
type Pool struct {
	cfg PoolConfig

	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates an empty Pool.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:           cfg,
		orchestrators: make(map[string]*Orchestrator),
		events:        make(chan Event, 100),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit creates and starts an orchestrator for the project. Returns the
// run ID used to cancel or inspect it.
func (p *Pool) Submit(project *models.Project, tasks []*models.Task) (string, error) {
	if p.cfg.Required.Client == nil || p.cfg.Required.Registry == nil || p.cfg.Required.Store == nil {
		return "", fmt.Errorf("pool: client, registry, and store are required")
	}
	select {
	case <-p.ctx.Done():
		return "", fmt.Errorf("pool: stopped")
	default:
	}

	runID := uuid.New().String()[:8]
	orch := New(p.cfg.Required, p.cfg.Options...)

	p.mu.Lock()
	p.orchestrators[runID] = orch
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.forwardEvents(orch)
	}()
	go func() {
		defer p.wg.Done()
		if err := orch.Run(p.ctx, project, tasks); err != nil {
			p.cfg.Logger.Error().Err(err).Str("run", runID).Str("project", project.ID).Msg("run finished with error")
		}
		p.mu.Lock()
		delete(p.orchestrators, runID)
		p.mu.Unlock()
	}()

	return runID, nil
}

// Cancel aborts a single run by ID.
func (p *Pool) Cancel(runID string) error {
	p.mu.RLock()
	orch, ok := p.orchestrators[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pool: no run %s", runID)
	}
	orch.Cancel()
	return nil
}

// Count returns the number of running orchestrators.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.orchestrators)
}

// Events returns the aggregated event stream of every run.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Stop cancels every running orchestrator and waits for them to wind
// down, then closes the aggregated event channel.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	close(p.events)
}

// forwardEvents copies one orchestrator's events into the shared channel
// until its stream is exhausted.
func (p *Pool) forwardEvents(orch *Orchestrator) {
	for event := range orch.Events() {
		select {
		case p.events <- event:
		case <-p.ctx.Done():
			// Keep draining so the orchestrator never blocks on emit.
		}
	}
}
