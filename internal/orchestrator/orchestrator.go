package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/autoforge/autoforge/internal/capability"
	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/graph"
	"github.com/autoforge/autoforge/internal/inference"
	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

// outcome carries the result of one task attempt back to the run loop.
// All task state mutation happens in the loop, never in attempt goroutines.
type outcome struct {
	task   *models.Task
	result *models.TaskResult
	err    error
}

// prober is implemented by clients that can actively test the endpoint
// while tasks are parked, rather than only reporting cached state.
type prober interface {
	Probe(ctx context.Context) bool
}

// Orchestrator executes one project's dependency graph.
type Orchestrator struct {
	client   inference.Client
	registry *capability.Registry
	store    state.Store
	opts     orchestratorOptions
	emitter  *EventEmitter
	log      zerolog.Logger

	graph   *graph.DependencyGraph
	project *models.Project

	mu          sync.Mutex
	correlation map[string]string // task ID -> in-flight request id
	cancelRun   context.CancelFunc

	outcomes chan outcome
	requeue  chan *models.Task

	// parked maps task IDs to their park deadline during a service outage.
	parked      map[string]time.Time
	paused      bool
	pausedSince time.Time
	// pendingRetries counts tasks sleeping out a backoff. The run is not
	// done while any exist.
	pendingRetries int
}

// New creates an Orchestrator for a single project run.
func New(required RequiredConfig, opts ...Option) *Orchestrator {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Orchestrator{
		client:      required.Client,
		registry:    required.Registry,
		store:       required.Store,
		opts:        options,
		emitter:     NewEventEmitter(options.eventBuffer, options.logger),
		log:         options.logger,
		graph:       graph.New(),
		correlation: make(map[string]string),
		outcomes:    make(chan outcome, options.maxConcurrent),
		requeue:     make(chan *models.Task, options.maxConcurrent),
		parked:      make(map[string]time.Time),
	}
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Cancel aborts the run: in-flight inference is cancelled by correlation
// id, running tasks are failed with reason "cancelled", completed results
// are retained.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancelRun
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run validates the task graph and executes it to a terminal project
// status. Validation failures (cycles, unknown dependencies) fail the
// project before any task runs.
func (o *Orchestrator) Run(ctx context.Context, project *models.Project, tasks []*models.Task) error {
	o.project = project
	// Nothing emits after the run loop returns; closing here lets
	// subscribers ranging over Events() terminate.
	defer o.emitter.Close()

	if err := o.graph.Build(tasks); err != nil {
		project.Status = models.ProjectStatusFailed
		if serr := o.store.CreateProject(project); serr != nil {
			o.log.Error().Err(serr).Msg("persist failed project")
		}
		o.emitter.Emit(Event{Type: EventProjectDone, ProjectID: project.ID, Error: err})
		return fmt.Errorf("orchestrator: invalid task graph: %w", err)
	}

	if err := o.store.CreateProject(project); err != nil {
		return fmt.Errorf("orchestrator: persist project: %w", err)
	}
	for _, t := range tasks {
		if err := o.store.CreateTask(t); err != nil {
			return fmt.Errorf("orchestrator: persist task %s: %w", t.ID, err)
		}
		o.emitter.Emit(Event{Type: EventTaskQueued, ProjectID: project.ID, TaskID: t.ID})
	}

	project.Status = models.ProjectStatusRunning
	if err := o.store.UpdateProject(project); err != nil {
		o.log.Error().Err(err).Msg("persist running project")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()

	return o.runLoop(runCtx)
}

func (o *Orchestrator) runLoop(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(o.opts.maxConcurrent))
	probe := time.NewTicker(o.opts.probeInterval)
	defer probe.Stop()

	for {
		if ctx.Err() != nil {
			return o.abort()
		}
		o.dispatch(ctx, sem)

		if done, allCompleted := o.graph.Done(); done && o.pendingRetries == 0 && o.inFlight() == 0 {
			return o.finish(allCompleted)
		}

		select {
		case out := <-o.outcomes:
			o.handleOutcome(ctx, out)
		case task := <-o.requeue:
			o.pendingRetries--
			task.Status = models.TaskStatusPending
			o.persistTask(task)
		case <-probe.C:
			o.checkParked(ctx)
		case <-ctx.Done():
			return o.abort()
		}
	}
}

// dispatch admits ready tasks into free slots, highest priority first.
func (o *Orchestrator) dispatch(ctx context.Context, sem *semaphore.Weighted) {
	if o.paused {
		return
	}

	ready := o.graph.Ready()
	sort.Slice(ready, func(i, j int) bool {
		a, b := o.graph.Task(ready[i]), o.graph.Task(ready[j])
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})

	for _, id := range ready {
		if !sem.TryAcquire(1) {
			return
		}
		task := o.graph.Task(id)
		now := time.Now()
		task.Status = models.TaskStatusRunning
		task.StartedAt = &now
		o.persistTask(task)
		o.emitter.Emit(Event{Type: EventTaskStarted, ProjectID: o.project.ID, TaskID: task.ID, Message: label(task)})
		o.log.Debug().Str("task", task.ID).Str("kind", string(task.Kind)).Msg("task started")

		go o.attempt(ctx, sem, task)
	}
}

// attempt runs one task attempt end to end and reports the outcome. It
// owns no task state: the run loop applies every transition.
func (o *Orchestrator) attempt(ctx context.Context, sem *semaphore.Weighted, task *models.Task) {
	defer sem.Release(1)

	result, err := o.execute(ctx, task)

	select {
	case o.outcomes <- outcome{task: task, result: result, err: err}:
	case <-ctx.Done():
		// The run is aborting; it reconciles running tasks itself.
	}
}

func (o *Orchestrator) execute(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	skill, err := o.registry.Get(task.Kind)
	if err != nil {
		return nil, err
	}

	var chunks []models.ContextChunk
	if o.opts.selector != nil {
		chunks, err = o.opts.selector.Select(task)
		if err != nil {
			if errors.Is(err, autoerr.ErrBudgetExceeded) {
				// Keep the best-effort selection; never fail the task
				// over context volume, and never trim silently.
				o.log.Warn().Str("task", task.ID).Err(err).Msg("context budget exceeded, using truncated selection")
			} else {
				o.log.Warn().Str("task", task.ID).Err(err).Msg("context retrieval failed, proceeding without context")
				chunks = nil
			}
		}
	}

	req, err := skill.BuildRequest(task, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", autoerr.ErrTaskExecution, err)
	}

	o.mu.Lock()
	o.correlation[task.ID] = req.RequestID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.correlation, task.ID)
		o.mu.Unlock()
	}()

	resp, err := o.client.Send(ctx, req, o.opts.requestTimeout)
	if err != nil {
		return nil, err
	}
	return skill.InterpretResponse(task, resp)
}

func (o *Orchestrator) handleOutcome(ctx context.Context, out outcome) {
	task := out.task

	switch {
	case out.err == nil:
		o.complete(task, out.result)
	case errors.Is(out.err, autoerr.ErrServiceUnavailable):
		o.park(task)
	case errors.Is(out.err, autoerr.ErrCancelled):
		o.failTask(task, "cancelled")
		o.emitter.Emit(Event{Type: EventTaskCancelled, ProjectID: o.project.ID, TaskID: task.ID, Message: label(task)})
	default:
		o.retryOrFail(ctx, task, out.err)
	}
}

func (o *Orchestrator) complete(task *models.Task, result *models.TaskResult) {
	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.Progress = 1
	task.Result = result
	task.CompletedAt = &now
	o.graph.MarkComplete(task.ID)
	o.persistTask(task)

	for _, followUp := range result.FollowUps {
		if err := o.graph.Insert(followUp); err != nil {
			o.log.Error().Err(err).Str("task", followUp.ID).Msg("rejected follow-up task")
			continue
		}
		if err := o.store.CreateTask(followUp); err != nil {
			o.log.Error().Err(err).Str("task", followUp.ID).Msg("persist follow-up task")
		}
		o.emitter.Emit(Event{Type: EventTaskQueued, ProjectID: o.project.ID, TaskID: followUp.ID})
	}

	progress := o.refreshProgress()
	o.emitter.Emit(Event{Type: EventTaskCompleted, ProjectID: o.project.ID, TaskID: task.ID, Message: label(task), Progress: progress})
	o.log.Debug().Str("task", task.ID).Float64("progress", progress).Msg("task completed")
}

// park shelves a task during a service outage. No attempt is consumed; the
// task waits for availability to return, up to the park deadline.
func (o *Orchestrator) park(task *models.Task) {
	task.Status = models.TaskStatusRetrying
	o.persistTask(task)
	o.parked[task.ID] = time.Now().Add(o.opts.maxPark)
	if !o.paused {
		o.paused = true
		o.pausedSince = time.Now()
		o.log.Warn().Str("task", task.ID).Msg("inference service unavailable, parking tasks")
	}
	o.emitter.Emit(Event{Type: EventTaskParked, ProjectID: o.project.ID, TaskID: task.ID, Message: label(task)})
}

func (o *Orchestrator) retryOrFail(ctx context.Context, task *models.Task, cause error) {
	task.Attempts++
	if task.Attempts >= o.opts.maxRetries {
		o.failTask(task, cause.Error())
		return
	}

	task.Status = models.TaskStatusRetrying
	task.Error = cause.Error()
	o.persistTask(task)
	delay := o.backoff(task.Attempts)
	o.pendingRetries++
	o.emitter.Emit(Event{Type: EventTaskRetrying, ProjectID: o.project.ID, TaskID: task.ID, Message: label(task), Attempt: task.Attempts, Error: cause})
	o.log.Debug().Str("task", task.ID).Int("attempt", task.Attempts).Dur("backoff", delay).Msg("task retrying")

	go func() {
		select {
		case <-time.After(delay):
			o.requeue <- task
		case <-ctx.Done():
			// abort reconciles retrying tasks
		}
	}()
}

// backoff returns the delay before retry number attempt (1-based).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.opts.backoffCap {
			return o.opts.backoffCap
		}
	}
	if d > o.opts.backoffCap {
		return o.opts.backoffCap
	}
	return d
}

// failTask marks a task terminally failed and propagates the failure to
// its transitive dependents, which fail without ever running.
func (o *Orchestrator) failTask(task *models.Task, reason string) {
	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.FailureReason = reason
	task.CompletedAt = &now
	o.persistTask(task)
	delete(o.parked, task.ID)

	cascaded := o.graph.MarkFailed(task.ID)
	for _, id := range cascaded {
		dep := o.graph.Task(id)
		dep.Status = models.TaskStatusFailed
		dep.FailureReason = fmt.Sprintf("dependency %s failed", task.ID)
		dep.CompletedAt = &now
		o.persistTask(dep)
		delete(o.parked, id)
		o.emitter.Emit(Event{Type: EventTaskFailed, ProjectID: o.project.ID, TaskID: id, Message: dep.FailureReason})
	}

	progress := o.refreshProgress()
	o.emitter.Emit(Event{Type: EventTaskFailed, ProjectID: o.project.ID, TaskID: task.ID, Message: reason, Progress: progress})
	o.log.Debug().Str("task", task.ID).Str("reason", reason).Int("cascaded", len(cascaded)).Msg("task failed")
}

// checkParked probes the endpoint while tasks are parked. Recovered
// availability releases every parked task; an outage that outlives the
// park window fails them instead.
func (o *Orchestrator) checkParked(ctx context.Context) {
	if !o.paused {
		return
	}

	available := o.client.Available()
	if p, ok := o.client.(prober); ok && !available {
		available = p.Probe(ctx)
	}

	if available {
		for id := range o.parked {
			task := o.graph.Task(id)
			task.Status = models.TaskStatusPending
			o.persistTask(task)
			delete(o.parked, id)
		}
		o.paused = false
		o.log.Info().Msg("inference service recovered, resuming")
		return
	}

	now := time.Now()
	for id, deadline := range o.parked {
		if now.After(deadline) {
			o.failTask(o.graph.Task(id), "service unavailable past park window")
		}
	}
	// An outage that outlives the park window fails the tasks that never
	// even got to park, otherwise the run would wait forever.
	if time.Since(o.pausedSince) > o.opts.maxPark {
		for _, t := range o.nonTerminalIdle() {
			o.failTask(t, "service unavailable past park window")
		}
		o.paused = false
	}
}

// nonTerminalIdle returns pending and parked tasks; running tasks are
// excluded, their outcomes reconcile them.
func (o *Orchestrator) nonTerminalIdle() []*models.Task {
	var idle []*models.Task
	for _, id := range o.graph.Ready() {
		idle = append(idle, o.graph.Task(id))
	}
	for id := range o.parked {
		idle = append(idle, o.graph.Task(id))
	}
	return idle
}

func (o *Orchestrator) inFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.correlation)
}

// abort cancels in-flight inference by correlation id and fails running
// tasks with reason "cancelled". Completed results are untouched.
func (o *Orchestrator) abort() error {
	o.mu.Lock()
	inflight := make(map[string]string, len(o.correlation))
	for taskID, reqID := range o.correlation {
		inflight[taskID] = reqID
	}
	o.mu.Unlock()

	for taskID, reqID := range inflight {
		o.client.Cancel(reqID)
		task := o.graph.Task(taskID)
		if task == nil {
			continue
		}
		o.failTask(task, "cancelled")
		o.emitter.Emit(Event{Type: EventTaskCancelled, ProjectID: o.project.ID, TaskID: taskID})
	}

	o.project.Status = models.ProjectStatusFailed
	now := time.Now()
	o.project.CompletedAt = &now
	o.refreshProgress()
	if err := o.store.UpdateProject(o.project); err != nil {
		o.log.Error().Err(err).Msg("persist cancelled project")
	}
	o.emitter.Emit(Event{Type: EventProjectDone, ProjectID: o.project.ID, Message: "cancelled"})
	return fmt.Errorf("orchestrator: run aborted: %w", autoerr.ErrCancelled)
}

func (o *Orchestrator) finish(allCompleted bool) error {
	if allCompleted {
		o.project.Status = models.ProjectStatusCompleted
	} else {
		o.project.Status = models.ProjectStatusFailed
	}
	now := time.Now()
	o.project.CompletedAt = &now
	progress := o.refreshProgress()
	if err := o.store.UpdateProject(o.project); err != nil {
		o.log.Error().Err(err).Msg("persist finished project")
	}
	o.emitter.Emit(Event{Type: EventProjectDone, ProjectID: o.project.ID, Message: string(o.project.Status), Progress: progress})
	o.log.Info().Str("project", o.project.ID).Str("status", string(o.project.Status)).Msg("project done")
	return nil
}

// label renders a short human-readable identifier for event streams.
func label(task *models.Task) string {
	desc := task.Description
	if len(desc) > 60 {
		desc = desc[:57] + "..."
	}
	return fmt.Sprintf("[%s] %s", task.Kind, desc)
}

func (o *Orchestrator) persistTask(task *models.Task) {
	if err := o.store.UpdateTask(task); err != nil {
		o.log.Error().Err(err).Str("task", task.ID).Msg("persist task")
	}
}

// refreshProgress recomputes the project's aggregate progress from a
// consistent store snapshot and keeps the project record current.
func (o *Orchestrator) refreshProgress() float64 {
	progress, err := o.store.RecomputeProgress(o.project.ID)
	if err != nil {
		o.log.Error().Err(err).Msg("recompute progress")
		return o.project.Progress
	}
	o.project.Progress = progress
	return progress
}
