package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/autoforge/autoforge/internal/capability"
	"github.com/autoforge/autoforge/internal/inference"
	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

// ContextSelector supplies the budgeted context chunks for a task attempt.
// The retrieval engine implements it; tests substitute stubs.
type ContextSelector interface {
	Select(task *models.Task) ([]models.ContextChunk, error)
}

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// Client is the generation backend requests go through.
	Client inference.Client
	// Registry resolves task kinds to capabilities.
	Registry *capability.Registry
	// Store is the project state store.
	Store state.Store
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	maxConcurrent  int
	maxRetries     int
	backoffBase    time.Duration
	backoffCap     time.Duration
	maxPark        time.Duration
	probeInterval  time.Duration
	requestTimeout time.Duration
	eventBuffer    int
	selector       ContextSelector
	logger         zerolog.Logger
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		maxConcurrent:  2,
		maxRetries:     3,
		backoffBase:    2 * time.Second,
		backoffCap:     60 * time.Second,
		maxPark:        5 * time.Minute,
		probeInterval:  2 * time.Second,
		requestTimeout: 120 * time.Second,
		eventBuffer:    100,
		logger:         zerolog.Nop(),
	}
}

// WithMaxConcurrent sets the maximum number of concurrently running tasks.
func WithMaxConcurrent(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithMaxRetries sets how many attempts a task gets before failing
// terminally.
func WithMaxRetries(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff base and cap between retries.
func WithBackoff(base, limit time.Duration) Option {
	return func(o *orchestratorOptions) {
		if base > 0 {
			o.backoffBase = base
		}
		if limit > 0 {
			o.backoffCap = limit
		}
	}
}

// WithPark sets how long tasks wait out a service outage before failing,
// and how often availability is probed while parked.
func WithPark(maxPark, probeInterval time.Duration) Option {
	return func(o *orchestratorOptions) {
		if maxPark > 0 {
			o.maxPark = maxPark
		}
		if probeInterval > 0 {
			o.probeInterval = probeInterval
		}
	}
}

// WithRequestTimeout sets the per-attempt inference timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithEventBuffer sets the emitter's channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithSelector sets the context selector consulted before each attempt.
// Without one, attempts run with no retrieved context.
func WithSelector(s ContextSelector) Option {
	return func(o *orchestratorOptions) { o.selector = s }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = log }
}
