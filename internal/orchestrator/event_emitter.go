package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventEmitter provides a thread-safe way to emit events to subscribers.
// Emission never blocks the scheduler for long: a full channel drops the
// event and counts the drop.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closeOnce    sync.Once
	log          zerolog.Logger
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, log zerolog.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		log:    log,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a short timeout before dropping.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Give a slow subscriber a chance to drain before dropping.
	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			e.log.Warn().
				Uint64("total_dropped", count).
				Str("type", string(event.Type)).
				Msg("event channel full, dropping events")
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel so subscribers ranging over Events()
// terminate. Call only after the orchestrator has stopped emitting.
// Safe to call more than once.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() { close(e.events) })
}
