// Package progress provides the per-operation event channel that carries
// structured pipeline progress from a single producer to a single consumer,
// typically a server-sent event stream at the HTTP boundary.
package progress

import "sync"

// Phase identifies which pipeline stage emitted an event.
type Phase string

const (
	PhaseUpload    Phase = "upload"
	PhaseTranslate Phase = "translate"
	PhaseExtract   Phase = "extract"
)

// Status is the state reported by an event. Upload uses process/complete/
// error; translate relays the remote job status verbatim; extract uses
// inprogress/complete/error.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcess    Status = "process"
	StatusInProgress Status = "inprogress"
	StatusComplete   Status = "complete"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Event is a single progress update. Fields beyond Phase and Status are
// populated per stage: Percent for upload chunks, Progress and Elapsed for
// translation polling, Message for extract sub-progress, Error on the
// terminal error event.
type Event struct {
	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`
	Percent  int    `json:"percent,omitempty"`
	Progress string `json:"progress,omitempty"`
	Elapsed  int    `json:"elapsedSeconds,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Terminal reports whether an event ends its stream.
func (e Event) Terminal() bool {
	switch e.Status {
	case StatusComplete, StatusSuccess, StatusFailed, StatusTimeout, StatusError:
		return true
	}
	return false
}

// Bus is a single-producer, single-consumer event channel scoped to one
// pipeline invocation. The producer publishes ordered events and closes the
// bus exactly once; the consumer drains Events and may Cancel to signal the
// producer to stop further work. Publishing after Close is a programming
// error and panics.
type Bus struct {
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
}

// NewBus creates a bus with a small delivery buffer so producers do not
// stall on every event when the consumer is momentarily behind.
func NewBus() *Bus {
	return &Bus{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

// Publish delivers an event to the consumer. Returns false if the consumer
// has cancelled, in which case the event is dropped and the producer should
// stop.
func (b *Bus) Publish(ev Event) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

// Events returns the consumer side of the bus. The channel is closed when
// the operation finishes, terminally fails, or is cancelled.
func (b *Bus) Events() <-chan Event { return b.events }

// Close ends the stream. Safe to call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.events) })
}

// Cancel signals the producer to stop further work. Best-effort: the
// producer checks between chunks or polling ticks, nothing in flight is
// aborted.
func (b *Bus) Cancel() {
	b.cancelOnce.Do(func() { close(b.done) })
}

// Cancelled returns a channel closed once the consumer has cancelled.
func (b *Bus) Cancelled() <-chan struct{} { return b.done }

// IsCancelled reports whether the consumer has cancelled.
func (b *Bus) IsCancelled() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
