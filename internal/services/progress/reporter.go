package progress

import (
	"log/slog"
	"sync"

	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/model"
)

// DefaultBufferSize is the per-subscriber channel capacity
const DefaultBufferSize = 256

// Emitter receives progress events. Implementations must not block.
type Emitter interface {
	Emit(event model.Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event model.Event)

// Emit calls f(event)
func (f EmitterFunc) Emit(event model.Event) {
	f(event)
}

// Discard is an Emitter that drops every event
var Discard Emitter = EmitterFunc(func(model.Event) {})

// Subscription is one consumer of a Reporter's stream
type Subscription struct {
	C <-chan model.Event

	ch       chan model.Event
	reporter *Reporter
	once     sync.Once
}

// Close detaches the subscription; C is closed afterwards
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.reporter.unsubscribe(s)
	})
}

// Reporter keeps an append-only event log for one task and fans events out to subscribers.
// A subscriber whose buffer is full misses the event on its channel but can recover it from Events.
type Reporter struct {
	taskID model.TaskID
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	events  []model.Event
	subs    map[*Subscription]struct{}
	dropped int
	closed  bool
}

// NewReporter creates a Reporter for a task
func NewReporter(taskID model.TaskID, clk clock.Clock, logger *slog.Logger) *Reporter {
	return &Reporter{
		taskID: taskID,
		clock:  clk,
		logger: logger.With(slog.String("component", "progress"), slog.String("task_id", string(taskID))),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Ensure Reporter implements Emitter
var _ Emitter = (*Reporter)(nil)

// Emit appends the event to the log and delivers it to subscribers without blocking
func (r *Reporter) Emit(event model.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}
	if event.TaskID == "" {
		event.TaskID = r.taskID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if r.closed {
		return
	}
	for sub := range r.subs {
		select {
		case sub.ch <- event:
		default:
			r.dropped++
			r.logger.Warn("progress event dropped - subscriber buffer full",
				slog.String("step", string(event.Step)))
		}
	}
}

// Subscribe attaches a consumer. With replay the existing log is queued first and
// bufferSize slots stay free for live events.
func (r *Reporter) Subscribe(bufferSize int, replay bool) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := bufferSize
	if replay {
		capacity += len(r.events)
	}
	ch := make(chan model.Event, capacity)
	sub := &Subscription{C: ch, ch: ch, reporter: r}

	if replay {
		for _, ev := range r.events {
			ch <- ev
		}
	}
	if r.closed {
		close(ch)
		return sub
	}
	r.subs[sub] = struct{}{}
	return sub
}

func (r *Reporter) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.ch)
	}
}

// Events returns a snapshot of the log
func (r *Reporter) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Dropped returns how many channel deliveries were skipped
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close ends every subscription. The log stays readable.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		close(sub.ch)
		delete(r.subs, sub)
	}
}

// Recorder is an Emitter that only records, for tests and one-shot callers
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// Emit records the event
func (r *Recorder) Emit(event model.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns the recorded events
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Steps returns the recorded events filtered to one step
func (r *Recorder) Steps(step model.Step) []model.Event {
	var out []model.Event
	for _, ev := range r.Events() {
		if ev.Step == step {
			out = append(out, ev)
		}
	}
	return out
}
