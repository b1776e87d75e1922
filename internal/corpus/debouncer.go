package corpus

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid change events so one corpus export does not
// trigger a rebuild per touched file. Events for the same path within the
// window merge:
//   - CREATE then MODIFY keeps CREATE (the file is still new)
//   - CREATE then DELETE cancels out (the file never really existed)
//   - MODIFY then DELETE keeps DELETE (the file is gone)
//   - DELETE then CREATE becomes MODIFY (the file was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingChange
	mu      sync.Mutex
	output  chan []ChangeEvent
	timer   *time.Timer
	stopped bool
}

type pendingChange struct {
	event   ChangeEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer emitting batches after the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingChange),
		output:  make(chan []ChangeEvent, 10),
	}
}

// Add queues an event, coalescing it with any pending event for the same
// path.
func (d *Debouncer) Add(event ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := coalesce(existing.firstOp, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingChange{event: event, firstOp: event.Op}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into the pending sequence that started with
// firstOp. Returns nil when the pair cancels out.
func coalesce(firstOp Operation, next ChangeEvent) *ChangeEvent {
	switch firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			created := next
			created.Op = OpCreate
			return &created
		case OpDelete:
			return nil
		}
	case OpDelete:
		if next.Op == OpCreate {
			replaced := next
			replaced.Op = OpModify
			return &replaced
		}
	}
	return &next
}

// scheduleFlush restarts the flush timer. Called with the lock held.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits all pending events as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]ChangeEvent, 0, len(d.pending))
	for _, pc := range d.pending {
		events = append(events, pc.event)
	}
	d.pending = make(map[string]*pendingChange)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
