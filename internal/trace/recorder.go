package trace

import (
	"sync"

	"github.com/google/uuid"
)

// Sink receives pipeline events.
//
// Record must not panic and has no error result. A nil Sink discards events
// when used through SafeRecord.
type Sink interface {
	Record(event Event)
}

// SafeRecord records an event, swallowing panics from a misbehaving sink.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory collector. Ordering is computed
// after collection, so lock contention never affects the canonical trace.
type Recorder struct {
	runID string

	mu     sync.Mutex
	events []Event
}

// NewRecorder returns a recorder with a fresh random run id.
func NewRecorder() *Recorder {
	return &Recorder{runID: uuid.NewString()}
}

// RunID identifies the run this recorder collects for.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical PipelineTrace from the recorded events.
func (r *Recorder) Trace() PipelineTrace {
	tr := PipelineTrace{RunID: r.RunID(), Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
