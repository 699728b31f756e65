package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"reportweaver/internal/fileutil"
)

// PipelineTrace is the canonical record of one pipeline run.
//
// Events describe logical outcomes (a shard was merged, an artifact was
// rewritten), never timings. Two runs over the same inputs produce the same
// canonical bytes apart from RunID, regardless of how work was scheduled.
type PipelineTrace struct {
	RunID  string
	Events []Event
}

// EventKind discriminates Event. The string values are part of the
// canonical encoding; do not rename.
type EventKind string

const (
	EventShardAnalyzed      EventKind = "ShardAnalyzed"
	EventShardFailed        EventKind = "ShardFailed"
	EventShardMerged        EventKind = "ShardMerged"
	EventShardSkipped       EventKind = "ShardSkipped"
	EventArtifactNormalized EventKind = "ArtifactNormalized"
	EventArtifactCopied     EventKind = "ArtifactCopied"
	EventArtifactUntouched  EventKind = "ArtifactUntouched"
	EventLinkBroken         EventKind = "LinkBroken"
)

// Event is a single logical outcome.
//
// Subject names what the event is about (shard name, artifact path, link
// path). Reason is a stable code such as "Unparsable" or "Cached". Count
// carries a per-event quantity, e.g. the number of paths rewritten.
type Event struct {
	Kind    EventKind
	Subject string
	Reason  string
	Count   int
}

// Validate checks basic invariants and returns a descriptive error.
func (t *PipelineTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.RunID == "" {
		return errors.New("runId is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Subject == "" {
			return fmt.Errorf("events[%d].subject is required for kind %q", i, e.Kind)
		}
		if e.Count < 0 {
			return fmt.Errorf("events[%d].count is negative", i)
		}
	}
	return nil
}

// Canonicalize sorts events by (subject, kind, reason, count).
func (t *PipelineTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.Count < b.Count
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventShardAnalyzed:
		return 10
	case EventShardFailed:
		return 20
	case EventShardMerged:
		return 30
	case EventShardSkipped:
		return 40
	case EventArtifactNormalized:
		return 50
	case EventArtifactCopied:
		return 60
	case EventArtifactUntouched:
		return 70
	case EventLinkBroken:
		return 80
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical encoding without mutating t.
func (t PipelineTrace) CanonicalJSON() ([]byte, error) {
	c := PipelineTrace{RunID: t.RunID, Events: make([]Event, len(t.Events))}
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// WriteFile writes the canonical encoding of t to path.
func (t PipelineTrace) WriteFile(path string) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

// Count returns how many events of kind k were recorded.
func (t PipelineTrace) Count(k EventKind) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// MarshalJSON fixes field order.
func (t PipelineTrace) MarshalJSON() ([]byte, error) {
	if t.RunID == "" {
		return nil, errors.New("runId is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"runId":`)
	rb, _ := json.Marshal(t.RunID)
	buf.Write(rb)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	buf.WriteString(`,"subject":`)
	sb, _ := json.Marshal(e.Subject)
	buf.Write(sb)

	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.Count != 0 {
		fmt.Fprintf(&buf, `,"count":%d`, e.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
