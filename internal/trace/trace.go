package trace

import (
	"encoding/json"
	"time"
)

// Trace is the complete span tree for one event-handling cycle. The root span
// (kind cycle) is opened when the trace is created and must be ended before
// the trace is emitted.
type Trace struct {
	id        string
	startedAt time.Time
	metadata  map[string]any
	root      *Span
}

// New creates a trace with an open root span of kind cycle.
func New(id, rootName string, metadata map[string]any) *Trace {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Trace{
		id:        id,
		startedAt: time.Now().UTC(),
		metadata:  metadata,
		root:      newSpan(rootName, KindCycle),
	}
}

// ID returns the trace ID.
func (t *Trace) ID() string { return t.id }

// Root returns the root span.
func (t *Trace) Root() *Span { return t.root }

// Fail force-closes every span still open, deepest first, with error status,
// recording reason on the root. It lets a cycle that aborted mid-flight
// (typically a recovered panic) still emit a complete trace.
func (t *Trace) Fail(reason string) {
	if !t.root.ended {
		t.root.SetAttr("error", reason)
	}
	t.root.endOpen(StatusError)
}

type spanRecord struct {
	Name       string         `json:"name"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Children   []spanRecord   `json:"children,omitempty"`
}

type traceRecord struct {
	TraceID   string         `json:"trace_id"`
	StartedAt string         `json:"started_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Root      spanRecord     `json:"root"`
}

// Marshal serializes the full span tree as an indented JSON record with
// sensitive attribute values redacted. The tree must be fully closed.
func (t *Trace) Marshal() ([]byte, error) {
	record := traceRecord{
		TraceID:   t.id,
		StartedAt: t.startedAt.Format(time.RFC3339Nano),
		Metadata:  redactAttrs(t.metadata),
		Root:      t.root.record(),
	}
	return json.MarshalIndent(record, "", "  ")
}

func (s *Span) record() spanRecord {
	if !s.ended {
		panic(InvariantViolation{Span: s.name, Reason: "trace emitted while span still open"})
	}
	rec := spanRecord{
		Name:       s.name,
		Kind:       s.kind,
		Status:     s.status,
		StartedAt:  s.startedAt.Format(time.RFC3339Nano),
		FinishedAt: s.endedAt.Format(time.RFC3339Nano),
		DurationMs: s.endedAt.Sub(s.startedAt).Milliseconds(),
		Attrs:      redactAttrs(s.attrs),
	}
	for _, child := range s.children {
		rec.Children = append(rec.Children, child.record())
	}
	return rec
}
