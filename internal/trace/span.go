package trace

import (
	"fmt"
	"time"
)

// Kind classifies what a span measures.
type Kind string

const (
	KindCycle     Kind = "cycle"      // one full event-handling cycle (root only)
	KindLLMCall   Kind = "llm_call"   // one provider generate call, including tool rounds
	KindToolCall  Kind = "tool_call"  // one tool execution requested by the provider
	KindHTTPRetry Kind = "http_retry" // one failed transient attempt inside a call
)

// Status is the terminal state of a span.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// InvariantViolation signals misuse of the span lifecycle: ending a span
// twice, ending it while a child is still open, or emitting an unclosed
// trace. These are programming bugs, so the package panics with this value
// instead of returning an error.
type InvariantViolation struct {
	Span   string
	Reason string
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("trace invariant violated on span %q: %s", v.Span, v.Reason)
}

// Span is one timed step of work inside a trace. Spans nest strictly by call
// order: a child is opened on its parent and must be ended before the parent.
// Spans are append-only; once ended they are never reopened.
//
// A span tree belongs to a single cycle and is not safe for concurrent use.
type Span struct {
	name      string
	kind      Kind
	startedAt time.Time
	endedAt   time.Time
	status    Status
	ended     bool
	attrs     map[string]any
	children  []*Span
}

func newSpan(name string, kind Kind) *Span {
	return &Span{
		name:      name,
		kind:      kind,
		startedAt: time.Now().UTC(),
		attrs:     make(map[string]any),
	}
}

// StartChild opens a nested span under s.
func (s *Span) StartChild(name string, kind Kind) *Span {
	if s.ended {
		panic(InvariantViolation{Span: s.name, Reason: "child started after span ended"})
	}
	child := newSpan(name, kind)
	s.children = append(s.children, child)
	return child
}

// SetAttr records an attribute on the span. Attributes set after the span
// ended would never be emitted consistently, so that is a contract violation.
func (s *Span) SetAttr(key string, value any) {
	if s.ended {
		panic(InvariantViolation{Span: s.name, Reason: "attribute set after span ended"})
	}
	s.attrs[key] = value
}

// End closes the span with the given status. All children must already be
// closed.
func (s *Span) End(status Status) {
	if s.ended {
		panic(InvariantViolation{Span: s.name, Reason: "span ended twice"})
	}
	for _, child := range s.children {
		if !child.ended {
			panic(InvariantViolation{Span: s.name, Reason: fmt.Sprintf("ended while child %q still open", child.name)})
		}
	}
	s.status = status
	s.endedAt = time.Now().UTC()
	s.ended = true
}

// endOpen closes s and any still-open descendants with status, children
// first. Spans that already ended keep their original status.
func (s *Span) endOpen(status Status) {
	if s.ended {
		return
	}
	for _, child := range s.children {
		child.endOpen(status)
	}
	s.End(status)
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Kind returns the span kind.
func (s *Span) Kind() Kind { return s.kind }

// Status returns the terminal status. Zero value until End is called.
func (s *Span) Status() Status { return s.status }

// Ended reports whether the span has been closed.
func (s *Span) Ended() bool { return s.ended }

// StartedAt returns the span start time.
func (s *Span) StartedAt() time.Time { return s.startedAt }

// EndedAt returns the span end time. Zero value until End is called.
func (s *Span) EndedAt() time.Time { return s.endedAt }

// Children returns the ordered child spans.
func (s *Span) Children() []*Span { return s.children }

// Attr returns the attribute stored under key, or nil.
func (s *Span) Attr(key string) any { return s.attrs[key] }

// ChildrenOfKind returns the ordered children matching kind.
func (s *Span) ChildrenOfKind(kind Kind) []*Span {
	var out []*Span
	for _, c := range s.children {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}
