package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestSpanTree_WellFormed(t *testing.T) {
	tr := New("t1", "cycle", map[string]any{"provider": "gpt"})
	root := tr.Root()

	call := root.StartChild("llm.call", KindLLMCall)
	retry := call.StartChild("http.retry", KindHTTPRetry)
	retry.SetAttr("attempt", 1)
	retry.End(StatusError)
	tool := call.StartChild("tool.read_file", KindToolCall)
	tool.End(StatusOK)
	call.End(StatusOK)
	root.End(StatusOK)

	if root.Kind() != KindCycle {
		t.Errorf("root kind = %s, want cycle", root.Kind())
	}
	if got := len(root.Children()); got != 1 {
		t.Fatalf("root children = %d, want 1", got)
	}
	if got := len(call.ChildrenOfKind(KindHTTPRetry)); got != 1 {
		t.Errorf("retry children = %d, want 1", got)
	}
	if call.EndedAt().Before(call.StartedAt()) {
		t.Error("span end time before start time")
	}
	// Children's intervals must fall inside the parent's interval.
	for _, child := range call.Children() {
		if child.StartedAt().Before(call.StartedAt()) || child.EndedAt().After(call.EndedAt()) {
			t.Errorf("child %q interval outside parent", child.Name())
		}
	}
}

func TestSpan_EndTwicePanics(t *testing.T) {
	defer expectInvariantViolation(t, "span ended twice")

	tr := New("t1", "cycle", nil)
	tr.Root().End(StatusOK)
	tr.Root().End(StatusOK)
}

func TestSpan_EndWithOpenChildPanics(t *testing.T) {
	defer expectInvariantViolation(t, "still open")

	tr := New("t1", "cycle", nil)
	tr.Root().StartChild("llm.call", KindLLMCall)
	tr.Root().End(StatusOK)
}

func TestSpan_StartChildAfterEndPanics(t *testing.T) {
	defer expectInvariantViolation(t, "after span ended")

	tr := New("t1", "cycle", nil)
	tr.Root().End(StatusOK)
	tr.Root().StartChild("late", KindLLMCall)
}

func TestTrace_MarshalOpenRootPanics(t *testing.T) {
	defer expectInvariantViolation(t, "still open")

	tr := New("t1", "cycle", nil)
	_, _ = tr.Marshal()
}

func TestStreamEmitter_DelimitedRecord(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewStreamEmitter(&buf)

	tr := New("t42", "cycle", map[string]any{"event_kind": "mention"})
	call := tr.Root().StartChild("llm.call", KindLLMCall)
	call.SetAttr("model", "gpt-4o-mini")
	call.End(StatusOK)
	tr.Root().End(StatusOK)

	if err := emitter.Emit(tr); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "TRACE_START\n") {
		t.Fatalf("output missing TRACE_START prefix: %q", out)
	}
	if !strings.HasSuffix(out, "\nTRACE_END\n") {
		t.Fatalf("output missing TRACE_END suffix: %q", out)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(out, "TRACE_START\n"), "\nTRACE_END\n")
	var record struct {
		TraceID string `json:"trace_id"`
		Root    struct {
			Name     string `json:"name"`
			Kind     string `json:"kind"`
			Status   string `json:"status"`
			Children []struct {
				Kind  string         `json:"kind"`
				Attrs map[string]any `json:"attrs"`
			} `json:"children"`
		} `json:"root"`
	}
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if record.TraceID != "t42" {
		t.Errorf("trace_id = %s, want t42", record.TraceID)
	}
	if record.Root.Kind != "cycle" || record.Root.Status != "ok" {
		t.Errorf("root = %s/%s, want cycle/ok", record.Root.Kind, record.Root.Status)
	}
	if len(record.Root.Children) != 1 || record.Root.Children[0].Kind != "llm_call" {
		t.Fatalf("children = %+v, want one llm_call", record.Root.Children)
	}
}

func TestStreamEmitter_ConcurrentRecordsDoNotInterleave(t *testing.T) {
	var buf syncBuffer
	emitter := NewStreamEmitter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := New("t", "cycle", nil)
			tr.Root().End(StatusOK)
			if err := emitter.Emit(tr); err != nil {
				t.Errorf("Emit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	out := buf.String()
	if got := strings.Count(out, "TRACE_START"); got != 8 {
		t.Fatalf("TRACE_START count = %d, want 8", got)
	}
	// Every record must be complete: markers strictly alternate.
	expectStart := true
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		switch line {
		case "TRACE_START":
			if !expectStart {
				t.Fatal("nested TRACE_START marker")
			}
			expectStart = false
		case "TRACE_END":
			if expectStart {
				t.Fatal("TRACE_END without open record")
			}
			expectStart = true
		}
	}
}

func TestMarshal_RedactsSensitiveAttrs(t *testing.T) {
	tr := New("t1", "cycle", map[string]any{"github_token": "ghp_secretvalue"})
	root := tr.Root()
	root.SetAttr("detail", "Authorization: Bearer abc123")
	root.SetAttr("long", strings.Repeat("x", 5000))
	root.SetAttr("safe", "hello")
	root.End(StatusOK)

	payload, err := tr.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out := string(payload)
	if strings.Contains(out, "ghp_secretvalue") || strings.Contains(out, "abc123") {
		t.Error("serialized trace leaked a credential value")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder in output")
	}
	if !strings.Contains(out, "...[truncated]") {
		t.Error("expected oversized attr to be truncated")
	}
	if !strings.Contains(out, "hello") {
		t.Error("safe attr should survive redaction")
	}
}

func TestMarshal_RedactsNestedAttrs(t *testing.T) {
	tr := New("t1", "cycle", nil)
	root := tr.Root()
	root.SetAttr("request", map[string]any{
		"api_key": "sk-nested-secret",
		"body":    []any{"ok", map[string]any{"authorization": "Bearer xyz789"}},
	})
	root.End(StatusOK)

	payload, err := tr.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	out := string(payload)
	if strings.Contains(out, "sk-nested-secret") || strings.Contains(out, "xyz789") {
		t.Error("serialized trace leaked a nested credential value")
	}
	if !strings.Contains(out, `"ok"`) {
		t.Error("safe nested value should survive redaction")
	}
}

func TestTrace_FailClosesOpenSpans(t *testing.T) {
	tr := New("t1", "cycle", nil)
	root := tr.Root()
	call := root.StartChild("llm.call", KindLLMCall)
	done := call.StartChild("http.retry", KindHTTPRetry)
	done.End(StatusOK)
	open := call.StartChild("tool.read_file", KindToolCall)

	tr.Fail("boom")

	for _, span := range []*Span{root, call, open} {
		if !span.Ended() || span.Status() != StatusError {
			t.Fatalf("span %q not force-closed as error", span.Name())
		}
	}
	// Spans that finished before the abort keep their status.
	if done.Status() != StatusOK {
		t.Fatalf("finished span was rewritten to %s", done.Status())
	}
	if root.Attr("error") != "boom" {
		t.Fatalf("root error attr = %v", root.Attr("error"))
	}
	if _, err := tr.Marshal(); err != nil {
		t.Fatalf("failed trace must be serializable: %v", err)
	}
}

func TestTrace_FailAfterCleanCloseIsNoOp(t *testing.T) {
	tr := New("t1", "cycle", nil)
	tr.Root().End(StatusOK)

	tr.Fail("boom")

	if tr.Root().Status() != StatusOK {
		t.Fatalf("closed root was rewritten to %s", tr.Root().Status())
	}
	if tr.Root().Attr("error") != nil {
		t.Fatal("closed root must not gain an error attr")
	}
}

func expectInvariantViolation(t *testing.T, fragment string) {
	t.Helper()
	r := recover()
	if r == nil {
		t.Fatal("expected panic, got none")
	}
	violation, ok := r.(InvariantViolation)
	if !ok {
		t.Fatalf("panic value = %T, want InvariantViolation", r)
	}
	if !strings.Contains(violation.Error(), fragment) {
		t.Fatalf("violation %q does not mention %q", violation.Error(), fragment)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
