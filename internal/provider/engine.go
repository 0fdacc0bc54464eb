package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier.app/courier/common/logger"
	"courier.app/courier/internal/mode"
	"courier.app/courier/internal/plan"
	"courier.app/courier/internal/trace"
)

const systemPrompt = "You are Courier, a conversational engineering assistant. " +
	"Answer concisely. When repository tools are available, use them instead of " +
	"guessing about repository state."

// turn is one raw model completion before the engine decides whether it is
// terminal or a tool-call round.
type turn struct {
	text      string
	toolCalls []ToolCall
	usage     Usage
}

// backend is the variant-specific transport: one completion call and the
// error taxonomy for it. Everything above this line is shared.
type backend interface {
	chat(ctx context.Context, msgs []Message, tools []Tool) (*turn, error)
	// classify maps a transport error to its HTTP status (0 if unknown)
	// and whether the attempt may be retried.
	classify(err error) (status int, retriable bool)
}

// engine drives the shared generate loop: bounded retries per call, bounded
// tool rounds per generate, and the llm_call span tree.
type engine struct {
	name    string
	model   string
	backend backend
	tools   ToolRunner

	maxAttempts   int
	maxToolRounds int
	backoff       time.Duration
	callTimeout   time.Duration

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func newEngine(name, model string, b backend, cfg Config) *engine {
	e := &engine{
		name:          name,
		model:         model,
		backend:       b,
		tools:         cfg.Tools,
		maxAttempts:   cfg.MaxAttempts,
		maxToolRounds: cfg.MaxToolRounds,
		backoff:       cfg.Backoff,
		callTimeout:   cfg.CallTimeout,
		sleep:         time.Sleep,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = 3
	}
	if e.maxToolRounds <= 0 {
		e.maxToolRounds = 8
	}
	if e.backoff <= 0 {
		e.backoff = 1500 * time.Millisecond
	}
	if e.callTimeout <= 0 {
		e.callTimeout = 60 * time.Second
	}
	return e
}

func (e *engine) Name() string  { return e.name }
func (e *engine) Model() string { return e.model }

func (e *engine) Generate(ctx context.Context, req Request, parent *trace.Span) (*Response, error) {
	if req.Mode == "" {
		req.Mode = mode.ModeChat
	}

	span := parent.StartChild("generate", trace.KindLLMCall)
	span.SetAttr("provider", e.name)
	span.SetAttr("model", e.model)
	span.SetAttr("mode", string(req.Mode))

	resp, err := e.generate(ctx, req, span)
	if err != nil {
		span.SetAttr("error", err.Error())
		span.End(trace.StatusError)
		return nil, err
	}
	span.SetAttr("prompt_tokens", resp.Usage.PromptTokens)
	span.SetAttr("completion_tokens", resp.Usage.CompletionTokens)
	span.End(trace.StatusOK)
	return resp, nil
}

func (e *engine) generate(ctx context.Context, req Request, span *trace.Span) (*Response, error) {
	msgs := e.buildMessages(req)

	var tools []Tool
	if e.tools != nil {
		tools = e.tools.Definitions()
	}

	usage := Usage{}
	toolRounds := 0
	for {
		t, err := e.chatWithRetry(ctx, msgs, tools, span)
		if err != nil {
			return nil, err
		}
		usage.PromptTokens += t.usage.PromptTokens
		usage.CompletionTokens += t.usage.CompletionTokens

		if len(t.toolCalls) == 0 || e.tools == nil {
			return &Response{Provider: e.name, Text: t.text, Usage: usage}, nil
		}

		if toolRounds >= e.maxToolRounds {
			return nil, &ToolLoopError{Provider: e.name, Rounds: e.maxToolRounds}
		}
		toolRounds++
		span.SetAttr("tool_rounds", toolRounds)

		msgs = append(msgs, Message{Role: "assistant", Content: t.text, ToolCalls: t.toolCalls})
		for _, call := range t.toolCalls {
			// Tool executions get the same per-call deadline as chat
			// calls; a hung tool must not stall the cycle forever.
			toolCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
			result := e.tools.Run(toolCtx, span, call)
			cancel()
			msgs = append(msgs, Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    toolResultContent(result),
			})
		}
	}
}

// chatWithRetry makes one completion call with bounded retries. Every failed
// retriable attempt, the last one included, is recorded as an http_retry
// child so the trace shows exactly how many network round trips happened.
func (e *engine) chatWithRetry(ctx context.Context, msgs []Message, tools []Tool, span *trace.Span) (*turn, error) {
	var lastErr error
	var lastStatus, attempts int

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		t, err := e.backend.chat(callCtx, msgs, tools)
		cancel()
		if err == nil {
			return t, nil
		}

		status, retriable := e.classifyAttempt(err)
		if !retriable {
			return nil, &ProviderError{
				Provider:   e.name,
				StatusCode: status,
				Message:    err.Error(),
				Attempts:   attempt,
			}
		}

		retry := span.StartChild("retry", trace.KindHTTPRetry)
		retry.SetAttr("attempt", attempt)
		if status != 0 {
			retry.SetAttr("status_code", status)
		}
		retry.SetAttr("error", err.Error())
		retry.End(trace.StatusError)

		slog.WarnContext(ctx, "provider call failed, retrying",
			"provider", e.name, "attempt", attempt, "status", status,
			"error", logger.Truncate(err.Error(), 300))

		lastErr = err
		lastStatus = status
		if attempt < e.maxAttempts {
			if ctx.Err() != nil {
				break
			}
			e.sleep(e.backoff * time.Duration(attempt))
		}
	}

	return nil, &ProviderError{
		Provider:   e.name,
		StatusCode: lastStatus,
		Message:    lastErr.Error(),
		Attempts:   attempts,
	}
}

// classifyAttempt layers the errors the engine owns (per-attempt timeouts)
// over the backend's transport taxonomy.
func (e *engine) classifyAttempt(err error) (int, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	return e.backend.classify(err)
}

func (e *engine) buildMessages(req Request) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	for _, t := range req.History {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Text})
	}

	prompt := req.Prompt
	if req.Mode == mode.ModePlan {
		prompt = plan.BuildPrompt(req.Prompt)
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return msgs
}

func toolResultContent(r ToolResult) string {
	if r.OK {
		return r.Output
	}
	return fmt.Sprintf(`{"error":%q}`, r.Error)
}
