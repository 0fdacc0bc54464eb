// Package tools executes provider-requested tool calls. The executor owns
// registration, dispatch, per-call tracing and transient retries; the tool
// families (GitHub) own the actual work.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"courier.app/courier/common/logger"
	"courier.app/courier/internal/provider"
	"courier.app/courier/internal/trace"
)

// Handler executes one tool call. Returned values are JSON-encoded into the
// tool result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// TransientError marks a tool failure worth retrying: rate limits, server
// errors, network drops. Anything else fails the call on the first attempt.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

type registration struct {
	description string
	params      any
	handler     Handler
}

// Executor implements provider.ToolRunner over a registry of named tools.
type Executor struct {
	names       []string
	tools       map[string]registration
	maxAttempts int
	backoff     time.Duration

	sleep func(time.Duration)
}

func NewExecutor(maxAttempts int, backoff time.Duration) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Executor{
		tools:       make(map[string]registration),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       time.Sleep,
	}
}

// Register adds a tool. Registration order is preserved in Definitions so the
// provider sees a stable tool list.
func (e *Executor) Register(name, description string, params any, h Handler) {
	if _, exists := e.tools[name]; !exists {
		e.names = append(e.names, name)
	}
	e.tools[name] = registration{description: description, params: params, handler: h}
}

func (e *Executor) Definitions() []provider.Tool {
	defs := make([]provider.Tool, 0, len(e.names))
	for _, name := range e.names {
		reg := e.tools[name]
		defs = append(defs, provider.Tool{
			Name:        name,
			Description: reg.description,
			Parameters:  reg.params,
		})
	}
	return defs
}

// Run executes one tool call under its own tool_call span. It never returns
// an error: failures are captured in the result and fed back to the model.
func (e *Executor) Run(ctx context.Context, parent *trace.Span, call provider.ToolCall) provider.ToolResult {
	span := parent.StartChild(call.Name, trace.KindToolCall)
	span.SetAttr("tool", call.Name)
	span.SetAttr("arguments", call.Arguments)

	reg, ok := e.tools[call.Name]
	if !ok {
		err := fmt.Sprintf("unknown tool: %s", call.Name)
		span.SetAttr("error", err)
		span.End(trace.StatusError)
		return provider.ToolResult{Error: err}
	}

	out, err := e.invoke(ctx, span, call.Name, reg.handler, json.RawMessage(call.Arguments))
	if err != nil {
		span.SetAttr("error", err.Error())
		span.End(trace.StatusError)
		return provider.ToolResult{Error: err.Error()}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		span.SetAttr("error", err.Error())
		span.End(trace.StatusError)
		return provider.ToolResult{Error: fmt.Sprintf("encode tool result: %v", err)}
	}

	span.SetAttr("result_bytes", len(encoded))
	span.End(trace.StatusOK)
	return provider.ToolResult{OK: true, Output: string(encoded)}
}

// invoke retries transient failures up to the attempt bound, recording one
// http_retry child per failed transient attempt.
func (e *Executor) invoke(ctx context.Context, span *trace.Span, name string, h Handler, args json.RawMessage) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out, err := h(ctx, args)
		if err == nil {
			return out, nil
		}

		transient, ok := err.(*TransientError)
		if !ok {
			return nil, err
		}

		retry := span.StartChild("retry", trace.KindHTTPRetry)
		retry.SetAttr("attempt", attempt)
		if transient.Status != 0 {
			retry.SetAttr("status_code", transient.Status)
		}
		retry.SetAttr("error", transient.Error())
		retry.End(trace.StatusError)

		slog.WarnContext(ctx, "tool call failed, retrying",
			"tool", name, "attempt", attempt,
			"error", logger.Truncate(transient.Error(), 300))

		lastErr = transient
		if attempt < e.maxAttempts {
			if ctx.Err() != nil {
				break
			}
			e.sleep(e.backoff * time.Duration(attempt))
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempt(s): %w", name, e.maxAttempts, lastErr)
}
