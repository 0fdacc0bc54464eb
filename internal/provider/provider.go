// Package provider normalizes heterogeneous LLM backends behind one
// contract. A variant is selected once at startup and fixed for the process
// lifetime; every variant shares the same retry, tool-loop, and tracing
// behavior through an internal engine.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"courier.app/courier/internal/mode"
	"courier.app/courier/internal/trace"
)

// Variant names accepted by New.
const (
	VariantGPT    = "gpt"
	VariantClaude = "claude"
	VariantGemini = "gemini"
)

// Turn is one prior conversation turn supplied by the platform collaborator.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Request is one generate call: the prompt, any available history, and the
// mode selected by the router. Passed by value; the adapter owns translation
// to the provider-native shape.
type Request struct {
	ConversationID string
	Prompt         string
	History        []Turn
	Mode           mode.Mode
}

// Usage is provider-reported token accounting, summed across tool rounds.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a terminal reply. Generate never surfaces an unresolved
// tool-call round to the caller.
type Response struct {
	Provider string
	Text     string
	Usage    Usage
}

// Message is the uniform conversation message shape translated by each
// variant into its native request format.
type Message struct {
	Role       string     // "system", "user", "assistant", "tool"
	Content    string     // text content
	ToolCalls  []ToolCall // for assistant messages that request tool calls
	ToolCallID string     // for tool result messages
}

// Tool defines a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON schema for arguments
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments
}

// ToolResult is the outcome of executing one tool call. Failures are data,
// not errors: they are fed back to the model so it can adapt.
type ToolResult struct {
	OK     bool
	Output string
	Error  string
}

// ToolRunner executes provider-requested tool calls. Run must not fail; it
// captures every problem inside the result.
type ToolRunner interface {
	Definitions() []Tool
	Run(ctx context.Context, parent *trace.Span, call ToolCall) ToolResult
}

// Provider is the capability set shared by all variants.
type Provider interface {
	Name() string
	Model() string
	// Generate produces a final reply for the request, driving any tool
	// rounds internally. The llm_call span (with nested retry and tool
	// spans) is opened under parent.
	Generate(ctx context.Context, req Request, parent *trace.Span) (*Response, error)
}

// ProviderError is a terminal provider failure: retries exhausted or a
// non-retriable response. StatusCode is the last HTTP status when known.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Attempts   int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (status %d) after %d attempt(s): %s", e.Provider, e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%s provider error after %d attempt(s): %s", e.Provider, e.Attempts, e.Message)
}

// ToolLoopError is returned when the model keeps requesting tool calls past
// the configured round bound.
type ToolLoopError struct {
	Provider string
	Rounds   int
}

func (e *ToolLoopError) Error() string {
	return fmt.Sprintf("%s exceeded tool-call round limit (%d)", e.Provider, e.Rounds)
}

// Config holds provider adapter configuration, read once at startup.
type Config struct {
	Variant string // "gpt", "claude" or "gemini"
	APIKey  string
	Model   string // empty = variant default
	BaseURL string // optional custom endpoint (gpt/claude)

	MaxAttempts   int           // HTTP attempts per call, default 3
	MaxToolRounds int           // tool-call rounds per generate, default 8
	Backoff       time.Duration // base backoff between attempts, default 1.5s
	CallTimeout   time.Duration // per-attempt timeout, default 60s

	Tools ToolRunner // optional; nil disables tool calling
}

// New creates the configured provider variant. This is the single place the
// active backend is switched.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %q", cfg.Variant)
	}

	switch cfg.Variant {
	case VariantGPT:
		return newGPTProvider(cfg)
	case VariantClaude:
		return newClaudeProvider(cfg)
	case VariantGemini:
		return newGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Variant)
	}
}

// SchemaFrom generates a JSON schema from an instance value, used for tool
// parameter definitions.
func SchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}
