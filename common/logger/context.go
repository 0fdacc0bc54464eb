package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so business context (conversation,
// trace ID, provider) is included in every log statement without plumbing.
type LogFields struct {
	TraceID        string // Trace ID for the current event cycle
	ConversationID string // Platform conversation/channel ID
	EventKind      string // Inbound event kind (mention, direct_message)
	Provider       string // Active provider name (gpt, claude, gemini)
	Mode           string // Selected mode (chat, plan)
	Component      string // Component name (e.g., "courier.dispatch")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.TraceID != "" {
		result.TraceID = next.TraceID
	}
	if next.ConversationID != "" {
		result.ConversationID = next.ConversationID
	}
	if next.EventKind != "" {
		result.EventKind = next.EventKind
	}
	if next.Provider != "" {
		result.Provider = next.Provider
	}
	if next.Mode != "" {
		result.Mode = next.Mode
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like prompts or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
