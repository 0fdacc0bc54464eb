package logger

import (
	"context"
	"log/slog"
	"os"

	"courier.app/courier/core/config"
)

// Setup installs the process-wide slog handler. Production gets JSON records,
// development gets text. Logs go to stderr so they never interleave with the
// trace stream on stdout.
func Setup(cfg config.Config) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = NewFieldsHandler(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		handler = NewFieldsHandler(slog.NewTextHandler(os.Stderr, opts))
	}

	slog.SetDefault(slog.New(handler))
}

// FieldsHandler decorates every record with the LogFields carried by the
// context, so per-cycle identifiers show up on all logs inside a cycle.
type FieldsHandler struct {
	slog.Handler
}

func NewFieldsHandler(h slog.Handler) *FieldsHandler {
	return &FieldsHandler{Handler: h}
}

func (h *FieldsHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := GetLogFields(ctx)

	if fields.TraceID != "" {
		r.AddAttrs(slog.String("trace_id", fields.TraceID))
	}
	if fields.ConversationID != "" {
		r.AddAttrs(slog.String("conversation_id", fields.ConversationID))
	}
	if fields.EventKind != "" {
		r.AddAttrs(slog.String("event_kind", fields.EventKind))
	}
	if fields.Provider != "" {
		r.AddAttrs(slog.String("provider", fields.Provider))
	}
	if fields.Mode != "" {
		r.AddAttrs(slog.String("mode", fields.Mode))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *FieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *FieldsHandler) WithGroup(name string) slog.Handler {
	return &FieldsHandler{Handler: h.Handler.WithGroup(name)}
}
