// Package dispatch turns inbound platform events into provider cycles: it
// filters what is actionable, runs one traced cycle per event, and posts the
// reply. A cycle failure never takes the process down.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"courier.app/courier/common/id"
	"courier.app/courier/common/logger"
	"courier.app/courier/internal/mode"
	"courier.app/courier/internal/plan"
	"courier.app/courier/internal/platform"
	"courier.app/courier/internal/provider"
	"courier.app/courier/internal/trace"
)

const fallbackReply = "Sorry, I ran into a problem handling that. Please try again."

const planFallbackPreamble = "I could not produce a structured plan, here is the raw output:\n\n"

var mentionPattern = regexp.MustCompile(`<@[^>]+>`)

// Config wires the dispatcher's collaborators.
type Config struct {
	Provider  provider.Provider
	Messenger platform.Messenger
	Emitter   trace.Emitter
	Hints     *mode.Hints // optional override of the default routing hints
}

type Dispatcher struct {
	provider  provider.Provider
	messenger platform.Messenger
	emitter   trace.Emitter

	wg sync.WaitGroup

	// seams for tests
	detect     func(string) mode.Decision
	newTraceID func() string
}

func New(cfg Config) *Dispatcher {
	hints := mode.DefaultHints()
	if cfg.Hints != nil {
		hints = *cfg.Hints
	}
	return &Dispatcher{
		provider:   cfg.Provider,
		messenger:  cfg.Messenger,
		emitter:    cfg.Emitter,
		detect:     mode.NewDetector(hints).Detect,
		newTraceID: id.NewString,
	}
}

// Handle inspects one event and, when actionable, starts its cycle on a new
// goroutine. Non-actionable events are dropped silently: no reply, no trace.
func (d *Dispatcher) Handle(ctx context.Context, raw platform.RawEvent) {
	prompt, ok := actionable(raw)
	if !ok {
		slog.DebugContext(ctx, "event dropped",
			"kind", string(raw.Kind), "from_bot", raw.FromBot)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runCycle(ctx, raw, prompt)
	}()
}

// Wait blocks until every in-flight cycle has finished. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// actionable decides whether an event deserves a cycle and returns the
// cleaned prompt. Bot-authored events and unaddressed channel chatter are
// never actionable; neither is an empty prompt once mention markup is gone.
func actionable(raw platform.RawEvent) (string, bool) {
	if raw.FromBot {
		return "", false
	}
	switch raw.Kind {
	case platform.KindMention, platform.KindDirectMessage:
	default:
		return "", false
	}

	prompt := strings.TrimSpace(mentionPattern.ReplaceAllString(raw.Text, ""))
	if prompt == "" {
		return "", false
	}
	return prompt, true
}

func (d *Dispatcher) runCycle(ctx context.Context, raw platform.RawEvent, prompt string) {
	traceID := d.newTraceID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TraceID:        traceID,
		ConversationID: raw.ConversationID,
		EventKind:      string(raw.Kind),
		Provider:       d.provider.Name(),
		Component:      "dispatch",
	})

	metadata := map[string]any{
		"conversation_id": raw.ConversationID,
		"user_id":         raw.UserID,
	}
	if !raw.Timestamp.IsZero() {
		metadata["event_ts"] = raw.Timestamp.Format(time.RFC3339Nano)
	}
	tr := trace.New(traceID, "cycle", metadata)
	root := tr.Root()

	// A panicking cycle must not take down the process, and an actionable
	// event still gets its trace: force-close whatever is open and emit.
	emitted := false
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "cycle panicked", "panic", r)
			if !emitted {
				tr.Fail(fmt.Sprint(r))
				d.emit(ctx, tr)
			}
			d.send(ctx, raw.ConversationID, fallbackReply)
		}
	}()
	root.SetAttr("provider", d.provider.Name())
	root.SetAttr("event_kind", string(raw.Kind))
	root.SetAttr("conversation_id", raw.ConversationID)

	decision := d.detect(prompt)
	root.SetAttr("mode", string(decision.Mode))
	root.SetAttr("mode_reason", decision.Reason)

	slog.InfoContext(ctx, "cycle started",
		"mode", string(decision.Mode), "prompt_length", len(prompt))

	resp, err := d.provider.Generate(ctx, provider.Request{
		ConversationID: raw.ConversationID,
		Prompt:         prompt,
		Mode:           decision.Mode,
	}, root)
	if err != nil {
		slog.ErrorContext(ctx, "cycle failed", "error", err)
		root.SetAttr("error", err.Error())
		root.End(trace.StatusError)
		d.emit(ctx, tr)
		emitted = true
		d.send(ctx, raw.ConversationID, fallbackReply)
		return
	}

	reply := resp.Text
	if decision.Mode == mode.ModePlan {
		p, perr := plan.Parse(resp.Text)
		if perr != nil {
			// The model ignored the schema. Ship its raw output rather
			// than nothing, and record the validation failure.
			slog.WarnContext(ctx, "plan validation failed", "error", perr)
			root.SetAttr("plan_validation", perr.Error())
			reply = planFallbackPreamble + resp.Text
		} else {
			root.SetAttr("plan_validation", "ok")
			reply = p.Format()
		}
	}

	root.SetAttr("reply_length", len(reply))
	root.End(trace.StatusOK)
	d.emit(ctx, tr)
	emitted = true
	d.send(ctx, raw.ConversationID, reply)

	slog.InfoContext(ctx, "cycle completed", "reply_length", len(reply))
}

func (d *Dispatcher) emit(ctx context.Context, tr *trace.Trace) {
	if err := d.emitter.Emit(tr); err != nil {
		slog.ErrorContext(ctx, "trace emission failed", "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, conversationID, text string) {
	if err := d.messenger.SendMessage(ctx, conversationID, text); err != nil {
		slog.ErrorContext(ctx, "reply delivery failed", "error", err)
	}
}
