package platform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"courier.app/courier/common/id"
)

// Console is a terminal connector: every non-empty stdin line becomes a
// direct message in one session-scoped conversation, and replies are printed
// back. Useful for local runs without any chat platform wired up.
type Console struct {
	in  io.Reader
	out io.Writer

	mu             sync.Mutex
	conversationID string
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:             in,
		out:            out,
		conversationID: "console-" + id.NewString(),
	}
}

// Run reads lines until EOF or context cancellation, invoking handle once per
// line. handle is expected to do its own goroutine management; Run does not
// wait for in-flight cycles.
func (c *Console) Run(ctx context.Context, handle func(context.Context, RawEvent)) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		handle(ctx, RawEvent{
			Kind:           KindDirectMessage,
			ConversationID: c.conversationID,
			UserID:         "console-user",
			Text:           text,
			Timestamp:      time.Now().UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console input: %w", err)
	}

	slog.InfoContext(ctx, "console input closed")
	return nil
}

// SendMessage prints the assistant reply. Serialized so concurrent cycles do
// not interleave output.
func (c *Console) SendMessage(_ context.Context, conversationID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", conversationID, text)
	return err
}
