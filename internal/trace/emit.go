package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Emitter publishes a fully-closed trace.
type Emitter interface {
	Emit(t *Trace) error
}

// StreamEmitter writes each trace as one self-delimited record bounded by
// literal TRACE_START / TRACE_END marker lines, so records can be extracted
// from interleaved process output. Concurrent emissions are serialized; a
// record is never interleaved with another.
type StreamEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamEmitter(w io.Writer) *StreamEmitter {
	return &StreamEmitter{w: w}
}

func (e *StreamEmitter) Emit(t *Trace) error {
	payload, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", t.ID(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "TRACE_START\n%s\nTRACE_END\n", payload); err != nil {
		return fmt.Errorf("write trace %s: %w", t.ID(), err)
	}
	return nil
}

// RedisEmitter appends serialized traces to a Redis stream so they can be
// tailed off-process. It is an optional secondary sink next to the stdout
// stream.
type RedisEmitter struct {
	client *redis.Client
	stream string
}

func NewRedisEmitter(client *redis.Client, stream string) *RedisEmitter {
	return &RedisEmitter{client: client, stream: stream}
}

func (e *RedisEmitter) Emit(t *Trace) error {
	payload, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", t.ID(), err)
	}

	if err := e.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{
			"trace_id": t.ID(),
			"payload":  string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("enqueue trace %s: %w", t.ID(), err)
	}
	return nil
}

// MultiEmitter fans a trace out to every sink. Each sink is attempted even
// when an earlier one fails.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(t *Trace) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
