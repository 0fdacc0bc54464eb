package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"courier.app/courier/internal/mode"
	"courier.app/courier/internal/platform"
	"courier.app/courier/internal/provider"
	"courier.app/courier/internal/trace"
)

type fakeProvider struct {
	generate func(ctx context.Context, req provider.Request, parent *trace.Span) (*provider.Response, error)
}

func (p *fakeProvider) Name() string  { return "gpt" }
func (p *fakeProvider) Model() string { return "test-model" }

func (p *fakeProvider) Generate(ctx context.Context, req provider.Request, parent *trace.Span) (*provider.Response, error) {
	return p.generate(ctx, req, parent)
}

// replyWith mimics the engine's span behavior around a canned reply.
func replyWith(text string) func(context.Context, provider.Request, *trace.Span) (*provider.Response, error) {
	return func(_ context.Context, _ provider.Request, parent *trace.Span) (*provider.Response, error) {
		span := parent.StartChild("generate", trace.KindLLMCall)
		span.End(trace.StatusOK)
		return &provider.Response{Provider: "gpt", Text: text}, nil
	}
}

func failWith(err error) func(context.Context, provider.Request, *trace.Span) (*provider.Response, error) {
	return func(_ context.Context, _ provider.Request, parent *trace.Span) (*provider.Response, error) {
		span := parent.StartChild("generate", trace.KindLLMCall)
		span.End(trace.StatusError)
		return nil, err
	}
}

type fakeMessenger struct {
	mu      sync.Mutex
	replies []string
}

func (m *fakeMessenger) SendMessage(_ context.Context, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, text)
	return nil
}

func (m *fakeMessenger) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.replies...)
}

type collectEmitter struct {
	mu     sync.Mutex
	traces []*trace.Trace
}

func (e *collectEmitter) Emit(t *trace.Trace) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces = append(e.traces, t)
	return nil
}

func (e *collectEmitter) all() []*trace.Trace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*trace.Trace(nil), e.traces...)
}

var _ = Describe("Dispatcher", func() {
	var (
		messenger *fakeMessenger
		emitter   *collectEmitter
		prov      *fakeProvider
		d         *Dispatcher
	)

	newDispatcher := func() *Dispatcher {
		d := New(Config{Provider: prov, Messenger: messenger, Emitter: emitter})
		var seq atomic.Int64
		d.newTraceID = func() string { return fmt.Sprintf("trace-%d", seq.Add(1)) }
		return d
	}

	dm := func(text string) platform.RawEvent {
		return platform.RawEvent{
			Kind:           platform.KindDirectMessage,
			ConversationID: "C1",
			UserID:         "U1",
			Text:           text,
		}
	}

	BeforeEach(func() {
		messenger = &fakeMessenger{}
		emitter = &collectEmitter{}
		prov = &fakeProvider{generate: replyWith("hello!")}
		d = newDispatcher()
	})

	Describe("filtering", func() {
		It("drops bot-authored events without a trace or reply", func() {
			ev := dm("hello")
			ev.FromBot = true
			d.Handle(context.Background(), ev)
			d.Wait()

			Expect(emitter.all()).To(BeEmpty())
			Expect(messenger.all()).To(BeEmpty())
		})

		It("drops channel events of kind other", func() {
			d.Handle(context.Background(), platform.RawEvent{Kind: platform.KindOther, Text: "hello"})
			d.Wait()

			Expect(emitter.all()).To(BeEmpty())
			Expect(messenger.all()).To(BeEmpty())
		})

		It("drops a mention that is empty after stripping markup", func() {
			d.Handle(context.Background(), platform.RawEvent{
				Kind: platform.KindMention, ConversationID: "C1", Text: "<@BOT123>   ",
			})
			d.Wait()

			Expect(emitter.all()).To(BeEmpty())
			Expect(messenger.all()).To(BeEmpty())
		})

		It("strips mention markup from the prompt", func() {
			var got string
			prov.generate = func(ctx context.Context, req provider.Request, parent *trace.Span) (*provider.Response, error) {
				got = req.Prompt
				return replyWith("ok")(ctx, req, parent)
			}
			d.Handle(context.Background(), platform.RawEvent{
				Kind: platform.KindMention, ConversationID: "C1", Text: "<@BOT123> what is courier?",
			})
			d.Wait()

			Expect(got).To(Equal("what is courier?"))
		})
	})

	Describe("chat cycle", func() {
		It("runs the detector exactly once per event", func() {
			calls := 0
			d.detect = func(text string) mode.Decision {
				calls++
				return mode.Decision{Mode: mode.ModeChat, Reason: "default"}
			}
			d.Handle(context.Background(), dm("hi there"))
			d.Wait()

			Expect(calls).To(Equal(1))
		})

		It("emits one ok trace with a single llm_call span and replies", func() {
			d.Handle(context.Background(), dm("hi there"))
			d.Wait()

			Expect(messenger.all()).To(Equal([]string{"hello!"}))

			traces := emitter.all()
			Expect(traces).To(HaveLen(1))
			root := traces[0].Root()
			Expect(root.Status()).To(Equal(trace.StatusOK))
			Expect(root.Attr("mode")).To(Equal("chat"))
			Expect(root.Attr("mode_reason")).To(Equal("default"))
			Expect(root.Attr("provider")).To(Equal("gpt"))
			Expect(root.Attr("reply_length")).To(Equal(len("hello!")))
			Expect(root.ChildrenOfKind(trace.KindLLMCall)).To(HaveLen(1))
		})

		It("handles concurrent events without losing traces", func() {
			for i := 0; i < 8; i++ {
				d.Handle(context.Background(), dm(fmt.Sprintf("message %d", i)))
			}
			d.Wait()

			Expect(emitter.all()).To(HaveLen(8))
			Expect(messenger.all()).To(HaveLen(8))
		})
	})

	Describe("plan cycle", func() {
		planJSON := `{"objective":"Add dark mode","implementation_steps":[{"title":"Palette","details":"Define tokens"}]}`

		It("formats a valid plan for the reply", func() {
			prov.generate = replyWith(planJSON)
			d.Handle(context.Background(), dm("make a plan for dark mode"))
			d.Wait()

			replies := messenger.all()
			Expect(replies).To(HaveLen(1))
			Expect(replies[0]).To(HavePrefix("*Plan Mode Output*"))
			Expect(replies[0]).To(ContainSubstring("Add dark mode"))

			root := emitter.all()[0].Root()
			Expect(root.Attr("mode")).To(Equal("plan"))
			Expect(root.Attr("plan_validation")).To(Equal("ok"))
		})

		It("falls back to raw output when the plan does not validate", func() {
			prov.generate = replyWith("I think you should just do it.")
			d.Handle(context.Background(), dm("make a plan for dark mode"))
			d.Wait()

			replies := messenger.all()
			Expect(replies).To(HaveLen(1))
			Expect(replies[0]).To(ContainSubstring("I could not produce a structured plan"))
			Expect(replies[0]).To(ContainSubstring("I think you should just do it."))

			root := emitter.all()[0].Root()
			Expect(root.Status()).To(Equal(trace.StatusOK))
			Expect(root.Attr("plan_validation")).NotTo(Equal("ok"))
		})
	})

	Describe("failures", func() {
		It("replies with the fallback and emits an error trace on provider failure", func() {
			prov.generate = failWith(&provider.ProviderError{Provider: "gpt", StatusCode: 503, Attempts: 3, Message: "down"})
			d.Handle(context.Background(), dm("hi there"))
			d.Wait()

			Expect(messenger.all()).To(Equal([]string{fallbackReply}))

			traces := emitter.all()
			Expect(traces).To(HaveLen(1))
			root := traces[0].Root()
			Expect(root.Status()).To(Equal(trace.StatusError))
			Expect(root.Attr("error")).To(ContainSubstring("503"))
		})

		It("recovers a panicking cycle, replies, and emits an error trace", func() {
			prov.generate = func(_ context.Context, _ provider.Request, parent *trace.Span) (*provider.Response, error) {
				// Leave an open span behind so recovery has to close it.
				parent.StartChild("generate", trace.KindLLMCall)
				panic("boom")
			}
			d.Handle(context.Background(), dm("hi there"))
			d.Wait()

			Expect(messenger.all()).To(Equal([]string{fallbackReply}))

			traces := emitter.all()
			Expect(traces).To(HaveLen(1))
			root := traces[0].Root()
			Expect(root.Status()).To(Equal(trace.StatusError))
			Expect(root.Attr("error")).To(ContainSubstring("boom"))
			spans := root.ChildrenOfKind(trace.KindLLMCall)
			Expect(spans).To(HaveLen(1))
			Expect(spans[0].Ended()).To(BeTrue())
			Expect(spans[0].Status()).To(Equal(trace.StatusError))
		})

		It("keeps distinct trace IDs across cycles", func() {
			d.Handle(context.Background(), dm("one"))
			d.Wait()
			d.Handle(context.Background(), dm("two"))
			d.Wait()

			ids := []string{emitter.all()[0].ID(), emitter.all()[1].ID()}
			Expect(ids[0]).NotTo(Equal(ids[1]))
			Expect(strings.HasPrefix(ids[0], "trace-")).To(BeTrue())
		})
	})
})
