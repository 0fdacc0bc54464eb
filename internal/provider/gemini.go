package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"courier.app/courier/internal/jsonx"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini has no first-class tool-call wire shape matching the other variants,
// so this backend runs an action protocol over plain text: when tools are
// available the model must answer with a single JSON object, either
// {"type":"tool_call","tool":...,"arguments":{...}} or
// {"type":"final","message":...}.
const geminiToolProtocol = `When you need a tool, respond with exactly one JSON object and nothing else:
{"type":"tool_call","tool":"<tool name>","arguments":{...}}
When you are done, respond with:
{"type":"final","message":"<your reply>"}
Available tools:
%s`

type geminiAction struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Message   string          `json:"message"`
}

type geminiBackend struct {
	client *genai.Client
	model  string
	callID atomic.Int64
}

// newGeminiProvider creates the Gemini variant over the Gemini API.
func newGeminiProvider(cfg Config) (Provider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	b := &geminiBackend{
		client: client,
		model:  model,
	}
	return newEngine(VariantGemini, model, b, cfg), nil
}

func (b *geminiBackend) chat(ctx context.Context, msgs []Message, tools []Tool) (*turn, error) {
	system, contents := b.convertMessages(msgs, tools)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   8192,
	}

	res, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return nil, err
	}

	text := res.Text()
	if text == "" {
		return nil, errors.New("gemini returned empty text")
	}

	t := &turn{}
	if res.UsageMetadata != nil {
		t.usage = Usage{
			PromptTokens:     int(res.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(res.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(tools) == 0 {
		t.text = text
		return t, nil
	}
	return b.parseAction(t, text)
}

// parseAction decodes the protocol reply. Output that is not valid protocol
// JSON is taken verbatim as the final reply; models drift, and a readable
// answer beats a hard failure.
func (b *geminiBackend) parseAction(t *turn, text string) (*turn, error) {
	raw, _, err := jsonx.FirstObject(text)
	if err != nil {
		t.text = text
		return t, nil
	}

	var action geminiAction
	if err := json.Unmarshal(raw, &action); err != nil {
		t.text = text
		return t, nil
	}

	switch action.Type {
	case "tool_call":
		args := string(action.Arguments)
		if args == "" {
			args = "{}"
		}
		t.toolCalls = append(t.toolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d", b.callID.Add(1)),
			Name:      action.Tool,
			Arguments: args,
		})
	case "final":
		t.text = action.Message
	default:
		t.text = text
	}
	return t, nil
}

func (b *geminiBackend) classify(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, retriableStatus(apiErr.Code)
	}
	return 0, true
}

func (b *geminiBackend) convertMessages(msgs []Message, tools []Tool) (string, []*genai.Content) {
	var system strings.Builder
	var contents []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)

		case "user":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case "assistant":
			// Replay tool rounds in the protocol shape the model produced.
			if len(msg.ToolCalls) > 0 {
				for _, tc := range msg.ToolCalls {
					action, _ := json.Marshal(geminiAction{
						Type:      "tool_call",
						Tool:      tc.Name,
						Arguments: json.RawMessage(tc.Arguments),
					})
					contents = append(contents, genai.NewContentFromText(string(action), genai.RoleModel))
				}
			} else if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
			}

		case "tool":
			contents = append(contents, genai.NewContentFromText(
				fmt.Sprintf("Tool result:\n%s", msg.Content), genai.RoleUser))
		}
	}

	if len(tools) > 0 {
		defs := make([]string, 0, len(tools))
		for _, t := range tools {
			schema, _ := json.Marshal(t.Parameters)
			defs = append(defs, fmt.Sprintf("- %s: %s (arguments schema: %s)", t.Name, t.Description, schema))
		}
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		fmt.Fprintf(&system, geminiToolProtocol, strings.Join(defs, "\n"))
	}

	return system.String(), contents
}
