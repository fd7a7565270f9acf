package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lacehq/lace/pkg/lace"
)

// OpenAIConfig configures an OpenAIProvider. Only APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider adapts OpenAI's Chat Completions streaming API to the
// Provider capability, grounded on internal/agent/providers/openai.go's
// processStream: tool call fragments accumulate per choice index until
// finish_reason=="tool_calls", text deltas pass straight through.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs a provider from config.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig), defaultModel: config.DefaultModel}, nil
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages, err := convertMessagesOpenAI(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		// Without this, OpenAI's streaming Chat Completions API never sends
		// usage on any chunk, so the Usage block below never fires.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsOpenAI(req.Tools)
	}

	sdkStream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}
	return &openaiStream{sdkStream: sdkStream, toolCalls: make(map[int]*accumulatingToolCall)}, nil
}

func convertMessagesOpenAI(messages []Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
			if len(m.ToolCalls) > 0 {
				msg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					args, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, err
					}
					msg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(args),
						},
					}
				}
			}
			out = append(out, msg)
		case "tool":
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    contentBlocksToText(tr.Content),
					ToolCallID: tr.CallId,
				})
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func convertToolsOpenAI(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// accumulatingToolCall builds one tool call's id/name/arguments across
// fragmentary deltas, keyed by the choice's tool_calls index, the same way
// processStream's toolCalls map does.
type accumulatingToolCall struct {
	id        string
	name      string
	argsBuf   strings.Builder
	started   bool
	finished  bool
}

// openaiStream adapts the SDK's chunked delta stream to Stream. Unlike
// Anthropic's explicit content_block_start/stop framing, OpenAI signals a
// tool call's start only once its first fragment arrives and its end only
// via the choice's finish_reason, so this stream buffers emitted-but-not-yet
// Start events in a small queue rather than a single pendingFinish slot.
type openaiStream struct {
	sdkStream *openai.ChatCompletionStream
	toolCalls map[int]*accumulatingToolCall
	order     []int
	queue     []Event
	done      bool
}

func (s *openaiStream) Next(ctx context.Context) (Event, bool, error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	default:
	}

	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, true, nil
		}
		if s.done {
			return Event{}, false, nil
		}

		resp, err := s.sdkStream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				s.flushToolCalls()
				s.queue = append(s.queue, Event{Kind: EventFinish, FinishReason: FinishEndTurn})
				continue
			}
			return Event{}, false, fmt.Errorf("openai: stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		delta := choice.Delta

		if resp.Usage != nil {
			s.queue = append(s.queue, Event{Kind: EventUsage, Usage: &lace.TokenUsage{
				Prompt:     int64(resp.Usage.PromptTokens),
				Completion: int64(resp.Usage.CompletionTokens),
				Total:      int64(resp.Usage.TotalTokens),
			}})
		}

		if delta.Content != "" {
			s.queue = append(s.queue, Event{Kind: EventTextDelta, TextDelta: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			cur, ok := s.toolCalls[index]
			if !ok {
				cur = &accumulatingToolCall{}
				s.toolCalls[index] = cur
				s.order = append(s.order, index)
			}
			if tc.ID != "" {
				cur.id = tc.ID
			}
			if tc.Function.Name != "" {
				cur.name = tc.Function.Name
			}
			if !cur.started && cur.id != "" && cur.name != "" {
				cur.started = true
				s.queue = append(s.queue, Event{Kind: EventToolCallStart, ToolCallID: cur.id, ToolCallName: cur.name})
			}
			if tc.Function.Arguments != "" {
				cur.argsBuf.WriteString(tc.Function.Arguments)
				if cur.started {
					s.queue = append(s.queue, Event{Kind: EventToolCallArgs, ToolCallID: cur.id, ArgsDelta: tc.Function.Arguments})
				}
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			s.flushToolCalls()
			s.done = true
			s.queue = append(s.queue, Event{Kind: EventFinish, FinishReason: FinishToolUse})
		case openai.FinishReasonLength:
			s.done = true
			s.queue = append(s.queue, Event{Kind: EventFinish, FinishReason: FinishMaxTokens, Truncated: true})
		case openai.FinishReasonStop:
			s.done = true
			s.queue = append(s.queue, Event{Kind: EventFinish, FinishReason: FinishEndTurn})
		}

		if len(s.queue) == 0 {
			continue
		}
	}
}

// flushToolCalls emits ToolCallEnd for every started-but-not-yet-finished
// call, in first-seen order, parsing each one's accumulated argument JSON.
func (s *openaiStream) flushToolCalls() {
	for _, index := range s.order {
		cur := s.toolCalls[index]
		if cur == nil || cur.finished || !cur.started {
			continue
		}
		cur.finished = true
		var args map[string]any
		_ = json.Unmarshal([]byte(cur.argsBuf.String()), &args)
		s.queue = append(s.queue, Event{Kind: EventToolCallEnd, ToolCallID: cur.id, ToolCallName: cur.name, ToolCallArgs: args})
	}
}
