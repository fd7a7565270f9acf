package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lacehq/lace/pkg/lace"
)

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required;
// the rest carry sensible defaults.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider adapts Anthropic's Messages streaming API to the
// Provider capability, grounded on
// internal/agent/providers/anthropic.go's content-block start/delta/stop
// translation: tool_use blocks accumulate input_json_delta fragments until
// content_block_stop, thinking blocks bracket ThinkingDelta events, and
// message_start/message_delta carry the input/output token counts.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), defaultModel: config.DefaultModel}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages, err := convertMessagesAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsAnthropic(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	sdkStream := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{sdkStream: sdkStream}, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func convertMessagesAnthropic(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.CallId, contentBlocksToText(tr.Content), tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func contentBlocksToText(blocks []lace.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func convertToolsAnthropic(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", t.Name, err)
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			},
		})
	}
	return out, nil
}

// anthropicStream adapts the SDK's message-stream-event iterator to Stream,
// accumulating tool_use content blocks across input_json_delta fragments the
// same way processStream in the teacher's adapter does.
type anthropicStream struct {
	sdkStream *ssestream.Stream[anthropic.MessageStreamEventUnion]

	currentToolID   string
	currentToolName string
	toolArgsBuf     strings.Builder
	inThinking      bool
	inputTokens     int64
	outputTokens    int64
	pendingFinish   *Event
}

func (s *anthropicStream) Next(ctx context.Context) (Event, bool, error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	default:
	}

	if s.pendingFinish != nil {
		ev := *s.pendingFinish
		s.pendingFinish = nil
		return ev, true, nil
	}

	for s.sdkStream.Next() {
		event := s.sdkStream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			s.inputTokens = variant.Message.Usage.InputTokens
		case anthropic.ContentBlockStartEvent:
			switch block := variant.ContentBlock.AsAny().(type) {
			case anthropic.ThinkingBlock:
				s.inThinking = true
				return Event{Kind: EventThinkingDelta}, true, nil
			case anthropic.ToolUseBlock:
				s.currentToolID = block.ID
				s.currentToolName = block.Name
				s.toolArgsBuf.Reset()
				return Event{Kind: EventToolCallStart, ToolCallID: block.ID, ToolCallName: block.Name}, true, nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					return Event{Kind: EventTextDelta, TextDelta: delta.Text}, true, nil
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking != "" {
					return Event{Kind: EventThinkingDelta, ThinkingDelta: delta.Thinking}, true, nil
				}
			case anthropic.InputJSONDelta:
				s.toolArgsBuf.WriteString(delta.PartialJSON)
				return Event{Kind: EventToolCallArgs, ToolCallID: s.currentToolID, ArgsDelta: delta.PartialJSON}, true, nil
			}
		case anthropic.ContentBlockStopEvent:
			if s.inThinking {
				s.inThinking = false
				continue
			}
			if s.currentToolID != "" {
				var args map[string]any
				_ = json.Unmarshal([]byte(s.toolArgsBuf.String()), &args)
				id := s.currentToolID
				s.currentToolID = ""
				return Event{Kind: EventToolCallEnd, ToolCallID: id, ToolCallName: s.currentToolName, ToolCallArgs: args}, true, nil
			}
		case anthropic.MessageDeltaEvent:
			s.outputTokens = variant.Usage.OutputTokens
			reason := finishReasonFromAnthropic(string(variant.Delta.StopReason))
			s.pendingFinish = &Event{Kind: EventFinish, FinishReason: reason, Truncated: reason == FinishMaxTokens}
			return Event{Kind: EventUsage, Usage: &lace.TokenUsage{
				Prompt: s.inputTokens, Completion: s.outputTokens, Total: s.inputTokens + s.outputTokens,
			}}, true, nil
		}
	}
	if err := s.sdkStream.Err(); err != nil {
		return Event{Kind: EventFinish, FinishReason: FinishError, Err: err}, true, nil
	}
	return Event{}, false, nil
}

func finishReasonFromAnthropic(stopReason string) FinishReason {
	switch stopReason {
	case "tool_use":
		return FinishToolUse
	case "max_tokens":
		return FinishMaxTokens
	case "end_turn", "stop_sequence":
		return FinishEndTurn
	default:
		return FinishEndTurn
	}
}
