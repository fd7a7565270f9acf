// Package provider defines the capability boundary between the agent loop
// and a specific LLM transport, plus concrete Anthropic and OpenAI adapters.
package provider

import (
	"context"

	"github.com/lacehq/lace/pkg/lace"
)

// Message is one turn of conversation handed to a provider. ToolResults
// carries results for ToolCalls emitted by a prior assistant turn.
type Message struct {
	Role        string // "user" | "assistant" | "tool"
	Text        string
	ToolCalls   []lace.ToolCall
	ToolResults []lace.ToolResult
}

// Request bundles everything a provider needs to open a completion stream.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec is the provider-facing shape of a tool's name/description/schema,
// independent of the executor's richer Tool capability.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte
}

// EventKind is the closed tag for ProviderEvent's sum type.
type EventKind string

const (
	EventTextDelta       EventKind = "text_delta"
	EventThinkingDelta   EventKind = "thinking_delta"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolCallArgs    EventKind = "tool_call_args_delta"
	EventToolCallEnd     EventKind = "tool_call_end"
	EventUsage           EventKind = "usage"
	EventFinish          EventKind = "finish"
)

// FinishReason is the closed set of terminal signals a provider stream ends
// with, per spec §4.6 step 5-8.
type FinishReason string

const (
	FinishEndTurn   FinishReason = "end_turn"
	FinishToolUse   FinishReason = "tool_use"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// Event is one item of a provider's streaming response. Exactly one payload
// field is populated, selected by Kind — the same closed-tagged-variant
// discipline as pkg/lace.Event.
type Event struct {
	Kind EventKind

	TextDelta     string
	ThinkingDelta string

	ToolCallID   string // set on ToolCallStart/ToolCallArgs/ToolCallEnd
	ToolCallName string // set on ToolCallStart
	ArgsDelta    string // set on ToolCallArgs; JSON fragment
	ToolCallArgs map[string]any // set on ToolCallEnd; fully parsed

	Usage *lace.TokenUsage // set on Usage

	FinishReason FinishReason // set on Finish
	Truncated    bool         // set on Finish(max_tokens)
	Err          error        // set on Finish(error)
}

// Stream is the lazy finite sequence a Provider hands back: call Next until
// it returns (Event{}, false, nil), an error, or an Event with Kind==Finish.
// Cancellation is by cancelling the context passed to Complete — there is no
// separate close method, matching spec §9's "cancellation is by closing the
// stream" design note.
type Stream interface {
	Next(ctx context.Context) (Event, bool, error)
}

// Provider is the capability boundary adapters implement per vendor. The
// agent state machine depends only on this interface.
type Provider interface {
	Name() string
	SupportsTools() bool
	Complete(ctx context.Context, req Request) (Stream, error)
}
