package provider

import (
	"context"

	"github.com/lacehq/lace/pkg/lace"
)

// FakeProvider is a deterministic, in-process Provider for agent-loop tests,
// grounded on the teacher's channel-less MemoryStore/MemoryApprovalStore
// pattern: a fixed script of events is replayed verbatim rather than
// driving a real transport.
type FakeProvider struct {
	name    string
	scripts []Script
	next    int
}

// Script is one canned response: the sequence of events Complete's Stream
// will yield, in order, ending with a Finish event.
type Script struct {
	Events []Event
}

// NewFakeProvider returns a FakeProvider that yields scripts in order, one
// per call to Complete. Calling Complete more times than len(scripts)
// repeats the last script.
func NewFakeProvider(name string, scripts ...Script) *FakeProvider {
	return &FakeProvider{name: name, scripts: scripts}
}

func (f *FakeProvider) Name() string         { return f.name }
func (f *FakeProvider) SupportsTools() bool { return true }

func (f *FakeProvider) Complete(ctx context.Context, req Request) (Stream, error) {
	idx := f.next
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	if idx < 0 {
		return &fakeStream{}, nil
	}
	f.next++
	return &fakeStream{events: f.scripts[idx].Events}, nil
}

type fakeStream struct {
	events []Event
	pos    int
}

func (s *fakeStream) Next(ctx context.Context) (Event, bool, error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	default:
	}
	if s.pos >= len(s.events) {
		return Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

// TextScript builds a Script whose stream emits text as a sequence of
// TextDelta events followed by a usage report and an end_turn Finish.
func TextScript(usage lace.TokenUsage, chunks ...string) Script {
	events := make([]Event, 0, len(chunks)+2)
	for _, c := range chunks {
		events = append(events, Event{Kind: EventTextDelta, TextDelta: c})
	}
	events = append(events, Event{Kind: EventUsage, Usage: &usage})
	events = append(events, Event{Kind: EventFinish, FinishReason: FinishEndTurn})
	return Script{Events: events}
}

// ToolCallScript builds a Script whose stream emits a single complete tool
// call followed by a tool_use Finish.
func ToolCallScript(usage lace.TokenUsage, callId, toolName string, args map[string]any, argsJSON string) Script {
	return Script{Events: []Event{
		{Kind: EventToolCallStart, ToolCallID: callId, ToolCallName: toolName},
		{Kind: EventToolCallArgs, ToolCallID: callId, ArgsDelta: argsJSON},
		{Kind: EventToolCallEnd, ToolCallID: callId, ToolCallName: toolName, ToolCallArgs: args},
		{Kind: EventUsage, Usage: &usage},
		{Kind: EventFinish, FinishReason: FinishToolUse},
	}}
}
