package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/internal/backoff"
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/internal/tokenbudget"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/pkg/lace"
)

type echoTool struct {
	called int
}

func (t *echoTool) Name() string                       { return "echo" }
func (t *echoTool) Description() string                { return "echoes its input" }
func (t *echoTool) InputSchema() []byte                { return nil }
func (t *echoTool) Annotations() lace.ToolAnnotations  { return lace.ToolAnnotations{} }
func (t *echoTool) Execute(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
	t.called++
	return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock("echoed")}}, nil
}

type bashTool struct{}

func (bashTool) Name() string                      { return "bash" }
func (bashTool) Description() string               { return "runs a shell command" }
func (bashTool) InputSchema() []byte                { return nil }
func (bashTool) Annotations() lace.ToolAnnotations { return lace.ToolAnnotations{Destructive: true} }
func (bashTool) Execute(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
	return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock("ran")}}, nil
}

func testConfig() Config {
	return Config{MaxTokens: 1024, MaxRetries: 3, Retry: backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}}
}

func TestSendMessageEcho(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	prov := provider.NewFakeProvider("fake", provider.TextScript(lace.TokenUsage{Prompt: 5, Completion: 3, Total: 8}, "hello there"))
	a := New(threadId, store, prov, nil, nil, tokenbudget.New(tokenbudget.DefaultConfig(1000)), nil, nil, testConfig())

	err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, lace.StateIdle, a.State())

	events, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, lace.EventUserMessage, events[0].Type)
	require.Equal(t, lace.EventAgentMessage, events[1].Type)
	require.Equal(t, "hello there", events[1].DataAgentMessage.Text)
}

func TestSendMessageToolLoop(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	usage := lace.TokenUsage{Prompt: 5, Completion: 3, Total: 8}
	prov := provider.NewFakeProvider("fake",
		provider.ToolCallScript(usage, "c1", "echo", map[string]any{"text": "hi"}, `{"text":"hi"}`),
		provider.TextScript(usage, "done"),
	)

	registry := tools.NewRegistry()
	tool := &echoTool{}
	registry.Register(tool)
	executor := tools.NewExecutor(registry, nil, nil, tools.DefaultConfig())

	a := New(threadId, store, prov, executor, registry, tokenbudget.New(tokenbudget.DefaultConfig(1000)), nil, nil, testConfig())

	err := a.SendMessage(context.Background(), "please echo")
	require.NoError(t, err)
	require.Equal(t, 1, tool.called)

	events, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)

	var types []lace.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(t, []lace.EventType{
		lace.EventUserMessage,
		lace.EventToolCall,
		lace.EventToolResult,
		lace.EventAgentMessage,
	}, types)
}

func TestSendMessageDeniedDestructiveTool(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	usage := lace.TokenUsage{}
	prov := provider.NewFakeProvider("fake",
		provider.ToolCallScript(usage, "c1", "bash", map[string]any{"command": "rm -rf /"}, `{"command":"rm -rf /"}`),
		provider.TextScript(usage, "stopped"),
	)

	registry := tools.NewRegistry()
	registry.Register(bashTool{})
	approvals := tools.NewApprovalChecker(tools.ApprovalPolicy{Deny: []string{"bash"}}, nil)
	executor := tools.NewExecutor(registry, approvals, nil, tools.DefaultConfig())

	a := New(threadId, store, prov, executor, registry, nil, nil, nil, testConfig())

	err := a.SendMessage(context.Background(), "delete everything")
	require.NoError(t, err)

	events, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)

	var result *lace.Event
	for i := range events {
		if events[i].Type == lace.EventToolResult {
			result = &events[i]
		}
	}
	require.NotNil(t, result)
	require.True(t, result.DataToolResult.IsError)
	require.Equal(t, "denied", result.DataToolResult.Reason)
}

func TestSendMessageEstimatesUsageWhenProviderOmitsIt(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	// No EventUsage at all, unlike TextScript: a real streaming backend that
	// never reports token counts.
	prov := provider.NewFakeProvider("fake", provider.Script{Events: []provider.Event{
		{Kind: provider.EventTextDelta, TextDelta: "hello there"},
		{Kind: provider.EventFinish, FinishReason: provider.FinishEndTurn},
	}})
	budget := tokenbudget.New(tokenbudget.DefaultConfig(1000))
	a := New(threadId, store, prov, nil, nil, budget, nil, nil, testConfig())

	err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	status := budget.Status()
	require.Greater(t, status.Completion, int64(0))

	events, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[1].DataAgentMessage.Usage)
	require.Equal(t, status.Completion, events[1].DataAgentMessage.Usage.Completion)
}

func TestSendMessageRejectsWhenBusy(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	prov := provider.NewFakeProvider("fake", provider.TextScript(lace.TokenUsage{}, "hi"))
	a := New(threadId, store, prov, nil, nil, nil, nil, nil, testConfig())
	a.setState(lace.StateThinking)

	err := a.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	require.True(t, lace.IsKind(err, lace.KindBusy))
}

func TestSendMessageCancellationMidStreamDiscardsPartialText(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	prov := provider.NewFakeProvider("fake", provider.TextScript(lace.TokenUsage{}, "partial", "text", "chunks"))
	a := New(threadId, store, prov, nil, nil, nil, nil, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.SendMessage(ctx, "hi")
	require.Error(t, err)
	require.True(t, lace.IsKind(err, lace.KindUserStopped))
	require.Equal(t, lace.StateIdle, a.State())

	events, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)
	require.Len(t, events, 1) // only USER_MESSAGE; no AGENT_MESSAGE from the cancelled turn
	require.Equal(t, lace.EventUserMessage, events[0].Type)
}

func TestSendMessageRejectsWithNoProvider(t *testing.T) {
	store := threadstore.NewMemoryStore()
	a := New("t1", store, nil, nil, nil, nil, nil, nil, testConfig())
	err := a.SendMessage(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestBuildMessagesGroupsToolCallsAndResults(t *testing.T) {
	events := []lace.Event{
		{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "hi"}},
		{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: "calling tool"}},
		{Type: lace.EventToolCall, DataToolCall: &lace.ToolCallData{CallId: "c1", Name: "echo", Arguments: map[string]any{"x": 1}}},
		{Type: lace.EventToolResult, DataToolResult: &lace.ToolResultData{CallId: "c1", Status: lace.ToolCompleted}},
		{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: "done"}},
	}
	msgs := buildMessages(events)
	require.Len(t, msgs, 4)
	require.Equal(t, "user", msgs[0].Role)
	require.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	require.Equal(t, "tool", msgs[2].Role)
	require.Len(t, msgs[2].ToolResults, 1)
	require.Equal(t, "assistant", msgs[3].Role)
}
