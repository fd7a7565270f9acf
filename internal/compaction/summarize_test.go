package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/pkg/lace"
)

func TestSummarizeStrategyReplacesHistoryWithOneMessage(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	require.NoError(t, appendEvent(store, threadId, lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "hi"}}))
	require.NoError(t, appendEvent(store, threadId, lace.Event{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: "hello there"}}))

	usage := lace.TokenUsage{Prompt: 10, Completion: 5, Total: 15}
	prov := provider.NewFakeProvider("fake", provider.TextScript(usage, "the user said hi and was greeted"))
	strategy := NewSummarizeStrategy(prov, DefaultConfig())

	err := strategy.Compact(context.Background(), store, threadId)
	require.NoError(t, err)

	raw, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	require.Equal(t, lace.EventCompaction, raw[0].Type)
	require.Equal(t, StrategyId, raw[0].DataCompaction.StrategyId)
	require.Equal(t, 2, raw[0].DataCompaction.OriginalEventCount)
	require.Len(t, raw[0].DataCompaction.Replacement, 1)
	require.Equal(t, "the user said hi and was greeted", raw[0].DataCompaction.Replacement[0].DataAgentMessage.Text)
	require.Equal(t, usage, *raw[0].DataCompaction.Replacement[0].DataAgentMessage.Usage)

	expanded := lace.Replay(raw)
	require.Len(t, expanded, 1)
	require.Equal(t, lace.EventAgentMessage, expanded[0].Type)
}

func TestSummarizeStrategyNoOpOnEmptyThread(t *testing.T) {
	store := threadstore.NewMemoryStore()
	threadId := lace.ThreadId("t1")
	require.NoError(t, store.CreateThread(context.Background(), threadId, lace.ThreadMetadata{}))

	prov := provider.NewFakeProvider("fake", provider.TextScript(lace.TokenUsage{}, "unreachable"))
	strategy := NewSummarizeStrategy(prov, DefaultConfig())

	err := strategy.Compact(context.Background(), store, threadId)
	require.NoError(t, err)

	raw, err := store.Events(context.Background(), threadId)
	require.NoError(t, err)
	require.Empty(t, raw)
}

func appendEvent(store threadstore.Store, threadId lace.ThreadId, evt lace.Event) error {
	_, err := store.Append(context.Background(), threadId, evt)
	return err
}
