package threadstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/lace"
)

func TestMemoryStore_AppendAssignsMonotonicIds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	threadId := lace.ThreadId("lace_20250101_abcdef")

	id1, err := s.Append(ctx, threadId, lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "hello"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), id1)

	id2, err := s.Append(ctx, threadId, lace.Event{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{Text: "hi"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), id2)

	events, err := s.Events(ctx, threadId)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, lace.EventUserMessage, events[0].Type)
	require.Equal(t, lace.EventAgentMessage, events[1].Type)
}

func TestMemoryStore_RejectsUnknownAndTransientTypes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	threadId := lace.ThreadId("lace_20250101_abcdef")

	_, err := s.Append(ctx, threadId, lace.Event{Type: "NOT_A_REAL_TYPE"})
	require.Error(t, err)
	require.True(t, lace.IsKind(err, lace.KindValidation))

	_, err = s.Append(ctx, threadId, lace.Event{Type: lace.EventAgentToken, DataAgentToken: &lace.AgentTokenData{Fragment: "h"}})
	require.Error(t, err)
	require.True(t, lace.IsKind(err, lace.KindValidation))
}

func TestMemoryStore_EmptyThreadReplaysEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	events, err := s.Events(ctx, "lace_20250101_ffffff")
	require.NoError(t, err)
	require.Empty(t, events)

	_, ok, err := s.LatestThreadId(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore_CompactReplacesWholePrefixAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	threadId := lace.ThreadId("lace_20250101_abcdef")

	for i := 0; i < 50; i++ {
		_, err := s.Append(ctx, threadId, lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "x"}})
		require.NoError(t, err)
	}

	replacement := []lace.Event{
		{Type: lace.EventAgentMessage, DataAgentMessage: &lace.AgentMessageData{
			Text:  "summary",
			Usage: &lace.TokenUsage{Prompt: 500, Completion: 200, Total: 700},
		}},
	}

	require.NoError(t, s.Compact(ctx, threadId, "summarize-with-model", replacement))

	events, err := s.Events(ctx, threadId)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, lace.EventCompaction, events[0].Type)
	require.Equal(t, int64(1), events[0].ID)
	require.Equal(t, 50, events[0].DataCompaction.OriginalEventCount)
	require.Equal(t, "summary", events[0].DataCompaction.Replacement[0].DataAgentMessage.Text)

	replayed := lace.Replay(events)
	require.Len(t, replayed, 1)
	require.Equal(t, lace.EventAgentMessage, replayed[0].Type)
	require.Equal(t, "summary", replayed[0].DataAgentMessage.Text)

	// Re-running with the same replacement over the unchanged prefix is a no-op.
	require.NoError(t, s.Compact(ctx, threadId, "summarize-with-model", replacement))
	events2, err := s.Events(ctx, threadId)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	require.Equal(t, int64(1), events2[0].ID)
}

func TestMemoryStore_LatestThreadIdTracksMostRecentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Append(ctx, "lace_20250101_aaaaaa", lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "a"}})
	require.NoError(t, err)
	_, err = s.Append(ctx, "lace_20250101_bbbbbb", lace.Event{Type: lace.EventUserMessage, DataUserMessage: &lace.UserMessageData{Text: "b"}})
	require.NoError(t, err)

	latest, ok, err := s.LatestThreadId(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lace.ThreadId("lace_20250101_bbbbbb"), latest)
}
