// Package compaction implements spec §4.8's pluggable compaction contract: a
// strategy reads a thread's full replayed history, produces a short
// replacement event sequence that conveys the salient history, attaches
// token usage to it, and hands it to ThreadStore.Compact.
//
// Grounded on haasonsaas-nexus's internal/compaction package (chunked
// Summarizer/SummarizationConfig, FormatMessagesForSummary) and
// internal/agent.CompactionManager's threshold/flush-prompt shape, narrowed
// from a standalone Summarizer interface and a separate usage-percentage
// monitor to a single strategy driven directly by this module's own
// provider.Provider and invoked by the agent loop's own NearLimit check
// (internal/agent.loop), since that check already exists and a second,
// duplicate monitor would just race it.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/threadstore"
	"github.com/lacehq/lace/pkg/lace"
)

// StrategyId identifies the default strategy in the thread's COMPACTION
// audit record.
const StrategyId = "summarize-with-model"

// DefaultSystemPrompt instructs the summarizing model to produce a compact,
// faithful digest rather than a conversational reply.
const DefaultSystemPrompt = "Summarize the conversation below into a short, factual digest that preserves the decisions, open questions, and concrete details a continuation of this conversation would need. Do not address the user directly; write the summary as a third-person digest."

// Config configures a SummarizeStrategy.
type Config struct {
	Model     string
	System    string // defaults to DefaultSystemPrompt when empty
	MaxTokens int    // defaults to 512 when <= 0
}

// DefaultConfig returns the spec's default summarization configuration.
func DefaultConfig() Config {
	return Config{System: DefaultSystemPrompt, MaxTokens: 512}
}

// SummarizeStrategy is the default "summarize-with-model" compaction
// strategy: it calls a Provider with the thread's full transcript and
// replaces the thread's history with a single summary AGENT_MESSAGE.
type SummarizeStrategy struct {
	prov provider.Provider
	cfg  Config
}

// NewSummarizeStrategy constructs a strategy that summarizes through prov.
func NewSummarizeStrategy(prov provider.Provider, cfg Config) *SummarizeStrategy {
	if cfg.System == "" {
		cfg.System = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &SummarizeStrategy{prov: prov, cfg: cfg}
}

// Compact implements agent.Compactor. It is a no-op on a thread with no
// history to summarize yet (the raw event log has nothing but a prior
// compaction, or is empty).
func (s *SummarizeStrategy) Compact(ctx context.Context, store threadstore.Store, threadId lace.ThreadId) error {
	raw, err := store.Events(ctx, threadId)
	if err != nil {
		return lace.Wrap(lace.KindStorage, err, "load thread for compaction").WithThread(threadId)
	}
	events := lace.Replay(raw)
	if len(events) == 0 || (len(raw) == 1 && raw[0].Type == lace.EventCompaction) {
		return nil
	}

	req := provider.Request{
		Model:     s.cfg.Model,
		System:    s.cfg.System,
		Messages:  []provider.Message{{Role: "user", Text: formatTranscript(events)}},
		MaxTokens: s.cfg.MaxTokens,
	}

	text, usage, err := s.summarize(ctx, req)
	if err != nil {
		return lace.Wrap(lace.KindTransientProvider, err, "summarization failed").WithThread(threadId)
	}

	replacement := []lace.Event{{
		Type:             lace.EventAgentMessage,
		ThreadId:         threadId,
		DataAgentMessage: &lace.AgentMessageData{Text: text, Usage: &usage},
	}}
	if err := store.Compact(ctx, threadId, StrategyId, replacement); err != nil {
		return lace.Wrap(lace.KindStorage, err, "apply compaction").WithThread(threadId)
	}
	return nil
}

// summarize drains a single provider stream to end_turn, collecting its
// text and usage the same way the agent loop's streamOnce does for a
// text-only turn — compaction never registers tools, so a tool_use finish
// here is unexpected.
func (s *SummarizeStrategy) summarize(ctx context.Context, req provider.Request) (string, lace.TokenUsage, error) {
	stream, err := s.prov.Complete(ctx, req)
	if err != nil {
		return "", lace.TokenUsage{}, err
	}

	var text strings.Builder
	var usage lace.TokenUsage
	for {
		ev, ok, err := stream.Next(ctx)
		if err != nil {
			return "", lace.TokenUsage{}, err
		}
		if !ok {
			return "", lace.TokenUsage{}, fmt.Errorf("compaction: provider stream ended without a finish event")
		}
		switch ev.Kind {
		case provider.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case provider.EventUsage:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case provider.EventFinish:
			switch ev.FinishReason {
			case provider.FinishEndTurn, provider.FinishMaxTokens:
				return text.String(), usage, nil
			case provider.FinishError:
				return "", lace.TokenUsage{}, ev.Err
			default:
				return "", lace.TokenUsage{}, fmt.Errorf("compaction: unexpected finish reason %q", ev.FinishReason)
			}
		}
	}
}

// formatTranscript renders a thread's expanded event log into the plain
// text a summarizing model reads, grounded on the teacher's
// FormatMessagesForSummary (internal/compaction/compaction.go) — one line
// per role-tagged event, tool calls and results rendered inline rather than
// projected into the richer provider.Message shape buildMessages uses,
// since the summarizer only ever reads this text, never round-trips it.
func formatTranscript(events []lace.Event) string {
	var sb strings.Builder
	for _, e := range events {
		switch e.Type {
		case lace.EventUserMessage:
			sb.WriteString("[user]: ")
			sb.WriteString(e.DataUserMessage.Text)
			sb.WriteString("\n\n")
		case lace.EventAgentMessage:
			sb.WriteString("[assistant]: ")
			sb.WriteString(e.DataAgentMessage.Text)
			sb.WriteString("\n\n")
		case lace.EventToolCall:
			fmt.Fprintf(&sb, "  [tool call %s(%v)]\n", e.DataToolCall.Name, e.DataToolCall.Arguments)
		case lace.EventToolResult:
			fmt.Fprintf(&sb, "  [tool result %s: %s]\n\n", e.DataToolResult.CallId, contentText(e.DataToolResult.Content))
		case lace.EventLocalSystemMessage:
			sb.WriteString("[system]: ")
			sb.WriteString(e.DataSystemMessage.Text)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func contentText(blocks []lace.ContentBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}
