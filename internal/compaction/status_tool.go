package compaction

import (
	"context"
	"fmt"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/internal/tokenbudget"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/internal/usage"
	"github.com/lacehq/lace/pkg/lace"
)

// AgentLookup is the narrow capability StatusTool needs from a Session:
// find the running agent for a thread id so its budget can be reported.
type AgentLookup interface {
	Agent(id lace.ThreadId) (*agent.Agent, bool)
}

// StatusTool is a read-only tool reporting a thread's compaction/budget
// status, per SPEC_FULL.md's supplemented "compaction status" feature.
// Grounded on the teacher's CompactionTool (internal/agent/compaction.go) —
// same name and read-only-status intent, narrowed from a session-manager-
// backed percentage/state pair to this module's token-budget snapshot.
type StatusTool struct {
	lookup AgentLookup
}

// NewStatusTool constructs a status tool backed by lookup.
func NewStatusTool(lookup AgentLookup) *StatusTool {
	return &StatusTool{lookup: lookup}
}

func (t *StatusTool) Name() string { return "compaction_status" }
func (t *StatusTool) Description() string {
	return "Report the calling thread's token budget usage and whether it is near its compaction threshold."
}
func (t *StatusTool) InputSchema() []byte { return []byte(`{"type":"object","properties":{}}`) }
func (t *StatusTool) Annotations() lace.ToolAnnotations {
	return lace.ToolAnnotations{Readonly: true, Idempotent: true}
}

func (t *StatusTool) Execute(ctx context.Context, _ map[string]any) (lace.ToolResult, error) {
	threadId, ok := tools.CallingThread(ctx)
	if !ok {
		return lace.ToolResult{Status: lace.ToolFailed, IsError: true, Reason: "no_calling_thread"}, nil
	}
	a, ok := t.lookup.Agent(threadId)
	if !ok {
		return lace.ToolResult{Status: lace.ToolFailed, IsError: true, Reason: "unknown_thread"}, nil
	}
	status, hasBudget := a.BudgetStatus()
	if !hasBudget {
		return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock("no token budget configured for this thread")}}, nil
	}
	text := fmt.Sprintf("tokens used: %d/%d (%.1f%%)%s%s", status.Total, status.Limit, status.PctUsed*100, nearLimitSuffix(status.NearLimit), costSuffix(a.Model(), status))
	return lace.ToolResult{Status: lace.ToolCompleted, Content: []lace.ContentBlock{lace.TextBlock(text)}}, nil
}

// costSuffix appends an estimated-cost diagnostic for models with a known
// rate, and is silent for unlisted models rather than guessing.
func costSuffix(model string, status tokenbudget.Status) string {
	amount, ok := usage.EstimateCost(model, lace.NewTokenUsage(status.Prompt, status.Completion))
	if !ok {
		return ""
	}
	return fmt.Sprintf(", est. cost: %s", usage.FormatUSD(amount))
}

func nearLimitSuffix(near bool) string {
	if near {
		return " — near compaction threshold"
	}
	return ""
}
