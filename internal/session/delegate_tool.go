package session

import (
	"context"

	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/pkg/lace"
)

// delegateSchema is the JSON Schema for the delegate tool's input, per spec
// §4.7 and §9 ("delegation is modeled as a first-class tool").
const delegateSchema = `{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The task to hand off to a fresh child agent"},
    "model": {"type": "string", "description": "Optional model override for the child agent"}
  },
  "required": ["task"]
}`

// DelegateTool lets an agent spawn a child agent to run a task to
// completion and report back its final message as the tool result. One
// instance is shared by every agent in a Session's tree; it recovers which
// thread is delegating from the executor-injected calling-thread context
// value rather than being bound per-agent, since the tree shares a single
// tool registry.
//
// Grounded on the teacher's HandoffTool (internal/multiagent/handoff_tool.go),
// narrowed from peer-to-peer agent handoff with a return_control stack to
// the spec's strict parent/child tree: a delegate call always blocks until
// the child finishes, and control always returns to the caller.
type DelegateTool struct {
	session *Session
}

// NewDelegateTool binds a delegate tool to the session whose tree it may
// spawn children into.
func NewDelegateTool(s *Session) *DelegateTool {
	return &DelegateTool{session: s}
}

func (d *DelegateTool) Name() string { return "delegate" }
func (d *DelegateTool) Description() string {
	return "Delegate a task to a fresh child agent and wait for its result."
}
func (d *DelegateTool) InputSchema() []byte { return []byte(delegateSchema) }
func (d *DelegateTool) Annotations() lace.ToolAnnotations {
	return lace.ToolAnnotations{Destructive: false, Idempotent: false}
}

func (d *DelegateTool) Execute(ctx context.Context, args map[string]any) (lace.ToolResult, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return lace.ToolResult{Status: lace.ToolFailed, IsError: true, Reason: "invalid_args",
			Content: []lace.ContentBlock{lace.TextBlock("delegate requires a non-empty task")}}, nil
	}
	threadId, ok := tools.CallingThread(ctx)
	if !ok {
		return lace.ToolResult{Status: lace.ToolFailed, IsError: true, Reason: "no_calling_thread",
			Content: []lace.ContentBlock{lace.TextBlock("delegate could not determine the calling thread")}}, nil
	}
	model, _ := args["model"].(string)
	return d.session.Delegate(ctx, threadId, task, model)
}
