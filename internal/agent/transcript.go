package agent

import (
	"github.com/lacehq/lace/internal/provider"
	"github.com/lacehq/lace/internal/tools"
	"github.com/lacehq/lace/pkg/lace"
)

// buildMessages replays a thread's expanded event sequence into the
// provider's message shape: a USER_MESSAGE becomes a user message; a turn's
// TOOL_CALL events together with its AGENT_MESSAGE become one assistant
// message, whether the text follows the calls (the order the agent loop
// appends them in) or precedes them; and the run of TOOL_RESULT events that
// follow become one tool message. AGENT_THINKING, TOOL_APPROVAL_RESPONSE and
// LOCAL_SYSTEM_MESSAGE events carry no provider-facing role and are
// excluded, per spec §4.6 step
// 2 ("exclude transient events" generalizes here to "exclude events with no
// transcript role").
func buildMessages(events []lace.Event) []provider.Message {
	var out []provider.Message
	i := 0
	for i < len(events) {
		e := events[i]
		switch e.Type {
		case lace.EventUserMessage:
			out = append(out, provider.Message{Role: "user", Text: e.DataUserMessage.Text})
			i++
		case lace.EventAgentMessage:
			msg := provider.Message{Role: "assistant", Text: e.DataAgentMessage.Text}
			i++
			for i < len(events) && events[i].Type == lace.EventToolCall {
				tc := events[i].DataToolCall
				msg.ToolCalls = append(msg.ToolCalls, lace.ToolCall{ID: tc.CallId, Name: tc.Name, Arguments: tc.Arguments})
				i++
			}
			out = append(out, msg)
		case lace.EventToolCall:
			// The agent appends each TOOL_CALL as the stream completes it and
			// the turn's AGENT_MESSAGE (if any text was produced) only at
			// Finish, so in a persisted thread the text follows its calls.
			msg := provider.Message{Role: "assistant"}
			for i < len(events) && events[i].Type == lace.EventToolCall {
				tc := events[i].DataToolCall
				msg.ToolCalls = append(msg.ToolCalls, lace.ToolCall{ID: tc.CallId, Name: tc.Name, Arguments: tc.Arguments})
				i++
			}
			if i < len(events) && events[i].Type == lace.EventAgentMessage {
				msg.Text = events[i].DataAgentMessage.Text
				i++
			}
			out = append(out, msg)
		case lace.EventToolResult:
			var results []lace.ToolResult
			for i < len(events) && events[i].Type == lace.EventToolResult {
				tr := events[i].DataToolResult
				results = append(results, lace.ToolResult{CallId: tr.CallId, Status: tr.Status, Content: tr.Content, IsError: tr.IsError, Reason: tr.Reason})
				i++
			}
			out = append(out, provider.Message{Role: "tool", ToolResults: results})
		default:
			i++
		}
	}
	return out
}

// toolSpecs projects a registry's tools into the provider-facing descriptor
// shape, independent of the executor's richer Tool capability.
func toolSpecs(registry *tools.Registry) []provider.ToolSpec {
	if registry == nil {
		return nil
	}
	list := registry.List()
	out := make([]provider.ToolSpec, len(list))
	for i, t := range list {
		out[i] = provider.ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()}
	}
	return out
}
