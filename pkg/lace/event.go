package lace

import "time"

// EventType is the closed set of event tags a thread may contain. Unknown
// tags are rejected on append; Replay passes events through without
// checking their tag.
type EventType string

const (
	EventUserMessage        EventType = "USER_MESSAGE"
	EventAgentMessage       EventType = "AGENT_MESSAGE"
	EventAgentToken         EventType = "AGENT_TOKEN"
	EventAgentThinking      EventType = "AGENT_THINKING"
	EventToolCall           EventType = "TOOL_CALL"
	EventToolResult         EventType = "TOOL_RESULT"
	EventToolApprovalReq    EventType = "TOOL_APPROVAL_REQUEST"
	EventToolApprovalResp   EventType = "TOOL_APPROVAL_RESPONSE"
	EventLocalSystemMessage EventType = "LOCAL_SYSTEM_MESSAGE"
	EventCompaction         EventType = "COMPACTION"
)

// Transient reports whether events of this type are delivered to subscribers
// only and never persisted to the thread store.
func (t EventType) Transient() bool {
	switch t {
	case EventAgentToken, EventToolApprovalReq:
		return true
	default:
		return false
	}
}

// Known reports whether t is a member of the closed event taxonomy.
func (t EventType) Known() bool {
	switch t {
	case EventUserMessage, EventAgentMessage, EventAgentToken, EventAgentThinking,
		EventToolCall, EventToolResult, EventToolApprovalReq, EventToolApprovalResp,
		EventLocalSystemMessage, EventCompaction:
		return true
	default:
		return false
	}
}

// Event is an immutable record appended to a thread. Exactly one of the
// Data* payload pointers is non-nil, selected by Type — a closed sum, not a
// duck-typed map.
type Event struct {
	ID        int64
	ThreadId  ThreadId
	Timestamp time.Time
	Type      EventType

	DataUserMessage   *UserMessageData   `json:"dataUserMessage,omitempty"`
	DataAgentMessage  *AgentMessageData  `json:"dataAgentMessage,omitempty"`
	DataAgentToken    *AgentTokenData    `json:"dataAgentToken,omitempty"`
	DataThinking      *ThinkingData      `json:"dataThinking,omitempty"`
	DataToolCall      *ToolCallData      `json:"dataToolCall,omitempty"`
	DataToolResult    *ToolResultData    `json:"dataToolResult,omitempty"`
	DataApprovalReq   *ApprovalRequestData  `json:"dataApprovalReq,omitempty"`
	DataApprovalResp  *ApprovalResponseData `json:"dataApprovalResp,omitempty"`
	DataSystemMessage *SystemMessageData    `json:"dataSystemMessage,omitempty"`
	DataCompaction    *CompactionData       `json:"dataCompaction,omitempty"`
}

// UserMessageData is the payload of a USER_MESSAGE event.
type UserMessageData struct {
	Text string `json:"text"`
}

// AgentMessageData is the payload of an AGENT_MESSAGE event.
type AgentMessageData struct {
	Text      string      `json:"text"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
}

// AgentTokenData is the payload of a transient AGENT_TOKEN event.
type AgentTokenData struct {
	Fragment string `json:"fragment"`
}

// ThinkingData is the payload of an AGENT_THINKING event.
type ThinkingData struct {
	Text string `json:"text"`
}

// ToolCallData is the payload of a TOOL_CALL event.
type ToolCallData struct {
	CallId    string         `json:"callId"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultData is the payload of a TOOL_RESULT event.
type ToolResultData struct {
	CallId  string         `json:"callId"`
	Status  ToolStatus     `json:"status"`
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
	Reason  string         `json:"reason,omitempty"`
}

// ApprovalRequestData is the payload of a transient TOOL_APPROVAL_REQUEST event.
type ApprovalRequestData struct {
	CallId string   `json:"callId"`
	Tool   string   `json:"tool"`
	Risk   RiskLevel `json:"risk"`
}

// ApprovalResponseData is the payload of a TOOL_APPROVAL_RESPONSE event.
type ApprovalResponseData struct {
	CallId   string           `json:"callId"`
	Decision ApprovalDecision `json:"decision"`
}

// SystemMessageData is the payload of a LOCAL_SYSTEM_MESSAGE event.
type SystemMessageData struct {
	Text string `json:"text"`
}

// CompactionData is the payload of a COMPACTION event: the strategy that
// produced it, how many original events it replaces, and the replacement
// events themselves (persisted in full so replay needs no other source).
type CompactionData struct {
	StrategyId         string  `json:"strategyId"`
	OriginalEventCount int     `json:"originalEventCount"`
	Replacement        []Event `json:"replacement"`
}
