package threadstore

import (
	"encoding/json"

	"github.com/lacehq/lace/pkg/lace"
)

// eventPayload is the on-disk encoding of an Event's tag-specific data,
// shared by the SQL-backed stores. Schema is left to the implementation per
// the store contract; this module picks "one JSON column per event row".
type eventPayload struct {
	UserMessage   *lace.UserMessageData      `json:"userMessage,omitempty"`
	AgentMessage  *lace.AgentMessageData     `json:"agentMessage,omitempty"`
	AgentToken    *lace.AgentTokenData       `json:"agentToken,omitempty"`
	Thinking      *lace.ThinkingData         `json:"thinking,omitempty"`
	ToolCall      *lace.ToolCallData         `json:"toolCall,omitempty"`
	ToolResult    *lace.ToolResultData       `json:"toolResult,omitempty"`
	ApprovalReq   *lace.ApprovalRequestData  `json:"approvalReq,omitempty"`
	ApprovalResp  *lace.ApprovalResponseData `json:"approvalResp,omitempty"`
	SystemMessage *lace.SystemMessageData    `json:"systemMessage,omitempty"`
	Compaction    *lace.CompactionData       `json:"compaction,omitempty"`
}

func encodePayload(e lace.Event) ([]byte, error) {
	return json.Marshal(eventPayload{
		UserMessage:   e.DataUserMessage,
		AgentMessage:  e.DataAgentMessage,
		AgentToken:    e.DataAgentToken,
		Thinking:      e.DataThinking,
		ToolCall:      e.DataToolCall,
		ToolResult:    e.DataToolResult,
		ApprovalReq:   e.DataApprovalReq,
		ApprovalResp:  e.DataApprovalResp,
		SystemMessage: e.DataSystemMessage,
		Compaction:    e.DataCompaction,
	})
}

func decodePayload(raw []byte, e *lace.Event) error {
	var p eventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	e.DataUserMessage = p.UserMessage
	e.DataAgentMessage = p.AgentMessage
	e.DataAgentToken = p.AgentToken
	e.DataThinking = p.Thinking
	e.DataToolCall = p.ToolCall
	e.DataToolResult = p.ToolResult
	e.DataApprovalReq = p.ApprovalReq
	e.DataApprovalResp = p.ApprovalResp
	e.DataSystemMessage = p.SystemMessage
	e.DataCompaction = p.Compaction
	return nil
}

// schemaStatements is shared between the Postgres and SQLite backends; both
// dialects accept this subset of standard DDL.
const schemaStatements = `
CREATE TABLE IF NOT EXISTS lace_threads (
	thread_id       TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL DEFAULT '',
	created_at      BIGINT NOT NULL,
	touched_at      BIGINT NOT NULL DEFAULT 0,
	read_only       BOOLEAN NOT NULL DEFAULT FALSE,
	next_event_id   BIGINT NOT NULL DEFAULT 0,
	last_compact_at TEXT NOT NULL DEFAULT '',
	last_compact_n  BIGINT NOT NULL DEFAULT -1
);

CREATE TABLE IF NOT EXISTS lace_events (
	thread_id   TEXT NOT NULL,
	id          BIGINT NOT NULL,
	timestamp   BIGINT NOT NULL,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	superseded  BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (thread_id, id)
);
`
