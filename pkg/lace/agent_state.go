package lace

// AgentState is one of the finite states in the agent's per-turn state
// machine (see the runtime loop in internal/agent).
type AgentState string

const (
	StateIdle         AgentState = "idle"
	StateThinking     AgentState = "thinking"
	StateStreaming    AgentState = "streaming"
	StateAwaitingTool AgentState = "awaiting_tool"
	StateStopping     AgentState = "stopping"
	StateStopped      AgentState = "stopped"
	StateError        AgentState = "error"
)
