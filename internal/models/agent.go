package models

// AgentStatus represents the activity state of an agent.
type AgentStatus string

const (
	AgentStatusIdle   AgentStatus = "idle"
	AgentStatusActive AgentStatus = "active"
	AgentStatusError  AgentStatus = "error"
)

// AgentMode controls how much autonomy an agent has.
type AgentMode string

const (
	AgentModePlan      AgentMode = "plan"
	AgentModeAsk       AgentMode = "ask"
	AgentModeAuto      AgentMode = "auto"
	AgentModeSovereign AgentMode = "sovereign"
)

// ThinkingConfig controls extended-thinking behavior for an agent.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens int
}

// Agent is an autonomous participant in a workspace session.
// PreviousMode is set only while an automatic mode switch is pending
// reversion; ConversationID is a weak reference into the session's
// conversation pool (lookup only, the agent does not own it).
type Agent struct {
	ID             string
	Status         AgentStatus
	Mode           AgentMode
	PreviousMode   AgentMode
	Model          string
	Thinking       *ThinkingConfig
	ConversationID string
}
