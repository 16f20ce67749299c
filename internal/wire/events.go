// Package wire defines the push-channel event envelope and payload
// shapes shared by the push connection, the ingress correlators, and
// the terminal multiplexer. Field names follow the server's snake_case
// wire format; translation to internal types happens at the ingress
// boundary.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push-channel event names.
const (
	EventAgentMessage       = "agent_message"
	EventAgentStatus        = "agent_status"
	EventAgentStreamStart   = "agent_stream_start"
	EventAgentToken         = "agent_token"
	EventAgentThinkingToken = "agent_thinking_token"
	EventAgentStreamEnd     = "agent_stream_end"
	EventAgentConfigUpdate  = "agent_config_update"

	EventWorkspaceStatus = "workspace_status"

	EventCheckpointCreated          = "checkpoint_created"
	EventCheckpointRestoreStarted   = "checkpoint_restore_started"
	EventCheckpointRestoreCompleted = "checkpoint_restore_completed"

	EventWorktreeCreated          = "worktree_created"
	EventWorktreeStatusChanged    = "worktree_status_changed"
	EventWorktreeConflictDetected = "worktree_conflict_detected"
	EventWorktreeMerged           = "worktree_merged"
	EventWorktreeDeleted          = "worktree_deleted"

	EventTerminalReady = "terminal_ready"
	EventTerminalData  = "terminal_data"
	EventTerminalError = "terminal_error"
)

// Event is one push-channel envelope. Data is left raw until a
// correlator that recognizes the name decodes it.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

// ParseTime parses a server timestamp. The server sends RFC 3339;
// malformed or empty values yield the zero time rather than an error
// since timestamps are advisory on the client.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ToolCall is the wire form of one tool invocation.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status,omitempty"`
	Result string         `json:"result,omitempty"`
}

// AgentMessagePayload is the payload of agent_message.
type AgentMessagePayload struct {
	SessionID string     `json:"session_id"`
	AgentID   string     `json:"agent_id"`
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt string     `json:"created_at"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// AgentStatusPayload is the payload of agent_status.
type AgentStatusPayload struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"`
}

// StreamStartPayload is the payload of agent_stream_start.
type StreamStartPayload struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	MessageID string `json:"message_id"`
}

// TokenPayload is the payload of agent_token and agent_thinking_token.
type TokenPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Token     string `json:"token,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
}

// StreamEndPayload is the payload of agent_stream_end. FullContent is
// authoritative and replaces whatever the client accumulated.
type StreamEndPayload struct {
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id"`
	MessageID   string     `json:"message_id"`
	FullContent string     `json:"full_content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
}

// AgentConfigUpdates carries the changed fields of an agent_config_update.
// Pointer fields distinguish "absent" from zero values.
type AgentConfigUpdates struct {
	Model           *string `json:"model,omitempty"`
	Mode            *string `json:"mode,omitempty"`
	ThinkingEnabled *bool   `json:"thinking_enabled,omitempty"`
	ThinkingBudget  *int    `json:"thinking_budget,omitempty"`
}

// AgentConfigUpdatePayload is the payload of agent_config_update.
type AgentConfigUpdatePayload struct {
	SessionID string             `json:"session_id"`
	AgentID   string             `json:"agent_id"`
	Updates   AgentConfigUpdates `json:"updates"`
	Source    string             `json:"source"`
}

// WorkspaceStatusPayload is the payload of workspace_status.
type WorkspaceStatusPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CheckpointFile is one file delta in a checkpoint_created payload.
type CheckpointFile struct {
	Path         string `json:"path"`
	ChangeType   string `json:"change_type"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// CheckpointInfo is the nested checkpoint object of checkpoint_created.
type CheckpointInfo struct {
	ID                string           `json:"id"`
	CheckpointNumber  int              `json:"checkpoint_number"`
	Description       string           `json:"description"`
	ActionType        string           `json:"action_type"`
	AgentID           string           `json:"agent_id"`
	Status            string           `json:"status"`
	CreatedAt         string           `json:"created_at"`
	Files             []CheckpointFile `json:"files"`
	FileCount         int              `json:"file_count"`
	TotalLinesAdded   int              `json:"total_lines_added"`
	TotalLinesRemoved int              `json:"total_lines_removed"`
}

// CheckpointCreatedPayload is the payload of checkpoint_created.
type CheckpointCreatedPayload struct {
	SessionID  string         `json:"session_id"`
	Checkpoint CheckpointInfo `json:"checkpoint"`
}

// CheckpointRestorePayload is the payload of checkpoint_restore_started
// and checkpoint_restore_completed.
type CheckpointRestorePayload struct {
	SessionID     string `json:"session_id"`
	CheckpointID  string `json:"checkpoint_id"`
	FilesRestored int    `json:"files_restored,omitempty"`
}

// WorktreeInfo is the nested worktree object of worktree_created and
// worktree_status_changed.
type WorktreeInfo struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Path      string `json:"path"`
	Branch    string `json:"branch"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	MergedAt  string `json:"merged_at,omitempty"`
}

// WorktreeEventPayload is the payload shared by the worktree event
// family. Worktree is present on created/status_changed; the id-only
// events carry WorktreeID.
type WorktreeEventPayload struct {
	SessionID  string        `json:"session_id"`
	WorktreeID string        `json:"worktree_id,omitempty"`
	AgentID    string        `json:"agent_id,omitempty"`
	Worktree   *WorktreeInfo `json:"worktree,omitempty"`
	Status     string        `json:"status,omitempty"`
	Success    bool          `json:"success,omitempty"`
}

// TerminalPayload is the payload shared by the terminal event family.
// Terminal frames are addressed by workspace rather than session, and
// every frame carries the tab's terminal id.
type TerminalPayload struct {
	WorkspaceID string `json:"workspace_id"`
	TerminalID  string `json:"terminal_id"`
	Payload     string `json:"payload,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	Message     string `json:"message,omitempty"`
}
