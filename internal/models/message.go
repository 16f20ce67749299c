package models

import (
	"strings"
	"time"
)

// MessageRole identifies the author side of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ToolCallStatus represents the execution state of a tool call.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// ToolCall is one tool invocation attached to an assistant message.
type ToolCall struct {
	ID     string
	Name   string
	Args   map[string]any
	Status ToolCallStatus
	Result string
}

// TempIDPrefix marks message identifiers minted locally before the
// server has confirmed the message. Reconciliation promotes these ids
// in place to the server-issued id.
const TempIDPrefix = "msg-tmp-"

// AgentMessage is one turn in a conversation. The ID is either a
// server-issued id or a client-minted temporary id (TempIDPrefix).
type AgentMessage struct {
	ID        string
	Role      MessageRole
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	CreatedAt time.Time
}

// Provisional reports whether the message still carries a client-minted
// temporary id, i.e. it has not been confirmed by the server yet.
func (m *AgentMessage) Provisional() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Conversation is an ordered message thread, optionally attached to one
// agent at a time. Messages are append-only except for two mutations:
// in-place content replacement while streaming, and id rewrite during
// reconciliation.
type Conversation struct {
	ID       string
	AgentID  string
	Messages []*AgentMessage
}

// FindMessage returns the message with the given id, or nil.
func (c *Conversation) FindMessage(id string) *AgentMessage {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// StreamingMessage is the staging record for an assistant turn still
// being authored by the server. It accumulates token fragments and is
// discarded once the turn is finalized into the conversation.
type StreamingMessage struct {
	MessageID string
	AgentID   string
	Content   strings.Builder
	Thinking  strings.Builder
	Streaming bool
	StartedAt time.Time
}
