package sync

import (
	"time"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
)

// The streaming accumulation engine. Each in-flight assistant turn is
// a staging record keyed by the server-issued message id, living in
// the session's Streams map until the end event promotes it into the
// conversation. Fragments are applied in arrival order; the
// transport's per-channel ordering guarantee is load-bearing here, as
// there is no reordering buffer.

// streamStart opens a staging record and marks the owning agent
// active. A duplicate start for a live id is a no-op (at-least-once
// delivery).
func streamStart(sess *store.Session, agentID, messageID string, now time.Time) {
	if _, ok := sess.Streams[messageID]; !ok {
		sess.Streams[messageID] = &models.StreamingMessage{
			MessageID: messageID,
			AgentID:   agentID,
			Streaming: true,
			StartedAt: now,
		}
	}
	sess.EnsureAgent(agentID).Status = models.AgentStatusActive
}

// ensureStream returns the staging record for messageID, creating one
// lazily: a client attaching mid-stream sees tokens for an id it never
// got a start event for, and must tolerate them.
func ensureStream(sess *store.Session, messageID string, now time.Time) *models.StreamingMessage {
	if sm, ok := sess.Streams[messageID]; ok {
		return sm
	}
	sm := &models.StreamingMessage{MessageID: messageID, Streaming: true, StartedAt: now}
	sess.Streams[messageID] = sm
	return sm
}

// appendToken appends a content fragment to the staging record.
func appendToken(sess *store.Session, messageID, fragment string, now time.Time) {
	ensureStream(sess, messageID, now).Content.WriteString(fragment)
}

// appendThinking appends a thinking fragment to the parallel buffer.
func appendThinking(sess *store.Session, messageID, fragment string, now time.Time) {
	ensureStream(sess, messageID, now).Thinking.WriteString(fragment)
}

// streamEnd finalizes the turn: the server's authoritative fullContent
// (not the accumulated buffer) becomes the permanent content, the
// staging record is discarded, and the owning agent goes idle. The
// finalized message merges into the agent's conversation through the
// reconciler so a placeholder already visible to the user is promoted
// rather than duplicated. Returns the finalized message, or nil when
// the agent has no attached conversation (the message will arrive
// again once one exists).
func streamEnd(sess *store.Session, agentID, messageID, fullContent string, toolCalls []models.ToolCall, now time.Time) *models.AgentMessage {
	var thinking string
	if sm, ok := sess.Streams[messageID]; ok {
		thinking = sm.Thinking.String()
		if sm.AgentID != "" && agentID == "" {
			agentID = sm.AgentID
		}
		delete(sess.Streams, messageID)
	}

	agent := sess.EnsureAgent(agentID)
	agent.Status = models.AgentStatusIdle

	conv := sess.ConversationForAgent(agentID)
	if conv == nil {
		return nil
	}

	m := &models.AgentMessage{
		ID:        messageID,
		Role:      models.RoleAssistant,
		Content:   fullContent,
		Thinking:  thinking,
		ToolCalls: toolCalls,
		CreatedAt: now,
	}
	Reconcile(conv, m, messageID)
	return conv.FindMessage(messageID)
}
