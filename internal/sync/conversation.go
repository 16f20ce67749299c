package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

// HistorySink receives finalized conversation records for the local
// cache. Implemented by *store.History; nil disables write-through.
type HistorySink interface {
	SaveMessage(ctx context.Context, sessionID, conversationID, agentID string, m *models.AgentMessage) error
	SaveCheckpoint(ctx context.Context, sessionID string, cp *models.Checkpoint) error
}

// ConversationCorrelator ingests the agent event family for one bound
// session: confirmed messages, status and config updates, and the
// token stream. Events carrying any other session id are dropped —
// the sole defense against cross-session leakage when one push
// connection outlives a session switch.
type ConversationCorrelator struct {
	sessionID string
	store     *store.Store
	history   HistorySink
	log       *slog.Logger
	now       func() time.Time
}

// NewConversationCorrelator creates a correlator bound to sessionID.
// history may be nil.
func NewConversationCorrelator(sessionID string, st *store.Store, history HistorySink, log *slog.Logger) *ConversationCorrelator {
	return &ConversationCorrelator{
		sessionID: sessionID,
		store:     st,
		history:   history,
		log:       logger(log),
		now:       time.Now,
	}
}

// EventNames implements Correlator.
func (c *ConversationCorrelator) EventNames() []string {
	return []string{
		wire.EventAgentMessage,
		wire.EventAgentStatus,
		wire.EventAgentConfigUpdate,
		wire.EventAgentStreamStart,
		wire.EventAgentToken,
		wire.EventAgentThinkingToken,
		wire.EventAgentStreamEnd,
	}
}

// Handle implements Correlator.
func (c *ConversationCorrelator) Handle(ev wire.Event) {
	switch ev.Name {
	case wire.EventAgentMessage:
		c.handleMessage(ev)
	case wire.EventAgentStatus:
		c.handleStatus(ev)
	case wire.EventAgentConfigUpdate:
		c.handleConfigUpdate(ev)
	case wire.EventAgentStreamStart:
		c.handleStreamStart(ev)
	case wire.EventAgentToken, wire.EventAgentThinkingToken:
		c.handleToken(ev)
	case wire.EventAgentStreamEnd:
		c.handleStreamEnd(ev)
	}
}

func (c *ConversationCorrelator) handleMessage(ev wire.Event) {
	var p wire.AgentMessagePayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.ID == "" {
		return
	}

	m := &models.AgentMessage{
		ID:        p.ID,
		Role:      models.MessageRole(p.Role),
		Content:   p.Content,
		ToolCalls: toolCallsFromWire(p.ToolCalls),
		CreatedAt: wire.ParseTime(p.CreatedAt),
	}

	var conversationID string
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		conv := sess.ConversationForAgent(p.AgentID)
		if conv == nil {
			// No conversation attached yet. The server re-delivers the
			// message once one is created, so drop rather than queue.
			return
		}
		if Reconcile(conv, m, p.ID) == OutcomeDuplicate {
			return
		}
		conversationID = conv.ID
		tx.Note(store.ChangeMessage, c.sessionID, p.ID)
	})

	if conversationID != "" && c.history != nil {
		if err := c.history.SaveMessage(context.Background(), c.sessionID, conversationID, p.AgentID, m); err != nil {
			c.log.Debug("history write failed", "message", p.ID, "error", err)
		}
	}
}

func (c *ConversationCorrelator) handleStatus(ev wire.Event) {
	var p wire.AgentStatusPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.AgentID == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		sess.EnsureAgent(p.AgentID).Status = models.AgentStatus(p.Status)
		tx.Note(store.ChangeAgent, c.sessionID, p.AgentID)
	})
}

func (c *ConversationCorrelator) handleConfigUpdate(ev wire.Event) {
	var p wire.AgentConfigUpdatePayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.AgentID == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		agent := sess.EnsureAgent(p.AgentID)
		if p.Updates.Model != nil {
			agent.Model = *p.Updates.Model
		}
		if p.Updates.Mode != nil {
			mode := models.AgentMode(*p.Updates.Mode)
			if mode != agent.Mode {
				if p.Source == "auto" {
					// Automatic switches remember the prior mode so
					// they can revert; explicit user changes do not.
					agent.PreviousMode = agent.Mode
				} else {
					agent.PreviousMode = ""
				}
				agent.Mode = mode
			}
		}
		if p.Updates.ThinkingEnabled != nil || p.Updates.ThinkingBudget != nil {
			if agent.Thinking == nil {
				agent.Thinking = &models.ThinkingConfig{}
			}
			if p.Updates.ThinkingEnabled != nil {
				agent.Thinking.Enabled = *p.Updates.ThinkingEnabled
			}
			if p.Updates.ThinkingBudget != nil {
				agent.Thinking.BudgetTokens = *p.Updates.ThinkingBudget
			}
		}
		tx.Note(store.ChangeAgent, c.sessionID, p.AgentID)
	})
}

func (c *ConversationCorrelator) handleStreamStart(ev wire.Event) {
	var p wire.StreamStartPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.MessageID == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		streamStart(sess, p.AgentID, p.MessageID, c.now())
		tx.Note(store.ChangeStream, c.sessionID, p.MessageID)
		tx.Note(store.ChangeAgent, c.sessionID, p.AgentID)
	})
}

func (c *ConversationCorrelator) handleToken(ev wire.Event) {
	var p wire.TokenPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.MessageID == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		if ev.Name == wire.EventAgentThinkingToken {
			appendThinking(sess, p.MessageID, p.Thinking, c.now())
		} else {
			appendToken(sess, p.MessageID, p.Token, c.now())
		}
		tx.Note(store.ChangeStream, c.sessionID, p.MessageID)
	})
}

func (c *ConversationCorrelator) handleStreamEnd(ev wire.Event) {
	var p wire.StreamEndPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.MessageID == "" {
		return
	}

	var finalized *models.AgentMessage
	var conversationID string
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		finalized = streamEnd(sess, p.AgentID, p.MessageID, p.FullContent, toolCallsFromWire(p.ToolCalls), c.now())
		if conv := sess.ConversationForAgent(p.AgentID); conv != nil {
			conversationID = conv.ID
		}
		tx.Note(store.ChangeStream, c.sessionID, p.MessageID)
		tx.Note(store.ChangeAgent, c.sessionID, p.AgentID)
		if finalized != nil {
			tx.Note(store.ChangeMessage, c.sessionID, finalized.ID)
		}
	})

	if finalized != nil && c.history != nil {
		if err := c.history.SaveMessage(context.Background(), c.sessionID, conversationID, p.AgentID, finalized); err != nil {
			c.log.Debug("history write failed", "message", finalized.ID, "error", err)
		}
	}
}

func toolCallsFromWire(calls []wire.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(calls))
	for _, tc := range calls {
		status := models.ToolCallStatus(tc.Status)
		if tc.Status == "" {
			status = models.ToolCallPending
		}
		out = append(out, models.ToolCall{
			ID:     tc.ID,
			Name:   tc.Name,
			Args:   tc.Args,
			Status: status,
			Result: tc.Result,
		})
	}
	return out
}
