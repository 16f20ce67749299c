package sync

import (
	"time"

	"github.com/tetherlab/tether/internal/models"
)

// reconcileWindow bounds provisional user-message matching by time.
// Identical text re-sent outside this window is a genuinely new
// message, not an unconfirmed copy of the old one.
const reconcileWindow = 30 * time.Second

// Outcome reports what Reconcile did with a confirmed message.
type Outcome int

const (
	// OutcomeDuplicate: a message with the server id already existed.
	OutcomeDuplicate Outcome = iota
	// OutcomePromoted: a provisional record was promoted in place.
	OutcomePromoted
	// OutcomeAppended: the message was new and appended.
	OutcomeAppended
)

// Reconcile unifies a server-confirmed message with the conversation's
// existing records. The priority order is strict and load-bearing:
//
//  1. Exact server-id match: pure redelivery, no-op.
//  2. Provisional match: a locally-minted record (or the streaming
//     placeholder identified by streamKey) of the same role, for user
//     messages also requiring identical content within reconcileWindow,
//     has its id rewritten in place so UI focus tied to the interim id
//     survives.
//  3. Append as new.
//
// Checking provisional-match before exact-id would wrongly merge a
// genuinely new message that shares role and content, so the order
// must not change.
func Reconcile(c *models.Conversation, m *models.AgentMessage, streamKey string) Outcome {
	if existing := c.FindMessage(m.ID); existing != nil {
		return OutcomeDuplicate
	}

	if match := findProvisional(c, m, streamKey); match != nil {
		match.ID = m.ID
		match.Content = m.Content
		if m.Thinking != "" {
			match.Thinking = m.Thinking
		}
		if len(m.ToolCalls) > 0 {
			match.ToolCalls = m.ToolCalls
		}
		if !m.CreatedAt.IsZero() {
			match.CreatedAt = m.CreatedAt
		}
		return OutcomePromoted
	}

	c.Messages = append(c.Messages, m)
	return OutcomeAppended
}

func findProvisional(c *models.Conversation, m *models.AgentMessage, streamKey string) *models.AgentMessage {
	for _, candidate := range c.Messages {
		if candidate.Role != m.Role {
			continue
		}
		switch m.Role {
		case models.RoleAssistant:
			if streamKey != "" && candidate.ID == streamKey {
				return candidate
			}
		case models.RoleUser:
			if !candidate.Provisional() || candidate.Content != m.Content {
				continue
			}
			if withinWindow(candidate.CreatedAt, m.CreatedAt) {
				return candidate
			}
		}
	}
	return nil
}

func withinWindow(provisional, confirmed time.Time) bool {
	if provisional.IsZero() || confirmed.IsZero() {
		return true
	}
	d := confirmed.Sub(provisional)
	if d < 0 {
		d = -d
	}
	return d <= reconcileWindow
}
