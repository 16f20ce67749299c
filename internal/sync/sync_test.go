package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

func event(t *testing.T, name string, payload any) wire.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return wire.Event{Name: name, Data: data}
}

// recordingSink captures history write-through for assertions.
type recordingSink struct {
	messages    []*models.AgentMessage
	checkpoints []*models.Checkpoint
	err         error
}

func (r *recordingSink) SaveMessage(_ context.Context, _, _, _ string, m *models.AgentMessage) error {
	r.messages = append(r.messages, m)
	return r.err
}

func (r *recordingSink) SaveCheckpoint(_ context.Context, _ string, cp *models.Checkpoint) error {
	r.checkpoints = append(r.checkpoints, cp)
	return r.err
}

// attachAgent wires agent -> conversation in the store so confirmed
// messages have somewhere to land.
func attachAgent(st *store.Store, sessionID, agentID, conversationID string) {
	st.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		sess.EnsureAgent(agentID).ConversationID = conversationID
		conv := sess.EnsureConversation(conversationID)
		conv.AgentID = agentID
	})
}

func sessionState(t *testing.T, st *store.Store, sessionID string) *store.Session {
	t.Helper()
	var sess *store.Session
	st.View(func(s *store.State) {
		sess = s.Sessions[sessionID]
	})
	require.NotNil(t, sess)
	return sess
}
