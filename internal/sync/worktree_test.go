package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

func worktreeCreated(t *testing.T, sessionID, id, branch string) wire.Event {
	t.Helper()
	return event(t, wire.EventWorktreeCreated, wire.WorktreeEventPayload{
		SessionID: sessionID,
		Worktree: &wire.WorktreeInfo{
			ID:        id,
			AgentID:   "agent-1",
			Path:      "/workspaces/" + id,
			Branch:    branch,
			Status:    "active",
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
}

func TestWorktreeCorrelator_Lifecycle(t *testing.T) {
	st := store.New()
	c := NewWorktreeCorrelator("sess-a", st, nil)

	c.Handle(worktreeCreated(t, "sess-a", "wt-1", "feature/parser"))

	sess := sessionState(t, st, "sess-a")
	wt := sess.Worktrees["wt-1"]
	require.NotNil(t, wt)
	assert.Equal(t, "feature/parser", wt.Branch)
	assert.Equal(t, models.WorktreeStatusActive, wt.Status)

	c.Handle(event(t, wire.EventWorktreeStatusChanged, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1", Status: "merging",
	}))
	sess = sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorktreeStatusMerging, sess.Worktrees["wt-1"].Status)

	c.Handle(event(t, wire.EventWorktreeConflictDetected, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1",
	}))
	sess = sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorktreeStatusConflict, sess.Worktrees["wt-1"].Status)

	c.Handle(event(t, wire.EventWorktreeDeleted, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1",
	}))
	sess = sessionState(t, st, "sess-a")
	assert.NotContains(t, sess.Worktrees, "wt-1")
}

func TestWorktreeCorrelator_MergedSuccess(t *testing.T) {
	st := store.New()
	c := NewWorktreeCorrelator("sess-a", st, nil)
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	c.Handle(worktreeCreated(t, "sess-a", "wt-1", "feature/parser"))
	st.Update(func(tx *store.Tx) {
		tx.State.EnsureSession("sess-a").Op = store.OpState{Kind: store.OpOperating, ID: "wt-1"}
	})

	c.Handle(event(t, wire.EventWorktreeMerged, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1", Success: true,
	}))

	sess := sessionState(t, st, "sess-a")
	wt := sess.Worktrees["wt-1"]
	assert.Equal(t, models.WorktreeStatusMerged, wt.Status)
	require.NotNil(t, wt.MergedAt)
	assert.Equal(t, fixed, *wt.MergedAt)
	assert.Equal(t, store.OpIdle, sess.Op.Kind)
}

func TestWorktreeCorrelator_MergedFailureClearsPointer(t *testing.T) {
	st := store.New()
	c := NewWorktreeCorrelator("sess-a", st, nil)

	c.Handle(worktreeCreated(t, "sess-a", "wt-1", "feature/parser"))
	st.Update(func(tx *store.Tx) {
		tx.State.EnsureSession("sess-a").Op = store.OpState{Kind: store.OpOperating, ID: "wt-1"}
	})

	c.Handle(event(t, wire.EventWorktreeMerged, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1", Success: false,
	}))

	sess := sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorktreeStatusFailed, sess.Worktrees["wt-1"].Status)
	assert.Nil(t, sess.Worktrees["wt-1"].MergedAt)
	assert.Equal(t, store.OpIdle, sess.Op.Kind)
}

func TestWorktreeCorrelator_ForeignSessionDropped(t *testing.T) {
	st := store.New()
	c := NewWorktreeCorrelator("sess-a", st, nil)

	c.Handle(worktreeCreated(t, "sess-b", "wt-1", "feature/other"))

	st.View(func(s *store.State) {
		assert.NotContains(t, s.Sessions, "sess-b")
		if sess, ok := s.Sessions["sess-a"]; ok {
			assert.Empty(t, sess.Worktrees)
		}
	})
}

func TestWorktreeCorrelator_StatusChangeForUnknownWorktree(t *testing.T) {
	st := store.New()
	c := NewWorktreeCorrelator("sess-a", st, nil)

	// Status event arriving before created (reconnect replay order is
	// only guaranteed per channel, not across resubscription).
	c.Handle(event(t, wire.EventWorktreeStatusChanged, wire.WorktreeEventPayload{
		SessionID: "sess-a", WorktreeID: "wt-1", Status: "merging",
	}))

	sess := sessionState(t, st, "sess-a")
	require.Contains(t, sess.Worktrees, "wt-1")
	assert.Equal(t, models.WorktreeStatusMerging, sess.Worktrees["wt-1"].Status)
}
