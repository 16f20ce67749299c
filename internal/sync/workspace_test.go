package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

func TestWorkspaceCorrelator_StatusTransitions(t *testing.T) {
	st := store.New()
	c := NewWorkspaceCorrelator("sess-a", st, nil)

	c.Handle(event(t, wire.EventWorkspaceStatus, wire.WorkspaceStatusPayload{Status: "running"}))
	sess := sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorkspaceStatusRunning, sess.Workspace)
	assert.Empty(t, sess.WorkspaceError)

	c.Handle(event(t, wire.EventWorkspaceStatus, wire.WorkspaceStatusPayload{
		Status: "error", Error: "container exited",
	}))
	sess = sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorkspaceStatusError, sess.Workspace)
	assert.Equal(t, "container exited", sess.WorkspaceError)

	// Offline is what the push layer synthesizes on transport loss.
	c.Handle(event(t, wire.EventWorkspaceStatus, wire.WorkspaceStatusPayload{Status: "offline"}))
	sess = sessionState(t, st, "sess-a")
	assert.Equal(t, models.WorkspaceStatusOffline, sess.Workspace)
}

func TestWorkspaceCorrelator_EmptyStatusIgnored(t *testing.T) {
	st := store.New()
	c := NewWorkspaceCorrelator("sess-a", st, nil)

	c.Handle(event(t, wire.EventWorkspaceStatus, wire.WorkspaceStatusPayload{}))

	st.View(func(s *store.State) {
		assert.NotContains(t, s.Sessions, "sess-a")
	})
}
