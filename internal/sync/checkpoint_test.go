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

func checkpointCreated(t *testing.T, sessionID, id string, number int) wire.Event {
	t.Helper()
	return event(t, wire.EventCheckpointCreated, wire.CheckpointCreatedPayload{
		SessionID: sessionID,
		Checkpoint: wire.CheckpointInfo{
			ID:               id,
			CheckpointNumber: number,
			Description:      "refactor parser",
			ActionType:       "file_edit",
			AgentID:          "agent-1",
			CreatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
			Files: []wire.CheckpointFile{
				{Path: "parser.go", ChangeType: "modify", LinesAdded: 10, LinesRemoved: 3},
			},
			FileCount:         1,
			TotalLinesAdded:   10,
			TotalLinesRemoved: 3,
		},
	})
}

func TestCheckpointCorrelator_Created(t *testing.T) {
	st := store.New()
	sink := &recordingSink{}
	c := NewCheckpointCorrelator("sess-a", st, sink, nil)

	c.Handle(checkpointCreated(t, "sess-a", "cp-1", 1))

	sess := sessionState(t, st, "sess-a")
	cp := sess.Checkpoints["cp-1"]
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Number)
	assert.Equal(t, models.CheckpointStatusActive, cp.Status)
	require.Len(t, cp.Files, 1)
	assert.Equal(t, models.FileChangeModify, cp.Files[0].ChangeType)
	require.Len(t, sink.checkpoints, 1)

	// Foreign-session creation is dropped.
	c.Handle(checkpointCreated(t, "sess-b", "cp-2", 2))
	sess = sessionState(t, st, "sess-a")
	assert.NotContains(t, sess.Checkpoints, "cp-2")
}

func TestCheckpointCorrelator_RestoreProtocol(t *testing.T) {
	st := store.New()
	c := NewCheckpointCorrelator("sess-a", st, nil, nil)
	c.Handle(checkpointCreated(t, "sess-a", "cp-1", 1))

	c.Handle(event(t, wire.EventCheckpointRestoreStarted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-1",
	}))

	sess := sessionState(t, st, "sess-a")
	assert.Equal(t, store.OpState{Kind: store.OpRestoring, ID: "cp-1"}, sess.Op)

	c.Handle(event(t, wire.EventCheckpointRestoreCompleted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-1", FilesRestored: 1,
	}))

	sess = sessionState(t, st, "sess-a")
	assert.Equal(t, store.OpIdle, sess.Op.Kind)
	assert.Equal(t, models.CheckpointStatusRestored, sess.Checkpoints["cp-1"].Status)
}

func TestCheckpointCorrelator_RestoreCompletedOrdering(t *testing.T) {
	st := store.New()
	c := NewCheckpointCorrelator("sess-a", st, nil, nil)
	c.Handle(checkpointCreated(t, "sess-a", "cp-1", 1))
	c.Handle(event(t, wire.EventCheckpointRestoreStarted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-1",
	}))

	// A watcher reacting to the pointer clear must already see the
	// checkpoint's final status, so the checkpoint change is delivered
	// first.
	var kinds []store.ChangeKind
	cancel := st.Watch(func(ch store.Change) {
		kinds = append(kinds, ch.Kind)
	})
	defer cancel()

	c.Handle(event(t, wire.EventCheckpointRestoreCompleted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-1",
	}))

	require.Equal(t, []store.ChangeKind{store.ChangeCheckpoint, store.ChangeSession}, kinds)
}

func TestCheckpointCorrelator_RestoreStartedOverwrites(t *testing.T) {
	st := store.New()
	c := NewCheckpointCorrelator("sess-a", st, nil, nil)

	c.Handle(event(t, wire.EventCheckpointRestoreStarted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-1",
	}))
	c.Handle(event(t, wire.EventCheckpointRestoreStarted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-2",
	}))

	sess := sessionState(t, st, "sess-a")
	assert.Equal(t, "cp-2", sess.Op.ID)
}

func TestCheckpointCorrelator_RestoreCompletedUnknownCheckpoint(t *testing.T) {
	st := store.New()
	sink := &recordingSink{}
	c := NewCheckpointCorrelator("sess-a", st, sink, nil)

	c.Handle(event(t, wire.EventCheckpointRestoreStarted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-unknown",
	}))
	c.Handle(event(t, wire.EventCheckpointRestoreCompleted, wire.CheckpointRestorePayload{
		SessionID: "sess-a", CheckpointID: "cp-unknown",
	}))

	// The pointer still clears even when the checkpoint was never seen.
	sess := sessionState(t, st, "sess-a")
	assert.Equal(t, store.OpIdle, sess.Op.Kind)
	assert.Empty(t, sink.checkpoints)
}
