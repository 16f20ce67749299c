package sync

import (
	"context"
	"log/slog"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

// CheckpointCorrelator ingests the checkpoint event family for one
// bound session. Checkpoints are server-decided: creation has no
// client-initiated path, so the only transitions driven here are
// creation into `active` and the two-phase restore protocol.
type CheckpointCorrelator struct {
	sessionID string
	store     *store.Store
	history   HistorySink
	log       *slog.Logger
}

// NewCheckpointCorrelator creates a correlator bound to sessionID.
// history may be nil.
func NewCheckpointCorrelator(sessionID string, st *store.Store, history HistorySink, log *slog.Logger) *CheckpointCorrelator {
	return &CheckpointCorrelator{sessionID: sessionID, store: st, history: history, log: logger(log)}
}

// EventNames implements Correlator.
func (c *CheckpointCorrelator) EventNames() []string {
	return []string{
		wire.EventCheckpointCreated,
		wire.EventCheckpointRestoreStarted,
		wire.EventCheckpointRestoreCompleted,
	}
}

// Handle implements Correlator.
func (c *CheckpointCorrelator) Handle(ev wire.Event) {
	switch ev.Name {
	case wire.EventCheckpointCreated:
		c.handleCreated(ev)
	case wire.EventCheckpointRestoreStarted:
		c.handleRestoreStarted(ev)
	case wire.EventCheckpointRestoreCompleted:
		c.handleRestoreCompleted(ev)
	}
}

func (c *CheckpointCorrelator) handleCreated(ev wire.Event) {
	var p wire.CheckpointCreatedPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.Checkpoint.ID == "" {
		return
	}

	cp := checkpointFromWire(p.Checkpoint)
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		sess.Checkpoints[cp.ID] = cp
		tx.Note(store.ChangeCheckpoint, c.sessionID, cp.ID)
	})

	if c.history != nil {
		if err := c.history.SaveCheckpoint(context.Background(), c.sessionID, cp); err != nil {
			c.log.Debug("history write failed", "checkpoint", cp.ID, "error", err)
		}
	}
}

func (c *CheckpointCorrelator) handleRestoreStarted(ev wire.Event) {
	var p wire.CheckpointRestorePayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.CheckpointID == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		// One restore in flight per session; the server serializes
		// restores, so a second start simply overwrites the pointer.
		sess.Op = store.OpState{Kind: store.OpRestoring, ID: p.CheckpointID}
		tx.Note(store.ChangeSession, c.sessionID, p.CheckpointID)
	})
}

func (c *CheckpointCorrelator) handleRestoreCompleted(ev wire.Event) {
	var p wire.CheckpointRestorePayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID || p.CheckpointID == "" {
		return
	}

	var restored *models.Checkpoint
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		// Status first, then the pointer clear, in that order: an
		// observer reacting to "not restoring anymore" must never see
		// a stale status.
		if cp, ok := sess.Checkpoints[p.CheckpointID]; ok {
			cp.Status = models.CheckpointStatusRestored
			restored = cp
			tx.Note(store.ChangeCheckpoint, c.sessionID, cp.ID)
		}
		sess.Op = store.OpState{Kind: store.OpIdle}
		tx.Note(store.ChangeSession, c.sessionID, p.CheckpointID)
	})

	if restored != nil && c.history != nil {
		if err := c.history.SaveCheckpoint(context.Background(), c.sessionID, restored); err != nil {
			c.log.Debug("history write failed", "checkpoint", restored.ID, "error", err)
		}
	}
}

func checkpointFromWire(info wire.CheckpointInfo) *models.Checkpoint {
	cp := &models.Checkpoint{
		ID:                info.ID,
		Number:            info.CheckpointNumber,
		Description:       info.Description,
		ActionType:        info.ActionType,
		AgentID:           info.AgentID,
		Status:            models.CheckpointStatus(info.Status),
		FileCount:         info.FileCount,
		TotalLinesAdded:   info.TotalLinesAdded,
		TotalLinesRemoved: info.TotalLinesRemoved,
		CreatedAt:         wire.ParseTime(info.CreatedAt),
	}
	if cp.Status == "" {
		cp.Status = models.CheckpointStatusActive
	}
	for _, f := range info.Files {
		cp.Files = append(cp.Files, models.FileDelta{
			Path:         f.Path,
			ChangeType:   models.FileChangeType(f.ChangeType),
			LinesAdded:   f.LinesAdded,
			LinesRemoved: f.LinesRemoved,
		})
	}
	return cp
}
