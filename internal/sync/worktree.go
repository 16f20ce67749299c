package sync

import (
	"log/slog"
	"time"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

// WorktreeCorrelator ingests the worktree event family for one bound
// session. Worktree state transitions are absolute sets (idempotent
// under redelivery); the merge outcome clears the session's operating
// pointer regardless of success.
type WorktreeCorrelator struct {
	sessionID string
	store     *store.Store
	log       *slog.Logger
	now       func() time.Time
}

// NewWorktreeCorrelator creates a correlator bound to sessionID.
func NewWorktreeCorrelator(sessionID string, st *store.Store, log *slog.Logger) *WorktreeCorrelator {
	return &WorktreeCorrelator{sessionID: sessionID, store: st, log: logger(log), now: time.Now}
}

// EventNames implements Correlator.
func (c *WorktreeCorrelator) EventNames() []string {
	return []string{
		wire.EventWorktreeCreated,
		wire.EventWorktreeStatusChanged,
		wire.EventWorktreeConflictDetected,
		wire.EventWorktreeMerged,
		wire.EventWorktreeDeleted,
	}
}

// Handle implements Correlator.
func (c *WorktreeCorrelator) Handle(ev wire.Event) {
	var p wire.WorktreeEventPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.SessionID != c.sessionID {
		return
	}
	id := p.WorktreeID
	if id == "" && p.Worktree != nil {
		id = p.Worktree.ID
	}
	if id == "" {
		return
	}

	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		switch ev.Name {
		case wire.EventWorktreeCreated:
			sess.Worktrees[id] = worktreeFromWire(id, p)
		case wire.EventWorktreeStatusChanged:
			wt := ensureWorktree(sess, id, p)
			if p.Worktree != nil && p.Worktree.Status != "" {
				wt.Status = models.WorktreeStatus(p.Worktree.Status)
			} else if p.Status != "" {
				wt.Status = models.WorktreeStatus(p.Status)
			}
		case wire.EventWorktreeConflictDetected:
			ensureWorktree(sess, id, p).Status = models.WorktreeStatusConflict
		case wire.EventWorktreeMerged:
			wt := ensureWorktree(sess, id, p)
			if p.Success {
				wt.Status = models.WorktreeStatusMerged
				mergedAt := c.now()
				wt.MergedAt = &mergedAt
			} else {
				wt.Status = models.WorktreeStatusFailed
			}
			// Both outcomes release the one-operation-per-session gate.
			sess.Op = store.OpState{Kind: store.OpIdle}
			tx.Note(store.ChangeSession, c.sessionID, id)
		case wire.EventWorktreeDeleted:
			delete(sess.Worktrees, id)
		}
		tx.Note(store.ChangeWorktree, c.sessionID, id)
	})
}

func ensureWorktree(sess *store.Session, id string, p wire.WorktreeEventPayload) *models.Worktree {
	if wt, ok := sess.Worktrees[id]; ok {
		return wt
	}
	wt := worktreeFromWire(id, p)
	sess.Worktrees[id] = wt
	return wt
}

func worktreeFromWire(id string, p wire.WorktreeEventPayload) *models.Worktree {
	wt := &models.Worktree{ID: id, AgentID: p.AgentID, Status: models.WorktreeStatusActive}
	if p.Worktree != nil {
		if p.Worktree.AgentID != "" {
			wt.AgentID = p.Worktree.AgentID
		}
		wt.Path = p.Worktree.Path
		wt.Branch = p.Worktree.Branch
		if p.Worktree.Status != "" {
			wt.Status = models.WorktreeStatus(p.Worktree.Status)
		}
		wt.CreatedAt = wire.ParseTime(p.Worktree.CreatedAt)
		if t := wire.ParseTime(p.Worktree.MergedAt); !t.IsZero() {
			wt.MergedAt = &t
		}
	}
	return wt
}
