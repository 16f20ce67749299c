package sync

import (
	"log/slog"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/wire"
)

// WorkspaceCorrelator tracks workspace connectivity for one bound
// session. Status events carry no session id (the push connection is
// itself workspace-scoped), so every event applies to the bound
// session. The push layer synthesizes an offline status on transport
// loss, which flows through the same path.
type WorkspaceCorrelator struct {
	sessionID string
	store     *store.Store
	log       *slog.Logger
}

// NewWorkspaceCorrelator creates a correlator bound to sessionID.
func NewWorkspaceCorrelator(sessionID string, st *store.Store, log *slog.Logger) *WorkspaceCorrelator {
	return &WorkspaceCorrelator{sessionID: sessionID, store: st, log: logger(log)}
}

// EventNames implements Correlator.
func (c *WorkspaceCorrelator) EventNames() []string {
	return []string{wire.EventWorkspaceStatus}
}

// Handle implements Correlator.
func (c *WorkspaceCorrelator) Handle(ev wire.Event) {
	var p wire.WorkspaceStatusPayload
	if err := ev.Decode(&p); err != nil {
		c.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.Status == "" {
		return
	}
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(c.sessionID)
		sess.Workspace = models.WorkspaceStatus(p.Status)
		sess.WorkspaceError = p.Error
		tx.Note(store.ChangeWorkspace, c.sessionID, c.sessionID)
	})
}
