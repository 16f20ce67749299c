// Package sync contains the reconciliation core: the ingress
// correlators that consume push events for one bound session, the
// streaming accumulation engine, the optimistic-message reconciler,
// and the checkpoint/worktree lifecycle reducers.
//
// Local optimistic writes race with pushed events and request results.
// Every path funnels into the shared store so that arbitrary
// interleavings resolve to one view. All
// handlers run on the push connection's dispatch goroutine and mutate
// state synchronously inside a single store update; they never block
// and never throw: a malformed or foreign-session event is a no-op.
package sync

import (
	"log/slog"

	"github.com/tetherlab/tether/internal/push"
	"github.com/tetherlab/tether/internal/wire"
)

// Correlator is one event-family ingress handler bound to a session.
type Correlator interface {
	// EventNames enumerates the push events the correlator consumes.
	EventNames() []string
	// Handle ingests one event. Never panics, never blocks.
	Handle(ev wire.Event)
}

// Binding is the explicit subscription resource tying a correlator to
// a push connection. The bound session id is captured by the
// correlator's closure at construction, so switching sessions means
// releasing the binding and creating a fresh correlator — a binding is
// never patched in place.
type Binding struct {
	sub *push.Subscription
}

// Bind subscribes the correlator to its event set.
func Bind(conn *push.Conn, c Correlator) *Binding {
	return &Binding{sub: conn.Subscribe(c.EventNames(), c.Handle)}
}

// Release tears the subscription down synchronously: events dispatched
// after Release returns never reach the correlator.
func (b *Binding) Release() {
	b.sub.Unsubscribe()
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
