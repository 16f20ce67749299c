package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/tetherlab/tether/internal/client"
	"github.com/tetherlab/tether/internal/push"
	"github.com/tetherlab/tether/internal/store"
	tsync "github.com/tetherlab/tether/internal/sync"
	"github.com/tetherlab/tether/internal/terminal"
)

// liveSession bundles the full client stack for one workspace: the
// shared store, the push connection with all correlators bound, the
// request channel, and the terminal multiplexer. The workspace id
// doubles as the session id: one standing session per workspace.
type liveSession struct {
	workspaceID string
	store       *store.Store
	conn        *push.Conn
	client      *client.Client
	mux         *terminal.Mux
	bindings    []*tsync.Binding
	cancel      context.CancelFunc
}

// openLiveSession connects to the configured workspace and starts the
// push loop with every correlator bound.
func openLiveSession(ctx context.Context) (*liveSession, error) {
	workspaceID, err := requireWorkspace()
	if err != nil {
		return nil, err
	}
	serverURL := viper.GetString("server_url")

	st := store.New()

	conn, err := push.New(push.Config{
		BaseURL:     serverURL,
		WorkspaceID: workspaceID,
		Logger:      slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	cacheTTL, _ := time.ParseDuration(viper.GetString("requests.cache_ttl"))
	cl, err := client.New(client.Config{
		BaseURL:  serverURL,
		Store:    st,
		Logger:   slog.Default(),
		CacheTTL: cacheTTL,
	})
	if err != nil {
		return nil, err
	}

	hist, err := getHistory()
	if err != nil {
		ui.VerboseLog("history cache unavailable: %v", err)
		hist = nil
	} else if err := hist.RecordSession(ctx, workspaceID, workspaceID); err != nil {
		ui.VerboseLog("record session: %v", err)
	}

	ls := &liveSession{
		workspaceID: workspaceID,
		store:       st,
		conn:        conn,
		client:      cl,
	}

	var sink tsync.HistorySink
	if hist != nil {
		sink = hist
	}
	correlators := []tsync.Correlator{
		tsync.NewConversationCorrelator(workspaceID, st, sink, slog.Default()),
		tsync.NewCheckpointCorrelator(workspaceID, st, sink, slog.Default()),
		tsync.NewWorktreeCorrelator(workspaceID, st, slog.Default()),
		tsync.NewWorkspaceCorrelator(workspaceID, st, slog.Default()),
	}
	for _, c := range correlators {
		ls.bindings = append(ls.bindings, tsync.Bind(conn, c))
	}

	ls.mux = terminal.NewMux(workspaceID, cl, slog.Default())
	ls.mux.Bind(conn)

	ctx, cancel := context.WithCancel(ctx)
	ls.cancel = cancel
	conn.Start(ctx)
	return ls, nil
}

// Close detaches terminals, releases every binding, and stops the
// push loop.
func (ls *liveSession) Close() {
	ls.mux.CloseAll(context.Background())
	ls.mux.Unbind()
	for _, b := range ls.bindings {
		b.Release()
	}
	ls.cancel()
	ls.conn.Close()
}

// sessionView runs fn against the live session's state, if present.
func (ls *liveSession) sessionView(fn func(sess *store.Session)) {
	ls.store.View(func(st *store.State) {
		if sess, ok := st.Sessions[ls.workspaceID]; ok {
			fn(sess)
		}
	})
}

func waitForSync(ls *liveSession, d time.Duration) {
	// Give the first poll a moment to land before rendering.
	deadline := time.After(d)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		synced := false
		ls.sessionView(func(*store.Session) {
			synced = true
		})
		if synced {
			return
		}
		select {
		case <-deadline:
			return
		case <-tick.C:
		}
	}
}
