// Package terminal multiplexes independent shell tabs over the single
// workspace push connection. Output frames arrive on the push channel
// addressed by terminal id; control frames (attach, resize, input,
// detach) ride the request channel.
//
// Protocol per tab: attach → wait for ready → only then resize.
// Sending resize before ready is a protocol violation: the server has
// not allocated the process yet and would have no target. On transport
// reconnect every still-open tab re-runs the full attach sequence with
// its ready flag reset — frames never resume where they left off.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tetherlab/tether/internal/push"
	"github.com/tetherlab/tether/internal/wire"
)

// Sentinel errors for protocol misuse.
var (
	ErrUnknownTab = errors.New("terminal: unknown tab")
	ErrNotReady   = errors.New("terminal: tab not ready")
)

// ControlFrame is one client→server control message for a tab.
type ControlFrame struct {
	Type  string `json:"type"` // attach | resize | input | detach
	Shell string `json:"shell,omitempty"`
	Rows  int    `json:"rows,omitempty"`
	Cols  int    `json:"cols,omitempty"`
	Data  string `json:"data,omitempty"`
}

// FrameSender delivers control frames to the server. Implemented by
// the request-channel client.
type FrameSender interface {
	SendTerminalFrame(ctx context.Context, workspaceID, terminalID string, frame ControlFrame) error
}

// Tab is one multiplexed terminal channel. Ready flips true only after
// the server round-trips the attach acknowledgment, and back to false
// on every re-attach.
type Tab struct {
	ID     string
	Shell  string
	Cwd    string
	ready  bool
	output io.Writer
}

// Mux manages the tab set for one workspace.
type Mux struct {
	workspaceID string
	sender      FrameSender
	log         *slog.Logger

	mu   sync.Mutex
	tabs map[string]*Tab

	sub             *push.Subscription
	cancelReconnect func()
}

// NewMux creates a multiplexer for the given workspace.
func NewMux(workspaceID string, sender FrameSender, log *slog.Logger) *Mux {
	if log == nil {
		log = slog.Default()
	}
	return &Mux{
		workspaceID: workspaceID,
		sender:      sender,
		log:         log,
		tabs:        make(map[string]*Tab),
	}
}

// Bind subscribes the mux to the push connection's terminal events and
// registers the reconnect hook. Call Unbind before discarding the mux.
func (m *Mux) Bind(conn *push.Conn) {
	m.sub = conn.Subscribe([]string{
		wire.EventTerminalReady,
		wire.EventTerminalData,
		wire.EventTerminalError,
	}, m.handleEvent)
	m.cancelReconnect = conn.OnReconnect(m.reattachAll)
}

// Unbind releases the push subscription and reconnect hook.
func (m *Mux) Unbind() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
}

// Open registers a tab and sends its attach frame. Output received for
// the tab is written to output (the emulator feed).
func (m *Mux) Open(ctx context.Context, tabID, shell string, output io.Writer) error {
	m.mu.Lock()
	if _, ok := m.tabs[tabID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("terminal: tab %s already open", tabID)
	}
	m.tabs[tabID] = &Tab{ID: tabID, Shell: shell, output: output}
	m.mu.Unlock()

	if err := m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "attach", Shell: shell}); err != nil {
		m.mu.Lock()
		delete(m.tabs, tabID)
		m.mu.Unlock()
		return fmt.Errorf("attach tab %s: %w", tabID, err)
	}
	return nil
}

// Ready reports whether the tab has seen the server's attach
// acknowledgment since its last attach.
func (m *Mux) Ready(tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[tabID]
	return ok && tab.ready
}

// Resize sends the tab's dimensions. Refused until the tab is ready:
// before the ready acknowledgment there is no process to resize.
func (m *Mux) Resize(ctx context.Context, tabID string, rows, cols int) error {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTab
	}
	if !tab.ready {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.mu.Unlock()
	return m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "resize", Rows: rows, Cols: cols})
}

// Input sends user keystrokes to the tab's process.
func (m *Mux) Input(ctx context.Context, tabID string, data []byte) error {
	m.mu.Lock()
	_, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTab
	}
	return m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "input", Data: string(data)})
}

// Close detaches the tab and removes it. Detach is sent before local
// disposal so the remote process is never orphaned; a send failure
// still removes the tab locally.
func (m *Mux) Close(ctx context.Context, tabID string) error {
	m.mu.Lock()
	_, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTab
	}
	err := m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "detach"})
	m.mu.Lock()
	delete(m.tabs, tabID)
	m.mu.Unlock()
	return err
}

// CloseAll detaches every open tab (page/session teardown).
func (m *Mux) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			m.log.Debug("detach on teardown failed", "tab", id, "error", err)
		}
	}
}

// Reconnect is the per-tab manual retry: detach, reset ready, attach.
func (m *Mux) Reconnect(ctx context.Context, tabID string) error {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTab
	}
	tab.ready = false
	shell := tab.Shell
	m.mu.Unlock()

	if err := m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "detach"}); err != nil {
		m.log.Debug("detach before reconnect failed", "tab", tabID, "error", err)
	}
	return m.sender.SendTerminalFrame(ctx, m.workspaceID, tabID, ControlFrame{Type: "attach", Shell: shell})
}

// reattachAll re-runs the attach sequence for every open tab after a
// transport-level reconnect. Ready flags reset first: the old process
// acknowledgments do not carry over.
func (m *Mux) reattachAll() {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		tab.ready = false
		tabs = append(tabs, tab)
	}
	m.mu.Unlock()

	for _, tab := range tabs {
		if err := m.sender.SendTerminalFrame(context.Background(), m.workspaceID, tab.ID, ControlFrame{Type: "attach", Shell: tab.Shell}); err != nil {
			m.log.Debug("re-attach failed", "tab", tab.ID, "error", err)
		}
	}
}

func (m *Mux) handleEvent(ev wire.Event) {
	var p wire.TerminalPayload
	if err := ev.Decode(&p); err != nil {
		m.log.Debug("drop malformed event", "event", ev.Name, "error", err)
		return
	}
	if p.WorkspaceID != m.workspaceID || p.TerminalID == "" {
		return
	}

	m.mu.Lock()
	tab, ok := m.tabs[p.TerminalID]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Name {
	case wire.EventTerminalReady:
		m.mu.Lock()
		tab.ready = true
		tab.Cwd = p.Cwd
		m.mu.Unlock()
	case wire.EventTerminalData:
		if tab.output != nil {
			if _, err := io.WriteString(tab.output, p.Payload); err != nil {
				m.log.Debug("tab output write failed", "tab", tab.ID, "error", err)
			}
		}
	case wire.EventTerminalError:
		// Rendered inline in the tab's stream; the channel stays up
		// and the user may retry via Reconnect.
		if tab.output != nil {
			fmt.Fprintf(tab.output, "\r\n[terminal error: %s]\r\n", p.Message)
		}
	}
}
