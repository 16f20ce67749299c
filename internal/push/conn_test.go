package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherlab/tether/internal/wire"
)

func newTestConn(t *testing.T, baseURL string) *Conn {
	t.Helper()
	conn, err := New(Config{
		BaseURL:     baseURL,
		WorkspaceID: "ws-1",
		PollTimeout: time.Second,
	})
	require.NoError(t, err)
	return conn
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{WorkspaceID: "ws-1"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://localhost:7600"})
	assert.Error(t, err)
}

func TestConn_DispatchFiltersByName(t *testing.T) {
	conn := newTestConn(t, "http://localhost:7600")

	var got []string
	conn.Subscribe([]string{wire.EventAgentToken}, func(ev wire.Event) {
		got = append(got, ev.Name)
	})

	conn.Dispatch(wire.Event{Name: wire.EventAgentToken, Data: []byte(`{}`)})
	conn.Dispatch(wire.Event{Name: wire.EventAgentStatus, Data: []byte(`{}`)})
	conn.Dispatch(wire.Event{Name: wire.EventAgentToken, Data: []byte(`{}`)})

	assert.Equal(t, []string{wire.EventAgentToken, wire.EventAgentToken}, got)
}

func TestConn_DispatchOrderBySubscription(t *testing.T) {
	conn := newTestConn(t, "http://localhost:7600")

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		conn.Subscribe([]string{wire.EventAgentToken}, func(wire.Event) {
			order = append(order, i)
		})
	}

	conn.Dispatch(wire.Event{Name: wire.EventAgentToken, Data: []byte(`{}`)})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubscription_UnsubscribeIsSynchronous(t *testing.T) {
	conn := newTestConn(t, "http://localhost:7600")

	calls := 0
	sub := conn.Subscribe([]string{wire.EventAgentToken}, func(wire.Event) {
		calls++
	})

	conn.Dispatch(wire.Event{Name: wire.EventAgentToken, Data: []byte(`{}`)})
	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op
	conn.Dispatch(wire.Event{Name: wire.EventAgentToken, Data: []byte(`{}`)})

	assert.Equal(t, 1, calls)
}

func TestConn_PollLoopDeliversEventsAndCursor(t *testing.T) {
	var polls atomic.Int32
	delivered := make(chan wire.Event, 8)
	var sinceSeen atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workspaces/ws-1/events", r.URL.Path)
		n := polls.Add(1)
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"events": []map[string]any{
					{"event": wire.EventAgentToken, "data": map[string]any{"message_id": "m1", "token": "He"}},
					{"event": wire.EventAgentToken, "data": map[string]any{"message_id": "m1", "token": "llo"}},
				},
				"next_cursor": "cur-1",
			})
			return
		}
		sinceSeen.Store(r.URL.Query().Get("since"))
		// Hold subsequent polls empty.
		json.NewEncoder(w).Encode(map[string]any{"events": []any{}, "next_cursor": "cur-1"})
	}))
	defer srv.Close()

	conn := newTestConn(t, srv.URL)
	conn.Subscribe([]string{wire.EventAgentToken}, func(ev wire.Event) {
		delivered <- ev
	})

	conn.Start(context.Background())
	defer conn.Close()

	var tokens []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-delivered:
			var p wire.TokenPayload
			require.NoError(t, ev.Decode(&p))
			tokens = append(tokens, p.Token)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []string{"He", "llo"}, tokens)

	// The next poll resumes from the returned cursor.
	require.Eventually(t, func() bool {
		v, ok := sinceSeen.Load().(string)
		return ok && v == "cur-1"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConn_TransportLossSynthesizesOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	conn := newTestConn(t, srv.URL)

	status := make(chan wire.WorkspaceStatusPayload, 1)
	conn.Subscribe([]string{wire.EventWorkspaceStatus}, func(ev wire.Event) {
		var p wire.WorkspaceStatusPayload
		if err := ev.Decode(&p); err == nil {
			select {
			case status <- p:
			default:
			}
		}
	})

	conn.Start(context.Background())
	defer conn.Close()

	select {
	case p := <-status:
		assert.Equal(t, "offline", p.Status)
		assert.NotEmpty(t, p.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("no synthetic offline event")
	}
}

func TestConn_ReconnectHooksRunOnRecovery(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"events": []any{}, "next_cursor": ""})
	}))
	defer srv.Close()

	conn := newTestConn(t, srv.URL)

	reconnected := make(chan struct{}, 1)
	cancel := conn.OnReconnect(func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})
	defer cancel()

	conn.Start(context.Background())
	defer conn.Close()

	select {
	case <-reconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("reconnect hook never ran")
	}
}

func TestConn_OnReconnectCancel(t *testing.T) {
	conn := newTestConn(t, "http://localhost:7600")

	ran := false
	cancel := conn.OnReconnect(func() { ran = true })
	cancel()

	conn.runReconnect()
	assert.False(t, ran)
}

func TestConn_CloseWithoutStart(t *testing.T) {
	conn := newTestConn(t, "http://localhost:7600")
	conn.Close() // must not panic or block
}
