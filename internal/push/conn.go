// Package push implements the client side of the workspace push
// channel: a long-poll event feed with an opaque resume cursor, fanned
// out to subscribers on a single dispatch goroutine.
//
// Delivery is at-least-once and order-preserving per channel; the
// server holds the poll open until events arrive, then returns them
// with the next cursor. There is no client-side polling interval.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetherlab/tether/internal/wire"
)

// Config holds configuration for creating a Conn.
type Config struct {
	// BaseURL is the base URL of the workspace server.
	BaseURL string
	// WorkspaceID selects which workspace's event feed to follow.
	WorkspaceID string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// PollTimeout is the long-poll hold time requested from the server.
	// Zero means 30 seconds.
	PollTimeout time.Duration
}

// Conn is one push connection. Events are dispatched synchronously on
// the reader goroutine, so handlers see a single-threaded event loop:
// a handler runs to completion before the next event is dispatched.
type Conn struct {
	baseURL     string
	workspaceID string
	httpClient  *http.Client
	logger      *slog.Logger
	pollTimeout time.Duration

	mu        sync.Mutex
	subs      map[int]*Subscription
	reconnect map[int]func()
	nextID    int
	cursor    string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a push connection. Call Start to begin polling; Dispatch
// may be used directly without Start (tests, local echo).
func New(config Config) (*Conn, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("push: BaseURL is required")
	}
	if config.WorkspaceID == "" {
		return nil, fmt.Errorf("push: WorkspaceID is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("push: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Conn{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		workspaceID: config.WorkspaceID,
		httpClient:  httpClient,
		logger:      logger,
		pollTimeout: pollTimeout,
		subs:        make(map[int]*Subscription),
		reconnect:   make(map[int]func()),
	}, nil
}

// Subscription is one registered listener: a fixed set of event names
// and a handler. Unsubscribe is synchronous: once it returns, events
// dispatched afterwards are never delivered to the handler.
type Subscription struct {
	conn    *Conn
	id      int
	names   map[string]bool
	handler func(wire.Event)
	closed  atomic.Bool
}

// Subscribe registers a handler for the given event names.
func (c *Conn) Subscribe(names []string, handler func(wire.Event)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &Subscription{
		conn:    c,
		id:      c.nextID,
		names:   make(map[string]bool, len(names)),
		handler: handler,
	}
	for _, n := range names {
		sub.names[n] = true
	}
	c.subs[sub.id] = sub
	c.nextID++
	return sub
}

// Unsubscribe removes the listener. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.conn.mu.Lock()
	delete(s.conn.subs, s.id)
	s.conn.mu.Unlock()
}

// OnReconnect registers fn to run on the dispatch goroutine after the
// transport recovers from a connection loss. Terminal tabs use this to
// re-run their attach sequence. The returned cancel removes it.
func (c *Conn) OnReconnect(fn func()) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.reconnect[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.reconnect, id)
		c.mu.Unlock()
	}
}

// Dispatch delivers one event to every matching subscriber, in
// subscription order. Handlers run synchronously on the caller's
// goroutine.
func (c *Conn) Dispatch(ev wire.Event) {
	c.mu.Lock()
	matched := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.names[ev.Name] {
			matched = append(matched, sub)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	c.mu.Unlock()

	for _, sub := range matched {
		if sub.closed.Load() {
			continue
		}
		sub.handler(ev)
	}
}

type eventsResponse struct {
	Events     []wire.Event `json:"events"`
	NextCursor string       `json:"next_cursor"`
}

// Start launches the long-poll loop. It runs until ctx is cancelled or
// Close is called.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.pollLoop(ctx)
}

// Close stops the poll loop and waits for it to exit.
func (c *Conn) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Conn) pollLoop(ctx context.Context) {
	defer close(c.done)

	backoff := time.Second
	offline := false
	for {
		if ctx.Err() != nil {
			return
		}
		events, next, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !offline {
				offline = true
				c.logger.Debug("push channel lost", "error", err)
				// Surface transport loss as a synthetic status event so
				// the workspace correlator flips the session offline.
				c.dispatchStatus("offline", err.Error())
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if offline {
			offline = false
			c.logger.Debug("push channel recovered")
			c.runReconnect()
		}
		c.mu.Lock()
		c.cursor = next
		c.mu.Unlock()
		for _, ev := range events {
			c.Dispatch(ev)
		}
	}
}

func (c *Conn) poll(ctx context.Context) ([]wire.Event, string, error) {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	q := url.Values{}
	if cursor != "" {
		q.Set("since", cursor)
	}
	q.Set("timeout", fmt.Sprintf("%d", int(c.pollTimeout.Seconds())))
	endpoint := fmt.Sprintf("%s/api/v1/workspaces/%s/events?%s",
		c.baseURL, url.PathEscape(c.workspaceID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("events poll: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed eventsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("parse events response: %w", err)
	}
	return parsed.Events, parsed.NextCursor, nil
}

func (c *Conn) dispatchStatus(status, errMsg string) {
	data, err := json.Marshal(wire.WorkspaceStatusPayload{Status: status, Error: errMsg})
	if err != nil {
		return
	}
	c.Dispatch(wire.Event{Name: wire.EventWorkspaceStatus, Data: data})
}

func (c *Conn) runReconnect() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.reconnect))
	for _, fn := range c.reconnect {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
