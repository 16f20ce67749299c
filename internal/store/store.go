// Package store holds the client-side view of workspace sessions: the
// single mutable resource every ingress correlator and request call
// site writes to. Mutation happens synchronously under one lock via
// Update; observers are notified after the lock is released, so a
// watcher never re-enters the store mid-mutation.
package store

import (
	"sort"
	"sync"

	"github.com/tetherlab/tether/internal/models"
)

// ChangeKind classifies a store mutation for observers.
type ChangeKind string

const (
	ChangeSession    ChangeKind = "session"
	ChangeWorkspace  ChangeKind = "workspace"
	ChangeAgent      ChangeKind = "agent"
	ChangeMessage    ChangeKind = "message"
	ChangeStream     ChangeKind = "stream"
	ChangeCheckpoint ChangeKind = "checkpoint"
	ChangeWorktree   ChangeKind = "worktree"
)

// Change describes one observed mutation.
type Change struct {
	Kind      ChangeKind
	SessionID string
	EntityID  string
}

// OpKind is the session-wide one-at-a-time operation state. It gates
// UI affordances (one restore or merge in flight per session); it is
// not a lock.
type OpKind string

const (
	OpIdle      OpKind = "idle"
	OpRestoring OpKind = "restoring"
	OpOperating OpKind = "operating"
)

// OpState records which operation, if any, is in flight for a session.
type OpState struct {
	Kind OpKind
	ID   string
}

// Session is the materialized state of one workspace session.
type Session struct {
	ID             string
	Workspace      models.WorkspaceStatus
	WorkspaceError string
	Agents         map[string]*models.Agent
	Conversations  map[string]*models.Conversation
	Streams        map[string]*models.StreamingMessage
	Checkpoints    map[string]*models.Checkpoint
	Worktrees      map[string]*models.Worktree
	Op             OpState
}

// EnsureConversation returns the conversation with the given id,
// creating it if unknown.
func (s *Session) EnsureConversation(id string) *models.Conversation {
	if c, ok := s.Conversations[id]; ok {
		return c
	}
	c := &models.Conversation{ID: id}
	s.Conversations[id] = c
	return c
}

// ConversationForAgent returns the conversation currently attached to
// the agent, or nil if the agent has none (or is unknown).
func (s *Session) ConversationForAgent(agentID string) *models.Conversation {
	agent, ok := s.Agents[agentID]
	if !ok || agent.ConversationID == "" {
		return nil
	}
	return s.Conversations[agent.ConversationID]
}

// EnsureAgent returns the agent with the given id, creating an idle
// placeholder if unknown.
func (s *Session) EnsureAgent(id string) *models.Agent {
	if a, ok := s.Agents[id]; ok {
		return a
	}
	a := &models.Agent{ID: id, Status: models.AgentStatusIdle}
	s.Agents[id] = a
	return a
}

// SortedAgents returns the session's agents ordered by id.
func (s *Session) SortedAgents() []*models.Agent {
	agents := make([]*models.Agent, 0, len(s.Agents))
	for _, a := range s.Agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// SortedCheckpoints returns the session's checkpoints ordered by
// checkpoint number descending (newest first).
func (s *Session) SortedCheckpoints() []*models.Checkpoint {
	cps := make([]*models.Checkpoint, 0, len(s.Checkpoints))
	for _, cp := range s.Checkpoints {
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].Number > cps[j].Number })
	return cps
}

// SortedWorktrees returns the session's worktrees ordered by branch.
func (s *Session) SortedWorktrees() []*models.Worktree {
	wts := make([]*models.Worktree, 0, len(s.Worktrees))
	for _, w := range s.Worktrees {
		wts = append(wts, w)
	}
	sort.Slice(wts, func(i, j int) bool { return wts[i].Branch < wts[j].Branch })
	return wts
}

// State is the full client-side state tree.
type State struct {
	Sessions map[string]*Session
}

// EnsureSession returns the session with the given id, creating it if
// this is the first subscription for it.
func (st *State) EnsureSession(id string) *Session {
	if s, ok := st.Sessions[id]; ok {
		return s
	}
	s := &Session{
		ID:            id,
		Workspace:     models.WorkspaceStatusUnknown,
		Agents:        make(map[string]*models.Agent),
		Conversations: make(map[string]*models.Conversation),
		Streams:       make(map[string]*models.StreamingMessage),
		Checkpoints:   make(map[string]*models.Checkpoint),
		Worktrees:     make(map[string]*models.Worktree),
		Op:            OpState{Kind: OpIdle},
	}
	st.Sessions[id] = s
	return s
}

// Tx is passed to Update callbacks. Mutate State freely and Note every
// externally visible change; noted changes are delivered to watchers
// after the update commits, in the order noted.
type Tx struct {
	State   *State
	changes []Change
}

// Note records a change for delivery to watchers.
func (tx *Tx) Note(kind ChangeKind, sessionID, entityID string) {
	tx.changes = append(tx.changes, Change{Kind: kind, SessionID: sessionID, EntityID: entityID})
}

// Store is the shared client store. Safe for concurrent use; all
// mutation is serialized through Update.
type Store struct {
	mu       sync.Mutex
	state    State
	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		state:    State{Sessions: make(map[string]*Session)},
		watchers: make(map[int]func(Change)),
	}
}

// Update runs fn with exclusive access to the state, then delivers the
// noted changes to watchers. fn must not block or call back into the
// store.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	tx := Tx{State: &s.state}
	fn(&tx)
	s.mu.Unlock()

	if len(tx.changes) == 0 {
		return
	}
	s.watchMu.Lock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.watchMu.Unlock()

	for _, ch := range tx.changes {
		for _, w := range fns {
			w(ch)
		}
	}
}

// View runs fn with shared read access to the state. fn must not
// retain references past its return; copy what it needs.
func (s *Store) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Watch registers an observer for all store changes. The returned
// cancel removes it synchronously: changes committed after cancel
// returns are never delivered.
func (s *Store) Watch(fn func(Change)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

// DropSession removes a session's state entirely (leave/teardown).
func (s *Store) DropSession(id string) {
	s.Update(func(tx *Tx) {
		if _, ok := tx.State.Sessions[id]; ok {
			delete(tx.State.Sessions, id)
			tx.Note(ChangeSession, id, id)
		}
	})
}
