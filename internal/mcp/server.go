package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tetherlab/tether/internal/store"
)

// Sender issues user actions on behalf of tool callers. Implemented by
// the request-channel client.
type Sender interface {
	SendMessage(ctx context.Context, sessionID, agentID, content string) (string, error)
}

// Server wraps the synced workspace state and exposes it as MCP tools,
// so other agents can observe and drive a session over stdio.
type Server struct {
	sessionID string
	store     *store.Store
	sender    Sender
}

// NewServer creates the MCP server wrapper bound to one session.
// sender may be nil, which disables the send tool's action path.
func NewServer(sessionID string, st *store.Store, sender Sender) *Server {
	return &Server{sessionID: sessionID, store: st, sender: sender}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tether", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listAgentsTool())
	srv.AddTool(s.conversationTool())
	srv.AddTool(s.listCheckpointsTool())
	srv.AddTool(s.listWorktreesTool())
	srv.AddTool(s.sendMessageTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tether_list_agents
func (s *Server) listAgentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tether_list_agents",
		mcp.WithDescription("List the session's agents with status, mode, and model. Returns a JSON array."),
	)
	return tool, s.handleListAgents
}

func (s *Server) handleListAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type agentOut struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		Mode         string `json:"mode"`
		Model        string `json:"model"`
		Conversation string `json:"conversation_id,omitempty"`
	}

	var out []agentOut
	s.store.View(func(st *store.State) {
		sess, ok := st.Sessions[s.sessionID]
		if !ok {
			return
		}
		for _, a := range sess.SortedAgents() {
			out = append(out, agentOut{
				ID:           a.ID,
				Status:       string(a.Status),
				Mode:         string(a.Mode),
				Model:        a.Model,
				Conversation: a.ConversationID,
			})
		}
	})

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal agents: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tether_conversation
func (s *Server) conversationTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tether_conversation",
		mcp.WithDescription("Get an agent's conversation messages in order. Returns a JSON array with role, content, and timestamps."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent id")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of most recent messages (default all)")),
	)
	return tool, s.handleConversation
}

func (s *Server) handleConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}
	limit := request.GetInt("limit", 0)

	type messageOut struct {
		ID        string `json:"id"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		Pending   bool   `json:"pending,omitempty"`
		CreatedAt string `json:"created_at,omitempty"`
	}

	var out []messageOut
	found := false
	s.store.View(func(st *store.State) {
		sess, ok := st.Sessions[s.sessionID]
		if !ok {
			return
		}
		conv := sess.ConversationForAgent(agentID)
		if conv == nil {
			return
		}
		found = true
		msgs := conv.Messages
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		for _, m := range msgs {
			mo := messageOut{
				ID:      m.ID,
				Role:    string(m.Role),
				Content: m.Content,
				Pending: m.Provisional(),
			}
			if !m.CreatedAt.IsZero() {
				mo.CreatedAt = m.CreatedAt.Format(time.RFC3339)
			}
			out = append(out, mo)
		}
	})
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("agent has no conversation: %s", agentID)), nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal messages: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tether_list_checkpoints
func (s *Server) listCheckpointsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tether_list_checkpoints",
		mcp.WithDescription("List the session's checkpoints, newest first. Returns a JSON array with id, number, status, description, and file counts."),
	)
	return tool, s.handleListCheckpoints
}

func (s *Server) handleListCheckpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type checkpointOut struct {
		ID           string `json:"id"`
		Number       int    `json:"number"`
		Status       string `json:"status"`
		Description  string `json:"description,omitempty"`
		AgentID      string `json:"agent_id,omitempty"`
		FileCount    int    `json:"file_count"`
		LinesAdded   int    `json:"lines_added"`
		LinesRemoved int    `json:"lines_removed"`
	}

	var out []checkpointOut
	s.store.View(func(st *store.State) {
		sess, ok := st.Sessions[s.sessionID]
		if !ok {
			return
		}
		for _, cp := range sess.SortedCheckpoints() {
			out = append(out, checkpointOut{
				ID:           cp.ID,
				Number:       cp.Number,
				Status:       string(cp.Status),
				Description:  cp.Description,
				AgentID:      cp.AgentID,
				FileCount:    cp.FileCount,
				LinesAdded:   cp.TotalLinesAdded,
				LinesRemoved: cp.TotalLinesRemoved,
			})
		}
	})

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal checkpoints: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tether_list_worktrees
func (s *Server) listWorktreesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tether_list_worktrees",
		mcp.WithDescription("List the session's worktrees with branch, status, and owning agent. Returns a JSON array."),
	)
	return tool, s.handleListWorktrees
}

func (s *Server) handleListWorktrees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type worktreeOut struct {
		ID      string `json:"id"`
		AgentID string `json:"agent_id,omitempty"`
		Branch  string `json:"branch"`
		Path    string `json:"path,omitempty"`
		Status  string `json:"status"`
	}

	var out []worktreeOut
	s.store.View(func(st *store.State) {
		sess, ok := st.Sessions[s.sessionID]
		if !ok {
			return
		}
		for _, wt := range sess.SortedWorktrees() {
			out = append(out, worktreeOut{
				ID:      wt.ID,
				AgentID: wt.AgentID,
				Branch:  wt.Branch,
				Path:    wt.Path,
				Status:  string(wt.Status),
			})
		}
	})

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal worktrees: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// tether_send_message
func (s *Server) sendMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tether_send_message",
		mcp.WithDescription("Send a user message to an agent's conversation. Returns the provisional message id."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	)
	return tool, s.handleSendMessage
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}
	if s.sender == nil {
		return mcp.NewToolResultError("sending is not available: no request channel configured"), nil
	}

	tempID, err := s.sender.SendMessage(ctx, s.sessionID, agentID, content)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
	}

	data, _ := json.Marshal(map[string]string{"message_id": tempID, "status": "pending"})
	return mcp.NewToolResultText(string(data)), nil
}
