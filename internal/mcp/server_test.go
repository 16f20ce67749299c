package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
)

// mockSender records send requests for verification.
type mockSender struct {
	sent []struct {
		sessionID, agentID, content string
	}
	tempID  string
	sendErr error
}

func (m *mockSender) SendMessage(_ context.Context, sessionID, agentID, content string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, struct{ sessionID, agentID, content string }{sessionID, agentID, content})
	return m.tempID, nil
}

// newTestServer creates a Server over a seeded store.
func newTestServer(t *testing.T) (*Server, *store.Store, *mockSender) {
	t.Helper()
	st := store.New()
	sender := &mockSender{tempID: models.TempIDPrefix + "01TEST"}
	srv := NewServer("sess-a", st, sender)
	require.NotNil(t, srv)
	return srv, st, sender
}

func seedAgent(st *store.Store, agentID string, status models.AgentStatus) {
	st.Update(func(tx *store.Tx) {
		agent := tx.State.EnsureSession("sess-a").EnsureAgent(agentID)
		agent.Status = status
		agent.Mode = models.AgentModeAuto
		agent.Model = "sonnet"
	})
}

func seedConversation(st *store.Store, agentID, conversationID string, messages ...*models.AgentMessage) {
	st.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession("sess-a")
		sess.EnsureAgent(agentID).ConversationID = conversationID
		conv := sess.EnsureConversation(conversationID)
		conv.AgentID = agentID
		conv.Messages = append(conv.Messages, messages...)
	})
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests: tether_list_agents
// ---------------------------------------------------------------------------

func TestHandleListAgents_Empty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleListAgents(ctx, callToolReq("tether_list_agents", nil))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
}

func TestHandleListAgents_WithAgents(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	seedAgent(st, "agent-b", models.AgentStatusActive)
	seedAgent(st, "agent-a", models.AgentStatusIdle)

	result, err := srv.handleListAgents(ctx, callToolReq("tether_list_agents", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Mode   string `json:"mode"`
		Model  string `json:"model"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "agent-a", out[0].ID)
	assert.Equal(t, "idle", out[0].Status)
	assert.Equal(t, "active", out[1].Status)
	assert.Equal(t, "sonnet", out[0].Model)
}

// ---------------------------------------------------------------------------
// Tests: tether_conversation
// ---------------------------------------------------------------------------

func TestHandleConversation(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	seedConversation(st, "agent-1", "conv-1",
		&models.AgentMessage{ID: "msg-1", Role: models.RoleUser, Content: "run tests", CreatedAt: time.Now()},
		&models.AgentMessage{ID: "msg-2", Role: models.RoleAssistant, Content: "done"},
		&models.AgentMessage{ID: models.TempIDPrefix + "abc", Role: models.RoleUser, Content: "thanks"},
	)

	result, err := srv.handleConversation(ctx, callToolReq("tether_conversation", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content string `json:"content"`
		Pending bool   `json:"pending"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out, 3)
	assert.Equal(t, "msg-1", out[0].ID)
	assert.False(t, out[0].Pending)
	assert.True(t, out[2].Pending, "provisional message should be marked pending")
}

func TestHandleConversation_Limit(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	seedConversation(st, "agent-1", "conv-1",
		&models.AgentMessage{ID: "msg-1", Role: models.RoleUser, Content: "first"},
		&models.AgentMessage{ID: "msg-2", Role: models.RoleAssistant, Content: "second"},
		&models.AgentMessage{ID: "msg-3", Role: models.RoleUser, Content: "third"},
	)

	result, err := srv.handleConversation(ctx, callToolReq("tether_conversation", map[string]any{
		"agent": "agent-1",
		"limit": 2,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []struct {
		ID string `json:"id"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "msg-2", out[0].ID)
	assert.Equal(t, "msg-3", out[1].ID)
}

func TestHandleConversation_MissingAgentArg(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleConversation(context.Background(), callToolReq("tether_conversation", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleConversation_NoConversation(t *testing.T) {
	srv, st, _ := newTestServer(t)
	seedAgent(st, "agent-1", models.AgentStatusIdle)

	result, err := srv.handleConversation(context.Background(), callToolReq("tether_conversation", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no conversation")
}

// ---------------------------------------------------------------------------
// Tests: tether_list_checkpoints
// ---------------------------------------------------------------------------

func TestHandleListCheckpoints(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession("sess-a")
		sess.Checkpoints["cp-1"] = &models.Checkpoint{ID: "cp-1", Number: 1, Status: models.CheckpointStatusRestored}
		sess.Checkpoints["cp-2"] = &models.Checkpoint{ID: "cp-2", Number: 2, Status: models.CheckpointStatusActive, Description: "refactor parser"}
	})

	result, err := srv.handleListCheckpoints(context.Background(), callToolReq("tether_list_checkpoints", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []struct {
		ID     string `json:"id"`
		Number int    `json:"number"`
		Status string `json:"status"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].Number, "newest first")
	assert.Equal(t, "restored", out[1].Status)
}

// ---------------------------------------------------------------------------
// Tests: tether_list_worktrees
// ---------------------------------------------------------------------------

func TestHandleListWorktrees(t *testing.T) {
	srv, st, _ := newTestServer(t)
	st.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession("sess-a")
		sess.Worktrees["wt-1"] = &models.Worktree{ID: "wt-1", Branch: "feature/parser", Status: models.WorktreeStatusActive, AgentID: "agent-1"}
	})

	result, err := srv.handleListWorktrees(context.Background(), callToolReq("tether_list_worktrees", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []struct {
		Branch  string `json:"branch"`
		Status  string `json:"status"`
		AgentID string `json:"agent_id"`
	}
	resultJSON(t, result, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "feature/parser", out[0].Branch)
	assert.Equal(t, "agent-1", out[0].AgentID)
}

// ---------------------------------------------------------------------------
// Tests: tether_send_message
// ---------------------------------------------------------------------------

func TestHandleSendMessage(t *testing.T) {
	srv, _, sender := newTestServer(t)

	result, err := srv.handleSendMessage(context.Background(), callToolReq("tether_send_message", map[string]any{
		"agent":   "agent-1",
		"content": "run the tests",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "sess-a", sender.sent[0].sessionID)
	assert.Equal(t, "agent-1", sender.sent[0].agentID)
	assert.Equal(t, "run the tests", sender.sent[0].content)

	var out struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	}
	resultJSON(t, result, &out)
	assert.Equal(t, sender.tempID, out.MessageID)
	assert.Equal(t, "pending", out.Status)
}

func TestHandleSendMessage_MissingArgs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleSendMessage(ctx, callToolReq("tether_send_message", map[string]any{"content": "hi"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleSendMessage(ctx, callToolReq("tether_send_message", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSendMessage_SenderError(t *testing.T) {
	srv, _, sender := newTestServer(t)
	sender.sendErr = fmt.Errorf("quota exceeded")

	result, err := srv.handleSendMessage(context.Background(), callToolReq("tether_send_message", map[string]any{
		"agent":   "agent-1",
		"content": "hi",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "quota exceeded")
}

func TestHandleSendMessage_NoSender(t *testing.T) {
	srv := NewServer("sess-a", store.New(), nil)

	result, err := srv.handleSendMessage(context.Background(), callToolReq("tether_send_message", map[string]any{
		"agent":   "agent-1",
		"content": "hi",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// Tests: Integration -- verify all tools are registered via HandleMessage
// ---------------------------------------------------------------------------

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _, _ := newTestServer(t)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	err = json.Unmarshal(respBytes, &rpcResp)
	require.NoError(t, err)

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	expectedTools := []string{
		"tether_list_agents",
		"tether_conversation",
		"tether_list_checkpoints",
		"tether_list_worktrees",
		"tether_send_message",
	}
	for _, name := range expectedTools {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

var _ Sender = (*mockSender)(nil)
