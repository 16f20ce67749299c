package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/store"
	"github.com/tetherlab/tether/internal/terminal"
)

// SendMessage inserts a provisional user message with a client-minted
// temporary id, then issues the send. The provisional record is
// reconciled against the confirmed agent_message push event; on
// request failure the owning agent rolls to error status and the
// provisional record is withdrawn.
func (c *Client) SendMessage(ctx context.Context, sessionID, agentID, content string) (string, error) {
	tempID := models.TempIDPrefix + store.NewULID()
	now := time.Now()

	var conversationID string
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		conv := sess.ConversationForAgent(agentID)
		if conv == nil {
			return
		}
		conversationID = conv.ID
		conv.Messages = append(conv.Messages, &models.AgentMessage{
			ID:        tempID,
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: now,
		})
		tx.Note(store.ChangeMessage, sessionID, tempID)
	})
	if conversationID == "" {
		return "", fmt.Errorf("agent %s has no conversation", agentID)
	}

	_, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/agents/%s/messages", url.PathEscape(sessionID), url.PathEscape(agentID)),
		map[string]string{"content": content, "conversation_id": conversationID})
	if err != nil {
		c.rollbackMessage(sessionID, agentID, conversationID, tempID)
		return "", fmt.Errorf("send message: %w", err)
	}
	c.cache.InvalidatePrefix("conversations:" + conversationID)
	return tempID, nil
}

func (c *Client) rollbackMessage(sessionID, agentID, conversationID, tempID string) {
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		sess.EnsureAgent(agentID).Status = models.AgentStatusError
		if conv, ok := sess.Conversations[conversationID]; ok {
			for i, m := range conv.Messages {
				if m.ID == tempID {
					conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
					break
				}
			}
		}
		tx.Note(store.ChangeAgent, sessionID, agentID)
		tx.Note(store.ChangeMessage, sessionID, tempID)
	})
}

// CreateConversation creates a conversation for the agent and attaches
// it. The attachment is confirmed locally from the response; messages
// that raced ahead of it arrive again from the server.
func (c *Client) CreateConversation(ctx context.Context, sessionID, agentID string) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/conversations", url.PathEscape(sessionID)),
		map[string]string{"agent_id": agentID})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse conversation response: %w", err)
	}

	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		conv := sess.EnsureConversation(resp.ID)
		conv.AgentID = agentID
		sess.EnsureAgent(agentID).ConversationID = resp.ID
		tx.Note(store.ChangeSession, sessionID, resp.ID)
	})
	return resp.ID, nil
}

// RestoreCheckpoint starts a checkpoint restore. The session's
// operation pointer flips to Restoring before the request goes out and
// rolls back to Idle on rejection; the completion event clears it on
// the success path.
func (c *Client) RestoreCheckpoint(ctx context.Context, sessionID, checkpointID string) error {
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		sess.Op = store.OpState{Kind: store.OpRestoring, ID: checkpointID}
		tx.Note(store.ChangeSession, sessionID, checkpointID)
	})

	_, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/checkpoints/%s/restore", url.PathEscape(sessionID), url.PathEscape(checkpointID)), nil)
	if err != nil {
		c.store.Update(func(tx *store.Tx) {
			sess := tx.State.EnsureSession(sessionID)
			if sess.Op.Kind == store.OpRestoring && sess.Op.ID == checkpointID {
				sess.Op = store.OpState{Kind: store.OpIdle}
			}
			tx.Note(store.ChangeSession, sessionID, checkpointID)
		})
		return fmt.Errorf("restore checkpoint %s: %w", checkpointID, err)
	}
	c.cache.InvalidatePrefix("checkpoints:" + sessionID)
	return nil
}

// MergeWorktree starts a worktree merge, flipping the operation
// pointer to Operating until the worktree_merged event (either
// outcome) clears it. Rejection rolls the pointer back.
func (c *Client) MergeWorktree(ctx context.Context, sessionID, worktreeID string) error {
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		sess.Op = store.OpState{Kind: store.OpOperating, ID: worktreeID}
		if wt, ok := sess.Worktrees[worktreeID]; ok {
			wt.Status = models.WorktreeStatusMerging
			tx.Note(store.ChangeWorktree, sessionID, worktreeID)
		}
		tx.Note(store.ChangeSession, sessionID, worktreeID)
	})

	_, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/worktrees/%s/merge", url.PathEscape(sessionID), url.PathEscape(worktreeID)), nil)
	if err != nil {
		c.store.Update(func(tx *store.Tx) {
			sess := tx.State.EnsureSession(sessionID)
			if sess.Op.Kind == store.OpOperating && sess.Op.ID == worktreeID {
				sess.Op = store.OpState{Kind: store.OpIdle}
			}
			if wt, ok := sess.Worktrees[worktreeID]; ok && wt.Status == models.WorktreeStatusMerging {
				wt.Status = models.WorktreeStatusFailed
				tx.Note(store.ChangeWorktree, sessionID, worktreeID)
			}
			tx.Note(store.ChangeSession, sessionID, worktreeID)
		})
		return fmt.Errorf("merge worktree %s: %w", worktreeID, err)
	}
	c.cache.InvalidatePrefix("worktrees:" + sessionID)
	return nil
}

// DeleteWorktree asks the server to clean up a worktree. Removal from
// the local set happens when worktree_deleted arrives.
func (c *Client) DeleteWorktree(ctx context.Context, sessionID, worktreeID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/sessions/%s/worktrees/%s", url.PathEscape(sessionID), url.PathEscape(worktreeID)), nil)
	if err != nil {
		return fmt.Errorf("delete worktree %s: %w", worktreeID, err)
	}
	c.cache.InvalidatePrefix("worktrees:" + sessionID)
	return nil
}

// UpdateAgentConfig applies a config change optimistically and issues
// the request; rejection restores the previous values.
func (c *Client) UpdateAgentConfig(ctx context.Context, sessionID, agentID string, mode models.AgentMode, model string) error {
	var prevMode models.AgentMode
	var prevModel string
	c.store.Update(func(tx *store.Tx) {
		sess := tx.State.EnsureSession(sessionID)
		agent := sess.EnsureAgent(agentID)
		prevMode, prevModel = agent.Mode, agent.Model
		if mode != "" {
			agent.Mode = mode
			agent.PreviousMode = ""
		}
		if model != "" {
			agent.Model = model
		}
		tx.Note(store.ChangeAgent, sessionID, agentID)
	})

	body := map[string]string{}
	if mode != "" {
		body["mode"] = string(mode)
	}
	if model != "" {
		body["model"] = model
	}
	_, err := c.doRequest(ctx, http.MethodPatch,
		fmt.Sprintf("/api/v1/sessions/%s/agents/%s", url.PathEscape(sessionID), url.PathEscape(agentID)), body)
	if err != nil {
		c.store.Update(func(tx *store.Tx) {
			sess := tx.State.EnsureSession(sessionID)
			agent := sess.EnsureAgent(agentID)
			agent.Mode, agent.Model = prevMode, prevModel
			agent.Status = models.AgentStatusError
			tx.Note(store.ChangeAgent, sessionID, agentID)
		})
		return fmt.Errorf("update agent config: %w", err)
	}
	return nil
}

// ExposePort asks the workspace to expose a port and returns the
// public URL.
func (c *Client) ExposePort(ctx context.Context, workspaceID string, port int) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/workspaces/%s/ports", url.PathEscape(workspaceID)),
		map[string]int{"port": port})
	if err != nil {
		return "", fmt.Errorf("expose port %d: %w", port, err)
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse port response: %w", err)
	}
	c.cache.InvalidatePrefix("ports:" + workspaceID)
	return resp.URL, nil
}

// ListExposedPorts returns the workspace's exposed ports, memoized.
func (c *Client) ListExposedPorts(ctx context.Context, workspaceID string) ([]int, error) {
	v, err := c.getJSON(ctx, "ports:"+workspaceID,
		fmt.Sprintf("/api/v1/workspaces/%s/ports", url.PathEscape(workspaceID)),
		func(body []byte) (any, error) {
			var resp struct {
				Ports []int `json:"ports"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("parse ports response: %w", err)
			}
			return resp.Ports, nil
		})
	if err != nil {
		return nil, err
	}
	return v.([]int), nil
}

// SendTerminalFrame implements terminal.FrameSender over the request
// channel.
func (c *Client) SendTerminalFrame(ctx context.Context, workspaceID, terminalID string, frame terminal.ControlFrame) error {
	_, err := c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/workspaces/%s/terminals/%s", url.PathEscape(workspaceID), url.PathEscape(terminalID)), frame)
	return err
}
