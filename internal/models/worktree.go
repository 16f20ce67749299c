package models

import "time"

// WorktreeStatus represents the lifecycle state of a server-side worktree.
type WorktreeStatus string

const (
	WorktreeStatusCreating WorktreeStatus = "creating"
	WorktreeStatusActive   WorktreeStatus = "active"
	WorktreeStatusConflict WorktreeStatus = "conflict"
	WorktreeStatusMerging  WorktreeStatus = "merging"
	WorktreeStatusMerged   WorktreeStatus = "merged"
	WorktreeStatusFailed   WorktreeStatus = "failed"
	WorktreeStatusCleanup  WorktreeStatus = "cleanup"
)

// Worktree is an isolated branch-scoped working copy owned by one agent.
type Worktree struct {
	ID        string
	AgentID   string
	Path      string
	Branch    string
	Status    WorktreeStatus
	CreatedAt time.Time
	MergedAt  *time.Time
}
