package models

import "time"

// CheckpointStatus represents the lifecycle state of a checkpoint.
type CheckpointStatus string

const (
	CheckpointStatusActive   CheckpointStatus = "active"
	CheckpointStatusRestored CheckpointStatus = "restored"
	CheckpointStatusArchived CheckpointStatus = "archived"
)

// FileChangeType classifies one file delta inside a checkpoint.
type FileChangeType string

const (
	FileChangeCreate FileChangeType = "create"
	FileChangeModify FileChangeType = "modify"
	FileChangeDelete FileChangeType = "delete"
)

// FileDelta is one file's contribution to a checkpoint.
type FileDelta struct {
	Path         string
	ChangeType   FileChangeType
	LinesAdded   int
	LinesRemoved int
}

// Checkpoint is an immutable snapshot of file changes taken by the
// server at a point in time. Only Status mutates after creation.
type Checkpoint struct {
	ID                string
	Number            int
	Description       string
	ActionType        string
	AgentID           string
	Status            CheckpointStatus
	Files             []FileDelta
	FileCount         int
	TotalLinesAdded   int
	TotalLinesRemoved int
	CreatedAt         time.Time
}
