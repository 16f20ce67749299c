package models

// WorkspaceStatus is the connectivity status of the backing workspace.
type WorkspaceStatus string

const (
	WorkspaceStatusUnknown WorkspaceStatus = "unknown"
	WorkspaceStatusRunning WorkspaceStatus = "running"
	WorkspaceStatusStopped WorkspaceStatus = "stopped"
	WorkspaceStatusError   WorkspaceStatus = "error"
	WorkspaceStatusOffline WorkspaceStatus = "offline"
)
