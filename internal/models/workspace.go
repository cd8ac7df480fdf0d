package models

// Workspace is a registered local repository the orchestrator runs agents
// against. Each workspace holds its own tasks, activity journal, attachments,
// leases and settings.
type Workspace struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Name string `json:"name"`
}
