package workspace

import "path/filepath"

// Paths computes the orchestrator's file layout inside a workspace. The state
// directory name is injected so callers control which dot-directory is in use.
type Paths struct {
	// Root is the workspace's local filesystem path.
	Root string
	// StateDir is the dot-directory name holding orchestrator state.
	StateDir string
}

// NewPaths creates a layout rooted at root. An empty stateDir defaults to
// DefaultAppDir.
func NewPaths(root, stateDir string) Paths {
	if stateDir == "" {
		stateDir = DefaultAppDir
	}
	return Paths{Root: root, StateDir: stateDir}
}

// StatePath is the workspace's orchestrator state directory.
func (p Paths) StatePath() string {
	return filepath.Join(p.Root, p.StateDir)
}

// TasksDir holds one directory per task.
func (p Paths) TasksDir() string {
	return filepath.Join(p.StatePath(), "tasks")
}

// TaskDir is the directory for one task.
func (p Paths) TaskDir(taskID string) string {
	return filepath.Join(p.TasksDir(), taskID)
}

// TaskFile is the markdown file holding a task's frontmatter and body.
func (p Paths) TaskFile(taskID string) string {
	return filepath.Join(p.TaskDir(taskID), "task.md")
}

// AttachmentsDir holds a task's attachment files.
func (p Paths) AttachmentsDir(taskID string) string {
	return filepath.Join(p.TaskDir(taskID), "attachments")
}

// ActivityFile is the append-only activity journal.
func (p Paths) ActivityFile() string {
	return filepath.Join(p.StatePath(), "activity.jsonl")
}

// LeaseFile holds the execution leases record.
func (p Paths) LeaseFile() string {
	return filepath.Join(p.StatePath(), "execution-leases.json")
}

// SettingsFile holds workspace-level workflow setting overrides.
func (p Paths) SettingsFile() string {
	return filepath.Join(p.StatePath(), "settings.json")
}

// DefaultsFile holds workspace-level task default overrides.
func (p Paths) DefaultsFile() string {
	return filepath.Join(p.StatePath(), "task-defaults.yaml")
}

// SkillsFile holds the workspace's skill definitions.
func (p Paths) SkillsFile() string {
	return filepath.Join(p.StatePath(), "skills.yaml")
}

// ProfilesDB is the sqlite database of reusable model profiles.
func (p Paths) ProfilesDB() string {
	return filepath.Join(p.StatePath(), "model-profiles.db")
}
