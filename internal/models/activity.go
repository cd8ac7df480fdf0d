package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityType discriminates the journal entry variants.
type ActivityType string

const (
	ActivityTaskSeparator ActivityType = "task-separator"
	ActivityChatMessage   ActivityType = "chat-message"
	ActivitySystemEvent   ActivityType = "system-event"
)

// ChatRole identifies the author of a chat-message entry.
type ChatRole string

const (
	RoleUser   ChatRole = "user"
	RoleAgent  ChatRole = "agent"
	RoleSystem ChatRole = "system"
)

// System event kinds emitted by the core. Collaborators may emit their own.
const (
	EventPhaseChanged          = "phase-changed"
	EventBreakerOpened         = "breaker-opened"
	EventBreakerClosed         = "breaker-closed"
	EventBreakerBlocked        = "breaker-blocked"
	EventAwaitingUserInput     = "awaiting-user-input"
	EventPlanningFailover      = "planning-model-failover"
	EventExecutionFailover     = "execution-model-failover"
	EventExecutionFailed       = "execution-failed"
	EventPlanningFailed        = "planning-failed"
	EventOrphanRecovered       = "orphan-recovered"
	EventSkillFailed           = "skill-failed"
	EventAutoCompaction        = "auto-compaction"
	EventAutoRetry             = "auto-retry"
)

// ChatMeta carries optional metadata on chat-message entries, including the
// tool call that produced them.
type ChatMeta struct {
	ToolName string         `json:"toolName,omitempty"`
	ToolArgs map[string]any `json:"toolArgs,omitempty"`
	IsError  bool           `json:"isError,omitempty"`
	Result   string         `json:"result,omitempty"`
}

// ActivityEntry is one record in the append-only per-workspace journal.
// It is a discriminated union on Type:
//
//	task-separator: no extra fields
//	chat-message:   Role, Content, optional Meta
//	system-event:   EventKind, Message, optional Meta
type ActivityEntry struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"taskId"`
	Type      ActivityType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`

	Role    ChatRole `json:"role,omitempty"`
	Content string   `json:"content,omitempty"`

	EventKind string `json:"eventKind,omitempty"`
	Message   string `json:"message,omitempty"`

	Meta *ChatMeta `json:"meta,omitempty"`
}

// Validate checks the entry carries the fields its variant requires.
func (e *ActivityEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("activity entry requires an id")
	}
	if e.TaskID == "" {
		return fmt.Errorf("activity entry requires a taskId")
	}
	switch e.Type {
	case ActivityTaskSeparator:
		return nil
	case ActivityChatMessage:
		if e.Role != RoleUser && e.Role != RoleAgent && e.Role != RoleSystem {
			return fmt.Errorf("chat-message entry has unknown role %q", e.Role)
		}
		return nil
	case ActivitySystemEvent:
		if e.EventKind == "" {
			return fmt.Errorf("system-event entry requires an event kind")
		}
		return nil
	default:
		return fmt.Errorf("unknown activity entry type %q", e.Type)
	}
}

// MarshalLine serializes the entry as a single JSON line (no trailing newline).
func (e *ActivityEntry) MarshalLine() ([]byte, error) {
	return json.Marshal(e)
}
