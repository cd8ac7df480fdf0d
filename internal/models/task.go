package models

import (
	"errors"
	"strings"
	"time"
)

// Phase is the lifecycle phase of a task. A task is in exactly one phase at rest.
type Phase string

const (
	PhaseBacklog   Phase = "backlog"
	PhaseReady     Phase = "ready"
	PhaseExecuting Phase = "executing"
	PhaseComplete  Phase = "complete"
	PhaseArchived  Phase = "archived"
)

// ValidPhase reports whether p is one of the known lifecycle phases.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseBacklog, PhaseReady, PhaseExecuting, PhaseComplete, PhaseArchived:
		return true
	}
	return false
}

// PlanningStatus tracks the state of plan generation for a task.
type PlanningStatus string

const (
	PlanningNone      PlanningStatus = "none"
	PlanningRunning   PlanningStatus = "running"
	PlanningCompleted PlanningStatus = "completed"
	PlanningError     PlanningStatus = "error"
)

// Attachment describes a file copied into a task's attachments directory.
// The stored name on disk is never user-controlled; FileName is display-only.
type Attachment struct {
	ID         string    `yaml:"id" json:"id"`
	FileName   string    `yaml:"filename" json:"filename"`
	StoredName string    `yaml:"storedName" json:"storedName"`
	MimeType   string    `yaml:"mimeType" json:"mimeType"`
	Size       int64     `yaml:"size" json:"size"`
	CreatedAt  time.Time `yaml:"createdAt" json:"createdAt"`
}

// Task is the atomic unit of work. It is persisted as a markdown file with
// YAML frontmatter; Body holds the free-form markdown below the frontmatter.
type Task struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Created   time.Time  `yaml:"created" json:"created"`
	Updated   time.Time  `yaml:"updated" json:"updated"`
	Started   *time.Time `yaml:"started,omitempty" json:"started,omitempty"`
	Completed *time.Time `yaml:"completed,omitempty" json:"completed,omitempty"`

	Phase Phase `yaml:"phase" json:"phase"`
	// Order is the FIFO tiebreaker within (workspace, phase).
	Order int `yaml:"order" json:"order"`

	PlanningStatus PlanningStatus `yaml:"planningStatus" json:"planningStatus"`
	Plan           *Plan          `yaml:"plan,omitempty" json:"plan,omitempty"`

	AcceptanceCriteria []string     `yaml:"acceptanceCriteria,omitempty" json:"acceptanceCriteria,omitempty"`
	Attachments        []Attachment `yaml:"attachments,omitempty" json:"attachments,omitempty"`

	PlanningModelConfig  ModelConfig   `yaml:"planningModelConfig" json:"planningModelConfig"`
	ExecutionModelConfig ModelConfig   `yaml:"executionModelConfig" json:"executionModelConfig"`
	PlanningFallbacks    []ModelConfig `yaml:"planningFallbackModels,omitempty" json:"planningFallbackModels,omitempty"`
	ExecutionFallbacks   []ModelConfig `yaml:"executionFallbackModels,omitempty" json:"executionFallbackModels,omitempty"`

	PreExecutionSkills  []string `yaml:"preExecutionSkills,omitempty" json:"preExecutionSkills,omitempty"`
	PostExecutionSkills []string `yaml:"postExecutionSkills,omitempty" json:"postExecutionSkills,omitempty"`

	// SessionFile is the opaque identifier the agent runtime hands back for a
	// persisted conversation. The orchestrator stores it and passes it on
	// resume; it never interprets the contents.
	SessionFile string `yaml:"sessionFile,omitempty" json:"sessionFile,omitempty"`

	// Extra preserves unknown frontmatter keys across round-trips.
	Extra map[string]any `yaml:"-" json:"-"`

	// Body is the markdown below the frontmatter block.
	Body string `yaml:"-" json:"-"`
}

// Validate checks the invariants that must hold after every write.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if !ValidPhase(t.Phase) {
		return errors.New("task phase is invalid")
	}
	if t.PlanningStatus == PlanningRunning && t.Plan != nil {
		return errors.New("planningStatus=running implies plan is absent")
	}
	for _, c := range t.AcceptanceCriteria {
		if strings.TrimSpace(c) == "" {
			return errors.New("acceptance criteria items must be non-empty")
		}
	}
	return nil
}

// HasPlan reports whether the task carries a structured plan artifact.
func (t *Task) HasPlan() bool {
	return t.Plan != nil
}

// Clone returns a deep-enough copy for handing across goroutine boundaries.
// Slices and the plan are copied; Extra is shared read-only by convention.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	c.PlanningFallbacks = append([]ModelConfig(nil), t.PlanningFallbacks...)
	c.ExecutionFallbacks = append([]ModelConfig(nil), t.ExecutionFallbacks...)
	c.PreExecutionSkills = append([]string(nil), t.PreExecutionSkills...)
	c.PostExecutionSkills = append([]string(nil), t.PostExecutionSkills...)
	if t.Plan != nil {
		p := t.Plan.Clone()
		c.Plan = p
	}
	return &c
}
