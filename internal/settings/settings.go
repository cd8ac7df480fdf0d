// Package settings resolves the effective workflow limits for a workspace
// from three layers: the workspace override file, the global defaults file,
// and built-in defaults. Override fields left null inherit from the layer
// below.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/patleeman/taskfactory/internal/filelock"
	"github.com/patleeman/taskfactory/internal/logger"
)

// Built-in workflow defaults, the bottom layer of the overlay.
const (
	DefaultExecutingLimit = 1
	DefaultReadyLimit     = 5
)

// WorkflowLimits is the fully resolved configuration the Queue Manager runs
// with.
type WorkflowLimits struct {
	ExecutingLimit   int
	ReadyLimit       int
	BacklogToReady   bool
	ReadyToExecuting bool
}

// Defaults returns the built-in bottom layer. Both automation toggles start
// off so a fresh workspace never dispatches on its own.
func Defaults() WorkflowLimits {
	return WorkflowLimits{
		ExecutingLimit: DefaultExecutingLimit,
		ReadyLimit:     DefaultReadyLimit,
	}
}

// Overrides is one persisted settings layer. Nil fields mean "inherit".
// QueueEnabled is the legacy spelling of ReadyToExecuting kept for older
// settings files; patches that set ReadyToExecuting rewrite it in lockstep.
type Overrides struct {
	ExecutingLimit   *int  `json:"executingLimit,omitempty"`
	ReadyLimit       *int  `json:"readyLimit,omitempty"`
	BacklogToReady   *bool `json:"backlogToReady,omitempty"`
	ReadyToExecuting *bool `json:"readyToExecuting,omitempty"`
	QueueEnabled     *bool `json:"queueEnabled,omitempty"`
}

// Validate rejects override values no resolution could run with.
func (o Overrides) Validate() error {
	if o.ExecutingLimit != nil && *o.ExecutingLimit < 1 {
		return fmt.Errorf("executingLimit must be at least 1, got %d", *o.ExecutingLimit)
	}
	if o.ReadyLimit != nil && *o.ReadyLimit < 1 {
		return fmt.Errorf("readyLimit must be at least 1, got %d", *o.ReadyLimit)
	}
	return nil
}

// applyTo lays the override onto limits, filling ReadyToExecuting from the
// legacy QueueEnabled flag when only the old spelling is present.
func (o Overrides) applyTo(limits WorkflowLimits) WorkflowLimits {
	if o.ExecutingLimit != nil {
		limits.ExecutingLimit = *o.ExecutingLimit
	}
	if o.ReadyLimit != nil {
		limits.ReadyLimit = *o.ReadyLimit
	}
	if o.BacklogToReady != nil {
		limits.BacklogToReady = *o.BacklogToReady
	}
	switch {
	case o.ReadyToExecuting != nil:
		limits.ReadyToExecuting = *o.ReadyToExecuting
	case o.QueueEnabled != nil:
		limits.ReadyToExecuting = *o.QueueEnabled
	}
	return limits
}

// merge folds patch onto the receiver, field by field.
func (o Overrides) merge(patch Overrides) Overrides {
	if patch.ExecutingLimit != nil {
		o.ExecutingLimit = patch.ExecutingLimit
	}
	if patch.ReadyLimit != nil {
		o.ReadyLimit = patch.ReadyLimit
	}
	if patch.BacklogToReady != nil {
		o.BacklogToReady = patch.BacklogToReady
	}
	if patch.ReadyToExecuting != nil {
		o.ReadyToExecuting = patch.ReadyToExecuting
		enabled := *patch.ReadyToExecuting
		o.QueueEnabled = &enabled
	}
	if patch.QueueEnabled != nil {
		o.QueueEnabled = patch.QueueEnabled
	}
	return o
}

// Store reads and patches the global and per-workspace settings files.
type Store struct {
	mu         sync.Mutex
	globalPath string
	log        logger.Logger
}

// NewStore creates a store backed by the global settings file at globalPath.
func NewStore(globalPath string, log logger.Logger) *Store {
	return &Store{globalPath: globalPath, log: logger.OrNop(log)}
}

// Resolve computes the effective limits for the workspace settings file at
// workspacePath: built-in defaults, then the global file, then the workspace
// file. A missing or unreadable layer is skipped with a warning.
func (s *Store) Resolve(workspacePath string) WorkflowLimits {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits := Defaults()
	for _, path := range []string{s.globalPath, workspacePath} {
		overrides, ok := s.readFile(path)
		if !ok {
			continue
		}
		limits = overrides.applyTo(limits)
	}
	return limits
}

// Patch merges the given fields into the workspace settings file and returns
// the newly resolved limits. Setting ReadyToExecuting also rewrites the
// legacy QueueEnabled flag so older readers of the file stay in sync.
func (s *Store) Patch(workspacePath string, patch Overrides) (WorkflowLimits, error) {
	if err := patch.Validate(); err != nil {
		return WorkflowLimits{}, err
	}

	s.mu.Lock()
	current, _ := s.readFile(workspacePath)
	merged := current.merge(patch)
	if err := s.writeFile(workspacePath, merged); err != nil {
		s.mu.Unlock()
		return WorkflowLimits{}, err
	}
	s.mu.Unlock()

	return s.Resolve(workspacePath), nil
}

// PatchGlobal merges the given fields into the global defaults file.
func (s *Store) PatchGlobal(patch Overrides) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.readFile(s.globalPath)
	return s.writeFile(s.globalPath, current.merge(patch))
}

func (s *Store) readFile(path string) (Overrides, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("settings: skipping unreadable %s: %v", path, err)
		}
		return Overrides{}, false
	}
	var overrides Overrides
	if err := json.Unmarshal(data, &overrides); err != nil {
		s.log.Warnf("settings: skipping malformed %s: %v", path, err)
		return Overrides{}, false
	}
	return overrides, true
}

func (s *Store) writeFile(path string, overrides Overrides) error {
	data, err := json.MarshalIndent(overrides, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := filelock.AtomicWrite(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
