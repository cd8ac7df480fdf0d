package activity

import (
	"fmt"

	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
)

// PhaseRecorder bridges the task store's phase transitions into the journal.
// It satisfies taskstore.TransitionRecorder.
type PhaseRecorder struct {
	journal *Journal
	log     logger.Logger
}

// NewPhaseRecorder creates a recorder appending to journal.
func NewPhaseRecorder(journal *Journal, log logger.Logger) *PhaseRecorder {
	return &PhaseRecorder{journal: journal, log: logger.OrNop(log)}
}

// RecordPhaseChange appends a phase-changed system event. Journal failures
// are logged, not propagated; the transition has already been persisted.
func (r *PhaseRecorder) RecordPhaseChange(taskID string, from, to models.Phase, reason string) {
	message := fmt.Sprintf("Task moved %s → %s", from, to)
	if reason != "" {
		message += ": " + reason
	}
	if _, err := r.journal.Append(models.ActivityEntry{
		TaskID:    taskID,
		Type:      models.ActivitySystemEvent,
		EventKind: models.EventPhaseChanged,
		Message:   message,
	}); err != nil {
		r.log.Warnf("failed to record phase change for %s: %v", taskID, err)
	}
}
