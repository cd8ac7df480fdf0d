// Package taskstore persists tasks as markdown files with YAML frontmatter
// under <workspace>/<state-dir>/tasks/<id>/task.md. The store owns bytes on
// disk; phase transition decisions belong to the queue manager.
package taskstore

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/patleeman/taskfactory/internal/filelock"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
	"github.com/patleeman/taskfactory/internal/workspace"
)

// TransitionRecorder receives phase transitions as they are persisted, so the
// activity journal stays consistent with the task state machine. Optional.
type TransitionRecorder interface {
	RecordPhaseChange(taskID string, from, to models.Phase, reason string)
}

// UpdateRecorder receives non-phase task mutations after they are persisted,
// along with the frontmatter keys that changed. Optional.
type UpdateRecorder interface {
	RecordTaskUpdated(task *models.Task, changes []string)
}

// Store reads and writes one workspace's tasks. Writes to the same task are
// serialized by a per-task in-memory mutex; writes are whole-file
// temp-and-rename replacements, so readers never see partial content.
type Store struct {
	paths    workspace.Paths
	locks    *filelock.KeyedMutex
	log      logger.Logger
	clock    func() time.Time
	recorder TransitionRecorder
	updates  UpdateRecorder
}

// New creates a task store over the given workspace layout.
func New(paths workspace.Paths, log logger.Logger) *Store {
	return &Store{
		paths: paths,
		locks: filelock.NewKeyedMutex(),
		log:   logger.OrNop(log),
		clock: time.Now,
	}
}

// SetRecorder installs the phase-change recorder. Must be called before the
// store is shared across goroutines.
func (s *Store) SetRecorder(r TransitionRecorder) { s.recorder = r }

// SetUpdateRecorder installs the mutation recorder. Must be called before the
// store is shared across goroutines.
func (s *Store) SetUpdateRecorder(r UpdateRecorder) { s.updates = r }

// SetClock overrides the store's clock; used in tests.
func (s *Store) SetClock(clock func() time.Time) { s.clock = clock }

// Create persists a new task. The task enters its phase at the end of the
// order sequence. Created/Updated are stamped by the store.
func (s *Store) Create(task *models.Task) error {
	if task.Phase == "" {
		task.Phase = models.PhaseBacklog
	}
	normalizeCriteria(task)
	if err := task.Validate(); err != nil {
		return taskerr.Validationf("invalid task: %v", err)
	}

	unlock := s.locks.Lock(task.ID)
	defer unlock()

	if _, err := os.Stat(s.paths.TaskFile(task.ID)); err == nil {
		return taskerr.Validationf("task %q already exists", task.ID)
	}

	siblings, err := s.listPhase(task.Phase)
	if err != nil {
		return err
	}
	task.Order = nextOrder(siblings)

	now := s.clock().UTC()
	task.Created = now
	task.Updated = now
	return s.write(task)
}

// Read returns the task with the given id. When frontmatter carries no
// acceptance criteria, checklist items from the body's Acceptance Criteria
// section are used as a non-persisted fallback.
func (s *Store) Read(id string) (*models.Task, error) {
	content, err := os.ReadFile(s.paths.TaskFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, taskerr.NotFoundf("task %q", id)
		}
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	task, err := DecodeTaskFile(content)
	if err != nil {
		return nil, err
	}
	if len(task.AcceptanceCriteria) == 0 {
		task.AcceptanceCriteria = CriteriaFromBody(task.Body)
	}
	return task, nil
}

// List returns every task in the workspace. Entries whose frontmatter does
// not parse are skipped; readers tolerate torn reads by discarding them.
func (s *Store) List() ([]*models.Task, error) {
	entries, err := os.ReadDir(s.paths.TasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var tasks []*models.Task
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		task, err := s.Read(entry.Name())
		if err != nil {
			s.log.Warnf("skipping unreadable task %s: %v", entry.Name(), err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ListPhase returns the tasks currently in the given phase.
func (s *Store) ListPhase(phase models.Phase) ([]*models.Task, error) {
	return s.listPhase(phase)
}

func (s *Store) listPhase(phase models.Phase) ([]*models.Task, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var tasks []*models.Task
	for _, task := range all {
		if task.Phase == phase {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// Update applies mutate to the stored task under the per-task lock, bumps
// Updated, validates, and rewrites the file. The mutation must not change ID
// or Phase; use Move for transitions.
func (s *Store) Update(id string, mutate func(*models.Task) error) (*models.Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	task, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	priorPhase := task.Phase
	priorBody := task.Body
	prior, err := encodedFieldChunks(task)
	if err != nil {
		return nil, err
	}

	if err := mutate(task); err != nil {
		return nil, err
	}
	if task.ID != id {
		return nil, taskerr.Validationf("update must not change task id")
	}
	if task.Phase != priorPhase {
		return nil, taskerr.Validationf("update must not change phase; use Move")
	}
	normalizeCriteria(task)
	if err := task.Validate(); err != nil {
		return nil, taskerr.Validationf("invalid task after update: %v", err)
	}

	task.Updated = s.clock().UTC()
	if err := s.write(task); err != nil {
		return nil, err
	}
	if s.updates != nil {
		if changes := changedFrontmatterKeys(prior, priorBody, task); len(changes) > 0 {
			s.updates.RecordTaskUpdated(task, changes)
		}
	}
	return task, nil
}

// Move transitions the task to another phase, appending it at the receiving
// end of the order sequence and recording the transition. Started/Completed
// stamps are maintained on entry to executing/complete.
func (s *Store) Move(id string, to models.Phase, reason string) (*models.Task, error) {
	if !models.ValidPhase(to) {
		return nil, taskerr.Validationf("unknown phase %q", to)
	}

	unlock := s.locks.Lock(id)

	task, err := s.Read(id)
	if err != nil {
		unlock()
		return nil, err
	}
	from := task.Phase
	if from == to {
		unlock()
		return task, nil
	}

	siblings, err := s.listPhase(to)
	if err != nil {
		unlock()
		return nil, err
	}
	task.Phase = to
	task.Order = nextOrder(siblings)

	now := s.clock().UTC()
	switch to {
	case models.PhaseExecuting:
		task.Started = &now
	case models.PhaseComplete:
		task.Completed = &now
	}
	task.Updated = now

	if err := s.write(task); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	if s.recorder != nil {
		s.recorder.RecordPhaseChange(task.ID, from, to, reason)
	}
	return task, nil
}

// Reorder accepts a permutation of the current member set of a phase and
// assigns order 0..n-1 by position. A list that is not exactly the current
// set is refused.
func (s *Store) Reorder(phase models.Phase, ids []string) error {
	current, err := s.listPhase(phase)
	if err != nil {
		return err
	}
	if len(ids) != len(current) {
		return taskerr.Validationf("reorder list has %d ids, phase %s has %d tasks", len(ids), phase, len(current))
	}
	members := make(map[string]bool, len(current))
	for _, task := range current {
		members[task.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !members[id] {
			return taskerr.Validationf("reorder id %q is not in phase %s", id, phase)
		}
		if seen[id] {
			return taskerr.Validationf("reorder id %q appears twice", id)
		}
		seen[id] = true
	}

	for position, id := range ids {
		pos := position
		if _, err := s.Update(id, func(t *models.Task) error {
			t.Order = pos
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the task file and its attachments directory.
func (s *Store) Delete(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	dir := s.paths.TaskDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return taskerr.NotFoundf("task %q", id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

func (s *Store) write(task *models.Task) error {
	content, err := EncodeTaskFile(task)
	if err != nil {
		return err
	}
	if err := filelock.AtomicWrite(s.paths.TaskFile(task.ID), content); err != nil {
		return fmt.Errorf("failed to write task %s: %w", task.ID, err)
	}
	return nil
}

// nextOrder appends at the receiving end of a phase's order sequence.
func nextOrder(tasks []*models.Task) int {
	next := 0
	for _, task := range tasks {
		if task.Order >= next {
			next = task.Order + 1
		}
	}
	return next
}

// normalizeCriteria trims criteria items and drops empty ones.
func normalizeCriteria(task *models.Task) {
	if len(task.AcceptanceCriteria) == 0 {
		return
	}
	trimmed := task.AcceptanceCriteria[:0]
	for _, c := range task.AcceptanceCriteria {
		if t := strings.TrimSpace(c); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	task.AcceptanceCriteria = trimmed
}

// SortForDispatch orders ready tasks for the queue: order ascending, ties
// broken by newer-created-first so dispatch is FIFO over time-in-ready.
func SortForDispatch(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].Created.After(tasks[j].Created)
	})
}
