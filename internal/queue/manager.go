// Package queue drives task dispatch for one workspace: the single-flight
// kick loop, WIP limits, orphan recovery, breaker gating, and the attempt
// tokens that guard completion callbacks against stop/restart races.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patleeman/taskfactory/internal/activity"
	"github.com/patleeman/taskfactory/internal/breaker"
	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/lease"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/settings"
	"github.com/patleeman/taskfactory/internal/supervisor"
	"github.com/patleeman/taskfactory/internal/taskstore"
)

// A task started within this window is treated as "failed recently" rather
// than resumable when it shows up orphaned.
const recentStartWindow = 2 * time.Minute

// systemTaskID tags journal entries that belong to the workspace rather than
// a single task.
const systemTaskID = "system"

// SessionRunner is the supervisor surface the queue depends on.
type SessionRunner interface {
	ExecuteTask(ctx context.Context, task *models.Task, onComplete supervisor.CompleteFunc) error
	LiveSession(taskID string) bool
	Stop(taskID string)
}

// Config wires a queue manager to its workspace collaborators.
type Config struct {
	WorkspaceID string

	Tasks    *taskstore.Store
	Journal  *activity.Journal
	Leases   *lease.Manager
	Breakers *breaker.Set
	Runner   SessionRunner
	Bus      *broadcast.Bus

	Settings     *settings.Store
	SettingsPath string

	SafetyPollInterval time.Duration
	// KickDelay spaces the re-kick after a successful completion.
	KickDelay time.Duration

	Log logger.Logger
}

// Manager is the per-workspace queue manager.
type Manager struct {
	cfg   Config
	log   logger.Logger
	clock func() time.Time

	mu                  sync.Mutex
	enabled             bool
	currentTaskID       string
	processing          bool
	pending             bool
	lifecycleGeneration uint64
	executionAttempts   map[string]string
	pollStop            chan struct{}
}

// NewManager creates a stopped queue manager.
func NewManager(cfg Config) *Manager {
	if cfg.SafetyPollInterval <= 0 {
		cfg.SafetyPollInterval = 30 * time.Second
	}
	if cfg.KickDelay <= 0 {
		cfg.KickDelay = 500 * time.Millisecond
	}
	return &Manager{
		cfg:               cfg,
		log:               logger.OrNop(cfg.Log),
		clock:             time.Now,
		executionAttempts: make(map[string]string),
	}
}

// SetClock overrides the manager's clock; used in tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// Start enables dispatch. Operator intent is "resume", so open breakers are
// cleared first. Starting an already-started manager only re-kicks.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		m.Kick()
		return
	}
	m.enabled = true
	m.lifecycleGeneration++
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	for _, key := range m.cfg.Breakers.ClearAll() {
		m.journalSystem(models.EventBreakerClosed,
			fmt.Sprintf("Breaker for %s cleared by queue start", key))
	}

	go m.safetyPoll(stop)
	m.emitQueueStatus()
	m.Kick()
}

// Stop disables dispatch and advances the lifecycle generation so every
// in-flight continuation captured on the old generation becomes a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	m.lifecycleGeneration++
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()
	m.emitQueueStatus()
}

// Enabled reports whether dispatch is on.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Status is a snapshot for factory_control and queue:status broadcasts.
type Status struct {
	Enabled       bool   `json:"enabled"`
	CurrentTaskID string `json:"currentTaskId,omitempty"`
}

// Snapshot returns the current queue status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Enabled: m.enabled, CurrentTaskID: m.currentTaskID}
}

// Kick requests a scan. Concurrent kicks coalesce: at most one scan runs at
// a time and a kick arriving mid-scan triggers exactly one rescan.
func (m *Manager) Kick() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	if m.processing {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.processing = true
	gen := m.lifecycleGeneration
	m.mu.Unlock()

	go m.processLoop(gen)
}

func (m *Manager) processLoop(gen uint64) {
	for {
		m.processNext(gen)

		m.mu.Lock()
		if m.pending && m.enabled {
			// A kick can land for a newer lifecycle while an old scan is
			// still draining; the loop adopts the current generation so the
			// request is not lost to the safety poll.
			m.pending = false
			gen = m.lifecycleGeneration
			m.mu.Unlock()
			continue
		}
		m.processing = false
		m.pending = false
		m.mu.Unlock()
		return
	}
}

// stale reports whether a continuation captured on gen may still mutate
// state.
func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.enabled || m.lifecycleGeneration != gen
}

// processNext is one pass of the kick loop.
func (m *Manager) processNext(gen uint64) {
	if m.stale(gen) {
		return
	}

	// Expired breakers close here so each closing emits exactly one event.
	for key, record := range m.cfg.Breakers.ClearExpired() {
		m.journalSystem(models.EventBreakerClosed,
			fmt.Sprintf("Breaker for %s auto-closed after cooldown (%s)", key, record.Category))
		m.emitQueueStatus()
	}

	limits := m.cfg.Settings.Resolve(m.cfg.SettingsPath)

	executing, err := m.cfg.Tasks.ListPhase(models.PhaseExecuting)
	if err != nil {
		m.log.Errorf("queue: failed to list executing tasks: %v", err)
		return
	}
	if m.stale(gen) {
		return
	}

	var live int
	var orphans []*models.Task
	for _, task := range executing {
		if m.cfg.Runner.LiveSession(task.ID) {
			live++
			continue
		}
		if m.cfg.Leases != nil && m.cfg.Leases.Fresh(task.ID) {
			// Another owner is heartbeating this task; leave it alone.
			continue
		}
		orphans = append(orphans, task)
	}

	resumeSlots := limits.ExecutingLimit - live
	if resumeSlots < 0 {
		resumeSlots = 0
	}

	now := m.clock()
	var resumable *models.Task
	for _, orphan := range orphans {
		recentlyStarted := orphan.Started != nil && now.Sub(*orphan.Started) < recentStartWindow
		if resumable == nil && resumeSlots > 0 && !recentlyStarted {
			resumable = orphan
			continue
		}

		m.cfg.Runner.Stop(orphan.ID)
		reason := "Moved back to ready for orphan recovery"
		if recentlyStarted {
			reason = "Moved back to ready after execution failure"
		}
		if moved, err := m.cfg.Tasks.Move(orphan.ID, models.PhaseReady, reason); err != nil {
			m.log.Errorf("queue: failed to recover orphan %s: %v", orphan.ID, err)
		} else {
			m.journalFor(orphan.ID, models.EventOrphanRecovered, reason)
			m.emitTaskMoved(moved, models.PhaseExecuting, models.PhaseReady)
			if m.cfg.Leases != nil {
				if err := m.cfg.Leases.Clear(orphan.ID); err != nil {
					m.log.Warnf("queue: failed to clear lease for %s: %v", orphan.ID, err)
				}
			}
		}
	}
	if m.stale(gen) {
		return
	}

	if resumable != nil {
		m.journalFor(resumable.ID, models.EventOrphanRecovered,
			"Resuming orphaned task in place")
		m.startExecution(gen, resumable)
		return
	}

	if live >= limits.ExecutingLimit {
		return
	}

	ready, err := m.cfg.Tasks.ListPhase(models.PhaseReady)
	if err != nil {
		m.log.Errorf("queue: failed to list ready tasks: %v", err)
		return
	}
	var dispatchable []*models.Task
	for _, task := range ready {
		if task.PlanningStatus == models.PlanningRunning && !task.HasPlan() {
			continue
		}
		dispatchable = append(dispatchable, task)
	}
	taskstore.SortForDispatch(dispatchable)

	for _, task := range dispatchable {
		if record, open := m.cfg.Breakers.Open(task.ExecutionModelConfig); open {
			if m.cfg.Breakers.ShouldNotifyBlocked(task.ExecutionModelConfig, task.ID) {
				m.journalFor(task.ID, models.EventBreakerBlocked,
					fmt.Sprintf("Dispatch blocked: breaker open for %s until %s (%s)",
						task.ExecutionModelConfig.Key(),
						record.RetryAt.Format(time.RFC3339), record.Category))
			}
			continue
		}
		if m.stale(gen) {
			return
		}
		moved, err := m.cfg.Tasks.Move(task.ID, models.PhaseExecuting, "Dispatched by queue")
		if err != nil {
			m.log.Errorf("queue: failed to move %s to executing: %v", task.ID, err)
			return
		}
		m.emitTaskMoved(moved, models.PhaseReady, models.PhaseExecuting)
		m.startExecution(gen, moved)
		return
	}
}

// startExecution begins one execution attempt: lease, attempt token, then
// the supervisor.
func (m *Manager) startExecution(gen uint64, task *models.Task) {
	if m.stale(gen) {
		return
	}

	if m.cfg.Leases != nil {
		if err := m.cfg.Leases.Upsert(task.ID, models.LeaseRunning); err != nil {
			m.log.Warnf("queue: failed to write lease for %s: %v", task.ID, err)
		}
	}

	attempt := uuid.NewString()
	m.mu.Lock()
	m.executionAttempts[task.ID] = attempt
	m.currentTaskID = task.ID
	m.mu.Unlock()
	m.emitQueueStatus()

	err := m.cfg.Runner.ExecuteTask(context.Background(), task,
		m.completionFor(gen, attempt, task.ExecutionModelConfig))
	if err != nil {
		m.log.Errorf("queue: failed to start execution of %s: %v", task.ID, err)
		m.clearAttempt(task.ID, attempt)
	}
}

// completionFor builds the supervisor completion callback for one attempt.
// Settlements with a stale generation or mismatched attempt token are
// silently dropped.
func (m *Manager) completionFor(gen uint64, attempt string, model models.ModelConfig) supervisor.CompleteFunc {
	return func(taskID string, success bool, details supervisor.CompletionDetails) {
		m.mu.Lock()
		if m.lifecycleGeneration != gen || m.executionAttempts[taskID] != attempt {
			m.mu.Unlock()
			return
		}
		delete(m.executionAttempts, taskID)
		if m.currentTaskID == taskID {
			m.currentTaskID = ""
		}
		m.mu.Unlock()

		if m.cfg.Leases != nil {
			if err := m.cfg.Leases.Clear(taskID); err != nil {
				m.log.Warnf("queue: failed to clear lease for %s: %v", taskID, err)
			}
		}

		if success {
			m.cfg.Breakers.RecordSuccess(model)
			if moved, err := m.cfg.Tasks.Move(taskID, models.PhaseComplete, "Completed by agent"); err != nil {
				m.log.Errorf("queue: failed to complete %s: %v", taskID, err)
			} else {
				m.emitTaskMoved(moved, models.PhaseExecuting, models.PhaseComplete)
			}
			m.emitQueueStatus()
			m.scheduleKick(m.cfg.KickDelay, gen)
			return
		}

		// Failure leaves the task in executing for operator review.
		if record, opened := m.cfg.Breakers.RecordFailure(model, details.ErrorMessage); opened {
			m.journalFor(taskID, models.EventBreakerOpened,
				fmt.Sprintf("Breaker opened for %s after %d %s failures; retry at %s",
					model.Key(), record.FailureCount, record.Category,
					record.RetryAt.Format(time.RFC3339)))
			m.scheduleKick(record.RetryAt.Sub(m.clock())+time.Second, gen)
		}
		m.emitQueueStatus()
	}
}

func (m *Manager) clearAttempt(taskID, attempt string) {
	m.mu.Lock()
	if m.executionAttempts[taskID] == attempt {
		delete(m.executionAttempts, taskID)
	}
	if m.currentTaskID == taskID {
		m.currentTaskID = ""
	}
	m.mu.Unlock()
}

// scheduleKick re-enters the kick loop after delay unless the generation has
// advanced.
func (m *Manager) scheduleKick(delay time.Duration, gen uint64) {
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		if m.stale(gen) {
			return
		}
		m.Kick()
	})
}

// safetyPoll re-enters the kick loop periodically in case an external kick
// was missed.
func (m *Manager) safetyPoll(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.SafetyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Kick()
		}
	}
}

func (m *Manager) emitQueueStatus() {
	m.cfg.Bus.Emit(broadcast.Event{
		Name:        broadcast.QueueStatus,
		WorkspaceID: m.cfg.WorkspaceID,
		Payload:     m.Snapshot(),
	})
}

func (m *Manager) emitTaskMoved(task *models.Task, from, to models.Phase) {
	m.cfg.Bus.Emit(broadcast.Event{
		Name:        broadcast.TaskMoved,
		WorkspaceID: m.cfg.WorkspaceID,
		Payload:     map[string]any{"task": task, "from": from, "to": to},
	})
}

func (m *Manager) journalSystem(kind, message string) {
	m.journalFor(systemTaskID, kind, message)
}

func (m *Manager) journalFor(taskID, kind, message string) {
	entry := models.ActivityEntry{
		TaskID:    taskID,
		Type:      models.ActivitySystemEvent,
		EventKind: kind,
		Message:   message,
	}
	appended, err := m.cfg.Journal.Append(entry)
	if err != nil {
		m.log.Warnf("queue: failed to journal %s event: %v", kind, err)
		return
	}
	m.cfg.Bus.Emit(broadcast.Event{
		Name:        broadcast.ActivityEntry,
		WorkspaceID: m.cfg.WorkspaceID,
		Payload:     map[string]any{"entry": appended},
	})
}
