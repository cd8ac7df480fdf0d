// Package supervisor owns the agent sessions. It is the only component that
// speaks to the agent runtime: it opens sessions, translates runtime events
// into activity entries and broadcasts, runs pre- and post-execution skills,
// walks fallback chains on retryable provider errors, and reports the outcome
// of each execution attempt back to the queue.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patleeman/taskfactory/internal/activity"
	"github.com/patleeman/taskfactory/internal/attachments"
	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/callbacks"
	"github.com/patleeman/taskfactory/internal/contract"
	"github.com/patleeman/taskfactory/internal/defaults"
	"github.com/patleeman/taskfactory/internal/lease"
	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/runtime"
	"github.com/patleeman/taskfactory/internal/taskerr"
	"github.com/patleeman/taskfactory/internal/taskstore"
)

// Status is the coarse state of a supervised session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// CompletionDetails accompanies the completion callback.
type CompletionDetails struct {
	Summary      string
	ErrorMessage string
}

// CompleteFunc reports the outcome of an execution or planning attempt.
type CompleteFunc func(taskID string, success bool, details CompletionDetails)

// Config wires a supervisor to its workspace collaborators.
type Config struct {
	WorkspaceID   string
	WorkspacePath string

	Runtime     runtime.AgentRuntime
	Tasks       *taskstore.Store
	Journal     *activity.Journal
	Attachments *attachments.Store
	Registry    *callbacks.Registry
	Bus         *broadcast.Bus
	Leases      *lease.Manager
	Skills      defaults.SkillLookup

	HeartbeatCadence time.Duration
	Log              logger.Logger
}

// session is the per-task supervised state.
type session struct {
	mu sync.Mutex

	taskID string
	mode   contract.Mode
	status Status

	agentSignaledComplete bool
	completionSummary     string
	planSaved             bool
	awaitingUserInput     bool

	streamText   strings.Builder
	thinkingText strings.Builder
	// toolArgs remembers args from tool_execution_start until the matching end.
	toolArgs map[string]map[string]any

	// assistantText holds the last settled assistant message, used by loop
	// skills to look for their done signal.
	assistantText string
	lastStop      runtime.StopReason
	lastError     string

	rt          runtime.Session
	unsubscribe func()
	cancel      context.CancelFunc
	onComplete  CompleteFunc
}

func (sess *session) setStatus(s Status) {
	sess.mu.Lock()
	sess.status = s
	sess.mu.Unlock()
}

func (sess *session) currentStatus() Status {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.status
}

// Supervisor manages the live sessions of one workspace.
type Supervisor struct {
	cfg   Config
	log   logger.Logger
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a supervisor for one workspace.
func New(cfg Config) *Supervisor {
	if cfg.HeartbeatCadence <= 0 {
		cfg.HeartbeatCadence = 40 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		log:      logger.OrNop(cfg.Log),
		clock:    time.Now,
		sessions: make(map[string]*session),
	}
}

// SetClock overrides the supervisor's clock; used in tests.
func (s *Supervisor) SetClock(clock func() time.Time) { s.clock = clock }

// LiveSession reports whether the task has a session in the active map.
func (s *Supervisor) LiveSession(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[taskID]
	return ok
}

// SessionStatus returns the status of a live session.
func (s *Supervisor) SessionStatus(taskID string) (Status, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[taskID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.currentStatus(), true
}

// ExecuteTask starts a planning or execution run for the task, depending on
// its state contract mode. The session is registered synchronously so a
// subsequent LiveSession check sees it; the run itself proceeds on its own
// goroutine and reports through onComplete.
func (s *Supervisor) ExecuteTask(ctx context.Context, task *models.Task, onComplete CompleteFunc) error {
	if task == nil {
		return taskerr.Validationf("executeTask requires a task")
	}
	mode := contract.ModeForTask(task)
	if mode != contract.ModeTaskPlanning && mode != contract.ModeTaskExecution {
		return taskerr.Validationf("task %s is not in a plannable or executable state", task.ID)
	}

	s.mu.Lock()
	if _, exists := s.sessions[task.ID]; exists {
		s.mu.Unlock()
		return taskerr.Validationf("task %s already has a live session", task.ID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		taskID:     task.ID,
		mode:       mode,
		status:     StatusRunning,
		toolArgs:   make(map[string]map[string]any),
		cancel:     cancel,
		onComplete: onComplete,
	}
	s.sessions[task.ID] = sess
	s.mu.Unlock()

	s.emitExecStatus(task.ID, StatusRunning)

	task = task.Clone()
	go func() {
		if mode == contract.ModeTaskPlanning {
			s.runPlanning(runCtx, sess, task)
		} else {
			s.runExecution(runCtx, sess, task)
		}
	}()
	return nil
}

// Steer delivers an interrupt into the task's running session.
func (s *Supervisor) Steer(ctx context.Context, taskID, content string, images []runtime.Image) error {
	sess, ok := s.lookup(taskID)
	if !ok || sess.rt == nil {
		return taskerr.NotFoundf("no live session for task %s", taskID)
	}
	s.journalUserMessage(taskID, content)
	return sess.rt.Steer(ctx, content, images)
}

// FollowUp queues a message after the current turn. The completion flag is
// cleared so a fresh task_complete call is required before the task advances.
func (s *Supervisor) FollowUp(ctx context.Context, taskID, content string, images []runtime.Image) error {
	sess, ok := s.lookup(taskID)
	if !ok || sess.rt == nil {
		return taskerr.NotFoundf("no live session for task %s", taskID)
	}

	sess.mu.Lock()
	sess.agentSignaledComplete = false
	sess.completionSummary = ""
	sess.awaitingUserInput = false
	sess.status = StatusRunning
	sess.mu.Unlock()

	s.journalUserMessage(taskID, content)
	s.emitExecStatus(taskID, StatusRunning)

	go func() {
		if err := sess.rt.FollowUp(ctx, content, images); err != nil {
			s.turnFailed(sess, err.Error())
			return
		}
		if stop, msg := sess.turnError(); stop {
			s.turnFailed(sess, msg)
			return
		}
		s.settleExecutionTurn(ctx, sess)
	}()
	return nil
}

// ResumeChat opens a fresh session from the task's persisted session file and
// delivers content as a follow-up turn. Used for chatting with tasks in
// non-executing phases.
func (s *Supervisor) ResumeChat(ctx context.Context, task *models.Task, content string) error {
	if task == nil {
		return taskerr.Validationf("resumeChat requires a task")
	}
	if s.LiveSession(task.ID) {
		return s.FollowUp(ctx, task.ID, content, nil)
	}

	mode := contract.ModeForTask(task)

	s.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		taskID:   task.ID,
		mode:     mode,
		status:   StatusRunning,
		toolArgs: make(map[string]map[string]any),
		cancel:   cancel,
	}
	s.sessions[task.ID] = sess
	s.mu.Unlock()

	task = task.Clone()
	if err := s.openSession(runCtx, sess, task, task.ExecutionModelConfig); err != nil {
		s.remove(task.ID)
		cancel()
		return fmt.Errorf("failed to resume session for task %s: %w", task.ID, err)
	}

	s.registerChatCallbacks(task)
	s.journalUserMessage(task.ID, content)
	s.emitExecStatus(task.ID, StatusRunning)

	prompt := contract.WithPreamble(
		contract.BuildPreamble(mode, task.Phase, task.PlanningStatus), content)

	go func() {
		if err := sess.rt.FollowUp(runCtx, prompt, nil); err != nil {
			s.turnFailed(sess, err.Error())
			return
		}
		if stop, msg := sess.turnError(); stop {
			s.turnFailed(sess, msg)
			return
		}
		s.goIdle(sess)
	}()
	return nil
}

// Stop aborts the task's session and tears it down. Stale settlements from
// the aborted run are ignored because the completion callback is cleared
// before the abort.
func (s *Supervisor) Stop(taskID string) {
	s.mu.Lock()
	sess, ok := s.sessions[taskID]
	if ok {
		delete(s.sessions, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.onComplete = nil
	sess.status = StatusPaused
	unsubscribe := sess.unsubscribe
	rtSess := sess.rt
	cancel := sess.cancel
	sess.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if rtSess != nil {
		rtSess.Abort()
	}
	if cancel != nil {
		cancel()
	}

	s.removeCallbacks(taskID)
	s.emitExecStatus(taskID, StatusIdle)
	s.log.Debugf("supervisor: stopped session for task %s", taskID)
}

func (s *Supervisor) lookup(taskID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[taskID]
	return sess, ok
}

func (s *Supervisor) remove(taskID string) {
	s.mu.Lock()
	delete(s.sessions, taskID)
	s.mu.Unlock()
}

// turnError reports whether the last settled message ended with an error.
func (sess *session) turnError() (bool, string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.lastStop == runtime.StopReasonError {
		msg := sess.lastError
		if msg == "" {
			msg = "agent turn ended with an error"
		}
		return true, msg
	}
	return false, ""
}

func (s *Supervisor) emitExecStatus(taskID string, status Status) {
	s.cfg.Bus.Emit(broadcast.Event{
		Name:        broadcast.AgentExecStatus,
		WorkspaceID: s.cfg.WorkspaceID,
		Payload:     map[string]any{"taskId": taskID, "status": string(status)},
	})
}

func (s *Supervisor) journalUserMessage(taskID, content string) {
	_, err := s.cfg.Journal.Append(models.ActivityEntry{
		TaskID:  taskID,
		Type:    models.ActivityChatMessage,
		Role:    models.RoleUser,
		Content: content,
	})
	if err != nil {
		s.log.Warnf("supervisor: failed to journal user message for %s: %v", taskID, err)
	}
}

func (s *Supervisor) journalSystemEvent(taskID, kind, message string, meta *models.ChatMeta) {
	entry := models.ActivityEntry{
		TaskID:    taskID,
		Type:      models.ActivitySystemEvent,
		EventKind: kind,
		Message:   message,
		Meta:      meta,
	}
	appended, err := s.cfg.Journal.Append(entry)
	if err != nil {
		s.log.Warnf("supervisor: failed to journal %s event for %s: %v", kind, taskID, err)
		return
	}
	s.cfg.Bus.Emit(broadcast.Event{
		Name:        broadcast.ActivityEntry,
		WorkspaceID: s.cfg.WorkspaceID,
		Payload:     map[string]any{"entry": appended},
	})
}
