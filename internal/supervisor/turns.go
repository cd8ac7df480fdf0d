package supervisor

import (
	"context"
	"fmt"

	"github.com/patleeman/taskfactory/internal/attachments"
	"github.com/patleeman/taskfactory/internal/breaker"
	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/callbacks"
	"github.com/patleeman/taskfactory/internal/contract"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/runtime"
)

// extensionsFor names the extension tool sets exposed to a session by mode.
func extensionsFor(mode contract.Mode) []string {
	switch mode {
	case contract.ModeTaskPlanning:
		return []string{"save_plan", "ask_questions"}
	case contract.ModeTaskExecution:
		return []string{"task_complete", "attach_task_file", "message_agent"}
	default:
		return []string{"attach_task_file", "message_agent"}
	}
}

// openSession opens a runtime session for the model, subscribes the event
// translator, and persists the session file on the task. An existing runtime
// session on sess is replaced; the caller aborts the old one.
func (s *Supervisor) openSession(ctx context.Context, sess *session, task *models.Task, model models.ModelConfig) error {
	opts := runtime.OpenOptions{
		Cwd:           s.cfg.WorkspacePath,
		Model:         model.ModelID,
		Provider:      model.Provider,
		ThinkingLevel: string(model.ThinkingLevel),
		Source:        runtime.SessionSource{ResumeFrom: task.SessionFile},
		Extensions:    extensionsFor(sess.mode),
		ContextID:     task.ID,
	}
	rtSess, err := s.cfg.Runtime.OpenSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open agent session: %w", err)
	}

	unsubscribe := rtSess.Subscribe(func(ev runtime.Event) {
		s.handleEvent(sess, ev)
	})

	sess.mu.Lock()
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	sess.rt = rtSess
	sess.unsubscribe = unsubscribe
	sess.lastStop = ""
	sess.lastError = ""
	sess.mu.Unlock()

	if sf := rtSess.SessionFile(); sf != "" && sf != task.SessionFile {
		task.SessionFile = sf
		if _, err := s.cfg.Tasks.Update(task.ID, func(t *models.Task) error {
			t.SessionFile = sf
			return nil
		}); err != nil {
			s.log.Warnf("supervisor: failed to persist session file for %s: %v", task.ID, err)
		}
	}
	return nil
}

// runExecution walks the execution model chain for one pending prompt turn.
// Pre-execution skills run once, before the first turn of the first model,
// and are never rerun on fallback.
func (s *Supervisor) runExecution(ctx context.Context, sess *session, task *models.Task) {
	if s.cfg.Leases != nil {
		go s.cfg.Leases.RunHeartbeat(ctx, task.ID, models.LeaseRunning, s.cfg.HeartbeatCadence)
	}
	s.registerExecutionCallbacks(task)

	images := s.loadImages(task)
	prompt := contract.WithPreamble(
		contract.BuildPreamble(sess.mode, task.Phase, task.PlanningStatus),
		ExecutionPrompt(task, s.cfg.Attachments.PromptSection(task)))

	chain := append([]models.ModelConfig{task.ExecutionModelConfig}, task.ExecutionFallbacks...)
	preSkillsRun := false

	for i, model := range chain {
		if ctx.Err() != nil {
			return
		}

		if err := s.openSession(ctx, sess, task, model); err != nil {
			if s.maybeFailover(sess, task, chain, i, err.Error(), models.EventExecutionFailover) {
				continue
			}
			s.failExecution(sess, err.Error())
			return
		}

		if !preSkillsRun {
			preSkillsRun = true
			if err := s.runPreSkills(ctx, sess, task); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.failExecution(sess, fmt.Sprintf("pre-execution skill failed: %v", err))
				return
			}
		}

		errMsg := ""
		if err := sess.rt.Prompt(ctx, prompt, images); err != nil {
			errMsg = err.Error()
		} else if stopped, msg := sess.turnError(); stopped {
			errMsg = msg
		}
		if ctx.Err() != nil {
			return
		}
		if errMsg == "" {
			s.settleExecutionTurn(ctx, sess)
			return
		}
		if s.maybeFailover(sess, task, chain, i, errMsg, models.EventExecutionFailover) {
			continue
		}
		s.failExecution(sess, errMsg)
		return
	}
}

// runPlanning walks the planning model chain for one planning turn. No skills
// run around planning.
func (s *Supervisor) runPlanning(ctx context.Context, sess *session, task *models.Task) {
	if s.cfg.Leases != nil {
		go s.cfg.Leases.RunHeartbeat(ctx, task.ID, models.LeasePlanning, s.cfg.HeartbeatCadence)
	}
	s.registerPlanningCallbacks(task)

	images := s.loadImages(task)
	prompt := contract.WithPreamble(
		contract.BuildPreamble(sess.mode, task.Phase, task.PlanningStatus),
		PlanningPrompt(task, s.cfg.Attachments.PromptSection(task)))

	chain := append([]models.ModelConfig{task.PlanningModelConfig}, task.PlanningFallbacks...)

	for i, model := range chain {
		if ctx.Err() != nil {
			return
		}

		if err := s.openSession(ctx, sess, task, model); err != nil {
			if s.maybeFailover(sess, task, chain, i, err.Error(), models.EventPlanningFailover) {
				continue
			}
			s.failPlanning(sess, err.Error())
			return
		}

		errMsg := ""
		if err := sess.rt.Prompt(ctx, prompt, images); err != nil {
			errMsg = err.Error()
		} else if stopped, msg := sess.turnError(); stopped {
			errMsg = msg
		}
		if ctx.Err() != nil {
			return
		}
		if errMsg == "" {
			s.settlePlanningTurn(sess)
			return
		}
		if s.maybeFailover(sess, task, chain, i, errMsg, models.EventPlanningFailover) {
			continue
		}
		s.failPlanning(sess, errMsg)
		return
	}
}

// maybeFailover reports whether the chain should advance past entry i: the
// error must classify as retryable and another entry must remain. The
// failover system event names both models.
func (s *Supervisor) maybeFailover(sess *session, task *models.Task, chain []models.ModelConfig, i int, errMsg, eventKind string) bool {
	if !breaker.Retryable(errMsg) || i+1 >= len(chain) {
		return false
	}
	from, to := chain[i], chain[i+1]
	s.journalSystemEvent(task.ID, eventKind,
		fmt.Sprintf("Model failover %s -> %s after error: %s", from.ModelID, to.ModelID, errMsg),
		&models.ChatMeta{ToolArgs: map[string]any{
			"fromModelId": from.ModelID,
			"toModelId":   to.ModelID,
		}})

	sess.mu.Lock()
	rtSess := sess.rt
	sess.mu.Unlock()
	if rtSess != nil {
		rtSess.Abort()
	}
	return true
}

// settleExecutionTurn handles a cleanly settled execution turn: completion
// signal present runs post-skills and reports success; otherwise the session
// parks idle awaiting user input.
func (s *Supervisor) settleExecutionTurn(ctx context.Context, sess *session) {
	sess.mu.Lock()
	signaled := sess.agentSignaledComplete
	summary := sess.completionSummary
	sess.mu.Unlock()

	if !signaled {
		s.goIdle(sess)
		return
	}

	task, err := s.cfg.Tasks.Read(sess.taskID)
	if err != nil {
		s.log.Warnf("supervisor: failed to reread task %s for post-skills: %v", sess.taskID, err)
	} else {
		s.runPostSkills(ctx, sess, task)
	}

	sess.setStatus(StatusCompleted)
	s.emitExecStatus(sess.taskID, StatusCompleted)
	s.finishSession(sess, true, CompletionDetails{Summary: summary})
}

// settlePlanningTurn checks that save_plan was actually called during the
// turn. A planning turn that settles without a saved plan is a failure.
func (s *Supervisor) settlePlanningTurn(sess *session) {
	sess.mu.Lock()
	saved := sess.planSaved
	sess.mu.Unlock()

	if !saved {
		s.failPlanning(sess, "planning turn ended without saving a plan")
		return
	}
	sess.setStatus(StatusCompleted)
	s.emitExecStatus(sess.taskID, StatusCompleted)
	s.finishSession(sess, true, CompletionDetails{})
}

// goIdle parks the session for follow-ups: the task does not advance and a
// waiting-for-input event tells the user the agent stopped without signaling
// completion.
func (s *Supervisor) goIdle(sess *session) {
	sess.mu.Lock()
	sess.status = StatusIdle
	sess.awaitingUserInput = true
	sess.mu.Unlock()

	s.journalSystemEvent(sess.taskID, models.EventAwaitingUserInput,
		"Agent is waiting for user input", nil)
	s.emitExecStatus(sess.taskID, StatusIdle)
}

// turnFailed reports a failed follow-up or chat turn.
func (s *Supervisor) turnFailed(sess *session, errMsg string) {
	if sess.mode == contract.ModeTaskPlanning {
		s.failPlanning(sess, errMsg)
		return
	}
	s.failExecution(sess, errMsg)
}

// failExecution surfaces the final error as a system event, leaves the task
// where it is, and reports failure. The queue records the failure with the
// breaker.
func (s *Supervisor) failExecution(sess *session, errMsg string) {
	s.journalSystemEvent(sess.taskID, models.EventExecutionFailed,
		fmt.Sprintf("Execution failed: %s", errMsg), nil)
	sess.setStatus(StatusError)
	s.emitExecStatus(sess.taskID, StatusError)
	s.finishSession(sess, false, CompletionDetails{ErrorMessage: errMsg})
}

// failPlanning flips planningStatus to error and reports failure.
func (s *Supervisor) failPlanning(sess *session, errMsg string) {
	s.journalSystemEvent(sess.taskID, models.EventPlanningFailed,
		fmt.Sprintf("Planning failed: %s", errMsg), nil)
	if _, err := s.cfg.Tasks.Update(sess.taskID, func(t *models.Task) error {
		t.PlanningStatus = models.PlanningError
		return nil
	}); err != nil {
		s.log.Warnf("supervisor: failed to mark planning error on %s: %v", sess.taskID, err)
	}
	sess.setStatus(StatusError)
	s.emitExecStatus(sess.taskID, StatusError)
	s.finishSession(sess, false, CompletionDetails{ErrorMessage: errMsg})
}

// finishSession tears the session down and fires the completion callback
// exactly once. A callback cleared by Stop means the settlement is stale and
// is dropped.
func (s *Supervisor) finishSession(sess *session, success bool, details CompletionDetails) {
	sess.mu.Lock()
	onComplete := sess.onComplete
	sess.onComplete = nil
	unsubscribe := sess.unsubscribe
	sess.unsubscribe = nil
	cancel := sess.cancel
	sess.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.remove(sess.taskID)
	s.removeCallbacks(sess.taskID)

	if onComplete != nil {
		onComplete(sess.taskID, success, details)
	}
}

func (s *Supervisor) registerExecutionCallbacks(task *models.Task) {
	taskID := task.ID
	s.cfg.Registry.RegisterComplete(taskID, func(id, summary string) error {
		sess, ok := s.lookup(id)
		if !ok {
			return nil
		}
		sess.mu.Lock()
		sess.agentSignaledComplete = true
		sess.completionSummary = summary
		sess.mu.Unlock()
		return nil
	})
	s.registerChatCallbacks(task)
}

func (s *Supervisor) registerPlanningCallbacks(task *models.Task) {
	taskID := task.ID
	s.cfg.Registry.RegisterPlan(taskID, func(id string, criteria []string, plan *models.Plan) error {
		updated, err := s.cfg.Tasks.Update(id, func(t *models.Task) error {
			t.AcceptanceCriteria = criteria
			t.Plan = plan
			t.PlanningStatus = models.PlanningCompleted
			return nil
		})
		if err != nil {
			return err
		}
		if sess, ok := s.lookup(id); ok {
			sess.mu.Lock()
			sess.planSaved = true
			sess.mu.Unlock()
		}
		s.cfg.Bus.Emit(broadcast.Event{
			Name:        broadcast.TaskPlanGenerated,
			WorkspaceID: s.cfg.WorkspaceID,
			Payload:     map[string]any{"taskId": id, "plan": updated.Plan},
		})
		return nil
	})
	s.registerChatCallbacks(task)
}

// registerChatCallbacks registers the tool families every session mode
// shares: file attachment and agent messaging.
func (s *Supervisor) registerChatCallbacks(task *models.Task) {
	taskID := task.ID
	s.cfg.Registry.RegisterAttachFile(taskID, func(path, id, filename string) (models.Attachment, error) {
		if id == "" {
			id = taskID
		}
		return s.cfg.Attachments.Attach(id, path, filename)
	})
	s.cfg.Registry.RegisterMessageAgent(taskID, func(id string, kind callbacks.MessageKind, content string, attachmentIDs []string) error {
		images := s.imagesByID(id, attachmentIDs)
		switch kind {
		case callbacks.MessageSteer:
			return s.Steer(context.Background(), id, content, images)
		case callbacks.MessageFollowUp:
			return s.FollowUp(context.Background(), id, content, images)
		default:
			target, err := s.cfg.Tasks.Read(id)
			if err != nil {
				return err
			}
			return s.ResumeChat(context.Background(), target, content)
		}
	})
}

func (s *Supervisor) removeCallbacks(taskID string) {
	s.cfg.Registry.RemoveComplete(taskID)
	s.cfg.Registry.RemovePlan(taskID)
	s.cfg.Registry.RemoveAttachFile(taskID)
	s.cfg.Registry.RemoveMessageAgent(taskID)
}

// loadImages reads the task's image attachments into runtime images.
func (s *Supervisor) loadImages(task *models.Task) []runtime.Image {
	loaded, err := s.cfg.Attachments.LoadImages(task)
	if err != nil {
		s.log.Warnf("supervisor: failed to load images for %s: %v", task.ID, err)
		return nil
	}
	return toRuntimeImages(loaded)
}

// imagesByID loads only the named image attachments.
func (s *Supervisor) imagesByID(taskID string, attachmentIDs []string) []runtime.Image {
	if len(attachmentIDs) == 0 {
		return nil
	}
	task, err := s.cfg.Tasks.Read(taskID)
	if err != nil {
		return nil
	}
	wanted := make(map[string]bool, len(attachmentIDs))
	for _, id := range attachmentIDs {
		wanted[id] = true
	}
	filtered := task.Clone()
	var kept []models.Attachment
	for _, a := range filtered.Attachments {
		if wanted[a.ID] {
			kept = append(kept, a)
		}
	}
	filtered.Attachments = kept
	return s.loadImages(filtered)
}

func toRuntimeImages(loaded []attachments.Image) []runtime.Image {
	images := make([]runtime.Image, 0, len(loaded))
	for _, img := range loaded {
		images = append(images, runtime.Image{
			MimeType: img.Attachment.MimeType,
			Data:     img.Data,
		})
	}
	return images
}
