package supervisor

import (
	"github.com/patleeman/taskfactory/internal/broadcast"
	"github.com/patleeman/taskfactory/internal/contract"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/runtime"
)

// handleEvent translates one runtime event into activity entries and
// broadcasts. It runs on the runtime's delivery goroutine and must not block.
func (s *Supervisor) handleEvent(sess *session, ev runtime.Event) {
	switch ev.Type {
	case runtime.EventMessageStart:
		sess.mu.Lock()
		sess.streamText.Reset()
		sess.thinkingText.Reset()
		sess.mu.Unlock()
		s.emit(broadcast.AgentStreamStart, map[string]any{"taskId": sess.taskID})

	case runtime.EventMessageUpdate:
		if ev.TextDelta != "" {
			sess.mu.Lock()
			sess.streamText.WriteString(ev.TextDelta)
			sess.mu.Unlock()
			s.emit(broadcast.AgentStreamText, map[string]any{
				"taskId": sess.taskID,
				"text":   ev.TextDelta,
			})
		}
		if ev.ThinkingDelta != "" {
			sess.mu.Lock()
			sess.thinkingText.WriteString(ev.ThinkingDelta)
			sess.mu.Unlock()
			s.emit(broadcast.AgentThinkingDelta, map[string]any{
				"taskId": sess.taskID,
				"text":   ev.ThinkingDelta,
			})
		}

	case runtime.EventMessageEnd:
		content := contract.StripPreamble(ev.Content)

		sess.mu.Lock()
		sess.assistantText = content
		sess.lastStop = ev.StopReason
		sess.lastError = ev.ErrorMessage
		hadThinking := sess.thinkingText.Len() > 0
		sess.streamText.Reset()
		sess.thinkingText.Reset()
		sess.mu.Unlock()

		if hadThinking {
			s.emit(broadcast.AgentThinkingEnd, map[string]any{"taskId": sess.taskID})
		}
		if content != "" && ev.StopReason != runtime.StopReasonError {
			s.journalAgentMessage(sess.taskID, content, nil)
		}
		s.emit(broadcast.AgentStreamEnd, map[string]any{
			"taskId":  sess.taskID,
			"content": content,
		})

	case runtime.EventToolExecutionStart:
		sess.mu.Lock()
		sess.toolArgs[ev.ToolCallID] = ev.ToolArgs
		sess.mu.Unlock()
		s.emit(broadcast.AgentToolStart, map[string]any{
			"taskId":     sess.taskID,
			"toolCallId": ev.ToolCallID,
			"toolName":   ev.ToolName,
			"args":       ev.ToolArgs,
		})

	case runtime.EventToolExecutionUpdate:
		s.emit(broadcast.AgentToolUpdate, map[string]any{
			"taskId":     sess.taskID,
			"toolCallId": ev.ToolCallID,
			"toolName":   ev.ToolName,
			"result":     ev.ToolResult,
		})

	case runtime.EventToolExecutionEnd:
		sess.mu.Lock()
		args := sess.toolArgs[ev.ToolCallID]
		delete(sess.toolArgs, ev.ToolCallID)
		sess.mu.Unlock()
		if args == nil {
			args = ev.ToolArgs
		}

		s.journalAgentMessage(sess.taskID, ev.ToolResult, &models.ChatMeta{
			ToolName: ev.ToolName,
			ToolArgs: args,
			IsError:  ev.ToolIsError,
			Result:   ev.ToolResult,
		})
		s.emit(broadcast.AgentToolEnd, map[string]any{
			"taskId":     sess.taskID,
			"toolCallId": ev.ToolCallID,
			"toolName":   ev.ToolName,
			"isError":    ev.ToolIsError,
			"result":     ev.ToolResult,
		})

	case runtime.EventTurnEnd:
		s.emit(broadcast.AgentTurnEnd, map[string]any{"taskId": sess.taskID})

	case runtime.EventAutoCompactionStart:
		s.journalSystemEvent(sess.taskID, models.EventAutoCompaction,
			"Context auto-compaction started", nil)
	case runtime.EventAutoCompactionEnd:
		s.journalSystemEvent(sess.taskID, models.EventAutoCompaction,
			"Context auto-compaction finished", nil)
	case runtime.EventAutoRetryStart:
		s.journalSystemEvent(sess.taskID, models.EventAutoRetry,
			"Provider auto-retry started", nil)
	case runtime.EventAutoRetryEnd:
		s.journalSystemEvent(sess.taskID, models.EventAutoRetry,
			"Provider auto-retry finished", nil)
	}
}

func (s *Supervisor) emit(name string, payload map[string]any) {
	s.cfg.Bus.Emit(broadcast.Event{
		Name:        name,
		WorkspaceID: s.cfg.WorkspaceID,
		Payload:     payload,
	})
}

func (s *Supervisor) journalAgentMessage(taskID, content string, meta *models.ChatMeta) {
	appended, err := s.cfg.Journal.Append(models.ActivityEntry{
		TaskID:  taskID,
		Type:    models.ActivityChatMessage,
		Role:    models.RoleAgent,
		Content: content,
		Meta:    meta,
	})
	if err != nil {
		s.log.Warnf("supervisor: failed to journal agent message for %s: %v", taskID, err)
		return
	}
	s.emit(broadcast.ActivityEntry, map[string]any{"entry": appended})
}
