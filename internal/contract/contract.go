// Package contract maps task state to an agent mode and the tool contract
// the supervisor enforces for that mode. A state preamble is prepended to
// every agent turn so the model knows its role and allowed tools.
package contract

import (
	"github.com/patleeman/taskfactory/internal/models"
)

// Mode names the role/phase contract an agent session operates under.
type Mode string

const (
	// ModeForeman is the workspace-scope agent that plans and curates but
	// does not edit code.
	ModeForeman Mode = "foreman"

	ModeTaskPlanning  Mode = "task_planning"
	ModeTaskExecution Mode = "task_execution"
	ModeTaskComplete  Mode = "task_complete"
)

// Contract fixes which tools a mode may call, which are forbidden, and how
// the agent is expected to end its work.
type Contract struct {
	Mode           Mode
	AllowedTools   []string
	ForbiddenTools []string
	CompletionRule string
}

var contracts = map[Mode]Contract{
	ModeForeman: {
		Mode: ModeForeman,
		AllowedTools: []string{
			"read", "shell", "ask_questions", "create_draft_task",
			"create_artifact", "manage_shelf", "factory_control",
		},
		ForbiddenTools: []string{"edit", "write", "save_plan", "task_complete"},
		CompletionRule: "Reply and stop unless asked for more.",
	},
	ModeTaskPlanning: {
		Mode:           ModeTaskPlanning,
		AllowedTools:   []string{"read", "shell", "save_plan"},
		ForbiddenTools: []string{"edit", "write", "task_complete"},
		CompletionRule: "Call save_plan exactly once, then stop.",
	},
	ModeTaskExecution: {
		Mode: ModeTaskExecution,
		AllowedTools: []string{
			"read", "shell", "edit", "write", "task_complete", "attach_task_file",
		},
		ForbiddenTools: []string{"save_plan"},
		CompletionRule: "Call task_complete when the acceptance criteria are met.",
	},
	ModeTaskComplete: {
		Mode: ModeTaskComplete,
		AllowedTools: []string{
			"read", "shell", "edit", "write", "attach_task_file",
		},
		ForbiddenTools: []string{"save_plan", "task_complete"},
		CompletionRule: "Respond to the user.",
	},
}

// For returns the fixed contract for a mode.
func For(mode Mode) Contract {
	return contracts[mode]
}

// ModeFor resolves the agent mode from task state.
//
//	backlog + planningStatus=running + no plan -> task_planning
//	executing                                  -> task_execution
//	complete                                   -> task_complete
//	anything else                              -> task_complete
func ModeFor(phase models.Phase, planningStatus models.PlanningStatus, planPresent bool) Mode {
	switch {
	case phase == models.PhaseBacklog && planningStatus == models.PlanningRunning && !planPresent:
		return ModeTaskPlanning
	case phase == models.PhaseExecuting:
		return ModeTaskExecution
	default:
		return ModeTaskComplete
	}
}

// ModeForTask resolves the mode from a task record.
func ModeForTask(task *models.Task) Mode {
	return ModeFor(task.Phase, task.PlanningStatus, task.HasPlan())
}

// Allowed reports whether the contract permits the named tool.
func (c Contract) Allowed(tool string) bool {
	for _, forbidden := range c.ForbiddenTools {
		if tool == forbidden {
			return false
		}
	}
	for _, allowed := range c.AllowedTools {
		if tool == allowed {
			return true
		}
	}
	return false
}
