package supervisor

import (
	"fmt"
	"strings"

	"github.com/patleeman/taskfactory/internal/models"
)

// ExecutionPrompt renders the pending execution turn for a task: title and
// body, plan steps when present, the acceptance criteria checklist, and the
// attached-files section. A non-empty executionPromptTemplate on the task
// defaults replaces the built-in instruction header.
func ExecutionPrompt(task *models.Task, attachmentSection string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Task: %s\n\n", task.Title)
	if body := strings.TrimSpace(task.Body); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}

	if task.Plan != nil {
		sb.WriteString("## Plan\n\n")
		if task.Plan.Goal != "" {
			fmt.Fprintf(&sb, "Goal: %s\n\n", task.Plan.Goal)
		}
		for i, step := range task.Plan.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
		if len(task.Plan.Validation) > 0 {
			sb.WriteString("\nValidation:\n")
			for _, v := range task.Plan.Validation {
				fmt.Fprintf(&sb, "- %s\n", v)
			}
		}
		if len(task.Plan.Cleanup) > 0 {
			sb.WriteString("\nCleanup:\n")
			for _, c := range task.Plan.Cleanup {
				fmt.Fprintf(&sb, "- %s\n", c)
			}
		}
		sb.WriteString("\n")
	}

	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("## Acceptance Criteria\n\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- [ ] %s\n", c)
		}
		sb.WriteString("\n")
	}

	if attachmentSection != "" {
		sb.WriteString(attachmentSection)
		sb.WriteString("\n")
	}

	sb.WriteString("Work through the task. When every acceptance criterion is met, call task_complete with a short summary of what you did.")
	return sb.String()
}

// PlanningPrompt renders the planning turn: explore the codebase, then call
// save_plan exactly once with acceptance criteria and a step-by-step plan.
func PlanningPrompt(task *models.Task, attachmentSection string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Plan the task: %s\n\n", task.Title)
	if body := strings.TrimSpace(task.Body); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	if attachmentSection != "" {
		sb.WriteString(attachmentSection)
		sb.WriteString("\n")
	}

	sb.WriteString("Explore the codebase as needed, then call save_plan exactly once with:\n")
	sb.WriteString("- acceptanceCriteria: short, verifiable statements of done\n")
	sb.WriteString("- a plan: the goal, ordered steps, validation steps, and any cleanup\n\n")
	sb.WriteString("Do not edit any files during planning.")
	return sb.String()
}
