package callbacks

import (
	"fmt"
	"strings"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

// UnavailableMessage is returned to a tool when no callback is registered
// for its context. The turn is not failed.
const UnavailableMessage = "Proceed with your best judgement."

// checkArgs rejects argument maps carrying keys outside the allowed set.
func checkArgs(args map[string]any, allowed ...string) error {
	set := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		set[k] = true
	}
	for k := range args {
		if !set[k] {
			return taskerr.Validationf("unknown argument %q", k)
		}
	}
	return nil
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return "", taskerr.Validationf("missing argument %q", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", taskerr.Validationf("argument %q must be a string", key)
	}
	return s, nil
}

func stringSliceArg(args map[string]any, key string, required bool) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		if required {
			return nil, taskerr.Validationf("missing argument %q", key)
		}
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, taskerr.Validationf("argument %q must be an array of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, taskerr.Validationf("argument %q must be an array of strings", key)
	}
}

// SavePlan handles the save_plan tool. The canonical contract requires a
// non-empty acceptanceCriteria array plus either visualPlan sections or the
// legacy {goal, steps, validation, cleanup} shape; both shapes are
// normalized onto the plan before the callback runs.
func (r *Registry) SavePlan(taskID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "acceptanceCriteria", "visualPlan", "goal", "steps", "validation", "cleanup"); err != nil {
		return "", err
	}
	criteria, err := stringSliceArg(args, "acceptanceCriteria", true)
	if err != nil {
		return "", err
	}
	trimmed := criteria[:0]
	for _, c := range criteria {
		if t := strings.TrimSpace(c); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	if len(trimmed) == 0 {
		return "", taskerr.Validationf("acceptanceCriteria must be a non-empty array")
	}

	plan, err := planFromArgs(args)
	if err != nil {
		return "", err
	}

	cb, ok := r.lookupPlan(taskID)
	if !ok {
		return UnavailableMessage, nil
	}
	if err := cb(taskID, trimmed, plan); err != nil {
		return "", err
	}
	return "Plan saved.", nil
}

// planFromArgs builds a Plan carrying both the visual and legacy shapes.
func planFromArgs(args map[string]any) (*models.Plan, error) {
	plan := &models.Plan{}

	if raw, ok := args["visualPlan"]; ok && raw != nil {
		sections, ok := raw.([]any)
		if !ok {
			return nil, taskerr.Validationf("visualPlan must be an array of sections")
		}
		for _, item := range sections {
			section, ok := item.(map[string]any)
			if !ok {
				return nil, taskerr.Validationf("visualPlan sections must be objects")
			}
			plan.VisualPlan = append(plan.VisualPlan, section)
		}
	}

	goal, err := stringArg(args, "goal", false)
	if err != nil {
		return nil, err
	}
	plan.Goal = goal
	if plan.Steps, err = stringSliceArg(args, "steps", false); err != nil {
		return nil, err
	}
	if plan.Validation, err = stringSliceArg(args, "validation", false); err != nil {
		return nil, err
	}
	if plan.Cleanup, err = stringSliceArg(args, "cleanup", false); err != nil {
		return nil, err
	}

	// Normalize: each shape fills in the other so downstream consumers can
	// rely on either.
	if len(plan.VisualPlan) == 0 && (plan.Goal != "" || len(plan.Steps) > 0) {
		section := map[string]any{
			"component": "Plan",
			"goal":      plan.Goal,
			"steps":     plan.Steps,
		}
		plan.VisualPlan = []map[string]any{section}
	}
	if plan.Goal == "" && len(plan.VisualPlan) > 0 {
		if goal, ok := plan.VisualPlan[0]["goal"].(string); ok {
			plan.Goal = goal
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, taskerr.Validationf("invalid plan: %v", err)
	}
	return plan, nil
}

// TaskComplete handles the task_complete tool: it records the completion
// signal and summary for the owning supervisor session.
func (r *Registry) TaskComplete(taskID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "summary"); err != nil {
		return "", err
	}
	summary, err := stringArg(args, "summary", false)
	if err != nil {
		return "", err
	}
	cb, ok := r.lookupComplete(taskID)
	if !ok {
		return UnavailableMessage, nil
	}
	if err := cb(taskID, summary); err != nil {
		return "", err
	}
	return "Completion recorded.", nil
}

// AttachTaskFile handles the attach_task_file tool.
func (r *Registry) AttachTaskFile(contextID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "path", "taskId", "filename"); err != nil {
		return "", err
	}
	path, err := stringArg(args, "path", true)
	if err != nil {
		return "", err
	}
	taskID, err := stringArg(args, "taskId", false)
	if err != nil {
		return "", err
	}
	filename, err := stringArg(args, "filename", false)
	if err != nil {
		return "", err
	}
	cb, ok := r.lookupAttachFile(contextID)
	if !ok {
		return UnavailableMessage, nil
	}
	attachment, err := cb(path, taskID, filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Attached %s.", attachment.FileName), nil
}

// AskQuestions handles the ask_questions tool.
func (r *Registry) AskQuestions(workspaceID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "requestId", "questions", "workspaceId"); err != nil {
		return "", err
	}
	requestID, err := stringArg(args, "requestId", true)
	if err != nil {
		return "", err
	}
	questions, err := stringSliceArg(args, "questions", true)
	if err != nil {
		return "", err
	}
	if len(questions) == 0 {
		return "", taskerr.Validationf("questions must be non-empty")
	}
	cb, ok := r.lookupQA(workspaceID)
	if !ok {
		return UnavailableMessage, nil
	}
	if err := cb(requestID, questions, workspaceID); err != nil {
		return "", err
	}
	return "Questions delivered.", nil
}

// MessageAgent handles the message_agent tool.
func (r *Registry) MessageAgent(taskID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "kind", "content", "attachmentIds"); err != nil {
		return "", err
	}
	kindRaw, err := stringArg(args, "kind", true)
	if err != nil {
		return "", err
	}
	kind := MessageKind(kindRaw)
	switch kind {
	case MessageSteer, MessageFollowUp, MessageChat:
	default:
		return "", taskerr.Validationf("unknown message kind %q", kindRaw)
	}
	content, err := stringArg(args, "content", true)
	if err != nil {
		return "", err
	}
	attachmentIDs, err := stringSliceArg(args, "attachmentIds", false)
	if err != nil {
		return "", err
	}
	cb, ok := r.lookupMessageAgent(taskID)
	if !ok {
		return UnavailableMessage, nil
	}
	if err := cb(taskID, kind, content, attachmentIDs); err != nil {
		return "", err
	}
	return "Message delivered.", nil
}

// FactoryControl handles the factory_control tool.
func (r *Registry) FactoryControl(workspaceID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "action"); err != nil {
		return "", err
	}
	actionRaw, err := stringArg(args, "action", true)
	if err != nil {
		return "", err
	}
	action := FactoryAction(actionRaw)
	switch action {
	case FactoryStatus, FactoryStart, FactoryStop:
	default:
		return "", taskerr.Validationf("unknown factory action %q", actionRaw)
	}
	cb, ok := r.lookupFactoryControl(workspaceID)
	if !ok {
		return UnavailableMessage, nil
	}
	return cb(action)
}

// ManageShelf handles the manage_shelf tool.
func (r *Registry) ManageShelf(workspaceID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "action", "item_id", "updates"); err != nil {
		return "", err
	}
	action, err := stringArg(args, "action", true)
	if err != nil {
		return "", err
	}
	itemID, err := stringArg(args, "item_id", false)
	if err != nil {
		return "", err
	}
	var updates map[string]any
	if raw, ok := args["updates"]; ok && raw != nil {
		updates, ok = raw.(map[string]any)
		if !ok {
			return "", taskerr.Validationf("updates must be an object")
		}
	}
	cb, ok := r.lookupShelf(workspaceID)
	if !ok {
		return UnavailableMessage, nil
	}
	return cb(action, itemID, updates)
}

// CreateExtension handles the create_extension tool.
func (r *Registry) CreateExtension(workspaceID string, args map[string]any) (string, error) {
	if err := checkArgs(args, "name", "audience", "source", "confirmed"); err != nil {
		return "", err
	}
	name, err := stringArg(args, "name", true)
	if err != nil {
		return "", err
	}
	audience, err := stringArg(args, "audience", true)
	if err != nil {
		return "", err
	}
	source, err := stringArg(args, "source", true)
	if err != nil {
		return "", err
	}
	confirmed := false
	if raw, ok := args["confirmed"]; ok && raw != nil {
		confirmed, ok = raw.(bool)
		if !ok {
			return "", taskerr.Validationf("confirmed must be a boolean")
		}
	}
	cb, ok := r.lookupCreateExtension(workspaceID)
	if !ok {
		return UnavailableMessage, nil
	}
	return cb(name, audience, source, confirmed)
}
