package callbacks

import (
	"testing"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

func TestSavePlanLegacyShapeNormalized(t *testing.T) {
	r := NewRegistry()

	var gotCriteria []string
	var gotPlan *models.Plan
	r.RegisterPlan("T-1", func(taskID string, criteria []string, plan *models.Plan) error {
		gotCriteria = criteria
		gotPlan = plan
		return nil
	})

	result, err := r.SavePlan("T-1", map[string]any{
		"acceptanceCriteria": []any{"  builds  ", "tests pass", "   "},
		"goal":               "ship the widget",
		"steps":              []any{"write", "verify"},
	})
	if err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	if result != "Plan saved." {
		t.Errorf("result = %q", result)
	}
	if len(gotCriteria) != 2 || gotCriteria[0] != "builds" {
		t.Errorf("criteria = %v, want trimmed non-empty", gotCriteria)
	}
	if gotPlan.Goal != "ship the widget" {
		t.Errorf("goal = %q", gotPlan.Goal)
	}
	// The legacy shape is projected into a visual section.
	if len(gotPlan.VisualPlan) != 1 {
		t.Fatalf("visualPlan = %v", gotPlan.VisualPlan)
	}
	if gotPlan.VisualPlan[0]["goal"] != "ship the widget" {
		t.Errorf("visual section = %v", gotPlan.VisualPlan[0])
	}
}

func TestSavePlanVisualShapeFillsGoal(t *testing.T) {
	r := NewRegistry()

	var gotPlan *models.Plan
	r.RegisterPlan("T-1", func(taskID string, criteria []string, plan *models.Plan) error {
		gotPlan = plan
		return nil
	})

	_, err := r.SavePlan("T-1", map[string]any{
		"acceptanceCriteria": []any{"done"},
		"visualPlan": []any{
			map[string]any{"component": "Overview", "goal": "refactor the parser"},
			map[string]any{"component": "Checklist", "items": []any{"a", "b"}},
		},
	})
	if err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	if gotPlan.Goal != "refactor the parser" {
		t.Errorf("goal not lifted from first section: %q", gotPlan.Goal)
	}
	if len(gotPlan.VisualPlan) != 2 {
		t.Errorf("visualPlan = %v", gotPlan.VisualPlan)
	}
}

func TestSavePlanRejectsEmptyCriteria(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlan("T-1", func(string, []string, *models.Plan) error { return nil })

	cases := []map[string]any{
		{"goal": "g", "steps": []any{"s"}},
		{"acceptanceCriteria": []any{}, "goal": "g", "steps": []any{"s"}},
		{"acceptanceCriteria": []any{"  ", ""}, "goal": "g", "steps": []any{"s"}},
	}
	for i, args := range cases {
		if _, err := r.SavePlan("T-1", args); !taskerr.IsValidation(err) {
			t.Errorf("case %d: error = %v, want validation", i, err)
		}
	}
}

func TestSavePlanRejectsUnknownArgument(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlan("T-1", func(string, []string, *models.Plan) error { return nil })

	_, err := r.SavePlan("T-1", map[string]any{
		"acceptanceCriteria": []any{"done"},
		"goal":               "g",
		"steps":              []any{"s"},
		"surprise":           true,
	})
	if !taskerr.IsValidation(err) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestUnregisteredCallbackReturnsUnavailable(t *testing.T) {
	r := NewRegistry()

	result, err := r.SavePlan("T-9", map[string]any{
		"acceptanceCriteria": []any{"done"},
		"goal":               "g",
		"steps":              []any{"s"},
	})
	if err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	if result != UnavailableMessage {
		t.Errorf("result = %q, want unavailable message", result)
	}

	result, err = r.TaskComplete("T-9", map[string]any{"summary": "done"})
	if err != nil || result != UnavailableMessage {
		t.Errorf("TaskComplete = (%q, %v)", result, err)
	}
}

func TestTaskComplete(t *testing.T) {
	r := NewRegistry()

	var gotSummary string
	r.RegisterComplete("T-1", func(taskID, summary string) error {
		gotSummary = summary
		return nil
	})

	if _, err := r.TaskComplete("T-1", map[string]any{"summary": "all green"}); err != nil {
		t.Fatalf("TaskComplete failed: %v", err)
	}
	if gotSummary != "all green" {
		t.Errorf("summary = %q", gotSummary)
	}

	// Summary is optional.
	if _, err := r.TaskComplete("T-1", map[string]any{}); err != nil {
		t.Errorf("TaskComplete without summary = %v", err)
	}
}

func TestMessageAgentKindValidated(t *testing.T) {
	r := NewRegistry()

	var gotKind MessageKind
	r.RegisterMessageAgent("T-1", func(taskID string, kind MessageKind, content string, attachmentIDs []string) error {
		gotKind = kind
		return nil
	})

	for _, kind := range []string{"steer", "follow-up", "chat"} {
		if _, err := r.MessageAgent("T-1", map[string]any{"kind": kind, "content": "hi"}); err != nil {
			t.Errorf("MessageAgent(%q) = %v", kind, err)
		}
		if string(gotKind) != kind {
			t.Errorf("delivered kind = %q, want %q", gotKind, kind)
		}
	}

	if _, err := r.MessageAgent("T-1", map[string]any{"kind": "shout", "content": "hi"}); !taskerr.IsValidation(err) {
		t.Errorf("unknown kind error = %v, want validation", err)
	}
	if _, err := r.MessageAgent("T-1", map[string]any{"kind": "chat"}); !taskerr.IsValidation(err) {
		t.Errorf("missing content error = %v, want validation", err)
	}
}

func TestAttachTaskFileDefaultsTask(t *testing.T) {
	r := NewRegistry()

	var gotPath, gotTask string
	r.RegisterAttachFile("T-1", func(path, taskID, filename string) (models.Attachment, error) {
		gotPath, gotTask = path, taskID
		return models.Attachment{FileName: "shot.png"}, nil
	})

	result, err := r.AttachTaskFile("T-1", map[string]any{"path": "/tmp/shot.png"})
	if err != nil {
		t.Fatalf("AttachTaskFile failed: %v", err)
	}
	if result != "Attached shot.png." {
		t.Errorf("result = %q", result)
	}
	if gotPath != "/tmp/shot.png" || gotTask != "" {
		t.Errorf("callback args = (%q, %q)", gotPath, gotTask)
	}

	if _, err := r.AttachTaskFile("T-1", map[string]any{}); !taskerr.IsValidation(err) {
		t.Errorf("missing path error = %v, want validation", err)
	}
}

func TestAskQuestionsRequiresQuestions(t *testing.T) {
	r := NewRegistry()

	var gotQuestions []string
	r.RegisterQA("ws-1", func(requestID string, questions []string, workspaceID string) error {
		gotQuestions = questions
		return nil
	})

	if _, err := r.AskQuestions("ws-1", map[string]any{
		"requestId": "q-1",
		"questions": []any{"which database?"},
	}); err != nil {
		t.Fatalf("AskQuestions failed: %v", err)
	}
	if len(gotQuestions) != 1 {
		t.Errorf("questions = %v", gotQuestions)
	}

	if _, err := r.AskQuestions("ws-1", map[string]any{
		"requestId": "q-2",
		"questions": []any{},
	}); !taskerr.IsValidation(err) {
		t.Errorf("empty questions error = %v, want validation", err)
	}
}

func TestFactoryControlActionValidated(t *testing.T) {
	r := NewRegistry()

	var gotAction FactoryAction
	r.RegisterFactoryControl("ws-1", func(action FactoryAction) (string, error) {
		gotAction = action
		return "ok", nil
	})

	result, err := r.FactoryControl("ws-1", map[string]any{"action": "start"})
	if err != nil || result != "ok" {
		t.Fatalf("FactoryControl = (%q, %v)", result, err)
	}
	if gotAction != FactoryStart {
		t.Errorf("action = %q", gotAction)
	}

	if _, err := r.FactoryControl("ws-1", map[string]any{"action": "explode"}); !taskerr.IsValidation(err) {
		t.Errorf("unknown action error = %v, want validation", err)
	}
}

func TestRemoveUnregisters(t *testing.T) {
	r := NewRegistry()
	r.RegisterComplete("T-1", func(string, string) error {
		t.Error("callback should not run after removal")
		return nil
	})
	r.RemoveComplete("T-1")

	result, err := r.TaskComplete("T-1", map[string]any{})
	if err != nil || result != UnavailableMessage {
		t.Errorf("TaskComplete after removal = (%q, %v)", result, err)
	}
}
