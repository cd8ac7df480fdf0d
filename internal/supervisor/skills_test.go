package supervisor

import (
	"context"
	"strings"
	"testing"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/runtime"
)

type skillMap map[string]models.Skill

func (m skillMap) Skill(id string) (models.Skill, bool) {
	s, ok := m[id]
	return s, ok
}

func withSkills(f *svFixture, skills skillMap) {
	f.sv.cfg.Skills = skills
}

func addSkills(t *testing.T, f *svFixture, id string, pre, post []string) *models.Task {
	t.Helper()
	updated, err := f.store.Update(id, func(tk *models.Task) error {
		tk.PreExecutionSkills = pre
		tk.PostExecutionSkills = post
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return updated
}

func TestPreSkillRunsBeforeTaskPrompt(t *testing.T) {
	f := newSvFixture(t)
	withSkills(f, skillMap{
		"lint": {ID: "lint", Type: models.SkillFollowUp, Template: "Run the linter."},
	})
	task := f.makeExecuting(t, "T-1")
	task = addSkills(t, f, "T-1", []string{"lint"}, nil)

	sess := &fakeSession{
		onPrompt: func(fs *fakeSession, text string) error {
			if strings.Contains(text, "Run the linter.") {
				fs.emitCleanEnd("lint clean")
				return nil
			}
			if _, err := f.registry.TaskComplete("T-1", map[string]any{"summary": "done"}); err != nil {
				t.Errorf("task_complete failed: %v", err)
			}
			fs.emitCleanEnd("done")
			return nil
		},
	}
	f.rt.sessions = []*fakeSession{sess}

	if err := f.sv.ExecuteTask(context.Background(), task, f.onComplete); err != nil {
		t.Fatal(err)
	}
	c := f.waitCompletion(t)
	if !c.success {
		t.Errorf("completion = %+v", c)
	}

	sess.mu.Lock()
	prompts := append([]string(nil), sess.prompts...)
	sess.mu.Unlock()
	if len(prompts) != 2 {
		t.Fatalf("got %d prompts, want skill then task", len(prompts))
	}
	if prompts[0] != "Run the linter." {
		t.Errorf("first prompt = %q, want the skill template", prompts[0])
	}
	if !strings.Contains(prompts[1], "Task T-1") {
		t.Errorf("second prompt = %q, want the task prompt", prompts[1])
	}
}

func TestPreSkillsRunOnceAcrossFailover(t *testing.T) {
	f := newSvFixture(t)
	withSkills(f, skillMap{
		"lint": {ID: "lint", Type: models.SkillFollowUp, Template: "Run the linter."},
	})
	fallback := models.ModelConfig{Provider: "openai", ModelID: "gpt-5"}
	task := f.makeExecuting(t, "T-1", fallback)
	task = addSkills(t, f, "T-1", []string{"lint"}, nil)

	first := &fakeSession{
		onPrompt: func(fs *fakeSession, text string) error {
			if text == "Run the linter." {
				fs.emitCleanEnd("lint clean")
				return nil
			}
			fs.emit(runtime.Event{
				Type:         runtime.EventMessageEnd,
				StopReason:   runtime.StopReasonError,
				ErrorMessage: "rate limit exceeded",
			})
			return nil
		},
	}
	second := &fakeSession{
		onPrompt: func(fs *fakeSession, text string) error {
			if _, err := f.registry.TaskComplete("T-1", map[string]any{"summary": "recovered"}); err != nil {
				t.Errorf("task_complete failed: %v", err)
			}
			fs.emitCleanEnd("Done on fallback.")
			return nil
		},
	}
	f.rt.sessions = []*fakeSession{first, second}

	if err := f.sv.ExecuteTask(context.Background(), task, f.onComplete); err != nil {
		t.Fatal(err)
	}
	c := f.waitCompletion(t)
	if !c.success {
		t.Fatalf("completion = %+v", c)
	}
	if f.eventCount(t, models.EventExecutionFailover) != 1 {
		t.Error("failover event missing")
	}

	// The skill ran on the first model only; the fallback session goes
	// straight to the task prompt.
	skillRuns := 0
	for _, sess := range []*fakeSession{first, second} {
		sess.mu.Lock()
		for _, p := range sess.prompts {
			if p == "Run the linter." {
				skillRuns++
			}
		}
		sess.mu.Unlock()
	}
	if skillRuns != 1 {
		t.Errorf("pre-skill ran %d times across the model chain, want 1", skillRuns)
	}

	second.mu.Lock()
	fallbackFirst := ""
	if len(second.prompts) > 0 {
		fallbackFirst = second.prompts[0]
	}
	second.mu.Unlock()
	if !strings.Contains(fallbackFirst, "Task T-1") {
		t.Errorf("fallback session first prompt = %q, want the task prompt", fallbackFirst)
	}
}

func TestUnknownPreSkillFailsExecution(t *testing.T) {
	f := newSvFixture(t)
	withSkills(f, skillMap{})
	task := f.makeExecuting(t, "T-1")
	task = addSkills(t, f, "T-1", []string{"ghost"}, nil)

	f.rt.sessions = []*fakeSession{{}}

	if err := f.sv.ExecuteTask(context.Background(), task, f.onComplete); err != nil {
		t.Fatal(err)
	}
	c := f.waitCompletion(t)
	if c.success {
		t.Error("unknown pre-skill reported as success")
	}
	if !strings.Contains(c.details.ErrorMessage, "pre-execution skill failed") {
		t.Errorf("error = %q", c.details.ErrorMessage)
	}
	if f.eventCount(t, models.EventSkillFailed) != 1 {
		t.Error("skill-failed event missing")
	}
}

func TestLoopSkillStopsOnDoneSignal(t *testing.T) {
	f := newSvFixture(t)
	withSkills(f, skillMap{
		"review": {
			ID:            "review",
			Type:          models.SkillLoop,
			Template:      "Review the diff.",
			MaxIterations: 5,
			DoneSignal:    "LGTM",
		},
	})
	task := f.makeExecuting(t, "T-1")
	task = addSkills(t, f, "T-1", nil, []string{"review"})

	reviewTurns := 0
	f.rt.sessions = []*fakeSession{{
		onPrompt: func(fs *fakeSession, text string) error {
			if text == "Review the diff." {
				reviewTurns++
				if reviewTurns < 3 {
					fs.emitCleanEnd("still looking")
				} else {
					fs.emitCleanEnd("LGTM, ship it")
				}
				return nil
			}
			if _, err := f.registry.TaskComplete("T-1", map[string]any{"summary": "done"}); err != nil {
				t.Errorf("task_complete failed: %v", err)
			}
			fs.emitCleanEnd("done")
			return nil
		},
	}}

	if err := f.sv.ExecuteTask(context.Background(), task, f.onComplete); err != nil {
		t.Fatal(err)
	}
	c := f.waitCompletion(t)
	if !c.success {
		t.Errorf("completion = %+v", c)
	}
	// The loop exits on the done signal, not iteration exhaustion.
	if reviewTurns != 3 {
		t.Errorf("review turns = %d, want 3", reviewTurns)
	}
}

func TestPostSkillFailureDoesNotBlockCompletion(t *testing.T) {
	f := newSvFixture(t)
	withSkills(f, skillMap{})
	task := f.makeExecuting(t, "T-1")
	task = addSkills(t, f, "T-1", nil, []string{"ghost"})

	f.rt.sessions = []*fakeSession{{
		onPrompt: func(fs *fakeSession, text string) error {
			if _, err := f.registry.TaskComplete("T-1", map[string]any{"summary": "done"}); err != nil {
				t.Errorf("task_complete failed: %v", err)
			}
			fs.emitCleanEnd("done")
			return nil
		},
	}}

	if err := f.sv.ExecuteTask(context.Background(), task, f.onComplete); err != nil {
		t.Fatal(err)
	}
	c := f.waitCompletion(t)
	if !c.success {
		t.Errorf("post-skill failure blocked completion: %+v", c)
	}
	if f.eventCount(t, models.EventSkillFailed) != 1 {
		t.Error("skill-failed event missing for unknown post-skill")
	}
}
