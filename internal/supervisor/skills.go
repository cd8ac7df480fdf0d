package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/patleeman/taskfactory/internal/models"
)

// runPreSkills runs the task's pre-execution skills sequentially on the live
// session. The first failure aborts the task.
func (s *Supervisor) runPreSkills(ctx context.Context, sess *session, task *models.Task) error {
	for _, id := range task.PreExecutionSkills {
		skill, ok := s.skillByID(id)
		if !ok {
			s.journalSystemEvent(task.ID, models.EventSkillFailed,
				fmt.Sprintf("Unknown pre-execution skill %q", id), nil)
			return fmt.Errorf("unknown skill %q", id)
		}
		if err := s.runSkill(ctx, sess, skill); err != nil {
			s.journalSystemEvent(task.ID, models.EventSkillFailed,
				fmt.Sprintf("Pre-execution skill %q failed: %v", id, err), nil)
			return err
		}
	}
	return nil
}

// runPostSkills runs the task's post-execution skills. Failures are logged
// and skipped; they never block completion.
func (s *Supervisor) runPostSkills(ctx context.Context, sess *session, task *models.Task) {
	for _, id := range task.PostExecutionSkills {
		skill, ok := s.skillByID(id)
		if !ok {
			s.journalSystemEvent(task.ID, models.EventSkillFailed,
				fmt.Sprintf("Unknown post-execution skill %q", id), nil)
			continue
		}
		if err := s.runSkill(ctx, sess, skill); err != nil {
			s.log.Warnf("supervisor: post-execution skill %q failed on %s: %v", id, task.ID, err)
			s.journalSystemEvent(task.ID, models.EventSkillFailed,
				fmt.Sprintf("Post-execution skill %q failed: %v", id, err), nil)
		}
	}
}

// runSkill sends the skill template as its own prompt turn. A loop skill
// repeats, up to MaxIterations, until the assistant text contains the done
// signal; running out of iterations is not an error.
func (s *Supervisor) runSkill(ctx context.Context, sess *session, skill models.Skill) error {
	iterations := 1
	if skill.Type == models.SkillLoop && skill.MaxIterations > 1 {
		iterations = skill.MaxIterations
	}

	for i := 0; i < iterations; i++ {
		if err := sess.rt.Prompt(ctx, skill.Template, nil); err != nil {
			return err
		}
		if stopped, msg := sess.turnError(); stopped {
			return fmt.Errorf("skill turn ended with error: %s", msg)
		}
		if skill.Type != models.SkillLoop {
			return nil
		}

		sess.mu.Lock()
		text := sess.assistantText
		sess.mu.Unlock()
		if skill.DoneSignal != "" && strings.Contains(text, skill.DoneSignal) {
			return nil
		}
	}
	return nil
}

func (s *Supervisor) skillByID(id string) (models.Skill, bool) {
	if s.cfg.Skills == nil {
		return models.Skill{}, false
	}
	return s.cfg.Skills.Skill(id)
}
