package models

// SkillType distinguishes one-shot follow-up skills from looping skills.
type SkillType string

const (
	SkillFollowUp SkillType = "follow-up"
	SkillLoop     SkillType = "loop"
)

// SkillHook names the attachment point a skill declares support for.
type SkillHook string

const (
	HookPre  SkillHook = "pre"
	HookPost SkillHook = "post"
)

// Skill is a named prompt template runnable before or after execution.
// A loop skill repeats its prompt up to MaxIterations until the assistant
// text contains DoneSignal.
type Skill struct {
	ID       string      `yaml:"id" json:"id"`
	Name     string      `yaml:"name" json:"name"`
	Type     SkillType   `yaml:"type" json:"type"`
	Hooks    []SkillHook `yaml:"hooks" json:"hooks"`
	Template string      `yaml:"template" json:"template"`

	// Loop configuration; ignored for follow-up skills.
	MaxIterations int    `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	DoneSignal    string `yaml:"doneSignal,omitempty" json:"doneSignal,omitempty"`
}

// SupportsHook reports whether the skill declares the given hook.
func (s Skill) SupportsHook(h SkillHook) bool {
	for _, hook := range s.Hooks {
		if hook == h {
			return true
		}
	}
	return false
}
