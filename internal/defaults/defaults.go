// Package defaults computes a task's effective configuration by overlaying
// four layers: built-in defaults, the global taskDefaults file, the workspace
// override file, and the task creation request. Later layers win field by
// field; the legacy modelConfig alias is kept in sync with
// executionModelConfig on both read and write.
package defaults

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

// Layer is one overlay layer. Nil or empty fields inherit from the layer
// below.
type Layer struct {
	PlanningModelConfig  *models.ModelConfig `yaml:"planningModelConfig,omitempty" json:"planningModelConfig,omitempty"`
	ExecutionModelConfig *models.ModelConfig `yaml:"executionModelConfig,omitempty" json:"executionModelConfig,omitempty"`
	// ModelConfig is the legacy alias for ExecutionModelConfig. Readers
	// honor it when ExecutionModelConfig is absent; writers fill both.
	ModelConfig *models.ModelConfig `yaml:"modelConfig,omitempty" json:"modelConfig,omitempty"`

	PlanningFallbackModels  []models.ModelConfig `yaml:"planningFallbackModels,omitempty" json:"planningFallbackModels,omitempty"`
	ExecutionFallbackModels []models.ModelConfig `yaml:"executionFallbackModels,omitempty" json:"executionFallbackModels,omitempty"`

	PreExecutionSkills  []string `yaml:"preExecutionSkills,omitempty" json:"preExecutionSkills,omitempty"`
	PostExecutionSkills []string `yaml:"postExecutionSkills,omitempty" json:"postExecutionSkills,omitempty"`

	PlanningPromptTemplate  string `yaml:"planningPromptTemplate,omitempty" json:"planningPromptTemplate,omitempty"`
	ExecutionPromptTemplate string `yaml:"executionPromptTemplate,omitempty" json:"executionPromptTemplate,omitempty"`
}

// normalize reconciles the legacy alias: executionModelConfig wins when both
// are present, and each fills in the other when only one is set.
func (l Layer) normalize() Layer {
	switch {
	case l.ExecutionModelConfig != nil:
		cfg := *l.ExecutionModelConfig
		l.ModelConfig = &cfg
	case l.ModelConfig != nil:
		cfg := *l.ModelConfig
		l.ExecutionModelConfig = &cfg
	}
	return l
}

// Effective is the fully resolved task configuration.
type Effective struct {
	PlanningModelConfig  models.ModelConfig
	ExecutionModelConfig models.ModelConfig

	PlanningFallbackModels  []models.ModelConfig
	ExecutionFallbackModels []models.ModelConfig

	PreExecutionSkills  []string
	PostExecutionSkills []string

	PlanningPromptTemplate  string
	ExecutionPromptTemplate string
}

// BuiltIn is the bottom overlay layer.
func BuiltIn() Effective {
	return Effective{
		PlanningModelConfig: models.ModelConfig{
			Provider: "anthropic",
			ModelID:  "claude-sonnet-4-5",
		},
		ExecutionModelConfig: models.ModelConfig{
			Provider: "anthropic",
			ModelID:  "claude-sonnet-4-5",
		},
	}
}

// Resolve overlays the given layers, in order, onto the built-in defaults.
func Resolve(layers ...Layer) Effective {
	effective := BuiltIn()
	for _, layer := range layers {
		layer = layer.normalize()
		if layer.PlanningModelConfig != nil {
			effective.PlanningModelConfig = *layer.PlanningModelConfig
		}
		if layer.ExecutionModelConfig != nil {
			effective.ExecutionModelConfig = *layer.ExecutionModelConfig
		}
		if layer.PlanningFallbackModels != nil {
			effective.PlanningFallbackModels = append([]models.ModelConfig(nil), layer.PlanningFallbackModels...)
		}
		if layer.ExecutionFallbackModels != nil {
			effective.ExecutionFallbackModels = append([]models.ModelConfig(nil), layer.ExecutionFallbackModels...)
		}
		if layer.PreExecutionSkills != nil {
			effective.PreExecutionSkills = append([]string(nil), layer.PreExecutionSkills...)
		}
		if layer.PostExecutionSkills != nil {
			effective.PostExecutionSkills = append([]string(nil), layer.PostExecutionSkills...)
		}
		if layer.PlanningPromptTemplate != "" {
			effective.PlanningPromptTemplate = layer.PlanningPromptTemplate
		}
		if layer.ExecutionPromptTemplate != "" {
			effective.ExecutionPromptTemplate = layer.ExecutionPromptTemplate
		}
	}
	return effective
}

// SkillLookup resolves skill ids to definitions.
type SkillLookup interface {
	Skill(id string) (models.Skill, bool)
}

// ReasoningCapable reports whether a model supports extended thinking.
// Thinking levels are rejected on models outside this predicate.
type ReasoningCapable func(cfg models.ModelConfig) bool

// DefaultReasoningCapable matches the current reasoning-capable model
// families by model id substring.
func DefaultReasoningCapable(cfg models.ModelConfig) bool {
	id := strings.ToLower(cfg.ModelID)
	for _, marker := range []string{"opus", "sonnet", "haiku-4", "gpt-5", "o1", "o3", "gemini-2", "thinking", "r1"} {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}

// Validator checks resolved configurations against the skill catalog and the
// reasoning-capable predicate.
type Validator struct {
	skills    SkillLookup
	reasoning ReasoningCapable
}

// NewValidator creates a validator. A nil reasoning predicate falls back to
// DefaultReasoningCapable.
func NewValidator(skills SkillLookup, reasoning ReasoningCapable) *Validator {
	if reasoning == nil {
		reasoning = DefaultReasoningCapable
	}
	return &Validator{skills: skills, reasoning: reasoning}
}

// Validate checks every model config and skill assignment in the effective
// configuration.
func (v *Validator) Validate(effective Effective) error {
	if err := v.validateModel("planningModelConfig", effective.PlanningModelConfig); err != nil {
		return err
	}
	if err := v.validateModel("executionModelConfig", effective.ExecutionModelConfig); err != nil {
		return err
	}
	for i, cfg := range effective.PlanningFallbackModels {
		if err := v.validateModel(fmt.Sprintf("planningFallbackModels[%d]", i), cfg); err != nil {
			return err
		}
	}
	for i, cfg := range effective.ExecutionFallbackModels {
		if err := v.validateModel(fmt.Sprintf("executionFallbackModels[%d]", i), cfg); err != nil {
			return err
		}
	}
	if err := v.validateSkills(effective.PreExecutionSkills, models.HookPre); err != nil {
		return err
	}
	return v.validateSkills(effective.PostExecutionSkills, models.HookPost)
}

func (v *Validator) validateModel(field string, cfg models.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return taskerr.Validationf("%s: %v", field, err)
	}
	if cfg.ThinkingLevel != "" && cfg.ThinkingLevel != models.ThinkingOff && !v.reasoning(cfg) {
		return taskerr.Validationf("%s: model %s does not support thinking level %q", field, cfg.ModelID, cfg.ThinkingLevel)
	}
	return nil
}

func (v *Validator) validateSkills(ids []string, hook models.SkillHook) error {
	for _, id := range ids {
		skill, ok := v.skills.Skill(id)
		if !ok {
			return taskerr.NotFoundf("unknown skill %q", id)
		}
		if !skill.SupportsHook(hook) {
			return taskerr.Validationf("skill %q does not declare the %s hook", id, hook)
		}
	}
	return nil
}

// LoadLayer reads one overlay layer from a YAML file. A missing file yields
// an empty layer; a malformed file is an error.
func LoadLayer(path string, log logger.Logger) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layer{}, nil
		}
		return Layer{}, fmt.Errorf("failed to read defaults file %s: %w", path, err)
	}
	var layer Layer
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return Layer{}, taskerr.Validationf("malformed defaults file %s: %v", path, err)
	}
	logger.OrNop(log).Debugf("defaults: loaded layer from %s", path)
	return layer.normalize(), nil
}
