package defaults

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

func cfg(provider, modelID string) *models.ModelConfig {
	return &models.ModelConfig{Provider: provider, ModelID: modelID}
}

func TestResolveBuiltIn(t *testing.T) {
	effective := Resolve()
	if effective.ExecutionModelConfig.Provider != "anthropic" {
		t.Errorf("execution provider = %q", effective.ExecutionModelConfig.Provider)
	}
	if effective.PlanningModelConfig.IsZero() {
		t.Error("planning model missing from built-ins")
	}
}

func TestResolveOverlayLaterLayersWin(t *testing.T) {
	global := Layer{
		ExecutionModelConfig: cfg("anthropic", "claude-opus-4"),
		PreExecutionSkills:   []string{"lint"},
	}
	workspace := Layer{
		PlanningModelConfig: cfg("openai", "gpt-5"),
	}
	request := Layer{
		ExecutionModelConfig: cfg("anthropic", "claude-sonnet-4-5"),
	}

	effective := Resolve(global, workspace, request)
	if effective.ExecutionModelConfig.ModelID != "claude-sonnet-4-5" {
		t.Errorf("execution model = %q, want request layer", effective.ExecutionModelConfig.ModelID)
	}
	if effective.PlanningModelConfig.ModelID != "gpt-5" {
		t.Errorf("planning model = %q, want workspace layer", effective.PlanningModelConfig.ModelID)
	}
	if len(effective.PreExecutionSkills) != 1 || effective.PreExecutionSkills[0] != "lint" {
		t.Errorf("pre skills = %v, want inherited from global", effective.PreExecutionSkills)
	}
}

func TestResolveEmptyFieldsInherit(t *testing.T) {
	lower := Layer{
		ExecutionFallbackModels: []models.ModelConfig{{Provider: "openai", ModelID: "gpt-5"}},
		ExecutionPromptTemplate: "do it",
	}
	effective := Resolve(lower, Layer{})
	if len(effective.ExecutionFallbackModels) != 1 {
		t.Errorf("fallbacks = %v", effective.ExecutionFallbackModels)
	}
	if effective.ExecutionPromptTemplate != "do it" {
		t.Errorf("template = %q", effective.ExecutionPromptTemplate)
	}
}

func TestLegacyModelConfigAlias(t *testing.T) {
	// Only the legacy spelling set: it feeds executionModelConfig.
	legacy := Layer{ModelConfig: cfg("anthropic", "claude-opus-4")}
	effective := Resolve(legacy)
	if effective.ExecutionModelConfig.ModelID != "claude-opus-4" {
		t.Errorf("execution model = %q, want legacy alias honored", effective.ExecutionModelConfig.ModelID)
	}

	// Both set: executionModelConfig wins.
	both := Layer{
		ModelConfig:          cfg("anthropic", "claude-opus-4"),
		ExecutionModelConfig: cfg("anthropic", "claude-sonnet-4-5"),
	}
	effective = Resolve(both)
	if effective.ExecutionModelConfig.ModelID != "claude-sonnet-4-5" {
		t.Errorf("execution model = %q, want executionModelConfig to win", effective.ExecutionModelConfig.ModelID)
	}

	normalized := both.normalize()
	if normalized.ModelConfig.ModelID != "claude-sonnet-4-5" {
		t.Errorf("normalize did not rewrite the alias: %q", normalized.ModelConfig.ModelID)
	}
}

func TestLoadLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task-defaults.yaml")
	content := `modelConfig:
  provider: anthropic
  modelId: claude-opus-4
postExecutionSkills:
  - review
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	layer, err := LoadLayer(path, nil)
	if err != nil {
		t.Fatalf("LoadLayer failed: %v", err)
	}
	if layer.ExecutionModelConfig == nil || layer.ExecutionModelConfig.ModelID != "claude-opus-4" {
		t.Errorf("legacy alias not normalized on load: %+v", layer.ExecutionModelConfig)
	}
	if len(layer.PostExecutionSkills) != 1 {
		t.Errorf("post skills = %v", layer.PostExecutionSkills)
	}

	// Missing file is an empty layer, not an error.
	empty, err := LoadLayer(filepath.Join(dir, "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("LoadLayer on missing file = %v", err)
	}
	if empty.ExecutionModelConfig != nil {
		t.Errorf("missing file layer = %+v", empty)
	}

	// Malformed YAML is a validation error.
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte(": : :"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLayer(bad, nil); !taskerr.IsValidation(err) {
		t.Errorf("malformed file error = %v, want validation", err)
	}
}

func TestDefaultReasoningCapable(t *testing.T) {
	cases := []struct {
		modelID string
		want    bool
	}{
		{"claude-opus-4", true},
		{"claude-sonnet-4-5", true},
		{"gpt-5", true},
		{"gemini-2.5-pro", true},
		{"deepseek-r1", true},
		{"gpt-4o-mini", false},
		{"claude-haiku-3", false},
	}
	for _, tc := range cases {
		got := DefaultReasoningCapable(models.ModelConfig{ModelID: tc.modelID})
		if got != tc.want {
			t.Errorf("DefaultReasoningCapable(%q) = %v, want %v", tc.modelID, got, tc.want)
		}
	}
}

type fakeSkills map[string]models.Skill

func (f fakeSkills) Skill(id string) (models.Skill, bool) {
	s, ok := f[id]
	return s, ok
}

func TestValidatorThinkingLevel(t *testing.T) {
	v := NewValidator(fakeSkills{}, nil)

	effective := BuiltIn()
	effective.ExecutionModelConfig = models.ModelConfig{
		Provider:      "openai",
		ModelID:       "gpt-4o-mini",
		ThinkingLevel: models.ThinkingHigh,
	}
	if err := v.Validate(effective); !taskerr.IsValidation(err) {
		t.Errorf("thinking on non-reasoning model = %v, want validation", err)
	}

	// thinkingLevel off is always fine.
	effective.ExecutionModelConfig.ThinkingLevel = models.ThinkingOff
	if err := v.Validate(effective); err != nil {
		t.Errorf("thinking off rejected: %v", err)
	}

	effective.ExecutionModelConfig = models.ModelConfig{
		Provider:      "anthropic",
		ModelID:       "claude-opus-4",
		ThinkingLevel: models.ThinkingHigh,
	}
	if err := v.Validate(effective); err != nil {
		t.Errorf("thinking on reasoning model rejected: %v", err)
	}
}

func TestValidatorSkills(t *testing.T) {
	skills := fakeSkills{
		"lint": {ID: "lint", Name: "Lint", Type: models.SkillFollowUp, Hooks: []models.SkillHook{models.HookPre}},
	}
	v := NewValidator(skills, nil)

	effective := BuiltIn()
	effective.PreExecutionSkills = []string{"lint"}
	if err := v.Validate(effective); err != nil {
		t.Errorf("valid skill assignment rejected: %v", err)
	}

	effective.PreExecutionSkills = []string{"missing"}
	if err := v.Validate(effective); !taskerr.IsNotFound(err) {
		t.Errorf("unknown skill error = %v, want not found", err)
	}

	// lint only declares the pre hook.
	effective.PreExecutionSkills = nil
	effective.PostExecutionSkills = []string{"lint"}
	if err := v.Validate(effective); !taskerr.IsValidation(err) {
		t.Errorf("wrong hook error = %v, want validation", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.yaml")
	content := `- id: lint
  name: Lint
  type: follow-up
  hooks: [pre]
  template: "Run the linter."
- id: review
  name: Review
  type: loop
  hooks: [post]
  template: "Review the diff."
  maxIterations: 3
  doneSignal: LGTM
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if len(catalog.List()) != 2 {
		t.Fatalf("List = %v", catalog.List())
	}
	review, ok := catalog.Skill("review")
	if !ok || review.MaxIterations != 3 || review.DoneSignal != "LGTM" {
		t.Errorf("review skill = %+v", review)
	}

	// Missing file is an empty catalog.
	empty, err := LoadCatalog(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.List()) != 0 {
		t.Errorf("empty catalog has %d skills", len(empty.List()))
	}

	// Duplicate ids are rejected.
	dup := filepath.Join(dir, "dup.yaml")
	if err := os.WriteFile(dup, []byte("- id: a\n  name: A\n- id: a\n  name: B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(dup); !taskerr.IsValidation(err) {
		t.Errorf("duplicate id error = %v, want validation", err)
	}
}
