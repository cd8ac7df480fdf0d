package models

import (
	"errors"
	"strings"
)

// Plan is the structured plan artifact produced by a planning session.
// Legacy plans carry Goal/Steps/Validation/Cleanup; newer plans may instead
// (or additionally) carry VisualPlan sections. Both shapes are kept in sync
// by the save_plan normalization in the callback registry.
type Plan struct {
	Goal       string   `yaml:"goal,omitempty" json:"goal,omitempty"`
	Steps      []string `yaml:"steps,omitempty" json:"steps,omitempty"`
	Validation []string `yaml:"validation,omitempty" json:"validation,omitempty"`
	Cleanup    []string `yaml:"cleanup,omitempty" json:"cleanup,omitempty"`

	// VisualPlan sections have dynamic shapes. They are stored opaquely; the
	// only shape enforced is: non-empty, and each section carries a string
	// "component" tag.
	VisualPlan []map[string]any `yaml:"visualPlan,omitempty" json:"visualPlan,omitempty"`
}

// Validate enforces the minimum plan shape the task store needs.
func (p *Plan) Validate() error {
	if p == nil {
		return nil
	}
	hasLegacy := strings.TrimSpace(p.Goal) != "" || len(p.Steps) > 0
	if !hasLegacy && len(p.VisualPlan) == 0 {
		return errors.New("plan requires goal/steps or visualPlan sections")
	}
	for _, section := range p.VisualPlan {
		component, ok := section["component"].(string)
		if !ok || strings.TrimSpace(component) == "" {
			return errors.New("visualPlan sections require a component tag")
		}
	}
	return nil
}

// Clone returns a copy safe to mutate independently of the original.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := &Plan{
		Goal:       p.Goal,
		Steps:      append([]string(nil), p.Steps...),
		Validation: append([]string(nil), p.Validation...),
		Cleanup:    append([]string(nil), p.Cleanup...),
	}
	for _, section := range p.VisualPlan {
		dup := make(map[string]any, len(section))
		for k, v := range section {
			dup[k] = v
		}
		c.VisualPlan = append(c.VisualPlan, dup)
	}
	return c
}
