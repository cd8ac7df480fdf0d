package models

import (
	"fmt"
	"strings"
)

// ThinkingLevel controls extended reasoning on models that support it.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// ValidThinkingLevel reports whether l is a known thinking level.
// Empty means "not set" and is always accepted.
func ValidThinkingLevel(l ThinkingLevel) bool {
	switch l {
	case "", ThinkingOff, ThinkingLow, ThinkingMedium, ThinkingHigh:
		return true
	}
	return false
}

// ModelConfig identifies a provider model plus optional reasoning level.
type ModelConfig struct {
	Provider      string        `yaml:"provider" json:"provider"`
	ModelID       string        `yaml:"modelId" json:"modelId"`
	ThinkingLevel ThinkingLevel `yaml:"thinkingLevel,omitempty" json:"thinkingLevel,omitempty"`
}

// Key returns the (provider, modelId) identity used by the execution breaker.
func (m ModelConfig) Key() string {
	return m.Provider + "/" + m.ModelID
}

// IsZero reports whether the config is unset.
func (m ModelConfig) IsZero() bool {
	return m.Provider == "" && m.ModelID == ""
}

// Validate checks provider and model id are present and the thinking level is known.
func (m ModelConfig) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("model config requires a provider")
	}
	if strings.TrimSpace(m.ModelID) == "" {
		return fmt.Errorf("model config requires a modelId")
	}
	if !ValidThinkingLevel(m.ThinkingLevel) {
		return fmt.Errorf("unknown thinking level %q", m.ThinkingLevel)
	}
	return nil
}
