package contract

import (
	"fmt"
	"strings"

	"github.com/patleeman/taskfactory/internal/models"
)

// Preamble delimiters. The supervisor prepends the block to every agent turn
// and strips an echoed copy from assistant output.
const (
	preambleOpen  = "<task-state>"
	preambleClose = "</task-state>"
)

// BuildPreamble renders the state preamble for a turn: mode, phase,
// planning status, and the mode's allowed/forbidden tool lists.
func BuildPreamble(mode Mode, phase models.Phase, planningStatus models.PlanningStatus) string {
	c := For(mode)
	var sb strings.Builder
	sb.WriteString(preambleOpen + "\n")
	fmt.Fprintf(&sb, "mode: %s\n", mode)
	fmt.Fprintf(&sb, "phase: %s\n", phase)
	fmt.Fprintf(&sb, "planningStatus: %s\n", planningStatus)
	fmt.Fprintf(&sb, "allowedTools: %s\n", strings.Join(c.AllowedTools, ", "))
	fmt.Fprintf(&sb, "forbiddenTools: %s\n", strings.Join(c.ForbiddenTools, ", "))
	fmt.Fprintf(&sb, "completion: %s\n", c.CompletionRule)
	sb.WriteString(preambleClose)
	return sb.String()
}

// WithPreamble prepends the preamble block to a prompt.
func WithPreamble(preamble, prompt string) string {
	return preamble + "\n\n" + prompt
}

// StripPreamble removes an echoed preamble block from assistant output.
// Models occasionally repeat the block verbatim at the start of a reply.
func StripPreamble(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, preambleOpen) {
		return text
	}
	end := strings.Index(trimmed, preambleClose)
	if end < 0 {
		return text
	}
	return strings.TrimLeft(trimmed[end+len(preambleClose):], " \t\r\n")
}
