package taskstore

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// criteriaHeading is the body section scanned when frontmatter carries no
// acceptance criteria.
const criteriaHeading = "acceptance criteria"

var markdown = goldmark.New()

// CriteriaFromBody extracts checklist or bullet items under an
// "## Acceptance Criteria" heading in the task body. Items are trimmed;
// empty items and leading checkbox markers are dropped. Returns nil when the
// section is absent.
func CriteriaFromBody(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	source := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var criteria []string
	inSection := false

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if heading, ok := n.(*ast.Heading); ok {
			title := strings.ToLower(strings.TrimSpace(nodeText(heading, source)))
			if inSection {
				// Any subsequent heading ends the section.
				return ast.WalkStop, nil
			}
			inSection = title == criteriaHeading
			return ast.WalkContinue, nil
		}

		if !inSection {
			return ast.WalkContinue, nil
		}

		if item, ok := n.(*ast.ListItem); ok {
			line := strings.TrimSpace(nodeText(item, source))
			line = stripCheckbox(line)
			if line != "" {
				criteria = append(criteria, line)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return criteria
}

// stripCheckbox removes a leading "[ ]" / "[x]" marker from a list item.
func stripCheckbox(line string) string {
	for _, marker := range []string{"[ ]", "[x]", "[X]"} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
	}
	return line
}

// nodeText collects the raw text content beneath a node.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
