package taskstore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

const frontmatterDelimiter = "---"

// knownKeys lists the frontmatter keys the store owns, in serialization
// order. Anything else round-trips through Task.Extra untouched.
var knownKeys = []string{
	"id",
	"title",
	"created",
	"updated",
	"started",
	"completed",
	"phase",
	"order",
	"planningStatus",
	"plan",
	"acceptanceCriteria",
	"attachments",
	"planningModelConfig",
	"executionModelConfig",
	"planningFallbackModels",
	"executionFallbackModels",
	"preExecutionSkills",
	"postExecutionSkills",
	"sessionFile",
}

var knownKeySet = func() map[string]bool {
	set := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		set[k] = true
	}
	return set
}()

// DecodeTaskFile parses "frontmatter block + body" into a Task. Unknown
// frontmatter keys are preserved in Task.Extra.
func DecodeTaskFile(content []byte) (*models.Task, error) {
	body, frontmatter := splitFrontmatter(content)
	if frontmatter == nil {
		return nil, taskerr.Validationf("task file has no frontmatter block")
	}

	var task models.Task
	if err := yaml.Unmarshal(frontmatter, &task); err != nil {
		return nil, taskerr.Validationf("failed to parse frontmatter: %v", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(frontmatter, &raw); err != nil {
		return nil, taskerr.Validationf("failed to parse frontmatter: %v", err)
	}
	for key := range raw {
		if knownKeySet[key] {
			continue
		}
		if task.Extra == nil {
			task.Extra = make(map[string]any)
		}
		task.Extra[key] = raw[key]
	}

	if task.PlanningStatus == "" {
		task.PlanningStatus = models.PlanningNone
	}
	task.Body = string(body)
	return &task, nil
}

// EncodeTaskFile serializes a task as a normalized frontmatter block plus the
// body. Known keys are written in a stable order, then unknown keys sorted by
// name, so re-encoding an unchanged task is byte-stable.
func EncodeTaskFile(task *models.Task) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")

	fields, err := frontmatterFields(task)
	if err != nil {
		return nil, err
	}
	for _, field := range fields {
		chunk, err := yaml.Marshal(map[string]any{field.key: field.value})
		if err != nil {
			return nil, fmt.Errorf("failed to serialize frontmatter key %q: %w", field.key, err)
		}
		buf.Write(chunk)
	}

	buf.WriteString(frontmatterDelimiter + "\n")
	body := task.Body
	if body != "" {
		if !strings.HasPrefix(body, "\n") {
			buf.WriteString("\n")
		}
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}

type frontmatterField struct {
	key   string
	value any
}

func frontmatterFields(task *models.Task) ([]frontmatterField, error) {
	fields := []frontmatterField{
		{"id", task.ID},
		{"title", task.Title},
		{"created", task.Created},
		{"updated", task.Updated},
	}
	if task.Started != nil {
		fields = append(fields, frontmatterField{"started", *task.Started})
	}
	if task.Completed != nil {
		fields = append(fields, frontmatterField{"completed", *task.Completed})
	}
	fields = append(fields,
		frontmatterField{"phase", string(task.Phase)},
		frontmatterField{"order", task.Order},
		frontmatterField{"planningStatus", string(task.PlanningStatus)},
	)
	if task.Plan != nil {
		fields = append(fields, frontmatterField{"plan", task.Plan})
	}
	if len(task.AcceptanceCriteria) > 0 {
		fields = append(fields, frontmatterField{"acceptanceCriteria", task.AcceptanceCriteria})
	}
	if len(task.Attachments) > 0 {
		fields = append(fields, frontmatterField{"attachments", task.Attachments})
	}
	fields = append(fields,
		frontmatterField{"planningModelConfig", task.PlanningModelConfig},
		frontmatterField{"executionModelConfig", task.ExecutionModelConfig},
	)
	if len(task.PlanningFallbacks) > 0 {
		fields = append(fields, frontmatterField{"planningFallbackModels", task.PlanningFallbacks})
	}
	if len(task.ExecutionFallbacks) > 0 {
		fields = append(fields, frontmatterField{"executionFallbackModels", task.ExecutionFallbacks})
	}
	if len(task.PreExecutionSkills) > 0 {
		fields = append(fields, frontmatterField{"preExecutionSkills", task.PreExecutionSkills})
	}
	if len(task.PostExecutionSkills) > 0 {
		fields = append(fields, frontmatterField{"postExecutionSkills", task.PostExecutionSkills})
	}
	if task.SessionFile != "" {
		fields = append(fields, frontmatterField{"sessionFile", task.SessionFile})
	}

	extraKeys := make([]string, 0, len(task.Extra))
	for key := range task.Extra {
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		fields = append(fields, frontmatterField{key, task.Extra[key]})
	}
	return fields, nil
}

// encodedFieldChunks marshals each frontmatter field separately so two task
// states can be diffed key by key.
func encodedFieldChunks(task *models.Task) (map[string]string, error) {
	fields, err := frontmatterFields(task)
	if err != nil {
		return nil, err
	}
	chunks := make(map[string]string, len(fields))
	for _, field := range fields {
		chunk, err := yaml.Marshal(map[string]any{field.key: field.value})
		if err != nil {
			return nil, fmt.Errorf("failed to serialize frontmatter key %q: %w", field.key, err)
		}
		chunks[field.key] = string(chunk)
	}
	return chunks, nil
}

// changedFrontmatterKeys lists the keys whose serialized value differs from
// the prior snapshot, plus "body" when the body changed. The updated stamp is
// bumped on every write and is not reported.
func changedFrontmatterKeys(prior map[string]string, priorBody string, task *models.Task) []string {
	next, err := encodedFieldChunks(task)
	if err != nil {
		return nil
	}
	var changes []string
	for key, chunk := range next {
		if key == "updated" {
			continue
		}
		if prior[key] != chunk {
			changes = append(changes, key)
		}
	}
	for key := range prior {
		if _, ok := next[key]; !ok {
			changes = append(changes, key)
		}
	}
	if task.Body != priorBody {
		changes = append(changes, "body")
	}
	sort.Strings(changes)
	return changes
}

// splitFrontmatter separates a leading YAML frontmatter block from the body.
// Returns (content, nil) when no frontmatter is present.
func splitFrontmatter(content []byte) (body, frontmatter []byte) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte(frontmatterDelimiter)) {
		return content, nil
	}
	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte(frontmatterDelimiter)) {
			frontmatter = bytes.Join(lines[1:i], []byte("\n"))
			body = bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}
	return content, nil
}
