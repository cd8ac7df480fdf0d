package defaults

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

// Catalog is a skill catalog loaded from a YAML file. It satisfies
// SkillLookup.
type Catalog struct {
	skills map[string]models.Skill
	order  []string
}

// LoadCatalog reads skill definitions from a YAML file holding a list of
// skills. A missing file yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := &Catalog{skills: make(map[string]models.Skill)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return nil, fmt.Errorf("failed to read skills file %s: %w", path, err)
	}

	var skills []models.Skill
	if err := yaml.Unmarshal(data, &skills); err != nil {
		return nil, taskerr.Validationf("malformed skills file %s: %v", path, err)
	}
	for _, skill := range skills {
		if skill.ID == "" {
			return nil, taskerr.Validationf("skills file %s: skill with empty id", path)
		}
		if _, exists := catalog.skills[skill.ID]; exists {
			return nil, taskerr.Validationf("skills file %s: duplicate skill id %q", path, skill.ID)
		}
		catalog.skills[skill.ID] = skill
		catalog.order = append(catalog.order, skill.ID)
	}
	return catalog, nil
}

// Skill resolves a skill by id.
func (c *Catalog) Skill(id string) (models.Skill, bool) {
	skill, ok := c.skills[id]
	return skill, ok
}

// List returns all skills in file order.
func (c *Catalog) List() []models.Skill {
	out := make([]models.Skill, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.skills[id])
	}
	return out
}
