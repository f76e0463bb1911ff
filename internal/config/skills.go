package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SkillsFileName is the optional skills file inside the .wreckit directory.
const SkillsFileName = "skills.json"

// Skill restricts the tools available to agent runs while it is active.
type Skill struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools"`
}

// Skills is the parsed skills file. Active names select which skills apply;
// an empty Active list means every defined skill is active.
type Skills struct {
	Skills []Skill  `json:"skills"`
	Active []string `json:"active,omitempty"`
}

// LoadSkills reads the skills file for a project root. A missing file
// returns nil: no narrowing applies.
func LoadSkills(root string) (*Skills, error) {
	path := filepath.Join(root, DirName, SkillsFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading skills file: %w", err)
	}
	var skills Skills
	if err := json.Unmarshal(data, &skills); err != nil {
		return nil, fmt.Errorf("parsing skills file: %w", err)
	}
	return &skills, nil
}

// ToolUnion returns the union of tools across all active skills. Nil skills
// or an empty union means no narrowing applies.
func (s *Skills) ToolUnion() map[string]bool {
	if s == nil {
		return nil
	}

	active := map[string]bool{}
	for _, name := range s.Active {
		active[name] = true
	}
	all := len(s.Active) == 0

	union := map[string]bool{}
	for _, skill := range s.Skills {
		if !all && !active[skill.Name] {
			continue
		}
		for _, tool := range skill.Tools {
			union[tool] = true
		}
	}
	if len(union) == 0 {
		return nil
	}
	return union
}
