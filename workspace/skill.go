package workspace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/threadrelay/relaycontract"
)

// Scope says where a skill was found.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
)

// StringOrArray unmarshals from a comma-separated string or a YAML list.
type StringOrArray []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringOrArray) UnmarshalYAML(value *yaml.Node) error {
	var arr []string
	if err := value.Decode(&arr); err == nil {
		*s = arr
		return nil
	}

	var str string
	if err := value.Decode(&str); err == nil {
		var out []string
		for _, p := range strings.Split(str, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*s = out
		return nil
	}
	return errors.New("allowed-tools must be a string or array")
}

// Skill is one skill folder.
type Skill struct {
	Name         string        `yaml:"name" json:"name"`
	Description  string        `yaml:"description" json:"description"`
	AllowedTools StringOrArray `yaml:"allowed-tools,omitempty" json:"allowed_tools,omitempty"`

	Content string `yaml:"-" json:"content"`
	Path    string `yaml:"-" json:"path"`
	Scope   Scope  `yaml:"-" json:"scope"`
	// HasSkillFile is false for folders without a non-empty SKILL.md.
	HasSkillFile bool `yaml:"-" json:"has_skill_file"`
}

// ParseSkillMD reads a skill folder. Frontmatter is optional; without it
// the folder name is the skill name and the whole file is content.
func ParseSkillMD(dir string) (*Skill, error) {
	skill := &Skill{Name: filepath.Base(dir), Path: dir}

	data, err := os.ReadFile(filepath.Join(dir, relaycontract.FileSkillMD))
	if errors.Is(err, os.ErrNotExist) {
		return skill, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relaycontract.FileSkillMD, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return skill, nil
	}
	skill.HasSkillFile = true

	if !bytes.HasPrefix(data, []byte("---")) {
		skill.Content = strings.TrimSpace(string(data))
		return skill, nil
	}

	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relaycontract.FileSkillMD, err)
	}
	if err := yaml.Unmarshal([]byte(front), skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Name == "" {
		skill.Name = filepath.Base(dir)
	}
	skill.Content = body
	return skill, nil
}

func splitFrontmatter(data []byte) (string, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var front, body []string
	inFront, closed := false, false

	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		switch {
		case n == 1 && line == "---":
			inFront = true
		case inFront && line == "---":
			inFront, closed = false, true
		case inFront:
			front = append(front, line)
		case closed:
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("scan content: %w", err)
	}
	if !closed {
		return "", "", errors.New("frontmatter not closed (missing ---)")
	}
	return strings.Join(front, "\n"), strings.TrimSpace(strings.Join(body, "\n")), nil
}

// ListSkills parses every skill folder directly under dir. A missing dir
// yields no skills. Folders whose SKILL.md cannot be parsed are skipped.
func ListSkills(dir string, scope Scope) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills directory: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := ParseSkillMD(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		skill.Scope = scope
		skills = append(skills, *skill)
	}
	sortSkills(skills)
	return skills, nil
}

func sortSkills(skills []Skill) {
	sort.SliceStable(skills, func(i, j int) bool {
		return skills[i].Name < skills[j].Name
	})
}
