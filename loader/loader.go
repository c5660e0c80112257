// Package loader reads agent and skill definitions from Markdown files.
// An agent definition is a Markdown file with YAML frontmatter (role,
// description, skills) whose body becomes the agent's system
// instructions. Skills referenced in the frontmatter are resolved from
// skills/<name>/SKILL.md under the same directory and appended to the
// instructions.
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Definition is a parsed agent definition.
type Definition struct {
	// Name is the file basename without extension, used as the agent key.
	Name string
	// DisplayName is the first level-1 heading of the body, if any.
	DisplayName string
	Role        string
	Description string
	Skills      []string
	// Instructions is the Markdown body plus any resolved skill bodies.
	Instructions string
}

// frontmatter is the YAML block between the leading "---" fences.
type frontmatter struct {
	Role        string   `yaml:"role"`
	Description string   `yaml:"description"`
	Skills      []string `yaml:"skills"`
}

// LoadAgent reads dir/<name>.md and resolves its skills.
func LoadAgent(dir, name string) (Definition, error) {
	path := filepath.Join(dir, name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("load agent %s: %w", name, err)
	}

	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return Definition{}, fmt.Errorf("load agent %s: %w", name, err)
	}

	def := Definition{
		Name:         name,
		DisplayName:  firstHeading(body),
		Role:         fm.Role,
		Description:  fm.Description,
		Skills:       fm.Skills,
		Instructions: strings.TrimSpace(string(body)),
	}

	for _, skill := range fm.Skills {
		body, err := LoadSkill(dir, skill)
		if err != nil {
			return Definition{}, fmt.Errorf("load agent %s: %w", name, err)
		}
		def.Instructions += "\n\n## Skill: " + skill + "\n\n" + body
	}

	return def, nil
}

// LoadSkill reads dir/skills/<name>/SKILL.md and returns its body with
// any frontmatter stripped.
func LoadSkill(dir, name string) (string, error) {
	path := filepath.Join(dir, "skills", name, "SKILL.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("skill %s: %w", name, err)
	}
	_, body, err := splitFrontmatter(data)
	if err != nil {
		return "", fmt.Errorf("skill %s: %w", name, err)
	}
	return strings.TrimSpace(string(body)), nil
}

// LoadAll parses every *.md file in dir (non-recursive) as an agent
// definition, keyed by basename.
func LoadAll(dir string) (map[string]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	defs := make(map[string]Definition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		def, err := LoadAgent(dir, name)
		if err != nil {
			return nil, err
		}
		defs[name] = def
	}
	return defs, nil
}

// splitFrontmatter separates the YAML frontmatter block from the body.
// A file without a frontmatter fence is all body.
func splitFrontmatter(data []byte) (frontmatter, []byte, error) {
	var fm frontmatter

	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return fm, data, nil
	}

	rest := data[bytes.IndexByte(data, '\n')+1:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, nil, fmt.Errorf("unterminated frontmatter")
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	if err := yaml.Unmarshal(block, &fm); err != nil {
		return fm, nil, fmt.Errorf("frontmatter: %w", err)
	}
	return fm, body, nil
}

// firstHeading returns the text of the first level-1 heading in the
// Markdown body, or empty if there is none.
func firstHeading(body []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(body))

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				b.Write(t.Segment.Value(body))
			}
		}
		title = b.String()
		return ast.WalkStop, nil
	})
	return title
}
