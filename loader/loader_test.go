package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAgent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "researcher.md"), `---
role: research assistant
description: Finds and summarizes information.
skills:
  - summarize
---
# Researcher

Gather sources before answering.
`)
	writeFile(t, filepath.Join(dir, "skills", "summarize", "SKILL.md"), `---
description: condense text
---
Keep summaries under three sentences.
`)

	def, err := LoadAgent(dir, "researcher")
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "researcher" {
		t.Errorf("name = %q", def.Name)
	}
	if def.DisplayName != "Researcher" {
		t.Errorf("display name = %q", def.DisplayName)
	}
	if def.Role != "research assistant" {
		t.Errorf("role = %q", def.Role)
	}
	if len(def.Skills) != 1 || def.Skills[0] != "summarize" {
		t.Errorf("skills = %v", def.Skills)
	}
	for _, want := range []string{"Gather sources", "## Skill: summarize", "under three sentences"} {
		if !strings.Contains(def.Instructions, want) {
			t.Errorf("instructions missing %q:\n%s", want, def.Instructions)
		}
	}
}

func TestLoadAgentMissingSkill(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), `---
skills: [nonexistent]
---
body
`)
	if _, err := LoadAgent(dir, "a"); err == nil {
		t.Fatal("expected error for missing skill")
	}
}

func TestLoadAgentNoFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plain.md"), "# Plain\n\nJust instructions.\n")

	def, err := LoadAgent(dir, "plain")
	if err != nil {
		t.Fatal(err)
	}
	if def.Role != "" || len(def.Skills) != 0 {
		t.Errorf("expected empty frontmatter, got %+v", def)
	}
	if def.DisplayName != "Plain" {
		t.Errorf("display name = %q", def.DisplayName)
	}
}

func TestLoadAgentUnterminatedFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.md"), "---\nrole: x\nno closing fence\n")
	if _, err := LoadAgent(dir, "bad"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.md"), "# One\nbody\n")
	writeFile(t, filepath.Join(dir, "two.md"), "# Two\nbody\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	defs, err := LoadAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if _, ok := defs["one"]; !ok {
		t.Error("missing definition one")
	}
}
