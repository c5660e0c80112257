// Package file provides the built-in filesystem tools: ls, read_file,
// write_file, edit_file, glob, and grep. Every path is resolved against
// a sandbox root and rejected if it escapes it; the risk gate validates
// paths again upstream, but the tool never trusts its caller.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	castellan "github.com/castellan-ai/castellan"
	"github.com/bmatcuk/doublestar/v4"
)

// maxReadChars bounds read_file and grep output before the interpreter's
// eviction logic even sees it.
const maxReadChars = 100000

// Tool provides sandboxed filesystem access.
type Tool struct {
	root string
}

// Compile-time interface check.
var _ castellan.Tool = (*Tool)(nil)

// New creates a filesystem Tool restricted to root. The directory is
// created if missing.
func New(root string) (*Tool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("file tool: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("file tool: %w", err)
	}
	return &Tool{root: abs}, nil
}

func (t *Tool) Definitions() []castellan.ToolDefinition {
	return []castellan.ToolDefinition{
		{
			Name:        "ls",
			Description: "List directory contents in the workspace. Directories are suffixed with /.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace, empty for the root"}}}`),
		},
		{
			Name:        "read_file",
			Description: "Read a file from the workspace. Returns the file content.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace. Creates parent directories if needed.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
		},
		{
			Name:        "edit_file",
			Description: "Replace the first occurrence of old_text with new_text in a workspace file.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"old_text":{"type":"string","description":"Exact text to replace"},"new_text":{"type":"string","description":"Replacement text"}},"required":["path","old_text","new_text"]}`),
		},
		{
			Name:        "glob",
			Description: "Match workspace files against a glob pattern. Supports ** for recursive matching.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string","description":"Glob pattern, e.g. **/*.go"}},"required":["pattern"]}`),
		},
		{
			Name:        "grep",
			Description: "Search workspace files for a literal substring. Returns matching lines as path:line:text.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Substring to search for"},"path":{"type":"string","description":"Directory to search, empty for the whole workspace"}},"required":["query"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (castellan.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		OldText string `json:"old_text"`
		NewText string `json:"new_text"`
		Pattern string `json:"pattern"`
		Query   string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return castellan.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	switch name {
	case "ls":
		return t.ls(params.Path)
	case "read_file":
		return t.read(params.Path)
	case "write_file":
		return t.write(params.Path, params.Content)
	case "edit_file":
		return t.edit(params.Path, params.OldText, params.NewText)
	case "glob":
		return t.glob(params.Pattern)
	case "grep":
		return t.grep(params.Query, params.Path)
	default:
		return castellan.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

// resolve maps a workspace-relative path onto the sandbox root,
// rejecting anything that would land outside it.
func (t *Tool) resolve(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null byte")
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, `\\`) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	for _, seg := range strings.Split(clean, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal not allowed: %s", path)
		}
	}
	resolved := filepath.Join(t.root, clean)
	if resolved != t.root && !strings.HasPrefix(resolved, t.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func (t *Tool) ls(path string) (castellan.ToolResult, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return castellan.ToolResult{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return castellan.ToolResult{Error: "ls error: " + err.Error()}, nil
	}
	if len(entries) == 0 {
		return castellan.ToolResult{Content: "(empty)"}, nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return castellan.ToolResult{Content: strings.Join(names, "\n")}, nil
}

func (t *Tool) read(path string) (castellan.ToolResult, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return castellan.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return castellan.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return castellan.ToolResult{Content: content}, nil
}

func (t *Tool) write(path, content string) (castellan.ToolResult, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return castellan.ToolResult{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return castellan.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return castellan.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return castellan.ToolResult{Content: fmt.Sprintf("Written %d bytes to %s", len(content), path)}, nil
}

func (t *Tool) edit(path, oldText, newText string) (castellan.ToolResult, error) {
	if oldText == "" {
		return castellan.ToolResult{Error: "old_text must not be empty"}, nil
	}
	resolved, err := t.resolve(path)
	if err != nil {
		return castellan.ToolResult{Error: err.Error()}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return castellan.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if !strings.Contains(content, oldText) {
		return castellan.ToolResult{Error: "old_text not found in " + path}, nil
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return castellan.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return castellan.ToolResult{Content: "Edited " + path}, nil
}

func (t *Tool) glob(pattern string) (castellan.ToolResult, error) {
	if pattern == "" {
		return castellan.ToolResult{Error: "pattern is required"}, nil
	}
	if filepath.IsAbs(pattern) || strings.Contains(pattern, "..") {
		return castellan.ToolResult{Error: "pattern must stay inside the workspace"}, nil
	}
	matches, err := doublestar.Glob(os.DirFS(t.root), pattern)
	if err != nil {
		return castellan.ToolResult{Error: "glob error: " + err.Error()}, nil
	}
	if len(matches) == 0 {
		return castellan.ToolResult{Content: "(no matches)"}, nil
	}
	sort.Strings(matches)
	return castellan.ToolResult{Content: strings.Join(matches, "\n")}, nil
}

func (t *Tool) grep(query, path string) (castellan.ToolResult, error) {
	if query == "" {
		return castellan.ToolResult{Error: "query is required"}, nil
	}
	resolved, err := t.resolve(path)
	if err != nil {
		return castellan.ToolResult{Error: err.Error()}, nil
	}

	var b strings.Builder
	walkErr := filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if strings.Contains(scanner.Text(), query) {
				fmt.Fprintf(&b, "%s:%d:%s\n", rel, line, scanner.Text())
				if b.Len() > maxReadChars {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return castellan.ToolResult{Error: "grep error: " + walkErr.Error()}, nil
	}
	if b.Len() == 0 {
		return castellan.ToolResult{Content: "(no matches)"}, nil
	}
	return castellan.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
