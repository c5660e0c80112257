package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	castellan "github.com/castellan-ai/castellan"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	root := t.TempDir()
	tool, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tool, root
}

func exec(t *testing.T, tool *Tool, name, args string) castellan.ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestWriteThenRead(t *testing.T) {
	tool, _ := newTestTool(t)

	res := exec(t, tool, "write_file", `{"path":"notes/a.txt","content":"hello sandbox"}`)
	if res.Error != "" {
		t.Fatalf("write_file error: %s", res.Error)
	}

	res = exec(t, tool, "read_file", `{"path":"notes/a.txt"}`)
	if res.Error != "" {
		t.Fatalf("read_file error: %s", res.Error)
	}
	if res.Content != "hello sandbox" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestReadMissingFile(t *testing.T) {
	tool, _ := newTestTool(t)
	res := exec(t, tool, "read_file", `{"path":"nope.txt"}`)
	if res.Error == "" {
		t.Fatal("expected error for missing file")
	}
}

func TestLs(t *testing.T) {
	tool, root := newTestTool(t)
	os.MkdirAll(filepath.Join(root, "sub"), 0o755)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644)

	res := exec(t, tool, "ls", `{"path":""}`)
	if res.Error != "" {
		t.Fatalf("ls error: %s", res.Error)
	}
	if !strings.Contains(res.Content, "sub/") || !strings.Contains(res.Content, "b.txt") {
		t.Errorf("ls output = %q", res.Content)
	}
}

func TestEditFile(t *testing.T) {
	tool, root := newTestTool(t)
	os.WriteFile(filepath.Join(root, "cfg.txt"), []byte("port=8080\nhost=local\n"), 0o644)

	res := exec(t, tool, "edit_file", `{"path":"cfg.txt","old_text":"port=8080","new_text":"port=9090"}`)
	if res.Error != "" {
		t.Fatalf("edit_file error: %s", res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(root, "cfg.txt"))
	if !strings.Contains(string(data), "port=9090") {
		t.Errorf("file = %q", data)
	}

	res = exec(t, tool, "edit_file", `{"path":"cfg.txt","old_text":"absent","new_text":"x"}`)
	if res.Error == "" {
		t.Fatal("expected error when old_text missing")
	}
}

func TestGlob(t *testing.T) {
	tool, root := newTestTool(t)
	os.MkdirAll(filepath.Join(root, "src", "deep"), 0o755)
	os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "src", "deep", "util.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "readme.md"), []byte("x"), 0o644)

	res := exec(t, tool, "glob", `{"pattern":"**/*.go"}`)
	if res.Error != "" {
		t.Fatalf("glob error: %s", res.Error)
	}
	for _, want := range []string{"src/main.go", "src/deep/util.go"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("glob output missing %s: %q", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "readme.md") {
		t.Errorf("glob matched non-go file: %q", res.Content)
	}
}

func TestGrep(t *testing.T) {
	tool, root := newTestTool(t)
	os.WriteFile(filepath.Join(root, "log.txt"), []byte("ok line\nerror: disk full\nok again\n"), 0o644)

	res := exec(t, tool, "grep", `{"query":"disk full"}`)
	if res.Error != "" {
		t.Fatalf("grep error: %s", res.Error)
	}
	if !strings.Contains(res.Content, "log.txt:2:error: disk full") {
		t.Errorf("grep output = %q", res.Content)
	}

	res = exec(t, tool, "grep", `{"query":"no such needle"}`)
	if res.Content != "(no matches)" {
		t.Errorf("expected no matches, got %q", res.Content)
	}
}

func TestPathEscapesRejected(t *testing.T) {
	tool, _ := newTestTool(t)

	cases := []string{
		`{"path":"../outside.txt"}`,
		`{"path":"/etc/passwd"}`,
		`{"path":"a/../../b"}`,
	}
	for _, args := range cases {
		res := exec(t, tool, "read_file", args)
		if res.Error == "" {
			t.Errorf("args %s: expected rejection", args)
			continue
		}
		if strings.Contains(res.Error, "read error") {
			t.Errorf("args %s: rejected by the filesystem, not the resolver: %s", args, res.Error)
		}
	}
}

func TestGlobPatternEscapeRejected(t *testing.T) {
	tool, _ := newTestTool(t)
	res := exec(t, tool, "glob", `{"pattern":"../**"}`)
	if res.Error == "" {
		t.Fatal("expected rejection for escaping pattern")
	}
}

func TestUnknownToolName(t *testing.T) {
	tool, _ := newTestTool(t)
	res := exec(t, tool, "rm_rf", `{}`)
	if res.Error == "" {
		t.Fatal("expected unknown tool error")
	}
}
