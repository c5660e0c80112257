package castellan

import (
	"strings"
	"testing"
)

func newTestValidator(t *testing.T, domains ...string) *ArgValidator {
	t.Helper()
	v, err := NewArgValidator(t.TempDir(), domains)
	if err != nil {
		t.Fatalf("NewArgValidator: %v", err)
	}
	return v
}

func TestResolvePath(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"plain relative", "notes.txt", true},
		{"nested", "a/b/c.txt", true},
		{"dot segment", "./a.txt", true},
		{"internal up-and-back", "a/../b.txt", true},
		{"empty", "", false},
		{"absolute", "/etc/passwd", false},
		{"parent traversal", "../outside.txt", false},
		{"deep traversal", "a/../../outside.txt", false},
		{"unc path", `\\server\share`, false},
		{"null byte", "a\x00b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := v.ResolvePath(tt.path)
			if tt.ok && err != nil {
				t.Fatalf("rejected: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("accepted, resolved to %s", resolved)
			}
			if tt.ok && !strings.HasPrefix(resolved, v.SandboxRoot) {
				t.Errorf("resolved outside sandbox: %s", resolved)
			}
		})
	}
}

func TestInSandbox(t *testing.T) {
	v := newTestValidator(t)
	if !v.InSandbox("sub/file.txt") {
		t.Error("relative path reported outside sandbox")
	}
	if v.InSandbox("../file.txt") {
		t.Error("traversal reported inside sandbox")
	}
}

func TestValidatePathArgs(t *testing.T) {
	v := newTestValidator(t)

	if err := v.Validate("read_file", map[string]any{"path": "ok.txt"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := v.Validate("read_file", map[string]any{"path": "../up.txt"}); err == nil {
		t.Error("traversal in path arg accepted")
	}
	// Only path-like keys get path validation.
	if err := v.Validate("grep", map[string]any{"query": "/etc/passwd"}); err != nil {
		t.Errorf("non-path arg treated as path: %v", err)
	}
	// Null bytes are rejected anywhere, including nested values.
	if err := v.Validate("write_file", map[string]any{
		"path": "a.txt",
		"meta": map[string]any{"tag": "x\x00y"},
	}); err == nil {
		t.Error("nested null byte accepted")
	}
}

func TestValidateEmail(t *testing.T) {
	v := newTestValidator(t)

	ok := map[string]any{"to": "alice@example.com", "subject": "hi", "body": "text"}
	if err := v.Validate("send_email", ok); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}

	for name, args := range map[string]map[string]any{
		"missing recipient": {"subject": "hi"},
		"junk recipient":    {"to": "not-an-address"},
		"oversize subject":  {"to": "a@b.com", "subject": strings.Repeat("s", maxEmailSubject+1)},
		"oversize body":     {"to": "a@b.com", "subject": "hi", "body": strings.Repeat("b", maxEmailBody+1)},
	} {
		if err := v.Validate("send_email", args); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestValidateEmailAllowlist(t *testing.T) {
	v := newTestValidator(t, "example.com", "corp.internal")

	if err := v.Validate("send_email", map[string]any{"to": "bob@example.com", "subject": "s", "body": "b"}); err != nil {
		t.Errorf("allowlisted domain rejected: %v", err)
	}
	if err := v.Validate("send_email", map[string]any{"to": "bob@EXAMPLE.COM", "subject": "s", "body": "b"}); err != nil {
		t.Errorf("allowlist should be case-insensitive: %v", err)
	}
	if err := v.Validate("send_email", map[string]any{"to": "bob@evil.com", "subject": "s", "body": "b"}); err == nil {
		t.Error("non-allowlisted domain accepted")
	}
}
