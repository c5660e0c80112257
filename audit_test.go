package castellan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuditChainAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}

	ctx := context.Background()
	for i, event := range []string{"policy_decision", "approval_granted", "tool_executed"} {
		if err := a.Append(ctx, event, map[string]any{"n": i}, "ALLOW", "low"); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if err := VerifyAuditLog(path); err != nil {
		t.Fatalf("VerifyAuditLog: %v", err)
	}

	// The first record chains off the genesis hash.
	lines := readLines(t, path)
	if len(lines) != 3 {
		t.Fatalf("lines = %d", len(lines))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if first["prev_hash"] != GenesisHash {
		t.Errorf("first prev_hash = %v", first["prev_hash"])
	}
}

func TestAuditChainHeadRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	a, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	if err := a.Append(ctx, "first", nil, "ALLOW", "low"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Reopening must pick up the chain where the last record left it.
	b, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := b.Append(ctx, "second", nil, "ALLOW", "low"); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if err := VerifyAuditLog(path); err != nil {
		t.Fatalf("chain broken across reopen: %v", err)
	}
}

func TestAuditTamperDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	ctx := context.Background()
	_ = a.Append(ctx, "one", map[string]any{"v": "original"}, "ALLOW", "low")
	_ = a.Append(ctx, "two", nil, "ALLOW", "low")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), "original", "modified", 1)
	if tampered == string(data) {
		t.Fatal("tamper target not found in log")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := VerifyAuditLog(path); err == nil {
		t.Fatal("tampered log verified clean")
	}
}

func TestAuditDegradedMode(t *testing.T) {
	// Pointing the log at a directory makes every append fail.
	dir := t.TempDir()
	a, err := NewAuditLog(dir)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	if a.Degraded() {
		t.Fatal("degraded before any append")
	}
	if err := a.Append(context.Background(), "event", nil, "ALLOW", "low"); err == nil {
		t.Fatal("append to directory succeeded")
	}
	if !a.Degraded() {
		t.Error("persistence failure did not mark the log degraded")
	}
}

func TestAuditSecondarySink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := &captureSink{}
	a, err := NewAuditLog(path, WithAuditSink(sink))
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	if err := a.Append(context.Background(), "mirrored", nil, "ALLOW", "low"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("sink records = %d", len(sink.records))
	}
	if !strings.Contains(string(sink.records[0]), `"event":"mirrored"`) {
		t.Errorf("sink record = %s", sink.records[0])
	}
}

type captureSink struct {
	records [][]byte
}

func (c *captureSink) Append(_ context.Context, record []byte) error {
	c.records = append(c.records, record)
	return nil
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
