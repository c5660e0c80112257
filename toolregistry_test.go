package castellan

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(newReadTool("x")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(newEmailTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !r.Allowed("read_file") || !r.Allowed("send_email") {
		t.Error("registered tools not allowed")
	}
	if r.Allowed("shell_exec") {
		t.Error("unregistered tool allowed")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "read_file" || names[1] != "send_email" {
		t.Errorf("names = %v, want sorted pair", names)
	}
	if d, ok := r.Definition("read_file"); !ok || d.Name != "read_file" {
		t.Errorf("definition lookup: ok=%v d=%+v", ok, d)
	}
	if len(r.Definitions()) != 2 {
		t.Errorf("definitions = %v", r.Definitions())
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(newReadTool("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(newReadTool("b")); err == nil {
		t.Fatal("duplicate tool name accepted")
	}
}

func TestRegisterEmptyParametersGetsPermissiveSchema(t *testing.T) {
	r := NewToolRegistry()
	bare := &fakeTool{
		defs: []ToolDefinition{{Name: "noop", Description: "does nothing"}},
		exec: func(string, map[string]any) ToolResult { return ToolResult{Content: "ok"} },
	}
	if err := r.Register(bare); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.ValidateArgs("noop", map[string]any{"anything": "goes"}); err != nil {
		t.Errorf("permissive schema rejected args: %v", err)
	}
}

func TestValidateArgs(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(newReadTool("x")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.ValidateArgs("read_file", map[string]any{"path": "a.txt"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := r.ValidateArgs("read_file", map[string]any{}); err == nil {
		t.Error("missing required property accepted")
	}
	if err := r.ValidateArgs("read_file", map[string]any{"path": 42}); err == nil {
		t.Error("wrong property type accepted")
	}
	// Unknown tools fail closed.
	if err := r.ValidateArgs("mystery", map[string]any{}); err == nil {
		t.Error("unknown tool validated")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	res, err := r.Execute(context.Background(), "mystery", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error == "" {
		t.Error("unknown tool executed without error")
	}
}

func TestLocalRunnerSuccess(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(newReadTool("file body")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	lr := NewLocalRunner(r)

	rr := lr.Call(context.Background(), "read_file", map[string]any{"path": "a.txt"}, time.Second)
	if !rr.OK || rr.Output != "file body" {
		t.Errorf("result = %+v", rr)
	}
}

func TestLocalRunnerToolError(t *testing.T) {
	r := NewToolRegistry()
	failing := &fakeTool{
		defs: []ToolDefinition{toolDef("read_file", "read", readFileSchema)},
		exec: func(string, map[string]any) ToolResult { return ToolResult{Error: "no such file"} },
	}
	if err := r.Register(failing); err != nil {
		t.Fatalf("Register: %v", err)
	}
	lr := NewLocalRunner(r)

	rr := lr.Call(context.Background(), "read_file", map[string]any{"path": "a.txt"}, time.Second)
	if rr.OK || rr.Error != "no such file" {
		t.Errorf("result = %+v", rr)
	}
}

func TestLocalRunnerTimeout(t *testing.T) {
	r := NewToolRegistry()
	slow := &slowTool{block: 2 * time.Second}
	if err := r.Register(slow); err != nil {
		t.Fatalf("Register: %v", err)
	}
	lr := NewLocalRunner(r)

	start := time.Now()
	rr := lr.Call(context.Background(), "slow", map[string]any{}, 50*time.Millisecond)
	if rr.OK {
		t.Fatal("timed-out call reported OK")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

// slowTool ignores ctx to prove the runner's own timeout still fires.
type slowTool struct {
	block time.Duration
}

func (s *slowTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "slow", Description: "sleeps"}}
}

func (s *slowTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	time.Sleep(s.block)
	return ToolResult{Content: "done"}, nil
}
