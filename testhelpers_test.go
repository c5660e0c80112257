package castellan

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// scriptProvider replays canned replies in order, repeating the last one
// once the script is exhausted.
type scriptProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
	err     error
}

var _ Provider = (*scriptProvider)(nil)

func (p *scriptProvider) Invoke(_ context.Context, _ []ChatMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	i := p.calls
	p.calls++
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	if i < 0 {
		return "", nil
	}
	return p.replies[i], nil
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeTool is a scriptable Tool with a call counter.
type fakeTool struct {
	mu    sync.Mutex
	defs  []ToolDefinition
	exec  func(name string, args map[string]any) ToolResult
	calls int
}

var _ Tool = (*fakeTool)(nil)

func (f *fakeTool) Definitions() []ToolDefinition { return f.defs }

func (f *fakeTool) Execute(_ context.Context, name string, raw json.RawMessage) (ToolResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return f.exec(name, args), nil
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func toolDef(name, desc, schema string) ToolDefinition {
	return ToolDefinition{Name: name, Description: desc, Parameters: json.RawMessage(schema)}
}

const readFileSchema = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`

func newReadTool(output string) *fakeTool {
	return &fakeTool{
		defs: []ToolDefinition{toolDef("read_file", "read a file from the sandbox", readFileSchema)},
		exec: func(string, map[string]any) ToolResult { return ToolResult{Content: output} },
	}
}

func newEmailTool() *fakeTool {
	return &fakeTool{
		defs: []ToolDefinition{toolDef("send_email", "send an email",
			`{"type":"object","properties":{"to":{"type":"string"},"subject":{"type":"string"},"body":{"type":"string"}},"required":["to","subject","body"]}`)},
		exec: func(string, map[string]any) ToolResult { return ToolResult{Content: "sent"} },
	}
}

// newTestEngine builds an engine on the development secret with its
// sandbox and content store in test temp dirs.
func newTestEngine(t *testing.T, p Provider, tools []Tool, opts ...EngineOption) *Engine {
	t.Helper()
	t.Setenv("CASTELLAN_ENV", "development")
	tokens, err := NewTokenManager(DevSecret)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	reg := NewToolRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	content, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	all := append([]EngineOption{
		WithToolRegistry(reg),
		WithSandboxRoot(t.TempDir()),
		WithContentStore(content),
	}, opts...)
	e, err := NewEngine("test-agent", p, tokens, all...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func planReply(steps ...string) string {
	b, err := json.Marshal(map[string]any{"steps": steps})
	if err != nil {
		panic(err)
	}
	return string(b)
}

func proposalReply(name string, args map[string]any) string {
	b, err := json.Marshal(map[string]any{"name": name, "args": args})
	if err != nil {
		panic(err)
	}
	return string(b)
}

func lastAssistant(t *testing.T, s State) string {
	t.Helper()
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			return s.Messages[i].Content
		}
	}
	t.Fatal("no assistant message in state")
	return ""
}
