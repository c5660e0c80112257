package castellan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the raw outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolRegistry holds all registered tools, their compiled argument
// schemas, and dispatches execution. Populated at engine warmup; the
// Executor's proposal must satisfy Allowed(name) and ValidateArgs.
type ToolRegistry struct {
	tools   []Tool
	defs    map[string]ToolDefinition
	schemas map[string]*jsonschema.Schema
	owner   map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		defs:    make(map[string]ToolDefinition),
		schemas: make(map[string]*jsonschema.Schema),
		owner:   make(map[string]Tool),
	}
}

// Register adds a tool and compiles the JSON Schema of each of its
// definitions. A definition without parameters gets a permissive schema.
func (r *ToolRegistry) Register(t Tool) error {
	for _, d := range t.Definitions() {
		if _, exists := r.defs[d.Name]; exists {
			return fmt.Errorf("tool %q already registered", d.Name)
		}
		params := d.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		c := jsonschema.NewCompiler()
		resource := d.Name + ".schema.json"
		if err := c.AddResource(resource, strings.NewReader(string(params))); err != nil {
			return fmt.Errorf("tool %q: schema resource: %w", d.Name, err)
		}
		sch, err := c.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", d.Name, err)
		}
		r.defs[d.Name] = d
		r.schemas[d.Name] = sch
		r.owner[d.Name] = t
	}
	r.tools = append(r.tools, t)
	return nil
}

// Names returns all registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allowed reports whether name is a registered tool.
func (r *ToolRegistry) Allowed(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Definition returns the registered definition for name.
func (r *ToolRegistry) Definition(name string) (ToolDefinition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Definitions returns all registered definitions in name order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.defs))
	for _, name := range r.Names() {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// ValidateArgs checks decoded arguments against the tool's compiled
// schema. Unknown tools fail closed.
func (r *ToolRegistry) ValidateArgs(name string, args map[string]any) error {
	sch, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	// jsonschema validates the decoded form; args come straight from
	// json.Unmarshal so the types already line up.
	if err := sch.Validate(normalizeForSchema(args)); err != nil {
		return fmt.Errorf("args for %s: %w", name, err)
	}
	return nil
}

// normalizeForSchema round-trips values that did not originate from
// encoding/json (e.g. test fixtures with int values) into the types the
// schema validator expects.
func normalizeForSchema(args map[string]any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return args
	}
	return v
}

// Execute dispatches a tool call by name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	t, ok := r.owner[name]
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	return t.Execute(ctx, name, args)
}

// --- local runner ---

// LocalRunner is the in-process ToolRunner: it dispatches through a
// ToolRegistry with the timeout enforced even against tools that ignore
// ctx.
type LocalRunner struct {
	registry *ToolRegistry
}

var _ ToolRunner = (*LocalRunner)(nil)

// NewLocalRunner wraps a registry as a ToolRunner.
func NewLocalRunner(r *ToolRegistry) *LocalRunner {
	return &LocalRunner{registry: r}
}

// Call executes the named tool with the given timeout.
func (lr *LocalRunner) Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) RunnerResult {
	raw, err := json.Marshal(args)
	if err != nil {
		return RunnerResult{Error: "marshal args: " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		res ToolResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := lr.registry.Execute(ctx, name, raw)
		ch <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return RunnerResult{Error: "tool " + name + ": " + ctx.Err().Error()}
	case r := <-ch:
		if r.err != nil {
			return RunnerResult{Error: r.err.Error()}
		}
		if r.res.Error != "" {
			return RunnerResult{Error: r.res.Error}
		}
		return RunnerResult{OK: true, Output: r.res.Content}
	}
}
