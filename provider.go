package castellan

import (
	"context"
	"time"
)

// Provider is the LLM backend consumed by the Planner and Executor nodes.
// Implementations must be safe for concurrent use; the runtime retries at
// the call site, so providers should not retry internally.
type Provider interface {
	// Invoke sends the message sequence and returns the model's text.
	Invoke(ctx context.Context, messages []ChatMessage) (string, error)
}

// RunnerResult is the raw outcome of a tool invocation, before the
// Interpreter normalizes it into a ToolOutcome.
type RunnerResult struct {
	OK     bool
	Output string
	Error  string
}

// ToolRunner executes a registered tool by name. The runtime trusts the
// runner to execute only tools whose names pass ToolRegistry.Allowed; the
// timeout is enforced by the runner (LocalRunner wraps ctx accordingly).
type ToolRunner interface {
	Call(ctx context.Context, name string, args map[string]any, timeout time.Duration) RunnerResult
}
