// Package castellan is an agentic execution runtime with a zero-trust
// tool-invocation boundary.
//
// It takes a user goal, decomposes it into an ordered plan, proposes tool
// calls on behalf of the goal, and drives each run through a directed state
// machine (Router → Planner → Supervisor → Executor → RiskGate → Tools →
// Interpreter → Finalizer). Every tool call crosses the RiskGate, which
// re-canonicalizes arguments server-side, verifies integrity hashes,
// evaluates a layered security policy, and requires signed human approval
// for sensitive actions.
//
// # Quick Start
//
// Build an engine from a provider and a tool runner:
//
//	tokens, _ := castellan.NewTokenManager(secretKey)
//	registry := castellan.NewToolRegistry()
//	fileTool, _ := file.New(sandboxRoot)
//	registry.Register(fileTool)
//
//	engine, _ := castellan.NewEngine("assistant", provider, tokens,
//		castellan.WithToolRegistry(registry),
//		castellan.WithSandboxRoot(sandboxRoot),
//	)
//
//	final, err := engine.Run(ctx, castellan.RunInput{
//		ThreadID: "t1", UserID: "u1", Message: "read the README",
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: LLM backend used by Planner and Executor
//   - [ToolRunner]: executes registered tools with a timeout
//   - [Tool]: pluggable capability with JSON Schema argument definitions
//   - [ResultCache]: idempotency store for tool results
//   - [UsedTokenStore]: single-use set backing approval tokens
//   - [ContentStore]: sandboxed storage for evicted tool outputs
//   - [SecretScanner], [PIIScanner]: DLP hooks consumed by the RiskGate
//
// # Included Implementations
//
// Storage: store/sqlite (local), store/postgres (multi-process).
// Tools: tools/file (sandboxed filesystem), tools/email.
// Definitions: loader (Markdown agent and skill files).
// Observability: observer (OTEL traces, metrics, logs).
//
// See the cmd/castellan directory for a complete reference application.
package castellan
