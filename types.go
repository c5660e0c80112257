package castellan

import "encoding/json"

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ToolDefinition describes a single callable tool function.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Proposal and result types ---

// OutcomeStatus is the terminal state of a tool execution.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailed  OutcomeStatus = "failed"
)

// ProposedTool is a validated, canonicalized intent to call a tool.
// The Executor computes CanonicalArgs and ArgsHash itself; the RiskGate
// recomputes both before trusting them. A mismatch is a tamper event.
type ProposedTool struct {
	Name          string         `json:"name"`
	Args          map[string]any `json:"args"`
	CanonicalArgs string         `json:"canonical_args"`
	ArgsHash      string         `json:"args_hash"`
	ToolCallID    string         `json:"tool_call_id"`
	StepIdx       int            `json:"step_idx"`
	CreatedAt     int64          `json:"created_at"`
}

// ToolOutcome is the interpreted result of a tool execution.
// When SizeChars exceeds the eviction threshold, Output holds a bounded
// reference string and Pointer names the content-store file with the
// full payload.
type ToolOutcome struct {
	Status             OutcomeStatus `json:"status"`
	Output             string        `json:"output"`
	Evicted            bool          `json:"evicted"`
	Pointer            string        `json:"pointer,omitempty"`
	SizeChars          int           `json:"size_chars"`
	RehydrationAllowed bool          `json:"rehydration_allowed"`
	Summary            string        `json:"summary,omitempty"`
	SourcePath         string        `json:"source_path,omitempty"`
}

// FailedOutcome builds a failed ToolOutcome with the given reason.
func FailedOutcome(reason string) *ToolOutcome {
	return &ToolOutcome{Status: StatusFailed, Output: reason, SizeChars: len(reason)}
}

// ApprovalRecord binds a pending approval to the exact args hash it covers.
// The signed token payload is "thread_id:user_id:hash".
type ApprovalRecord struct {
	ID        string `json:"id"`
	Hash      string `json:"hash"`
	ExpiresAt int64  `json:"expires_at"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
