package castellan

import "fmt"

// ErrIntegrity reports a mismatch between a proposal's claimed integrity
// fields and the server-side recomputation at the RiskGate.
type ErrIntegrity struct {
	Field string // "canonical_args" or "args_hash"
	Want  string
	Got   string
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("integrity violation on %s: want %s, got %s", e.Field, e.Want, e.Got)
}

// ErrPolicy reports a blocking policy decision for a proposed tool call.
type ErrPolicy struct {
	Tool   string
	Reason string
}

func (e *ErrPolicy) Error() string {
	return fmt.Sprintf("policy blocked %s: %s", e.Tool, e.Reason)
}

// ErrEngineInit reports a failure constructing an engine for an agent.
// The registry never caches failed engines; the next lookup retries.
type ErrEngineInit struct {
	Agent   string
	Message string
}

func (e *ErrEngineInit) Error() string {
	return fmt.Sprintf("engine init %s: %s", e.Agent, e.Message)
}

// ErrSecret reports an unacceptable signing secret at TokenManager construction.
type ErrSecret struct {
	Message string
}

func (e *ErrSecret) Error() string {
	return "token secret: " + e.Message
}
