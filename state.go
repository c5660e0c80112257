package castellan

// NodeID names a node in the execution graph.
type NodeID string

const (
	NodeRouter          NodeID = "router"
	NodePlanner         NodeID = "planner"
	NodeSupervisor      NodeID = "supervisor"
	NodeExecutor        NodeID = "executor"
	NodeRiskGate        NodeID = "risk_gate"
	NodeTools           NodeID = "tools"
	NodeAwaitApproval   NodeID = "await_approval"
	NodeApprovalHandler NodeID = "approval_handler"
	NodeInterpreter     NodeID = "interpreter"
	NodeFinalizer       NodeID = "finalizer"
	// NodeEnd terminates the invocation. Routing here returns control
	// to the caller with the current state.
	NodeEnd NodeID = "__end__"
)

// Intent classifies what the user wants from this run.
type Intent string

const (
	IntentConversation Intent = "conversation"
	IntentTask         Intent = "task"
	IntentRequirements Intent = "requirements"
)

// StepState is the execution state of a single plan step.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepDone    StepState = "done"
	StepFailed  StepState = "failed"
)

// State is the per-run working state that flows between nodes.
// Nodes never mutate it directly; they return an Update which the graph
// executor merges via Reduce.
type State struct {
	ThreadID string
	UserID   string
	Intent   Intent

	// Messages is append-only in the order assigned by nodes.
	Messages []ChatMessage

	Plan        []string
	CurrentStep int
	StepStatus  map[int]StepState
	Tries       map[int]int

	Proposed *ProposedTool
	Outcome  *ToolOutcome

	AwaitingInput bool
	Question      string

	AwaitingApproval bool
	Approval         *ApprovalRecord

	// DoNotStore asks downstream sinks to redact run details.
	DoNotStore bool
	// Authenticated marks a caller that already passed strong auth,
	// relaxing the out-of-sandbox policy layer.
	Authenticated bool

	SecurityFindings []string
	AuditTrail       []string
}

// LastUserMessage returns the content of the most recent user message,
// or "" if none exists.
func (s State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Update is a partial state change emitted by a node. Append-only fields
// (Messages, SecurityFindings, AuditTrail) are concatenated; map fields are
// merged key-by-key; pointer fields replace the current value only when
// non-nil. Clear* flags exist because "set to nil" and "leave unchanged"
// must be distinguishable.
type Update struct {
	Messages         []ChatMessage
	SecurityFindings []string
	AuditTrail       []string

	Intent      *Intent
	Plan        []string
	CurrentStep *int
	StepStatus  map[int]StepState
	Tries       map[int]int

	Proposed      *ProposedTool
	ClearProposed bool
	Outcome       *ToolOutcome

	AwaitingInput *bool
	Question      *string

	AwaitingApproval *bool
	Approval         *ApprovalRecord
	ClearApproval    bool

	DoNotStore    *bool
	Authenticated *bool
}

// Command is a node's verdict: the state delta to apply and the next node.
type Command struct {
	Update Update
	Goto   NodeID
}

// Reduce merges an Update into a State and returns the result.
// The input state is not mutated; map fields are copied before merging so
// snapshots taken across node boundaries stay consistent.
func Reduce(s State, u Update) State {
	if len(u.Messages) > 0 {
		s.Messages = append(append([]ChatMessage{}, s.Messages...), u.Messages...)
	}
	if len(u.SecurityFindings) > 0 {
		s.SecurityFindings = append(append([]string{}, s.SecurityFindings...), u.SecurityFindings...)
	}
	if len(u.AuditTrail) > 0 {
		s.AuditTrail = append(append([]string{}, s.AuditTrail...), u.AuditTrail...)
	}

	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.CurrentStep != nil {
		s.CurrentStep = *u.CurrentStep
	}
	if len(u.StepStatus) > 0 {
		merged := make(map[int]StepState, len(s.StepStatus)+len(u.StepStatus))
		for k, v := range s.StepStatus {
			merged[k] = v
		}
		for k, v := range u.StepStatus {
			merged[k] = v
		}
		s.StepStatus = merged
	}
	if len(u.Tries) > 0 {
		merged := make(map[int]int, len(s.Tries)+len(u.Tries))
		for k, v := range s.Tries {
			merged[k] = v
		}
		for k, v := range u.Tries {
			merged[k] = v
		}
		s.Tries = merged
	}

	if u.ClearProposed {
		s.Proposed = nil
	} else if u.Proposed != nil {
		s.Proposed = u.Proposed
	}
	if u.Outcome != nil {
		s.Outcome = u.Outcome
	}

	if u.AwaitingInput != nil {
		s.AwaitingInput = *u.AwaitingInput
	}
	if u.Question != nil {
		s.Question = *u.Question
	}

	if u.AwaitingApproval != nil {
		s.AwaitingApproval = *u.AwaitingApproval
	}
	if u.ClearApproval {
		s.Approval = nil
	} else if u.Approval != nil {
		s.Approval = u.Approval
	}

	if u.DoNotStore != nil {
		s.DoNotStore = *u.DoNotStore
	}
	if u.Authenticated != nil {
		s.Authenticated = *u.Authenticated
	}
	return s
}

// small helpers for building Updates without temp variables

func boolPtr(b bool) *bool       { return &b }
func intPtr(n int) *int          { return &n }
func strPtr(s string) *string    { return &s }
func intentPtr(i Intent) *Intent { return &i }
