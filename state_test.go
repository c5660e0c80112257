package castellan

import "testing"

func TestReduceAppendsWithoutMutation(t *testing.T) {
	orig := State{
		Messages:   []ChatMessage{UserMessage("hi")},
		AuditTrail: []string{"a"},
	}
	got := Reduce(orig, Update{
		Messages:         []ChatMessage{AssistantMessage("hello")},
		SecurityFindings: []string{"f1"},
		AuditTrail:       []string{"b"},
	})

	if len(got.Messages) != 2 || got.Messages[1].Content != "hello" {
		t.Errorf("messages = %v", got.Messages)
	}
	if len(got.SecurityFindings) != 1 || len(got.AuditTrail) != 2 {
		t.Errorf("findings=%v trail=%v", got.SecurityFindings, got.AuditTrail)
	}
	// The input state stays untouched.
	if len(orig.Messages) != 1 || len(orig.AuditTrail) != 1 {
		t.Errorf("input state mutated: %+v", orig)
	}
}

func TestReduceMergesMaps(t *testing.T) {
	s := State{
		StepStatus: map[int]StepState{0: StepDone, 1: StepPending},
		Tries:      map[int]int{0: 2},
	}
	got := Reduce(s, Update{
		StepStatus: map[int]StepState{1: StepRunning},
		Tries:      map[int]int{1: 1},
	})

	if got.StepStatus[0] != StepDone || got.StepStatus[1] != StepRunning {
		t.Errorf("step status = %v", got.StepStatus)
	}
	if got.Tries[0] != 2 || got.Tries[1] != 1 {
		t.Errorf("tries = %v", got.Tries)
	}
	// Merge copies; the original map is not written through.
	if s.StepStatus[1] != StepPending {
		t.Error("input map mutated by merge")
	}
}

func TestReducePointerFields(t *testing.T) {
	s := State{Intent: IntentTask, CurrentStep: 1, AwaitingInput: true, Question: "q"}

	// An empty update changes nothing.
	if got := Reduce(s, Update{}); got.CurrentStep != 1 || !got.AwaitingInput || got.Question != "q" {
		t.Errorf("empty update changed state: %+v", got)
	}

	got := Reduce(s, Update{
		Intent:        intentPtr(IntentConversation),
		CurrentStep:   intPtr(2),
		AwaitingInput: boolPtr(false),
		Question:      strPtr(""),
	})
	if got.Intent != IntentConversation || got.CurrentStep != 2 || got.AwaitingInput || got.Question != "" {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestReduceClearVersusKeep(t *testing.T) {
	proposed := &ProposedTool{Name: "read_file"}
	approval := &ApprovalRecord{ID: "auth_1"}
	s := State{Proposed: proposed, Approval: approval}

	// Unset fields keep the current values.
	got := Reduce(s, Update{})
	if got.Proposed != proposed || got.Approval != approval {
		t.Error("pointers dropped by empty update")
	}

	got = Reduce(s, Update{ClearProposed: true, ClearApproval: true})
	if got.Proposed != nil || got.Approval != nil {
		t.Error("clear flags did not clear")
	}

	replacement := &ProposedTool{Name: "ls"}
	got = Reduce(s, Update{Proposed: replacement})
	if got.Proposed != replacement {
		t.Error("replacement pointer not applied")
	}
}

func TestLastUserMessage(t *testing.T) {
	s := State{Messages: []ChatMessage{
		UserMessage("first"),
		AssistantMessage("reply"),
		UserMessage("second"),
		AssistantMessage("reply 2"),
	}}
	if got := s.LastUserMessage(); got != "second" {
		t.Errorf("got %q", got)
	}
	if got := (State{}).LastUserMessage(); got != "" {
		t.Errorf("empty state returned %q", got)
	}
}
