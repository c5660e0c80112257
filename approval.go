package castellan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// User-visible approval grammar. Case-insensitive, trimmed,
// whitespace-insensitive between fields.
var (
	approveRe = regexp.MustCompile(`(?i)^\s*APPROVE\s+([A-Za-z0-9_-]{6,})\s+([A-Za-z0-9._-]{10,})\s*$`)
	rejectRe  = regexp.MustCompile(`(?i)^\s*REJECT\s+([A-Za-z0-9_-]{6,})\s*$`)
)

// newApprovalID returns "auth_" plus 8 random hex bytes.
func newApprovalID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(fmt.Sprintf("approval id: %v", err))
	}
	return "auth_" + hex.EncodeToString(raw[:])
}

// approvalPayload is the single payload format bound into approval
// tokens. Keep every signer and verifier on this exact shape.
func approvalPayload(threadID, userID, hash string) string {
	return fmt.Sprintf("%s:%s:%s", threadID, userID, hash)
}

// awaitApprovalNode suspends the run: it emits the approval prompt with
// the approval ID and a freshly signed convenience token, then exits the
// graph. The caller persists the state; the user's next reply re-enters
// via the Router.
func (e *Engine) awaitApprovalNode(_ context.Context, s State) Command {
	if s.Approval == nil || s.Proposed == nil {
		return failStep("internal error: awaiting approval without approval record")
	}

	token := e.tokens.Sign(approvalPayload(s.ThreadID, s.UserID, s.Approval.Hash))
	reason := s.Question
	if reason == "" {
		reason = "sensitive action"
	}
	msg := fmt.Sprintf(
		"Approval required for tool %q (%s).\nReply with:\n  APPROVE %s %s\nor:\n  REJECT %s\nThis request expires in %d seconds.",
		s.Proposed.Name, reason, s.Approval.ID, token, s.Approval.ID,
		s.Approval.ExpiresAt-NowUnix())

	return Command{
		Update: Update{Messages: []ChatMessage{AssistantMessage(msg)}},
		Goto:   NodeEnd,
	}
}

// approvalHandlerNode resolves the user's APPROVE/REJECT reply. An
// approval only executes the tool when the ID matches, the record has
// not expired, and the token verifies and consumes atomically against
// the exact (thread, user, hash) payload. Any failed check marks the
// step failed and returns to the Supervisor without executing.
func (e *Engine) approvalHandlerNode(ctx context.Context, s State) Command {
	last := s.LastUserMessage()

	if m := rejectRe.FindStringSubmatch(last); m != nil {
		e.auditApproval(ctx, s, "approval_rejected", "user rejected")
		return e.resolveApproval(s, FailedOutcome("User rejected"))
	}

	m := approveRe.FindStringSubmatch(last)
	if m == nil || s.Approval == nil {
		return e.resolveApproval(s, FailedOutcome("approval reply not understood"))
	}
	id, token := m[1], m[2]

	if id != s.Approval.ID {
		e.auditApproval(ctx, s, "approval_failed", "approval id mismatch")
		return e.resolveApproval(s, FailedOutcome("approval failed: unknown approval id"))
	}
	if NowUnix() > s.Approval.ExpiresAt {
		e.auditApproval(ctx, s, "approval_failed", "approval expired")
		return e.resolveApproval(s, FailedOutcome("approval failed: request expired"))
	}
	payload := approvalPayload(s.ThreadID, s.UserID, s.Approval.Hash)
	if !e.tokens.VerifyAndConsume(ctx, token, payload) {
		e.auditApproval(ctx, s, "approval_failed", "token rejected")
		return e.resolveApproval(s, FailedOutcome("approval failed: invalid or already used token"))
	}

	e.auditApproval(ctx, s, "approval_granted", "token verified and consumed")
	e.logger.Debug("approval: granted", "thread", s.ThreadID, "approval_id", id)
	return Command{
		Update: Update{
			AwaitingApproval: boolPtr(false),
			ClearApproval:    true,
			Question:         strPtr(""),
		},
		Goto: NodeTools,
	}
}

// resolveApproval clears the pending approval, records the failed
// outcome, and hands the step back to the Supervisor. The retry budget
// bounds how often a re-proposal can ask again.
func (e *Engine) resolveApproval(s State, outcome *ToolOutcome) Command {
	u := Update{
		AwaitingApproval: boolPtr(false),
		ClearApproval:    true,
		ClearProposed:    true,
		Question:         strPtr(""),
		Outcome:          outcome,
	}
	if s.CurrentStep < len(s.Plan) {
		// The Supervisor's retry accounting takes over from here.
		u.StepStatus = map[int]StepState{s.CurrentStep: StepFailed}
	}
	return Command{Update: u, Goto: NodeSupervisor}
}

func (e *Engine) auditApproval(ctx context.Context, s State, event, reason string) {
	if e.audit == nil {
		return
	}
	details := map[string]any{"thread": s.ThreadID, "reason": reason}
	if s.Approval != nil {
		details["approval_id"] = s.Approval.ID
	}
	if s.DoNotStore {
		details = map[string]any{}
	}
	_ = e.audit.Append(ctx, event, details, event, "medium")
}
