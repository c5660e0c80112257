package castellan

import (
	"context"
	"fmt"
	"strings"
)

// finalizerNode produces the user-visible assistant message for this
// invocation and terminates the graph. Every run ends here (or at
// AwaitApproval), so the user always sees something.
func (e *Engine) finalizerNode(ctx context.Context, s State) Command {
	var msg string
	switch {
	case s.AwaitingApproval && s.Approval != nil:
		msg = fmt.Sprintf(
			"An approval is still pending (id %s). Reply APPROVE %s <token> to proceed or REJECT %s to decline.",
			s.Approval.ID, s.Approval.ID, s.Approval.ID)

	case s.AwaitingInput && s.Question != "":
		msg = s.Question

	case s.Intent == IntentConversation:
		msg = e.conversationReply(ctx, s)

	default:
		msg = progressSummary(s)
	}

	return Command{
		Update: Update{Messages: []ChatMessage{AssistantMessage(msg)}},
		Goto:   NodeEnd,
	}
}

// conversationReply asks the model for a plain chat answer. Provider
// failures degrade to a static acknowledgement instead of failing the run.
func (e *Engine) conversationReply(ctx context.Context, s State) string {
	messages := make([]ChatMessage, 0, len(s.Messages)+1)
	if e.instructions != "" {
		messages = append(messages, SystemMessage(e.instructions))
	}
	messages = append(messages, s.Messages...)
	reply, err := e.provider.Invoke(ctx, messages)
	if err != nil || strings.TrimSpace(reply) == "" {
		return "Understood."
	}
	return reply
}

// progressSummary renders the plan with one status glyph per step.
func progressSummary(s State) string {
	if len(s.Plan) == 0 {
		return "No task to execute."
	}

	done := 0
	var b strings.Builder
	for i, step := range s.Plan {
		glyph := "⏳"
		switch s.StepStatus[i] {
		case StepDone:
			glyph = "✅"
			done++
		case StepFailed:
			glyph = "❌"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", glyph, i+1, step)
	}

	header := fmt.Sprintf("Progress: %d/%d steps completed.\n", done, len(s.Plan))
	summary := header + strings.TrimRight(b.String(), "\n")
	if s.Outcome != nil && s.Outcome.Status == StatusFailed {
		summary += "\nLast result: " + s.Outcome.Output
	}
	return summary
}
