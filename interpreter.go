package castellan

import (
	"context"
	"fmt"
)

// interpreterNode normalizes the raw tool outcome before it returns to
// the Supervisor: oversized outputs are evicted to the content store and
// replaced by a bounded pointer string, PII is sanitized out of retained
// text, the step status is settled, and the proposal is cleared so no
// later traversal can execute it twice.
func (e *Engine) interpreterNode(ctx context.Context, s State) Command {
	if s.Outcome == nil {
		return Command{Goto: NodeSupervisor}
	}
	o := *s.Outcome
	if o.SizeChars == 0 {
		o.SizeChars = len(o.Output)
	}

	stepIdx := s.CurrentStep
	if s.Proposed != nil {
		stepIdx = s.Proposed.StepIdx
	}

	var findings []string

	if o.SizeChars > e.limits.EvictionThreshold {
		name := fmt.Sprintf("evict_%s_%s.txt", s.ThreadID, HashHex(o.Output)[:8])
		pointer, err := e.content.Write(name, o.Output)
		if err != nil {
			// Eviction must be sandboxed; a store failure fails the run
			// rather than carrying an oversized payload forward.
			e.logger.Error("interpreter: eviction failed", "thread", s.ThreadID, "error", err.Error())
			o = ToolOutcome{
				Status:    StatusFailed,
				Output:    "result eviction failed: " + err.Error(),
				SizeChars: o.SizeChars,
			}
		} else {
			summary := o.Output
			if len(summary) > e.limits.SummaryMax {
				summary = summary[:e.limits.SummaryMax]
			}
			o.Summary = summary + "…"
			o.Pointer = pointer
			o.Evicted = true
			o.RehydrationAllowed = o.SizeChars <= e.limits.RehydrationMax
			o.Output = fmt.Sprintf("[EVICTED size=%d] pointer=%s", o.SizeChars, pointer)
			e.logger.Debug("interpreter: output evicted",
				"thread", s.ThreadID, "size", o.SizeChars, "pointer", pointer)
		}
	} else if e.gate != nil && e.gate.pii != nil && o.Status == StatusSuccess {
		sanitized, found := e.gate.pii.SanitizePII(o.Output)
		if len(found) > 0 {
			o.Output = sanitized
			for _, f := range found {
				findings = append(findings, "pii_in_tool_output:"+f)
			}
		}
	}

	status := StepDone
	if o.Status != StatusSuccess {
		status = StepFailed
	}

	return Command{
		Update: Update{
			Outcome:          &o,
			ClearProposed:    true,
			StepStatus:       map[int]StepState{stepIdx: status},
			SecurityFindings: findings,
		},
		Goto: NodeSupervisor,
	}
}
