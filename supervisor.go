package castellan

import (
	"context"
	"fmt"
	"strings"
)

// supervisorNode orchestrates step progress without LLM calls. It decides
// whether the current step runs, advances, retries, or surfaces to the
// user, and routes to the Finalizer when the plan is exhausted.
func (e *Engine) supervisorNode(_ context.Context, s State) Command {
	if s.AwaitingInput {
		return e.handleUserDecision(s)
	}

	if len(s.Plan) == 0 || s.CurrentStep >= len(s.Plan) {
		return Command{Goto: NodeFinalizer}
	}

	switch s.StepStatus[s.CurrentStep] {
	case StepDone:
		next := s.CurrentStep + 1
		if next >= len(s.Plan) {
			return Command{
				Update: Update{CurrentStep: intPtr(next)},
				Goto:   NodeFinalizer,
			}
		}
		return Command{
			Update: Update{CurrentStep: intPtr(next)},
			Goto:   NodeExecutor,
		}

	case StepFailed:
		if s.Tries[s.CurrentStep] >= e.limits.MaxRetriesPerStep {
			question := fmt.Sprintf(
				"Step %d (%q) failed %d times. Reply RETRY to try again, SKIP to move on, or CANCEL to stop.",
				s.CurrentStep+1, s.Plan[s.CurrentStep], s.Tries[s.CurrentStep])
			return Command{
				Update: Update{
					AwaitingInput: boolPtr(true),
					Question:      strPtr(question),
				},
				Goto: NodeFinalizer,
			}
		}
		return Command{
			Update: Update{
				Tries:      map[int]int{s.CurrentStep: s.Tries[s.CurrentStep] + 1},
				StepStatus: map[int]StepState{s.CurrentStep: StepPending},
			},
			Goto: NodeExecutor,
		}

	default: // pending or running
		return Command{Goto: NodeExecutor}
	}
}

// handleUserDecision resolves a surfaced RETRY/SKIP/CANCEL question. An
// unrecognized reply re-asks; a step stays frozen until the user decides.
func (e *Engine) handleUserDecision(s State) Command {
	switch strings.ToUpper(strings.TrimSpace(s.LastUserMessage())) {
	case "RETRY":
		return Command{
			Update: Update{
				AwaitingInput: boolPtr(false),
				Question:      strPtr(""),
				Tries:         map[int]int{s.CurrentStep: 0},
				StepStatus:    map[int]StepState{s.CurrentStep: StepPending},
			},
			Goto: NodeExecutor,
		}
	case "SKIP":
		return Command{
			Update: Update{
				AwaitingInput: boolPtr(false),
				Question:      strPtr(""),
				StepStatus:    map[int]StepState{s.CurrentStep: StepDone},
				CurrentStep:   intPtr(s.CurrentStep + 1),
			},
			Goto: NodeSupervisor,
		}
	case "CANCEL":
		return Command{
			Update: Update{
				AwaitingInput: boolPtr(false),
				Question:      strPtr(""),
				CurrentStep:   intPtr(len(s.Plan)),
			},
			Goto: NodeFinalizer,
		}
	default:
		// Keep asking until we get a decision.
		return Command{Goto: NodeFinalizer}
	}
}
