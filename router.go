package castellan

import "context"

// routerNode picks the entry route for a turn.
//
// A pending approval takes precedence: if the user's reply matches the
// APPROVE/REJECT grammar it goes to the handler, anything else falls
// through to the Supervisor (the user changed the subject while an
// approval was outstanding). A pending question likewise resumes at the
// Supervisor. Otherwise intent decides: conversation turns go straight
// to the Finalizer, a task without a plan needs the Planner, and a task
// mid-flight resumes at the Supervisor.
func (e *Engine) routerNode(_ context.Context, s State) Command {
	last := s.LastUserMessage()

	if s.AwaitingApproval {
		if approveRe.MatchString(last) || rejectRe.MatchString(last) {
			return Command{Goto: NodeApprovalHandler}
		}
		return Command{Goto: NodeSupervisor}
	}
	if s.AwaitingInput {
		return Command{Goto: NodeSupervisor}
	}

	switch s.Intent {
	case IntentConversation:
		return Command{Goto: NodeFinalizer}
	case IntentTask:
		if len(s.Plan) == 0 {
			return Command{Goto: NodePlanner}
		}
		return Command{Goto: NodeSupervisor}
	default:
		return Command{Goto: NodeSupervisor}
	}
}
