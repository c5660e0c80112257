package castellan

import (
	"context"
	"sync"
)

// toolsNode executes the approved proposal, gated by the idempotency
// cache: for a given (thread, step, args_hash) the runner is called at
// most once within the TTL, and concurrent invokes on the same key
// serialize so both observe the single cached result.
func (e *Engine) toolsNode(ctx context.Context, s State) Command {
	p := s.Proposed
	if p == nil {
		return failStep("internal error: no proposed tool to execute")
	}

	key := IdempotencyKey(s.ThreadID, p.StepIdx, p.ArgsHash)
	unlock := e.lockKey(key)
	defer unlock()

	if cached, err := e.cache.Get(ctx, key); err == nil && cached != nil {
		e.logger.Debug("tools: idempotency cache hit", "thread", s.ThreadID, "tool", p.Name)
		return Command{Update: Update{Outcome: cached}, Goto: NodeInterpreter}
	}

	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "tool.execute",
			StringAttr("tool", p.Name),
			StringAttr("thread_id", s.ThreadID),
			IntAttr("step_idx", p.StepIdx))
		defer span.End()
	}

	rr := e.runner.Call(ctx, p.Name, p.Args, e.limits.ToolTimeout)

	var outcome ToolOutcome
	if rr.OK {
		outcome = ToolOutcome{Status: StatusSuccess, Output: rr.Output, SizeChars: len(rr.Output)}
	} else {
		outcome = ToolOutcome{Status: StatusFailed, Output: rr.Error, SizeChars: len(rr.Error)}
	}

	if err := e.cache.Set(ctx, key, outcome, e.limits.IdempotencyTTL); err != nil {
		e.logger.Warn("tools: idempotency cache set failed", "error", err.Error())
	}

	e.logger.Debug("tools: executed",
		"thread", s.ThreadID, "tool", p.Name, "status", string(outcome.Status), "size", outcome.SizeChars)
	return Command{Update: Update{Outcome: &outcome}, Goto: NodeInterpreter}
}

// lockKey serializes in-process execution per idempotency key so the
// get-execute-set sequence behaves as a single critical section.
func (e *Engine) lockKey(key string) func() {
	v, _ := e.inflight.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		e.inflight.Delete(key)
	}
}
