package castellan

import (
	"context"
	"fmt"
	"strings"
)

const plannerPrompt = `You are a task planner. Decompose the user's goal into at most %d atomic steps.
Each step must be a single concrete action, executable with the available tools.
Available tools: %s.

Respond with JSON only:
{"steps": ["step 1", "step 2"]}`

// plannerNode calls the LLM once to decompose the latest user goal into
// an ordered plan. Parsing is tolerant; when nothing usable comes back
// the goal itself becomes a one-step plan, so a flaky model never stalls
// the run.
func (e *Engine) plannerNode(ctx context.Context, s State) Command {
	goal := s.LastUserMessage()

	messages := []ChatMessage{
		SystemMessage(fmt.Sprintf(plannerPrompt, e.limits.MaxPlanSteps, strings.Join(e.registry.Names(), ", "))),
	}
	if e.instructions != "" {
		messages = append(messages, SystemMessage(e.instructions))
	}
	messages = append(messages, UserMessage(goal))

	steps := []string{goal}
	text, err := e.provider.Invoke(ctx, messages)
	if err != nil {
		e.logger.Warn("planner: provider call failed, falling back to single-step plan", "error", err.Error())
	} else if parsed := parsePlanSteps(text); len(parsed) > 0 {
		steps = parsed
	} else {
		e.logger.Warn("planner: could not parse plan, falling back to single-step plan")
	}

	if len(steps) > e.limits.MaxPlanSteps {
		steps = steps[:e.limits.MaxPlanSteps]
	}

	status := make(map[int]StepState, len(steps))
	tries := make(map[int]int, len(steps))
	for i := range steps {
		status[i] = StepPending
		tries[i] = 0
	}

	e.logger.Debug("planner: plan created", "thread", s.ThreadID, "steps", len(steps))
	return Command{
		Update: Update{
			Plan:        steps,
			CurrentStep: intPtr(0),
			StepStatus:  status,
			Tries:       tries,
		},
		Goto: NodeSupervisor,
	}
}

// parsePlanSteps extracts the "steps" array from tolerant-parsed LLM
// output, dropping empty entries.
func parsePlanSteps(text string) []string {
	obj, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	raw, ok := obj["steps"].([]any)
	if !ok {
		return nil
	}
	var steps []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
	}
	return steps
}
