package castellan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const executorPrompt = `You are a tool selector. Propose exactly one tool call for the current step.
Current step: %s

Available tools:
%s

Respond with JSON only:
{"name": "<tool_name>", "args": {...}}`

// executorNode calls the LLM once to propose one {name, args} for the
// current step, then hardens the proposal: unknown tools and invalid
// arguments fail the step, and the integrity fields are computed here
// server-side. Nothing the model emits for canonical_args or args_hash
// is ever trusted.
func (e *Engine) executorNode(ctx context.Context, s State) Command {
	step := ""
	if s.CurrentStep < len(s.Plan) {
		step = s.Plan[s.CurrentStep]
	}

	messages := []ChatMessage{
		SystemMessage(fmt.Sprintf(executorPrompt, step, e.describeTools())),
	}
	if e.instructions != "" {
		messages = append(messages, SystemMessage(e.instructions))
	}
	messages = append(messages, s.Messages...)

	text, err := e.provider.Invoke(ctx, messages)
	if err != nil {
		return failStep(fmt.Sprintf("tool proposal failed: %v", err))
	}

	name, args, ok := parseProposal(text)
	if !ok {
		return failStep("could not parse tool proposal")
	}
	if !e.registry.Allowed(name) {
		return failStep("unknown tool: " + name)
	}
	if err := e.registry.ValidateArgs(name, args); err != nil {
		return failStep(err.Error())
	}
	if err := e.validator.Validate(name, args); err != nil {
		return failStep(err.Error())
	}

	canonical, err := Canonicalize(args)
	if err != nil {
		return failStep(fmt.Sprintf("canonicalize args: %v", err))
	}

	proposed := &ProposedTool{
		Name:          name,
		Args:          args,
		CanonicalArgs: canonical,
		ArgsHash:      HashHex(canonical),
		ToolCallID:    NewID(),
		StepIdx:       s.CurrentStep,
		CreatedAt:     NowUnix(),
	}
	e.logger.Debug("executor: tool proposed",
		"thread", s.ThreadID, "tool", name, "step", s.CurrentStep, "hash", proposed.ArgsHash)

	return Command{
		Update: Update{
			Proposed:   proposed,
			StepStatus: map[int]StepState{s.CurrentStep: StepRunning},
		},
		Goto: NodeRiskGate,
	}
}

// failStep produces a failed outcome routed to the Interpreter, which
// marks the step failed and returns control to the Supervisor.
func failStep(reason string) Command {
	return Command{
		Update: Update{Outcome: FailedOutcome(reason)},
		Goto:   NodeInterpreter,
	}
}

// describeTools renders the registry as "name: description" lines plus
// the parameter schema, the form the selector prompt expects.
func (e *Engine) describeTools() string {
	var b strings.Builder
	for _, d := range e.registry.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		if len(d.Parameters) > 0 {
			fmt.Fprintf(&b, "  schema: %s\n", string(d.Parameters))
		}
	}
	return b.String()
}

// parseProposal extracts {name, args} from tolerant-parsed LLM output.
func parseProposal(text string) (string, map[string]any, bool) {
	obj, ok := ExtractJSON(text)
	if !ok {
		return "", nil, false
	}
	name, _ := obj["name"].(string)
	if name == "" {
		return "", nil, false
	}
	args, ok := obj["args"].(map[string]any)
	if !ok {
		// Tolerate a raw JSON string for args.
		if rawStr, isStr := obj["args"].(string); isStr {
			if err := json.Unmarshal([]byte(rawStr), &args); err != nil {
				return "", nil, false
			}
		} else if obj["args"] == nil {
			args = map[string]any{}
		} else {
			return "", nil, false
		}
	}
	return name, args, true
}
