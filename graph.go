package castellan

import (
	"context"
	"fmt"
	"log/slog"
)

// NodeFunc is a single node of the execution graph: a pure function from
// state to a state delta plus the next node. Nodes must not perform I/O
// beyond their injected collaborators.
type NodeFunc func(ctx context.Context, s State) Command

// DefaultTransitionLimit caps node transitions per invocation.
const DefaultTransitionLimit = 64

// Graph drives the node state machine. Edges are data, not structure:
// each node names its successor in the returned Command, so cycles
// (Supervisor ↔ Executor ↔ Interpreter) need no special representation.
type Graph struct {
	nodes  map[NodeID]NodeFunc
	entry  NodeID
	limit  int
	logger *slog.Logger
	tracer Tracer
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithTransitionLimit overrides the per-invocation transition ceiling.
func WithTransitionLimit(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.limit = n
		}
	}
}

// WithGraphLogger sets the structured logger for node transitions.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// WithGraphTracer sets the tracer; each node execution becomes a span.
func WithGraphTracer(t Tracer) GraphOption {
	return func(g *Graph) { g.tracer = t }
}

// NewGraph creates a Graph that starts each invocation at entry.
func NewGraph(entry NodeID, opts ...GraphOption) *Graph {
	g := &Graph{
		nodes:  make(map[NodeID]NodeFunc),
		entry:  entry,
		limit:  DefaultTransitionLimit,
		logger: nopLogger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Add registers a node under its ID, replacing any previous registration.
func (g *Graph) Add(id NodeID, fn NodeFunc) {
	g.nodes[id] = fn
}

// Invoke advances the state machine from the entry node until a node
// routes to NodeEnd. Unexpected node faults become a failed outcome routed
// to the Finalizer, so every run terminates with a user-visible message.
// Exceeding the transition limit is handled the same way.
func (g *Graph) Invoke(ctx context.Context, s State) (State, error) {
	current := g.entry
	transitions := 0
	// failing guards against a fault inside the failure path itself:
	// the Finalizer gets exactly one chance to report, then we bail.
	failing := false

	for current != NodeEnd {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		transitions++
		if transitions > g.limit {
			if failing {
				return s, fmt.Errorf("graph: transition limit %d exceeded during failure handling", g.limit)
			}
			g.logger.Warn("graph: transition limit exceeded", "limit", g.limit, "thread", s.ThreadID)
			s = Reduce(s, Update{Outcome: FailedOutcome(fmt.Sprintf("step limit exceeded (%d transitions)", g.limit))})
			current = NodeFinalizer
			failing = true
			// Fresh budget for the failure path so the Finalizer can run.
			transitions = 0
			continue
		}

		fn, ok := g.nodes[current]
		if !ok {
			if failing {
				return s, fmt.Errorf("graph: unknown node %q", current)
			}
			s = Reduce(s, Update{Outcome: FailedOutcome(fmt.Sprintf("internal error: unknown node %q", current))})
			current = NodeFinalizer
			failing = true
			continue
		}

		cmd, err := g.runNode(ctx, current, fn, s)
		if err != nil {
			if failing {
				return s, err
			}
			g.logger.Error("graph: node fault", "node", string(current), "error", err.Error())
			s = Reduce(s, Update{Outcome: FailedOutcome(err.Error())})
			current = NodeFinalizer
			failing = true
			continue
		}

		g.logger.Debug("graph: transition", "from", string(current), "to", string(cmd.Goto), "thread", s.ThreadID)
		s = Reduce(s, cmd.Update)
		current = cmd.Goto
	}
	return s, nil
}

// runNode executes one node, converting panics into errors so a buggy
// node cannot take down the whole process.
func (g *Graph) runNode(ctx context.Context, id NodeID, fn NodeFunc, s State) (cmd Command, err error) {
	if g.tracer != nil {
		var span Span
		ctx, span = g.tracer.Start(ctx, "graph.node",
			StringAttr("node", string(id)),
			StringAttr("thread_id", s.ThreadID))
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.End()
		}()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("node %s panic: %v", id, p)
		}
	}()
	return fn(ctx, s), nil
}
