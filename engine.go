package castellan

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Limits collects the tunable ceilings of a single engine. Zero values
// are replaced by DefaultLimits at construction.
type Limits struct {
	MaxPlanSteps      int
	MaxRetriesPerStep int
	ToolTimeout       time.Duration
	ApprovalTTL       time.Duration
	IdempotencyTTL    time.Duration
	EvictionThreshold int
	RehydrationMax    int
	SummaryMax        int
	TransitionLimit   int
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPlanSteps:      8,
		MaxRetriesPerStep: 3,
		ToolTimeout:       30 * time.Second,
		ApprovalTTL:       300 * time.Second,
		IdempotencyTTL:    DefaultIdempotencyTTL,
		EvictionThreshold: 10000,
		RehydrationMax:    50000,
		SummaryMax:        500,
		TransitionLimit:   DefaultTransitionLimit,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxPlanSteps <= 0 {
		l.MaxPlanSteps = d.MaxPlanSteps
	}
	if l.MaxRetriesPerStep <= 0 {
		l.MaxRetriesPerStep = d.MaxRetriesPerStep
	}
	if l.ToolTimeout <= 0 {
		l.ToolTimeout = d.ToolTimeout
	}
	if l.ApprovalTTL <= 0 {
		l.ApprovalTTL = d.ApprovalTTL
	}
	if l.IdempotencyTTL <= 0 {
		l.IdempotencyTTL = d.IdempotencyTTL
	}
	if l.EvictionThreshold <= 0 {
		l.EvictionThreshold = d.EvictionThreshold
	}
	if l.RehydrationMax <= 0 {
		l.RehydrationMax = d.RehydrationMax
	}
	if l.SummaryMax <= 0 {
		l.SummaryMax = d.SummaryMax
	}
	if l.TransitionLimit <= 0 {
		l.TransitionLimit = d.TransitionLimit
	}
	return l
}

// engineConfig accumulates options passed to NewEngine.
type engineConfig struct {
	registry     *ToolRegistry
	runner       ToolRunner
	cache        ResultCache
	content      ContentStore
	gate         *RiskGate
	audit        *AuditLog
	limits       Limits
	sandboxRoot  string
	emailDomains []string
	instructions string
	logger       *slog.Logger
	tracer       Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// WithToolRegistry sets the registry of callable tools.
func WithToolRegistry(r *ToolRegistry) EngineOption {
	return func(c *engineConfig) { c.registry = r }
}

// WithRunner replaces the default in-process LocalRunner.
func WithRunner(r ToolRunner) EngineOption {
	return func(c *engineConfig) { c.runner = r }
}

// WithResultCache replaces the default in-memory idempotency cache.
func WithResultCache(rc ResultCache) EngineOption {
	return func(c *engineConfig) { c.cache = rc }
}

// WithContentStore sets where evicted tool outputs are written.
func WithContentStore(cs ContentStore) EngineOption {
	return func(c *engineConfig) { c.content = cs }
}

// WithRiskGate replaces the default gate (default policy + regex DLP).
func WithRiskGate(g *RiskGate) EngineOption {
	return func(c *engineConfig) { c.gate = g }
}

// WithAuditLog sets the hash-chained audit log shared by the gate and
// the approval path.
func WithAuditLog(a *AuditLog) EngineOption {
	return func(c *engineConfig) { c.audit = a }
}

// WithLimits overrides individual ceilings; zero fields keep defaults.
func WithLimits(l Limits) EngineOption {
	return func(c *engineConfig) { c.limits = l }
}

// WithSandboxRoot sets the directory all filesystem tool paths must
// resolve into.
func WithSandboxRoot(root string) EngineOption {
	return func(c *engineConfig) { c.sandboxRoot = root }
}

// WithEmailAllowlist restricts send_email recipients to these domains.
func WithEmailAllowlist(domains []string) EngineOption {
	return func(c *engineConfig) { c.emailDomains = domains }
}

// WithInstructions sets the agent's system instructions (typically the
// body of a loaded Markdown definition).
func WithInstructions(s string) EngineOption {
	return func(c *engineConfig) { c.instructions = s }
}

// WithLogger sets the structured logger. If not set, a no-op logger is used.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// WithTracer sets the tracer. Node transitions, gate decisions, and tool
// executions emit spans. Use observer.NewTracer() for an OTEL backend.
func WithTracer(t Tracer) EngineOption {
	return func(c *engineConfig) { c.tracer = t }
}

// Engine drives one agent's execution graph with its collaborators.
// Construct via NewEngine or obtain from an EngineRegistry. Safe for
// concurrent Run calls on independent threads.
type Engine struct {
	name         string
	instructions string

	provider  Provider
	runner    ToolRunner
	registry  *ToolRegistry
	validator *ArgValidator
	tokens    *TokenManager
	cache     ResultCache
	content   ContentStore
	gate      *RiskGate
	audit     *AuditLog
	graph     *Graph

	limits Limits
	logger *slog.Logger
	tracer Tracer

	// inflight serializes tool execution per idempotency key.
	inflight sync.Map

	// ownedCache is closed by Close when the engine created its own
	// MemoryCache; injected caches belong to the caller.
	ownedCache *MemoryCache
}

// RunInput is one user turn submitted to an engine.
type RunInput struct {
	ThreadID string
	UserID   string
	// Message is the user's text for this turn.
	Message string
	// Intent classifies the turn; empty defaults to task.
	Intent Intent
	// Resume continues a suspended run (e.g. after AwaitApproval) from
	// its persisted state. Nil starts a fresh run.
	Resume *State
	// Authenticated marks a caller that passed strong auth upstream.
	Authenticated bool
	// DoNotStore redacts details from downstream sinks for this run.
	DoNotStore bool
}

// NewEngine builds an engine for one agent. provider and tokens are
// required; everything else has a working default.
func NewEngine(name string, provider Provider, tokens *TokenManager, opts ...EngineOption) (*Engine, error) {
	if provider == nil {
		return nil, &ErrEngineInit{Agent: name, Message: "nil provider"}
	}
	if tokens == nil {
		return nil, &ErrEngineInit{Agent: name, Message: "nil token manager"}
	}

	var c engineConfig
	for _, o := range opts {
		o(&c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	c.limits = c.limits.withDefaults()

	if c.registry == nil {
		c.registry = NewToolRegistry()
	}
	if c.runner == nil {
		c.runner = NewLocalRunner(c.registry)
	}
	if c.sandboxRoot == "" {
		c.sandboxRoot = filepath.Join(os.TempDir(), "castellan-sandbox")
	}
	validator, err := NewArgValidator(c.sandboxRoot, c.emailDomains)
	if err != nil {
		return nil, &ErrEngineInit{Agent: name, Message: err.Error()}
	}
	if c.content == nil {
		cs, err := NewDirStore(filepath.Join(os.TempDir(), "castellan-evicted"))
		if err != nil {
			return nil, &ErrEngineInit{Agent: name, Message: err.Error()}
		}
		c.content = cs
	}
	if c.gate == nil {
		c.gate = NewRiskGate(validator, c.audit, WithRiskLogger(c.logger))
	}

	e := &Engine{
		name:         name,
		instructions: c.instructions,
		provider:     provider,
		runner:       c.runner,
		registry:     c.registry,
		validator:    validator,
		tokens:       tokens,
		cache:        c.cache,
		content:      c.content,
		gate:         c.gate,
		audit:        c.audit,
		limits:       c.limits,
		logger:       c.logger,
		tracer:       c.tracer,
	}
	if e.cache == nil {
		mc := NewMemoryCache()
		e.cache = mc
		e.ownedCache = mc
	}

	g := NewGraph(NodeRouter,
		WithTransitionLimit(e.limits.TransitionLimit),
		WithGraphLogger(e.logger),
		WithGraphTracer(e.tracer))
	g.Add(NodeRouter, e.routerNode)
	g.Add(NodePlanner, e.plannerNode)
	g.Add(NodeSupervisor, e.supervisorNode)
	g.Add(NodeExecutor, e.executorNode)
	g.Add(NodeRiskGate, e.riskGateNode)
	g.Add(NodeTools, e.toolsNode)
	g.Add(NodeAwaitApproval, e.awaitApprovalNode)
	g.Add(NodeApprovalHandler, e.approvalHandlerNode)
	g.Add(NodeInterpreter, e.interpreterNode)
	g.Add(NodeFinalizer, e.finalizerNode)
	e.graph = g

	return e, nil
}

// Name returns the agent identifier this engine serves.
func (e *Engine) Name() string { return e.name }

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *ToolRegistry { return e.registry }

// Run executes one turn: it builds or resumes the working state, appends
// the user message, and advances the graph until a node routes to the
// terminal. The returned state is what the caller persists; a suspended
// approval resumes by passing it back via RunInput.Resume.
func (e *Engine) Run(ctx context.Context, in RunInput) (State, error) {
	var s State
	if in.Resume != nil {
		s = *in.Resume
	} else {
		s = State{
			ThreadID:   in.ThreadID,
			UserID:     in.UserID,
			StepStatus: make(map[int]StepState),
			Tries:      make(map[int]int),
		}
	}
	if in.ThreadID != "" {
		s.ThreadID = in.ThreadID
	}
	if in.UserID != "" {
		s.UserID = in.UserID
	}
	if in.Intent != "" {
		s.Intent = in.Intent
	} else if s.Intent == "" {
		s.Intent = IntentTask
	}
	if in.Authenticated {
		s.Authenticated = true
	}
	if in.DoNotStore {
		s.DoNotStore = true
	}
	if in.Message != "" {
		s = Reduce(s, Update{Messages: []ChatMessage{UserMessage(in.Message)}})
	}

	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "engine.run",
			StringAttr("agent", e.name),
			StringAttr("thread_id", s.ThreadID))
		defer span.End()
	}
	e.logger.Debug("engine: run started", "agent", e.name, "thread", s.ThreadID, "intent", string(s.Intent))

	return e.graph.Invoke(ctx, s)
}

// Close releases engine-owned resources. Injected collaborators are the
// caller's to close.
func (e *Engine) Close() error {
	if e.ownedCache != nil {
		e.ownedCache.Close()
	}
	return nil
}
