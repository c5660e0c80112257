package castellan

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultEngineIdleTTL is how long an unused engine survives a prune.
const DefaultEngineIdleTTL = 300 * time.Second

// EngineFactory constructs an engine for a named agent. The registry
// calls it under the agent's lock, so at most one construction is in
// flight per agent. A failed construction is not cached; the next lookup
// retries.
type EngineFactory func(name string) (*Engine, error)

// engineEntry pairs a live engine with its per-agent lock and last-use
// stamp. The lock serializes init and close against use, so a prune can
// never close an engine out from under a caller mid-lookup.
type engineEntry struct {
	mu       sync.Mutex
	engine   *Engine
	lastUsed int64
}

// EngineRegistry manages the lifecycle of per-agent engines:
// create-on-demand behind a per-agent mutex, LRU-by-last-use pruning,
// and whole-registry reload when definitions change.
type EngineRegistry struct {
	mu      sync.Mutex
	entries map[string]*engineEntry
	factory EngineFactory
	logger  *slog.Logger
}

// RegistryOption configures an EngineRegistry.
type RegistryOption func(*EngineRegistry)

// WithRegistryLogger sets the structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *EngineRegistry) { r.logger = l }
}

// NewEngineRegistry creates a registry that builds engines via factory.
func NewEngineRegistry(factory EngineFactory, opts ...RegistryOption) *EngineRegistry {
	r := &EngineRegistry{
		entries: make(map[string]*engineEntry),
		factory: factory,
		logger:  nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Engine returns the live engine for name, constructing it on first use.
// The last-used stamp is refreshed on both hit and miss.
func (r *EngineRegistry) Engine(name string) (*Engine, error) {
	entry := r.entry(name)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.engine == nil {
		eng, err := r.factory(name)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", name, err)
		}
		if eng == nil {
			return nil, &ErrEngineInit{Agent: name, Message: "factory returned nil engine"}
		}
		entry.engine = eng
		r.logger.Debug("registry: engine created", "agent", name)
	}
	entry.lastUsed = NowUnix()
	return entry.engine, nil
}

// entry returns the per-agent entry, creating the slot (not the engine)
// under the registry lock.
func (r *EngineRegistry) entry(name string) *engineEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &engineEntry{}
		r.entries[name] = e
	}
	return e
}

// Prune closes and removes engines idle longer than ttl. Each candidate
// is re-checked under its own lock, so an engine that was used between
// the scan and the close survives.
func (r *EngineRegistry) Prune(ttl time.Duration) int {
	r.mu.Lock()
	candidates := make(map[string]*engineEntry, len(r.entries))
	for name, e := range r.entries {
		candidates[name] = e
	}
	r.mu.Unlock()

	cutoff := NowUnix() - int64(ttl/time.Second)
	pruned := 0
	for name, e := range candidates {
		e.mu.Lock()
		idle := e.engine != nil && e.lastUsed < cutoff
		if idle {
			if err := e.engine.Close(); err != nil {
				r.logger.Warn("registry: engine close failed", "agent", name, "error", err.Error())
			}
			e.engine = nil
		}
		e.mu.Unlock()

		if idle {
			r.mu.Lock()
			// Only discard the slot if nobody recreated it meanwhile.
			if cur, ok := r.entries[name]; ok && cur == e && cur.engine == nil {
				delete(r.entries, name)
			}
			r.mu.Unlock()
			pruned++
			r.logger.Debug("registry: engine pruned", "agent", name)
		}
	}
	return pruned
}

// ReloadAll closes every engine (each under its own lock) and clears the
// registry. Used when agent definitions change on disk.
func (r *EngineRegistry) ReloadAll() {
	r.mu.Lock()
	old := r.entries
	r.entries = make(map[string]*engineEntry)
	r.mu.Unlock()

	for name, e := range old {
		e.mu.Lock()
		if e.engine != nil {
			if err := e.engine.Close(); err != nil {
				r.logger.Warn("registry: engine close failed", "agent", name, "error", err.Error())
			}
			e.engine = nil
		}
		e.mu.Unlock()
	}
	r.logger.Debug("registry: all engines reloaded")
}

// Close is ReloadAll under a different intent: teardown at shutdown.
func (r *EngineRegistry) Close() {
	r.ReloadAll()
}
