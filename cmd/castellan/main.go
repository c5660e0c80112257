package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	castellan "github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/loader"
	"github.com/castellan-ai/castellan/observer"
	"github.com/castellan-ai/castellan/provider/resolve"
	"github.com/castellan-ai/castellan/store/sqlite"
	"github.com/castellan-ai/castellan/tools/email"
	"github.com/castellan-ai/castellan/tools/file"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("CASTELLAN_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Observability (optional)
	var tracer castellan.Tracer
	if cfg.Observer.Enabled {
		_, shutdown, err := observer.Init(context.Background())
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
	}

	// 3. Provider
	provider, err := resolve.Provider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		log.Fatal(err)
	}

	// 4. Durable store (idempotency cache, single-use tokens, audit sink)
	store := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	defer store.Close()
	if err := store.Init(context.Background()); err != nil {
		log.Fatalf("store: %v", err)
	}

	// 5. Token manager
	tokens, err := castellan.NewTokenManager(cfg.Security.SecretKey,
		castellan.WithUsedTokenStore(store),
		castellan.WithTokenMaxAge(time.Duration(cfg.Security.ApprovalTTLSeconds)*time.Second))
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	// 6. Audit log
	audit, err := castellan.NewAuditLog(cfg.Security.AuditLogPath,
		castellan.WithAuditLogger(logger),
		castellan.WithAuditSink(store))
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}

	// 7. Engine registry backed by Markdown agent definitions
	limits := castellan.DefaultLimits()
	limits.MaxPlanSteps = cfg.Runtime.MaxPlanSteps
	limits.MaxRetriesPerStep = cfg.Runtime.MaxRetriesPerStep
	limits.ToolTimeout = time.Duration(cfg.Runtime.ToolTimeoutSeconds) * time.Second
	limits.ApprovalTTL = time.Duration(cfg.Security.ApprovalTTLSeconds) * time.Second
	limits.IdempotencyTTL = time.Duration(cfg.Runtime.IdempotencyTTLSeconds) * time.Second
	limits.EvictionThreshold = cfg.Runtime.EvictionThresholdChars
	limits.RehydrationMax = cfg.Runtime.RehydrationMaxChars
	limits.SummaryMax = cfg.Runtime.SummaryMaxChars
	limits.TransitionLimit = cfg.Runtime.NodeTransitionLimit

	registry := castellan.NewEngineRegistry(func(name string) (*castellan.Engine, error) {
		def, err := loader.LoadAgent(cfg.Runtime.AgentsDir, name)
		if err != nil {
			return nil, err
		}

		tools := castellan.NewToolRegistry()
		fileTool, err := file.New(cfg.Runtime.SandboxRoot)
		if err != nil {
			return nil, err
		}
		if err := tools.Register(fileTool); err != nil {
			return nil, err
		}
		emailTool := email.New(email.DelivererFunc(func(_ context.Context, to, subject, _ string) error {
			logger.Info("email delivered", "to", to, "subject", subject)
			return nil
		}))
		if err := tools.Register(emailTool); err != nil {
			return nil, err
		}

		return castellan.NewEngine(name, provider, tokens,
			castellan.WithInstructions(def.Instructions),
			castellan.WithToolRegistry(tools),
			castellan.WithResultCache(store),
			castellan.WithAuditLog(audit),
			castellan.WithSandboxRoot(cfg.Runtime.SandboxRoot),
			castellan.WithEmailAllowlist(cfg.Security.EmailDomainAllowlist),
			castellan.WithLimits(limits),
			castellan.WithLogger(logger),
			castellan.WithTracer(tracer))
	}, castellan.WithRegistryLogger(logger))
	defer registry.Close()

	// 8. Prune idle engines in the background
	idleTTL := time.Duration(cfg.Runtime.EngineIdleTTLSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(idleTTL)
		defer ticker.Stop()
		for range ticker.C {
			registry.Prune(idleTTL)
		}
	}()

	// 9. REPL
	agent := "default"
	if len(os.Args) > 1 {
		agent = os.Args[1]
	}
	if err := runREPL(registry, agent); err != nil {
		log.Fatal(err)
	}
}

// runREPL reads user turns from stdin and prints assistant replies.
// State is carried across turns so approval suspensions resume in place.
func runREPL(registry *castellan.EngineRegistry, agent string) error {
	engine, err := registry.Engine(agent)
	if err != nil {
		return err
	}

	threadID := castellan.NewID()
	var state *castellan.State

	fmt.Printf("castellan (%s) ready. Ctrl-D to exit.\n", agent)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s, err := engine.Run(context.Background(), castellan.RunInput{
			ThreadID: threadID,
			UserID:   "cli",
			Message:  line,
			Resume:   state,
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		state = &s
		if n := len(s.Messages); n > 0 && s.Messages[n-1].Role == "assistant" {
			fmt.Println(s.Messages[n-1].Content)
		}
	}
	return scanner.Err()
}
