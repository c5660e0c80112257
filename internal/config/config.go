package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Security SecurityConfig `toml:"security"`
	Database DatabaseConfig `toml:"database"`
	Observer ObserverConfig `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

type RuntimeConfig struct {
	AgentsDir              string `toml:"agents_dir"`
	SandboxRoot            string `toml:"sandbox_root"`
	ToolTimeoutSeconds     int    `toml:"tool_timeout_seconds"`
	MaxPlanSteps           int    `toml:"max_plan_steps"`
	MaxRetriesPerStep      int    `toml:"max_retries_per_step"`
	IdempotencyTTLSeconds  int    `toml:"idempotency_ttl_seconds"`
	EngineIdleTTLSeconds   int    `toml:"engine_idle_ttl_seconds"`
	EvictionThresholdChars int    `toml:"eviction_threshold_chars"`
	RehydrationMaxChars    int    `toml:"rehydration_max_chars"`
	SummaryMaxChars        int    `toml:"summary_max_chars"`
	NodeTransitionLimit    int    `toml:"node_transition_limit"`
}

type SecurityConfig struct {
	SecretKey            string   `toml:"secret_key"`
	ApprovalTTLSeconds   int      `toml:"approval_ttl_seconds"`
	EmailDomainAllowlist []string `toml:"email_domain_allowlist"`
	AuditLogPath         string   `toml:"audit_log_path"`
}

type DatabaseConfig struct {
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		LLM: LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Runtime: RuntimeConfig{
			AgentsDir:              "agents",
			SandboxRoot:            filepath.Join(home, "castellan-sandbox"),
			ToolTimeoutSeconds:     30,
			MaxPlanSteps:           8,
			MaxRetriesPerStep:      3,
			IdempotencyTTLSeconds:  600,
			EngineIdleTTLSeconds:   300,
			EvictionThresholdChars: 10000,
			RehydrationMaxChars:    50000,
			SummaryMaxChars:        500,
			NodeTransitionLimit:    64,
		},
		Security: SecurityConfig{
			ApprovalTTLSeconds: 300,
			AuditLogPath:       "castellan_audit.jsonl",
		},
		Database: DatabaseConfig{Path: "castellan.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "castellan.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CASTELLAN_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CASTELLAN_SECRET_KEY"); v != "" {
		cfg.Security.SecretKey = v
	}
	if v := os.Getenv("CASTELLAN_SANDBOX_ROOT"); v != "" {
		cfg.Runtime.SandboxRoot = v
	}
	if v := os.Getenv("CASTELLAN_AGENTS_DIR"); v != "" {
		cfg.Runtime.AgentsDir = v
	}
	if v := os.Getenv("CASTELLAN_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("CASTELLAN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CASTELLAN_TOOL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.ToolTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CASTELLAN_APPROVAL_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Security.ApprovalTTLSeconds = n
		}
	}
	if os.Getenv("CASTELLAN_OBSERVER_ENABLED") == "true" || os.Getenv("CASTELLAN_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
