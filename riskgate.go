package castellan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Decision is a policy verdict for a proposed tool call.
type Decision string

const (
	DecisionAllow        Decision = "ALLOW"
	DecisionAuthRequired Decision = "AUTH_REQUIRED"
	DecisionBlocked      Decision = "BLOCKED"
)

// AuthClass grades how strong an approval must be for an AUTH_REQUIRED
// decision. The runtime treats all classes as HITL token approval today;
// the class is carried in the approval prompt and the audit record.
type AuthClass string

const (
	AuthSimple    AuthClass = "simple"
	AuthStrong    AuthClass = "strong"
	AuthBiometric AuthClass = "biometric"
)

// decoyMessage is surfaced instead of a real error when a honeytoken or
// honeyfile trips. It must look like an ordinary operational failure.
const decoyMessage = "The requested resource is temporarily locked for maintenance. Please try again later."

// PolicyResult is the outcome of evaluating the layered policy.
type PolicyResult struct {
	Decision  Decision
	Reason    string
	AuthClass AuthClass
	// Panic marks a honeytoken/honeyfile hit: the caller must show the
	// decoy text and never the real reason.
	Panic bool
	Decoy string
	Risk  string // "low", "medium", "high", "critical"
}

// RiskPolicy holds the planted decoys and tool classifications consulted
// by the layered evaluation. Layers run in order; first match wins.
type RiskPolicy struct {
	// Honeytokens are planted credential strings. Their appearance in
	// any argument value means the model read something it never should
	// have seen.
	Honeytokens []string
	// Honeyfiles are planted decoy filenames; touching one is treated
	// as an active exfiltration attempt.
	Honeyfiles []string
	// SensitiveFiles require strong approval when a path names one.
	SensitiveFiles []string

	CriticalTools   map[string]bool
	HighRiskTools   map[string]bool
	FilesystemTools map[string]bool
	WriteTools      map[string]bool
}

// DefaultRiskPolicy returns the stock policy for the built-in tool set.
func DefaultRiskPolicy() *RiskPolicy {
	return &RiskPolicy{
		Honeytokens: []string{
			"AKIA0000CANARY0000XX",
			"hnyt-3f82c1d94a07",
			"CANARY_SERVICE_TOKEN",
		},
		Honeyfiles: []string{
			"admin_backup.json",
			"passwords_export.csv",
			"master_keys.db",
		},
		SensitiveFiles: []string{
			".env",
			"id_rsa",
			"id_ed25519",
			"credentials.json",
			"secrets.yaml",
			".pem",
		},
		CriticalTools: map[string]bool{
			"shell_exec":  true,
			"delete_file": true,
		},
		HighRiskTools: map[string]bool{
			"send_email": true,
			"http_post":  true,
		},
		FilesystemTools: map[string]bool{
			"ls":         true,
			"read_file":  true,
			"write_file": true,
			"edit_file":  true,
			"glob":       true,
			"grep":       true,
		},
		WriteTools: map[string]bool{
			"write_file": true,
			"edit_file":  true,
		},
	}
}

// RiskGate is the only path to tool execution. It trusts nothing from
// upstream: arguments are re-canonicalized and re-hashed server-side, and
// only then does the layered policy run. Every decision is audited.
type RiskGate struct {
	policy    *RiskPolicy
	validator *ArgValidator
	secrets   SecretScanner
	pii       PIIScanner
	audit     *AuditLog
	logger    *slog.Logger
}

// RiskGateOption configures a RiskGate.
type RiskGateOption func(*RiskGate)

// WithRiskPolicy replaces the default policy.
func WithRiskPolicy(p *RiskPolicy) RiskGateOption {
	return func(g *RiskGate) { g.policy = p }
}

// WithSecretScanner sets the DLP secret scanner for write content.
func WithSecretScanner(s SecretScanner) RiskGateOption {
	return func(g *RiskGate) { g.secrets = s }
}

// WithPIIScanner sets the DLP PII scanner for write content.
func WithPIIScanner(s PIIScanner) RiskGateOption {
	return func(g *RiskGate) { g.pii = s }
}

// WithRiskLogger sets the structured logger.
func WithRiskLogger(l *slog.Logger) RiskGateOption {
	return func(g *RiskGate) { g.logger = l }
}

// NewRiskGate builds a gate with the default policy and the built-in
// regex DLP scanners unless overridden.
func NewRiskGate(validator *ArgValidator, audit *AuditLog, opts ...RiskGateOption) *RiskGate {
	scanner := NewRegexScanner()
	g := &RiskGate{
		policy:    DefaultRiskPolicy(),
		validator: validator,
		secrets:   scanner,
		pii:       scanner,
		audit:     audit,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Recheck recomputes the canonical form and hash of the proposal's raw
// arguments and compares them to the claimed integrity fields. A mismatch
// means the proposal was altered between the Executor and the gate.
func (g *RiskGate) Recheck(p *ProposedTool) error {
	canonical, err := Canonicalize(p.Args)
	if err != nil {
		return fmt.Errorf("recanonicalize: %w", err)
	}
	if canonical != p.CanonicalArgs {
		return &ErrIntegrity{Field: "canonical_args", Want: canonical, Got: p.CanonicalArgs}
	}
	hash := HashHex(canonical)
	if hash != p.ArgsHash {
		return &ErrIntegrity{Field: "args_hash", Want: hash, Got: p.ArgsHash}
	}
	return nil
}

// Evaluate runs the policy layers in priority order and returns the first
// matching verdict.
func (g *RiskGate) Evaluate(p *ProposedTool, authenticated bool) PolicyResult {
	pol := g.policy

	// Layer 0: honeytoken anywhere in the argument values.
	for _, token := range pol.Honeytokens {
		if argsContain(p.Args, token) {
			return PolicyResult{
				Decision: DecisionBlocked,
				Reason:   "honeytoken detected in arguments",
				Panic:    true,
				Decoy:    decoyMessage,
				Risk:     "critical",
			}
		}
	}

	// Layer 1: critical tools always need the strongest approval.
	if pol.CriticalTools[p.Name] {
		return PolicyResult{
			Decision:  DecisionAuthRequired,
			Reason:    fmt.Sprintf("tool %s is classified critical", p.Name),
			AuthClass: AuthBiometric,
			Risk:      "high",
		}
	}

	isFS := pol.FilesystemTools[p.Name]
	paths := pathArgs(p.Args)

	// Layer 2: honeyfile access.
	if isFS {
		for _, path := range paths {
			for _, hf := range pol.Honeyfiles {
				if strings.Contains(path, hf) {
					return PolicyResult{
						Decision: DecisionBlocked,
						Reason:   "honeyfile access: " + hf,
						Panic:    true,
						Decoy:    decoyMessage,
						Risk:     "critical",
					}
				}
			}
		}
	}

	// Layer 3: sandbox escape without prior authentication.
	if isFS && !authenticated {
		for _, path := range paths {
			if !g.validator.InSandbox(path) {
				return PolicyResult{
					Decision: DecisionBlocked,
					Reason:   "path outside sandbox: " + path,
					Risk:     "high",
				}
			}
		}
	}

	// Layer 4: sensitive filenames require strong approval.
	if isFS {
		for _, path := range paths {
			base := strings.ToLower(strings.TrimSpace(path))
			for _, sf := range pol.SensitiveFiles {
				if strings.HasSuffix(base, strings.ToLower(sf)) {
					return PolicyResult{
						Decision:  DecisionAuthRequired,
						Reason:    "sensitive file: " + sf,
						AuthClass: AuthStrong,
						Risk:      "medium",
					}
				}
			}
		}
	}

	// Layers 5 and 6: DLP on content bound for a write/edit tool.
	if pol.WriteTools[p.Name] {
		content := writeContent(p.Args)
		if g.secrets != nil {
			if findings := g.secrets.ScanSecrets(content); len(findings) > 0 {
				return PolicyResult{
					Decision: DecisionBlocked,
					Reason:   "secret detected in write content: " + strings.Join(findings, ", "),
					Risk:     "high",
				}
			}
		}
		if g.pii != nil {
			if _, findings := g.pii.SanitizePII(content); len(findings) > 0 {
				return PolicyResult{
					Decision:  DecisionAuthRequired,
					Reason:    "PII detected in write content: " + strings.Join(findings, ", "),
					AuthClass: AuthSimple,
					Risk:      "medium",
				}
			}
		}
	}

	// Layer 7: high-risk tools.
	if pol.HighRiskTools[p.Name] {
		return PolicyResult{
			Decision:  DecisionAuthRequired,
			Reason:    fmt.Sprintf("tool %s is classified high risk", p.Name),
			AuthClass: AuthStrong,
			Risk:      "medium",
		}
	}

	// Layer 8: default allow.
	return PolicyResult{Decision: DecisionAllow, Reason: "default", Risk: "low"}
}

// Audit records a gate decision on the hash chain. When doNotStore is set
// the record keeps its event, decision, and risk level but carries empty
// details, so the chain stays contiguous without retaining run content.
func (g *RiskGate) Audit(ctx context.Context, event string, details map[string]any, decision, risk string, doNotStore bool) {
	if g.audit == nil {
		return
	}
	if doNotStore {
		details = map[string]any{}
	}
	// Append degrades internally on persistence failure; a gate decision
	// never fails because the disk did.
	_ = g.audit.Append(ctx, event, details, decision, risk)
}

// riskGateNode is the graph face of the gate: integrity re-check first,
// then the layered policy. Security decisions are never retried, so both
// failure paths produce a terminal failed outcome for the step.
func (e *Engine) riskGateNode(ctx context.Context, s State) Command {
	p := s.Proposed
	if p == nil {
		return failStep("internal error: no proposed tool at risk gate")
	}

	if err := e.gate.Recheck(p); err != nil {
		e.logger.Error("risk gate: integrity violation",
			"thread", s.ThreadID, "tool", p.Name, "error", err.Error())
		e.gate.Audit(ctx, "integrity_violation", map[string]any{
			"tool":     p.Name,
			"step_idx": p.StepIdx,
			"thread":   s.ThreadID,
		}, "integrity_violation", "critical", s.DoNotStore)
		return Command{
			Update: Update{
				Outcome:          FailedOutcome("integrity violation: proposal was altered after canonicalization"),
				SecurityFindings: []string{err.Error()},
			},
			Goto: NodeInterpreter,
		}
	}

	res := e.gate.Evaluate(p, s.Authenticated)
	e.gate.Audit(ctx, "policy_decision", map[string]any{
		"tool":      p.Name,
		"args_hash": p.ArgsHash,
		"reason":    res.Reason,
		"thread":    s.ThreadID,
	}, string(res.Decision), res.Risk, s.DoNotStore)

	switch res.Decision {
	case DecisionBlocked:
		output := "blocked by policy: " + res.Reason
		if res.Panic {
			// Real reason stays in the findings and the audit chain;
			// the user sees only the decoy.
			output = res.Decoy
		}
		return Command{
			Update: Update{
				Outcome:          FailedOutcome(output),
				SecurityFindings: []string{res.Reason},
			},
			Goto: NodeInterpreter,
		}

	case DecisionAuthRequired:
		approval := &ApprovalRecord{
			ID:        newApprovalID(),
			Hash:      p.ArgsHash,
			ExpiresAt: NowUnix() + int64(e.limits.ApprovalTTL/time.Second),
		}
		e.logger.Debug("risk gate: approval required",
			"thread", s.ThreadID, "tool", p.Name, "approval_id", approval.ID, "class", string(res.AuthClass))
		return Command{
			Update: Update{
				Approval:         approval,
				AwaitingApproval: boolPtr(true),
				Question:         strPtr(res.Reason),
			},
			Goto: NodeAwaitApproval,
		}

	default:
		return Command{Goto: NodeTools}
	}
}

// argsContain reports whether needle appears in any string value of the
// decoded argument tree.
func argsContain(v any, needle string) bool {
	switch x := v.(type) {
	case string:
		return strings.Contains(x, needle)
	case map[string]any:
		for _, val := range x {
			if argsContain(val, needle) {
				return true
			}
		}
	case []any:
		for _, val := range x {
			if argsContain(val, needle) {
				return true
			}
		}
	}
	return false
}

// pathArgs collects the string values of path-like argument keys.
func pathArgs(args map[string]any) []string {
	var paths []string
	for key, val := range args {
		if !pathArgKeys[key] {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			paths = append(paths, s)
		}
	}
	return paths
}

// writeContent extracts the content payload of a write/edit call.
func writeContent(args map[string]any) string {
	for _, key := range []string{"content", "new_text", "text", "body"} {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
