package castellan

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Argument keys treated as filesystem paths by the validator and policy.
var pathArgKeys = map[string]bool{
	"path":        true,
	"source_path": true,
	"dest_path":   true,
	"file":        true,
	"dir":         true,
}

const (
	maxEmailSubject = 500
	maxEmailBody    = 50000
)

// emailRe is deliberately permissive: the point is catching junk, not
// enforcing the full RFC.
var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// ArgValidator is the server-side argument check run by the Executor
// before canonicalization and re-run by the RiskGate. It rejects null
// bytes anywhere, and for path arguments rejects absolute paths, UNC
// paths, and any ".." segment, then requires resolution inside the
// sandbox root.
type ArgValidator struct {
	SandboxRoot    string
	EmailAllowlist []string // allowed recipient domains; empty = any
}

// NewArgValidator builds a validator rooted at sandboxRoot (made absolute).
func NewArgValidator(sandboxRoot string, emailDomains []string) (*ArgValidator, error) {
	abs, err := filepath.Abs(sandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	return &ArgValidator{SandboxRoot: abs, EmailAllowlist: emailDomains}, nil
}

// Validate checks the argument map for the named tool. A nil error means
// the arguments are safe to canonicalize and hash.
func (v *ArgValidator) Validate(toolName string, args map[string]any) error {
	if err := checkNullBytes(args); err != nil {
		return err
	}
	for key, val := range args {
		s, ok := val.(string)
		if !ok || !pathArgKeys[key] {
			continue
		}
		if _, err := v.ResolvePath(s); err != nil {
			return fmt.Errorf("arg %q: %w", key, err)
		}
	}
	if toolName == "send_email" {
		return v.validateEmail(args)
	}
	return nil
}

// ResolvePath validates a path argument and returns its absolute location
// under the sandbox root.
func (v *ArgValidator) ResolvePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("null byte in path")
	}
	if strings.HasPrefix(p, `\\`) {
		return "", fmt.Errorf("UNC path not allowed: %s", p)
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute path not allowed: %s", p)
	}
	cleaned := filepath.Clean(filepath.FromSlash(p))
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal not allowed: %s", p)
		}
	}
	resolved := filepath.Join(v.SandboxRoot, cleaned)
	if resolved != v.SandboxRoot && !strings.HasPrefix(resolved, v.SandboxRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox: %s", p)
	}
	return resolved, nil
}

// InSandbox reports whether a raw path argument resolves under the
// sandbox root. Used by the policy's out-of-sandbox layer.
func (v *ArgValidator) InSandbox(p string) bool {
	_, err := v.ResolvePath(p)
	return err == nil
}

func (v *ArgValidator) validateEmail(args map[string]any) error {
	to, _ := args["to"].(string)
	if !emailRe.MatchString(to) {
		return fmt.Errorf("invalid recipient address: %q", to)
	}
	if len(v.EmailAllowlist) > 0 {
		domain := strings.ToLower(to[strings.LastIndexByte(to, '@')+1:])
		allowed := false
		for _, d := range v.EmailAllowlist {
			if strings.EqualFold(strings.TrimSpace(d), domain) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("recipient domain %q not in allowlist", domain)
		}
	}
	if subject, _ := args["subject"].(string); len(subject) > maxEmailSubject {
		return fmt.Errorf("subject exceeds %d chars", maxEmailSubject)
	}
	if body, _ := args["body"].(string); len(body) > maxEmailBody {
		return fmt.Errorf("body exceeds %d chars", maxEmailBody)
	}
	return nil
}

// checkNullBytes walks the decoded argument tree and rejects any string
// containing a null byte, at any depth.
func checkNullBytes(v any) error {
	switch x := v.(type) {
	case string:
		if strings.ContainsRune(x, 0) {
			return fmt.Errorf("null byte in argument")
		}
	case map[string]any:
		for k, val := range x {
			if strings.ContainsRune(k, 0) {
				return fmt.Errorf("null byte in argument key")
			}
			if err := checkNullBytes(val); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range x {
			if err := checkNullBytes(val); err != nil {
				return err
			}
		}
	}
	return nil
}
