package castellan

import (
	"fmt"
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// SecretScanner detects credentials in content bound for a write/edit
// tool. Findings are short labels ("aws_access_key", "private_key", ...);
// any finding blocks the call at the RiskGate.
type SecretScanner interface {
	ScanSecrets(content string) []string
}

// PIIScanner redacts personally identifying information from text and
// reports what it found. A positive scan on write content downgrades the
// policy decision to simple approval rather than a block.
type PIIScanner interface {
	SanitizePII(text string) (string, []string)
}

// RegexScanner is the built-in DLP implementation backing both scanner
// interfaces. Input is NFKC-normalized before matching so fullwidth and
// compatibility forms cannot smuggle a credential past the patterns.
type RegexScanner struct{}

var (
	_ SecretScanner = (*RegexScanner)(nil)
	_ PIIScanner    = (*RegexScanner)(nil)
)

// NewRegexScanner returns the built-in pattern scanner.
func NewRegexScanner() *RegexScanner {
	return &RegexScanner{}
}

type secretPattern struct {
	label string
	re    *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{20,}\b`)},
	{"credential_assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|password|passwd|token)\b\s*[:=]\s*['"]?[^\s'"]{8,}`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},
}

type piiPattern struct {
	label string
	re    *regexp.Regexp
}

// Ordered most to least specific: the phone pattern would otherwise
// swallow national IDs and card numbers before their own labels apply.
var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"national_id", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card_number", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"phone", regexp.MustCompile(`\b\+?\d[\d\s\-()]{7,}\d\b`)},
}

// ScanSecrets returns a label per matched secret pattern.
func (s *RegexScanner) ScanSecrets(content string) []string {
	content = norm.NFKC.String(content)
	var findings []string
	for _, p := range secretPatterns {
		if p.re.MatchString(content) {
			findings = append(findings, p.label)
		}
	}
	return findings
}

// SanitizePII replaces each PII match with a typed redaction marker and
// returns the labels of the categories found.
func (s *RegexScanner) SanitizePII(text string) (string, []string) {
	text = norm.NFKC.String(text)
	var findings []string
	for _, p := range piiPatterns {
		if !p.re.MatchString(text) {
			continue
		}
		findings = append(findings, p.label)
		text = p.re.ReplaceAllString(text, fmt.Sprintf("[REDACTED:%s]", p.label))
	}
	return text, findings
}
