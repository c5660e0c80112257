package castellan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Canonicalize renders tool arguments as deterministic JSON: keys sorted
// lexicographically at every nesting level, no whitespace between tokens,
// UTF-8 bytes. Two structurally equal argument maps always produce the
// same string, so the SHA-256 of the output is a stable integrity hash.
func Canonicalize(args map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// encoding/json sorts map keys and emits no whitespace; disabling
	// HTML escaping keeps <, > and & as literal bytes so the hash input
	// matches the raw argument content.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// HashHex returns the hex-encoded SHA-256 of s.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey derives the cache key for a tool invocation from the
// thread, the plan step, and the canonical argument hash.
func IdempotencyKey(threadID string, stepIdx int, argsHash string) string {
	return HashHex(fmt.Sprintf("%s:%d:%s", threadID, stepIdx, argsHash))
}
