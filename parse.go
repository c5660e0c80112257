package castellan

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of LLM output. It tolerates the
// formats models actually produce, in order of preference:
//
//  1. a fenced code block (```json ... ``` or ``` ... ```)
//  2. the whole trimmed text as a bare object
//  3. the largest balanced {...} substring
//
// Returns the decoded object and true, or nil and false when no parse
// succeeds.
func ExtractJSON(text string) (map[string]any, bool) {
	for _, candidate := range fencedBlocks(text) {
		if m, ok := tryObject(candidate); ok {
			return m, true
		}
	}
	if m, ok := tryObject(strings.TrimSpace(text)); ok {
		return m, true
	}
	if m, ok := tryObject(largestBalanced(text)); ok {
		return m, true
	}
	return nil, false
}

func tryObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

// fencedBlocks returns the contents of all triple-backtick code blocks,
// with an optional language tag on the opening fence stripped.
func fencedBlocks(text string) []string {
	var blocks []string
	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return blocks
		}
		rest := text[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		block := rest[:end]
		// Drop the language tag line ("json", "JSON", ...) if present.
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			first := strings.TrimSpace(block[:nl])
			if first != "" && !strings.ContainsAny(first, "{}") {
				block = block[nl+1:]
			}
		}
		blocks = append(blocks, strings.TrimSpace(block))
		text = rest[end+3:]
	}
}

// largestBalanced finds the longest substring that starts with '{', ends
// with '}', and is brace-balanced outside of JSON strings.
func largestBalanced(text string) string {
	best := ""
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for j := i; j < len(text); j++ {
			c := text[j]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					if j-i+1 > len(best) {
						best = text[i : j+1]
					}
					j = len(text) // done with this start
				}
			}
		}
	}
	return best
}
