package castellan

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
		ok   bool
	}{
		{
			name: "fenced with language tag",
			text: "Here is the plan:\n```json\n{\"steps\": [\"one\"]}\n```\nDone.",
			want: map[string]any{"steps": []any{"one"}},
			ok:   true,
		},
		{
			name: "fenced without language tag",
			text: "```\n{\"name\": \"read_file\"}\n```",
			want: map[string]any{"name": "read_file"},
			ok:   true,
		},
		{
			name: "bare object",
			text: `  {"a": 1}  `,
			want: map[string]any{"a": float64(1)},
			ok:   true,
		},
		{
			name: "object buried in prose",
			text: `Sure! I'll call the tool: {"name": "ls", "args": {}} as requested.`,
			want: map[string]any{"name": "ls", "args": map[string]any{}},
			ok:   true,
		},
		{
			name: "braces inside strings",
			text: `{"content": "func f() { return }", "n": 2}`,
			want: map[string]any{"content": "func f() { return }", "n": float64(2)},
			ok:   true,
		},
		{
			name: "no json at all",
			text: "I cannot help with that.",
			ok:   false,
		},
		{
			name: "unbalanced braces",
			text: `{"a": {"b": 1}`,
			ok:   false,
		},
		{
			name: "empty input",
			text: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			for k, want := range tt.want {
				gotV, exists := got[k]
				if !exists {
					t.Errorf("missing key %q", k)
					continue
				}
				switch w := want.(type) {
				case string, float64:
					if gotV != w {
						t.Errorf("key %q = %v, want %v", k, gotV, w)
					}
				}
			}
		})
	}
}

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	// A fenced block wins over an earlier bare object in the prose.
	text := "Ignore {\"a\": 1}.\n```json\n{\"b\": 2}\n```"
	got, ok := ExtractJSON(text)
	if !ok {
		t.Fatal("expected parse")
	}
	if _, hasB := got["b"]; !hasB {
		t.Errorf("fenced block not preferred: %v", got)
	}
}

func TestParseProposal(t *testing.T) {
	name, args, ok := parseProposal(`{"name": "read_file", "args": {"path": "a.txt"}}`)
	if !ok || name != "read_file" {
		t.Fatalf("ok=%v name=%q", ok, name)
	}
	if args["path"] != "a.txt" {
		t.Errorf("args = %v", args)
	}
}

func TestParseProposalArgsAsString(t *testing.T) {
	name, args, ok := parseProposal(`{"name": "ls", "args": "{\"path\": \"sub\"}"}`)
	if !ok || name != "ls" {
		t.Fatalf("ok=%v name=%q", ok, name)
	}
	if args["path"] != "sub" {
		t.Errorf("args = %v", args)
	}
}

func TestParseProposalMissingArgs(t *testing.T) {
	_, args, ok := parseProposal(`{"name": "ls"}`)
	if !ok {
		t.Fatal("nil args should default to empty map")
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestParseProposalRejects(t *testing.T) {
	for name, text := range map[string]string{
		"missing name":  `{"args": {}}`,
		"args not json": `{"name": "ls", "args": "not json"}`,
		"args wrong":    `{"name": "ls", "args": 42}`,
		"not json":      `call read_file please`,
	} {
		if _, _, ok := parseProposal(text); ok {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

func TestParsePlanSteps(t *testing.T) {
	steps := parsePlanSteps("```json\n{\"steps\": [\"read the file\", \"  \", \"summarize it\"]}\n```")
	if len(steps) != 2 {
		t.Fatalf("steps = %v", steps)
	}
	if steps[0] != "read the file" || steps[1] != "summarize it" {
		t.Errorf("steps = %v", steps)
	}
	if parsePlanSteps(`{"steps": "not an array"}`) != nil {
		t.Error("non-array steps should parse to nil")
	}
	if parsePlanSteps("no json here") != nil {
		t.Error("prose should parse to nil")
	}
}
