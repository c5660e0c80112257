package resolve

import "testing"

func TestProviderKnownNames(t *testing.T) {
	for _, name := range []string{"gemini", "openai", "openrouter"} {
		p, err := Provider(name, "key", "model")
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if p == nil {
			t.Errorf("%s: nil provider", name)
		}
	}
}

func TestProviderUnknownName(t *testing.T) {
	if _, err := Provider("mystery", "key", "model"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
