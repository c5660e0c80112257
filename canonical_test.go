package castellan

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"y": true, "x": "v"},
		"mid":   []any{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"alpha":{"x":"v","y":true},"mid":["a","b"],"zebra":1}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeStable(t *testing.T) {
	args := map[string]any{"path": "a.txt", "content": "x", "n": 3}
	first, err := Canonicalize(args)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Canonicalize(args)
		if err != nil {
			t.Fatalf("Canonicalize: %v", err)
		}
		if again != first {
			t.Fatalf("run %d: %s != %s", i, again, first)
		}
	}
}

func TestCanonicalizeNoHTMLEscape(t *testing.T) {
	got, err := Canonicalize(map[string]any{"q": "a<b&c>d"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if got != `{"q":"a<b&c>d"}` {
		t.Errorf("angle brackets escaped: %s", got)
	}
}

func TestHashHex(t *testing.T) {
	// sha256("abc"), a published test vector.
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashHex("abc"); got != want {
		t.Errorf("HashHex(abc) = %s, want %s", got, want)
	}
}

func TestIdempotencyKeyDistinct(t *testing.T) {
	base := IdempotencyKey("thread-1", 0, "hash-a")
	if len(base) != 64 {
		t.Fatalf("key length = %d, want 64", len(base))
	}
	for name, other := range map[string]string{
		"different thread": IdempotencyKey("thread-2", 0, "hash-a"),
		"different step":   IdempotencyKey("thread-1", 1, "hash-a"),
		"different hash":   IdempotencyKey("thread-1", 0, "hash-b"),
	} {
		if other == base {
			t.Errorf("%s: key collision", name)
		}
	}
	if again := IdempotencyKey("thread-1", 0, "hash-a"); again != base {
		t.Error("same triple produced different keys")
	}
}
