package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/castellan-ai/castellan"
)

func TestInvoke(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer srv.Close()

	p := New(srv.URL, "sk-test", "gpt-test")
	reply, err := p.Invoke(context.Background(), []castellan.ChatMessage{castellan.UserMessage("ping")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q", reply)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-test" {
		t.Errorf("model = %v", gotBody["model"])
	}
}

func TestInvokeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(srv.URL, "bad", "m")
	if _, err := p.Invoke(context.Background(), []castellan.ChatMessage{castellan.UserMessage("hi")}); err == nil {
		t.Fatal("expected error on HTTP 401")
	}
}
