package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/castellan-ai/castellan"
)

func TestInvoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}`))
	}))
	defer srv.Close()

	orig := baseURL
	baseURL = srv.URL
	defer func() { baseURL = orig }()

	g := New("key", "gemini-2.5-flash")
	reply, err := g.Invoke(context.Background(), []castellan.ChatMessage{
		castellan.SystemMessage("be brief"),
		castellan.UserMessage("ping"),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply != "pong" {
		t.Errorf("reply = %q", reply)
	}
	if _, ok := gotBody["systemInstruction"]; !ok {
		t.Error("system message not mapped to systemInstruction")
	}
}

func TestInvokeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	orig := baseURL
	baseURL = srv.URL
	defer func() { baseURL = orig }()

	g := New("key", "gemini-2.5-flash")
	if _, err := g.Invoke(context.Background(), []castellan.ChatMessage{castellan.UserMessage("hi")}); err == nil {
		t.Fatal("expected error on HTTP 429")
	}
}

func TestInvokeEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	orig := baseURL
	baseURL = srv.URL
	defer func() { baseURL = orig }()

	g := New("key", "m")
	if _, err := g.Invoke(context.Background(), []castellan.ChatMessage{castellan.UserMessage("hi")}); err == nil {
		t.Fatal("expected error on empty candidates")
	}
}
