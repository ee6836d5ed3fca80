package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookforge-backend/internal/llm"
)

func TestGenerateReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "chapter text"}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient("key", "gpt-4o-mini", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got, err := c.Generate(context.Background(), llm.Request{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "chapter text" {
		t.Fatalf("content = %q", got)
	}
}

func TestGenerateMapsRateLimitToStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient("key", "gpt-4o-mini", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Generate(context.Background(), llm.Request{Prompt: "p"})
	var statusErr *llm.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *llm.StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", statusErr.StatusCode)
	}
	if statusErr.RetryAfter != 3*time.Second {
		t.Fatalf("retryAfter = %v", statusErr.RetryAfter)
	}
	if !llm.Retryable(err) {
		t.Fatal("rate limit not retryable")
	}
}

func TestGenerateContentFilterIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": ""},
					"finish_reason": "content_filter",
				},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient("key", "gpt-4o-mini", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Generate(context.Background(), llm.Request{Prompt: "p"})
	var policyErr *llm.ContentPolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("err = %v, want *llm.ContentPolicyError", err)
	}
	if llm.Retryable(err) {
		t.Fatal("content policy error marked retryable")
	}
}

func TestNewClientRequiresKeyAndModel(t *testing.T) {
	if _, err := NewClient("", "model", "", 0); err == nil {
		t.Fatal("missing key accepted")
	}
	if _, err := NewClient("key", "", "", 0); err == nil {
		t.Fatal("missing model accepted")
	}
}
