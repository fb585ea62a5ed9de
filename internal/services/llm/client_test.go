package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionPayload(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"content": content,
				},
			},
		},
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewEncoder(w).Encode(completionPayload(`{"ok":true}`)); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientCompleteJSONCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := completionPayload("```json\n{\"meaning\":\"tired\",\"pinyin\":\"lèi\"}\n```")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	var parsed struct {
		Meaning string `json:"meaning"`
		Pinyin  string `json:"pinyin"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		t.Fatalf("DecodeLLMJSON returned error: %v", err)
	}
	if parsed.Meaning != "tired" || parsed.Pinyin != "lèi" {
		t.Fatalf("unexpected payload: %+v", parsed)
	}
}

func TestClientCompleteJSONToolCallArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"type": "function",
								"id":   "call_1",
								"function": map[string]any{
									"name":      "interpret_character",
									"arguments": `{"meaning":"to walk"}`,
								},
							},
						},
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if !strings.Contains(content, "\"meaning\"") {
		t.Fatalf("expected JSON arguments, got %q", content)
	}
}

func TestClientCompleteJSONEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message": map[string]any{
						"content": "",
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
}

func TestClientDoesNotRetryByDefault(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "down"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected completion to fail")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		_ = json.NewEncoder(w).Encode(completionPayload(`{"ok":true}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if !strings.Contains(content, "ok") {
		t.Fatalf("unexpected content %q", content)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad request"})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected completion to fail")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestClientCompleteJSONWithImageSendsParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		var parts []struct {
			Type     string `json:"type"`
			ImageURL *struct {
				URL string `json:"url"`
			} `json:"image_url"`
		}
		if err := json.Unmarshal(req.Messages[1].Content, &parts); err != nil {
			t.Fatalf("user content is not a part list: %v", err)
		}
		var sawImage bool
		for _, part := range parts {
			if part.Type == "image_url" && part.ImageURL != nil && strings.HasPrefix(part.ImageURL.URL, "data:image/png;base64,") {
				sawImage = true
			}
		}
		if !sawImage {
			t.Fatalf("expected image_url part, got %+v", parts)
		}
		_ = json.NewEncoder(w).Encode(completionPayload(`{"contains_text":false}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSONWithImage(context.Background(), "system", "inspect", "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("CompleteJSONWithImage returned error: %v", err)
	}
	if !strings.Contains(content, "contains_text") {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestDecodeLLMJSONExtractsEmbeddedObject(t *testing.T) {
	var parsed struct {
		Meaning string `json:"meaning"`
	}
	content := "Here is the result you asked for: {\"meaning\":\"mountain\"} hope that helps"
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		t.Fatalf("DecodeLLMJSON returned error: %v", err)
	}
	if parsed.Meaning != "mountain" {
		t.Fatalf("expected meaning mountain, got %q", parsed.Meaning)
	}
}

func TestDecodeLLMJSONEmptyPayload(t *testing.T) {
	var parsed map[string]any
	if err := DecodeLLMJSON("   ", &parsed); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
