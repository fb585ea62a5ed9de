package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateDecodesBase64Payload(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt         string `json:"prompt"`
			N              int    `json:"n"`
			ResponseFormat string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.N != 1 {
			t.Fatalf("expected n=1, got %d", req.N)
		}
		if req.ResponseFormat != "b64_json" {
			t.Fatalf("expected b64_json, got %q", req.ResponseFormat)
		}
		if !strings.Contains(req.Prompt, "Avoid: text, letters") {
			t.Fatalf("expected negative clause in prompt, got %q", req.Prompt)
		}
		payload := map[string]any{
			"data": []any{
				map[string]any{"b64_json": base64.StdEncoding.EncodeToString(raw)},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "img-demo"})
	image, err := client.Generate(context.Background(), "a tired farmer resting", "text, letters")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if string(image.Data) != string(raw) {
		t.Fatalf("unexpected image bytes")
	}
	if image.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %q", image.ContentType)
	}
	if image.Provider != "img-demo" {
		t.Fatalf("expected provider img-demo, got %q", image.Provider)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "content policy violation"},
		})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "img-demo"})
	_, err := client.Generate(context.Background(), "prompt", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "content policy violation") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestGenerateRejectsEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "img-demo"})
	if _, err := client.Generate(context.Background(), "prompt", ""); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	client := NewClient(Config{APIKey: "test", Model: "img-demo"})
	if _, err := client.Generate(context.Background(), "  ", ""); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
