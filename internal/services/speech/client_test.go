package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesizeReturnsAudioBytes(t *testing.T) {
	audio := []byte("ID3fake-mp3-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Fatalf("missing auth header")
		}
		var req struct {
			Input string `json:"input"`
			Voice string `json:"voice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Input != "累" {
			t.Fatalf("expected input 累, got %q", req.Input)
		}
		if req.Voice != "alloy" {
			t.Fatalf("expected default voice alloy, got %q", req.Voice)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "tts-demo"})
	clip, err := client.Synthesize(context.Background(), "累")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if string(clip.Bytes) != string(audio) {
		t.Fatalf("unexpected audio payload")
	}
	if clip.ContentType != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", clip.ContentType)
	}
	if clip.Provider != "tts-demo" {
		t.Fatalf("expected provider tts-demo, got %q", clip.Provider)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	client := NewClient(Config{APIKey: "test", Model: "tts-demo"})
	if _, err := client.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesizeSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "tts-demo"})
	if _, err := client.Synthesize(context.Background(), "好"); err == nil {
		t.Fatal("expected error for http 503")
	}
}

func TestSynthesizeRejectsEmptyPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "tts-demo"})
	if _, err := client.Synthesize(context.Background(), "好"); err == nil {
		t.Fatal("expected error for empty audio payload")
	}
}
