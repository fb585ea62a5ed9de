package vision

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubCompleter struct {
	content string
	err     error
	lastURI string
}

func (s *stubCompleter) CompleteJSONWithImage(ctx context.Context, systemPrompt, userPrompt, imageURI string) (string, error) {
	s.lastURI = imageURI
	return s.content, s.err
}

func (s *stubCompleter) Model() string { return "vision-demo" }

func TestAnalyzeImageParsesAssessment(t *testing.T) {
	stub := &stubCompleter{content: `{"contains_text":true,"person_count":4,"crowd_scene":false,"anatomical_issues":false,"notes":" visible caption "}`}
	client := NewClient(stub)

	assessment, err := client.AnalyzeImage(context.Background(), []byte{0x89, 0x50}, "image/png")
	if err != nil {
		t.Fatalf("AnalyzeImage returned error: %v", err)
	}
	if !assessment.ContainsText {
		t.Fatal("expected ContainsText true")
	}
	if assessment.PersonCount != 4 {
		t.Fatalf("expected 4 persons, got %d", assessment.PersonCount)
	}
	if assessment.Notes != "visible caption" {
		t.Fatalf("expected trimmed notes, got %q", assessment.Notes)
	}
	if !strings.HasPrefix(stub.lastURI, "data:image/png;base64,") {
		t.Fatalf("expected data URI, got %q", stub.lastURI)
	}
}

func TestAnalyzeImageDefaultsContentType(t *testing.T) {
	stub := &stubCompleter{content: `{"contains_text":false,"person_count":1}`}
	client := NewClient(stub)

	if _, err := client.AnalyzeImage(context.Background(), []byte{1, 2, 3}, ""); err != nil {
		t.Fatalf("AnalyzeImage returned error: %v", err)
	}
	if !strings.HasPrefix(stub.lastURI, "data:image/png;base64,") {
		t.Fatalf("expected png default, got %q", stub.lastURI)
	}
}

func TestAnalyzeImagePropagatesCompleterError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("model overloaded")}
	client := NewClient(stub)

	if _, err := client.AnalyzeImage(context.Background(), []byte{1}, "image/png"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyzeImageRejectsEmptyData(t *testing.T) {
	client := NewClient(&stubCompleter{content: "{}"})
	if _, err := client.AnalyzeImage(context.Background(), nil, "image/png"); err == nil {
		t.Fatal("expected error for empty data")
	}
}

func TestAnalyzeImageClampsNegativePersonCount(t *testing.T) {
	stub := &stubCompleter{content: `{"person_count":-3}`}
	client := NewClient(stub)

	assessment, err := client.AnalyzeImage(context.Background(), []byte{1}, "image/png")
	if err != nil {
		t.Fatalf("AnalyzeImage returned error: %v", err)
	}
	if assessment.PersonCount != 0 {
		t.Fatalf("expected clamp to 0, got %d", assessment.PersonCount)
	}
}
