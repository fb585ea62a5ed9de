// Package vision reviews generated mnemonic images with a multimodal model.
// It reports structural problems (embedded text, crowding, anatomical
// distortion) that the enrichment loop uses to decide whether to keep,
// refine, or regenerate an image.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"inkstone/internal/services/llm"
)

const assessmentSystemPrompt = `You review AI-generated mnemonic images for a Chinese vocabulary study app.
Inspect the image and respond with JSON only, using this schema:
{"contains_text": bool, "person_count": int, "crowd_scene": bool, "anatomical_issues": bool, "notes": string}
contains_text is true if any letters, words, numbers, or Chinese characters are rendered in the image.
person_count is the number of distinct human figures; use 10 for large crowds.
crowd_scene is true when the figures form an indistinct crowd rather than identifiable subjects.
anatomical_issues is true for extra or missing limbs, fused fingers, or distorted faces.
notes briefly names anything wrong, or is empty.`

// Assessment is the structured result of reviewing one image.
type Assessment struct {
	ContainsText     bool   `json:"contains_text"`
	PersonCount      int    `json:"person_count"`
	CrowdScene       bool   `json:"crowd_scene"`
	AnatomicalIssues bool   `json:"anatomical_issues"`
	Notes            string `json:"notes"`
}

// Completer is the slice of the chat client that vision analysis needs.
type Completer interface {
	CompleteJSONWithImage(ctx context.Context, systemPrompt, userPrompt, imageURI string) (string, error)
	Model() string
}

// Client analyzes images by round-tripping them through a multimodal chat model.
type Client struct {
	completer Completer
}

// NewClient constructs a vision client on top of a chat completion client.
func NewClient(completer Completer) *Client {
	return &Client{completer: completer}
}

// Name reports the model used for review, recorded as the validator identity.
func (c *Client) Name() string {
	if c == nil || c.completer == nil {
		return "vision"
	}
	if model := strings.TrimSpace(c.completer.Model()); model != "" {
		return model
	}
	return "vision"
}

// AnalyzeImage reviews the supplied image bytes.
func (c *Client) AnalyzeImage(ctx context.Context, data []byte, contentType string) (Assessment, error) {
	var empty Assessment
	if c == nil || c.completer == nil {
		return empty, errors.New("vision analyze: no completer configured")
	}
	if len(data) == 0 {
		return empty, errors.New("vision analyze: image data required")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = "image/png"
	}
	uri := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	content, err := c.completer.CompleteJSONWithImage(ctx, assessmentSystemPrompt, "Review this image.", uri)
	if err != nil {
		return empty, fmt.Errorf("vision analyze: %w", err)
	}
	var parsed Assessment
	if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
		return empty, fmt.Errorf("vision analyze: parse payload: %w", err)
	}
	if parsed.PersonCount < 0 {
		parsed.PersonCount = 0
	}
	parsed.Notes = strings.TrimSpace(parsed.Notes)
	return parsed, nil
}
