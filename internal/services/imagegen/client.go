// Package imagegen provides a client for OpenAI-compatible image generation
// endpoints. Generated images are returned inline as decoded bytes so the
// caller can validate them before anything is persisted.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// Config captures the runtime settings for the image provider.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Size           string
	TimeoutSeconds int
}

// Image is a generated mnemonic image.
type Image struct {
	Data        []byte
	ContentType string
	Provider    string
}

// Client wraps an OpenAI-compatible /images/generations endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an image generation client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Size:           strings.TrimSpace(cfg.Size),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.openai.com/v1/images/generations"
	}
	if client.cfg.Size == "" {
		client.cfg.Size = "1024x1024"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Name reports the provider label recorded alongside generated images.
func (c *Client) Name() string {
	if c == nil || c.cfg.Model == "" {
		return "imagegen"
	}
	return c.cfg.Model
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders a single image for the supplied prompt. The negative
// prompt, when present, is appended as an avoidance clause since the
// generations endpoint has no separate field for it.
func (c *Client) Generate(ctx context.Context, prompt, negativePrompt string) (Image, error) {
	var empty Image
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return empty, errors.New("imagegen generate: prompt required")
	}
	if c.cfg.APIKey == "" {
		return empty, errors.New("imagegen generate: api key required")
	}
	if negative := strings.TrimSpace(negativePrompt); negative != "" {
		prompt = prompt + ". Avoid: " + negative
	}
	encoded, err := json.Marshal(generationRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		N:              1,
		Size:           c.cfg.Size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return empty, fmt.Errorf("imagegen generate: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("imagegen generate: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("imagegen generate: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("imagegen generate: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("imagegen generate: http %d: %s", resp.StatusCode, summarizeBody(body))
	}
	var parsed generationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return empty, fmt.Errorf("imagegen generate: decode response: %w", err)
	}
	if parsed.Error != nil {
		return empty, fmt.Errorf("imagegen generate: api error: %s", strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Data) == 0 || strings.TrimSpace(parsed.Data[0].B64JSON) == "" {
		return empty, errors.New("imagegen generate: empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return empty, fmt.Errorf("imagegen generate: decode image: %w", err)
	}
	if len(data) == 0 {
		return empty, errors.New("imagegen generate: empty image payload")
	}
	return Image{Data: data, ContentType: "image/png", Provider: c.Name()}, nil
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty>"
	}
	runes := []rune(trimmed)
	const limit = 160
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return trimmed
}
