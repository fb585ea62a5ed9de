// Package speech provides a client for OpenAI-compatible text-to-speech
// endpoints. It returns raw audio bytes; persistence is the caller's concern.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultFormat      = "mp3"
)

// Config captures the runtime settings for the speech provider.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Voice          string
	TimeoutSeconds int
}

// Clip is a synthesized audio asset.
type Clip struct {
	Bytes       []byte
	ContentType string
	Provider    string
}

// Client wraps an OpenAI-compatible /audio/speech endpoint.
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

// NewClient constructs a speech client using the supplied configuration.
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
			Voice:          strings.TrimSpace(cfg.Voice),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.openai.com/v1/audio/speech"
	}
	if client.cfg.Voice == "" {
		client.cfg.Voice = "alloy"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Name reports the provider label recorded alongside generated audio.
func (c *Client) Name() string {
	if c == nil || c.cfg.Model == "" {
		return "speech"
	}
	return c.cfg.Model
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders the supplied text (typically a single Chinese character
// or word) to audio.
func (c *Client) Synthesize(ctx context.Context, text string) (Clip, error) {
	var empty Clip
	text = strings.TrimSpace(text)
	if text == "" {
		return empty, errors.New("speech synthesize: text required")
	}
	if c.cfg.APIKey == "" {
		return empty, errors.New("speech synthesize: api key required")
	}
	encoded, err := json.Marshal(speechRequest{
		Model:          c.cfg.Model,
		Input:          text,
		Voice:          c.cfg.Voice,
		ResponseFormat: defaultFormat,
	})
	if err != nil {
		return empty, fmt.Errorf("speech synthesize: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("speech synthesize: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("speech synthesize: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("speech synthesize: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("speech synthesize: http %d: %s", resp.StatusCode, summarizeBody(body))
	}
	if len(body) == 0 {
		return empty, errors.New("speech synthesize: empty audio payload")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/json") {
		contentType = "audio/mpeg"
	}
	return Clip{Bytes: body, ContentType: contentType, Provider: c.Name()}, nil
}

// HealthCheck verifies the endpoint responds to a minimal synthesis request.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Synthesize(ctx, "好")
	return err
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
