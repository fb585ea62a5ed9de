package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir        string `toml:"data_dir"`
	MediaDir       string `toml:"media_dir"`
	LogDir         string `toml:"log_dir"`
	DictionaryPath string `toml:"dictionary_path"`
	MediaBaseURL   string `toml:"media_base_url"`
}

// TextProvider configures one chat-completion backend in the fallback chain.
type TextProvider struct {
	Enabled        bool   `toml:"enabled"`
	Name           string `toml:"name"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TextProviders holds the ordered primary/secondary text chain.
type TextProviders struct {
	Primary   TextProvider `toml:"primary"`
	Secondary TextProvider `toml:"secondary"`
}

// Speech configures the text-to-speech service.
type Speech struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Voice          string `toml:"voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Image configures the image-generation service.
type Image struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Size           string `toml:"size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Vision configures the image-analysis service used for validation.
type Vision struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Providers groups all external AI service settings.
type Providers struct {
	Text   TextProviders `toml:"text"`
	Speech Speech        `toml:"speech"`
	Image  Image         `toml:"image"`
	Vision Vision        `toml:"vision"`
}

// Retry controls the per-provider retry budget inside the fallback chain.
type Retry struct {
	Attempts int `toml:"attempts"`
	DelayMS  int `toml:"delay_ms"`
}

// RateLimits sets minimum millisecond spacing between calls per service.
type RateLimits struct {
	TextMS   int `toml:"text_ms"`
	ImageMS  int `toml:"image_ms"`
	SpeechMS int `toml:"speech_ms"`
	VisionMS int `toml:"vision_ms"`
}

// Pronunciation carries the preferred-reading table for ambiguous characters.
type Pronunciation struct {
	Preferred map[string]string `toml:"preferred"`
}

// Enrichment tunes the orchestrator.
type Enrichment struct {
	ImageAttempts  int    `toml:"image_attempts"`
	MaxPersonCount int    `toml:"max_person_count"`
	UserLevel      string `toml:"user_level"`
	ClaimTTL       int    `toml:"claim_ttl_seconds"`
}

// Workflow contains queue and worker pool timing.
type Workflow struct {
	CardEnrichmentWorkers int `toml:"card_enrichment_workers"`
	DeckEnrichmentWorkers int `toml:"deck_enrichment_workers"`
	DeckImportWorkers     int `toml:"deck_import_workers"`
	BulkImportWorkers     int `toml:"bulk_import_workers"`
	QueuePollInterval     int `toml:"queue_poll_interval"`
	ErrorRetryInterval    int `toml:"error_retry_interval"`
	HeartbeatInterval     int `toml:"heartbeat_interval"`
	HeartbeatTimeout      int `toml:"heartbeat_timeout"`
	JobTimeout            int `toml:"job_timeout"`
	MaxRedeliveries       int `toml:"max_redeliveries"`
	RetryBackoff          int `toml:"retry_backoff"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for inkstone.
//
// Configuration sections by subsystem:
//   - Paths: data, media, and log directories plus the dictionary database
//   - Providers: text chain (primary/secondary), speech, image, vision
//   - Retry: per-provider retry budget within the fallback chain
//   - RateLimits: minimum spacing between outbound calls per service
//   - Pronunciation: preferred readings for multi-pronunciation characters
//   - Enrichment: image refinement loop bounds and validation thresholds
//   - Workflow: worker counts per queue category and daemon timing
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     Providers     `toml:"providers"`
	Retry         Retry         `toml:"retry"`
	RateLimits    RateLimits    `toml:"rate_limits"`
	Pronunciation Pronunciation `toml:"pronunciation"`
	Enrichment    Enrichment    `toml:"enrichment"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/inkstone/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("inkstone.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.MediaDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.DictionaryPath, err = expandPath(c.Paths.DictionaryPath); err != nil {
		return err
	}
	c.Paths.MediaBaseURL = strings.TrimRight(strings.TrimSpace(c.Paths.MediaBaseURL), "/")
	return nil
}

// TextChain returns the configured text providers in fallback order.
// The primary is always included; the secondary only when enabled.
func (c *Config) TextChain() []TextProvider {
	chain := []TextProvider{c.Providers.Text.Primary}
	if c.Providers.Text.Secondary.Enabled {
		chain = append(chain, c.Providers.Text.Secondary)
	}
	return chain
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
