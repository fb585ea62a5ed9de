package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.MediaDir) == "" {
		return errors.New("paths.media_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateProviders() error {
	primary := c.Providers.Text.Primary
	if !primary.Enabled {
		return errors.New("providers.text.primary must be enabled")
	}
	if strings.TrimSpace(primary.Model) == "" {
		return errors.New("providers.text.primary.model must be set")
	}
	secondary := c.Providers.Text.Secondary
	if secondary.Enabled && strings.TrimSpace(secondary.Model) == "" {
		return errors.New("providers.text.secondary.model must be set when enabled")
	}
	if c.Providers.Vision.Enabled && strings.TrimSpace(c.Providers.Vision.Model) == "" {
		return errors.New("providers.vision.model must be set when vision is enabled")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	if c.Retry.DelayMS < 0 {
		return errors.New("retry.delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if c.Enrichment.ImageAttempts < 1 {
		return errors.New("enrichment.image_attempts must be at least 1")
	}
	if c.Enrichment.MaxPersonCount < 1 {
		return errors.New("enrichment.max_person_count must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	counts := map[string]int{
		"workflow.card_enrichment_workers": c.Workflow.CardEnrichmentWorkers,
		"workflow.deck_enrichment_workers": c.Workflow.DeckEnrichmentWorkers,
		"workflow.deck_import_workers":     c.Workflow.DeckImportWorkers,
		"workflow.bulk_import_workers":     c.Workflow.BulkImportWorkers,
	}
	for key, value := range counts {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", key)
		}
	}
	if c.Workflow.QueuePollInterval < 1 {
		return errors.New("workflow.queue_poll_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		return errors.New("workflow.heartbeat_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.JobTimeout < 1 {
		return errors.New("workflow.job_timeout must be at least 1 second")
	}
	if c.Workflow.MaxRedeliveries < 0 {
		return errors.New("workflow.max_redeliveries must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
