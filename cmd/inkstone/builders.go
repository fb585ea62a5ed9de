package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"inkstone/internal/cards"
	"inkstone/internal/config"
	"inkstone/internal/dictionary"
	"inkstone/internal/enrich"
	"inkstone/internal/imagevalidate"
	"inkstone/internal/interpret"
	"inkstone/internal/logging"
	"inkstone/internal/mediastore"
	"inkstone/internal/promptsynth"
	"inkstone/internal/ratelimit"
	"inkstone/internal/services/imagegen"
	"inkstone/internal/services/llm"
	"inkstone/internal/services/speech"
	"inkstone/internal/services/vision"
)

// buildEnricher assembles every provider client and store the pipeline
// needs. The returned cleanup closes the stores.
func buildEnricher(cfg *config.Config, logger *slog.Logger) (*enrich.Enricher, func(), error) {
	providers, primary := buildTextChain(cfg)
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no text providers configured; set providers.text.primary in the config")
	}

	// Text spacing is registered per provider name so the fallback chain's
	// endpoints are throttled independently of each other.
	intervals := map[string]time.Duration{
		"image":  time.Duration(cfg.RateLimits.ImageMS) * time.Millisecond,
		"speech": time.Duration(cfg.RateLimits.SpeechMS) * time.Millisecond,
		"vision": time.Duration(cfg.RateLimits.VisionMS) * time.Millisecond,
	}
	for _, provider := range providers {
		intervals[provider.Name] = time.Duration(cfg.RateLimits.TextMS) * time.Millisecond
	}
	limiter := ratelimit.New(intervals)
	interp := interpret.NewAdapter(providers, limiter,
		cfg.Retry.Attempts, time.Duration(cfg.Retry.DelayMS)*time.Millisecond, logger)

	speechClient := speech.NewClient(speech.Config{
		APIKey:         cfg.Providers.Speech.APIKey,
		BaseURL:        cfg.Providers.Speech.BaseURL,
		Model:          cfg.Providers.Speech.Model,
		Voice:          cfg.Providers.Speech.Voice,
		TimeoutSeconds: cfg.Providers.Speech.TimeoutSeconds,
	})
	imageClient := imagegen.NewClient(imagegen.Config{
		APIKey:         cfg.Providers.Image.APIKey,
		BaseURL:        cfg.Providers.Image.BaseURL,
		Model:          cfg.Providers.Image.Model,
		Size:           cfg.Providers.Image.Size,
		TimeoutSeconds: cfg.Providers.Image.TimeoutSeconds,
	})

	var validator enrich.ImageValidator
	if cfg.Providers.Vision.Enabled {
		visionLLM := llm.NewClient(llm.Config{
			APIKey:         cfg.Providers.Vision.APIKey,
			BaseURL:        cfg.Providers.Vision.BaseURL,
			Model:          cfg.Providers.Vision.Model,
			TimeoutSeconds: cfg.Providers.Vision.TimeoutSeconds,
		})
		validator = imagevalidate.New(vision.NewClient(visionLLM), cfg.Enrichment.MaxPersonCount, logger)
	}

	media, err := mediastore.New(cfg.Paths.MediaDir, cfg.Paths.MediaBaseURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open media store: %w", err)
	}

	cardStore, err := cards.Open(filepath.Join(cfg.Paths.DataDir, "cards.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open card store: %w", err)
	}
	closers := []func(){func() { cardStore.Close() }}

	var dict enrich.Dictionary
	if path := cfg.Paths.DictionaryPath; path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			dictStore, openErr := dictionary.Open(path)
			if openErr != nil {
				for _, closeFn := range closers {
					closeFn()
				}
				return nil, nil, fmt.Errorf("open dictionary: %w", openErr)
			}
			dict = dictStore
			closers = append(closers, func() { dictStore.Close() })
		} else {
			logger.Warn("dictionary not found, lookups disabled", logging.String("path", path))
		}
	}

	enricher := enrich.New(
		interp,
		speechClient,
		imageClient,
		validator,
		promptsynth.New(primary, promptsynth.WithLimiter(limiter, providers[0].Name)),
		dict,
		cardStore,
		media,
		limiter,
		enrich.Options{
			ImageAttempts:     cfg.Enrichment.ImageAttempts,
			RetryAttempts:     cfg.Retry.Attempts,
			RetryDelay:        time.Duration(cfg.Retry.DelayMS) * time.Millisecond,
			ClaimTTL:          time.Duration(cfg.Enrichment.ClaimTTL) * time.Second,
			PreferredReadings: cfg.Pronunciation.Preferred,
			DefaultUserLevel:  cfg.Enrichment.UserLevel,
		},
		logger,
	)

	cleanup := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
	return enricher, cleanup, nil
}

// buildTextChain turns the configured providers into interpret providers in
// fallback order. The primary client is returned separately so the prompt
// synthesizer can share it.
func buildTextChain(cfg *config.Config) ([]interpret.Provider, *llm.Client) {
	var providers []interpret.Provider
	var primary *llm.Client
	for _, tp := range cfg.TextChain() {
		if !tp.Enabled || tp.APIKey == "" {
			continue
		}
		client := llm.NewClient(llm.Config{
			APIKey:         tp.APIKey,
			BaseURL:        tp.BaseURL,
			Model:          tp.Model,
			TimeoutSeconds: tp.TimeoutSeconds,
		})
		if primary == nil {
			primary = client
		}
		name := tp.Name
		if name == "" {
			name = tp.Model
		}
		providers = append(providers, interpret.Provider{Name: name, Client: client})
	}
	return providers, primary
}

// buildMediaStore opens the media cache for read-only cache commands.
func buildMediaStore(cfg *config.Config, logger *slog.Logger) (*mediastore.Store, error) {
	return mediastore.New(cfg.Paths.MediaDir, cfg.Paths.MediaBaseURL, logger)
}
