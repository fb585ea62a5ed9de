package config

const (
	defaultDataDir        = "~/.local/share/inkstone"
	defaultMediaDir       = "~/.local/share/inkstone/media"
	defaultLogDir         = "~/.local/share/inkstone/logs"
	defaultDictionaryPath = "~/.local/share/inkstone/dictionary.db"

	defaultTextBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultTextModel          = "google/gemini-3-flash-preview"
	defaultTextTimeoutSeconds = 30

	defaultSpeechBaseURL        = "https://api.openai.com/v1/audio/speech"
	defaultSpeechModel          = "tts-1"
	defaultSpeechVoice          = "alloy"
	defaultSpeechTimeoutSeconds = 60

	defaultImageBaseURL        = "https://api.openai.com/v1/images/generations"
	defaultImageModel          = "dall-e-3"
	defaultImageSize           = "1024x1024"
	defaultImageTimeoutSeconds = 120

	defaultVisionModel          = "google/gemini-3-flash-preview"
	defaultVisionTimeoutSeconds = 60

	defaultRetryAttempts = 3
	defaultRetryDelayMS  = 1000

	defaultTextRateMS   = 1000
	defaultImageRateMS  = 2000
	defaultSpeechRateMS = 500
	defaultVisionRateMS = 1000

	defaultImageAttempts   = 3
	defaultMaxPersonCount  = 3
	defaultUserLevel       = "beginner"
	defaultClaimTTLSeconds = 300

	defaultCardEnrichmentWorkers = 3
	defaultDeckEnrichmentWorkers = 3
	defaultDeckImportWorkers     = 1
	defaultBulkImportWorkers     = 2
	defaultQueuePollInterval     = 5
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultJobTimeout            = 600
	defaultMaxRedeliveries       = 2
	defaultRetryBackoff          = 60

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// defaultPreferredReadings covers known multi-pronunciation characters where
// the flashcard-appropriate reading is not the first dictionary entry.
// Ambiguous characters outside this table fall back to the first entry.
func defaultPreferredReadings() map[string]string {
	return map[string]string{
		"累": "lèi",
		"行": "xíng",
		"了": "le",
		"着": "zhe",
		"得": "de",
		"好": "hǎo",
		"覺": "jué",
		"長": "cháng",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:        defaultDataDir,
			MediaDir:       defaultMediaDir,
			LogDir:         defaultLogDir,
			DictionaryPath: defaultDictionaryPath,
		},
		Providers: Providers{
			Text: TextProviders{
				Primary: TextProvider{
					Enabled:        true,
					Name:           "primary",
					BaseURL:        defaultTextBaseURL,
					Model:          defaultTextModel,
					TimeoutSeconds: defaultTextTimeoutSeconds,
				},
				Secondary: TextProvider{
					Name:           "secondary",
					BaseURL:        defaultTextBaseURL,
					TimeoutSeconds: defaultTextTimeoutSeconds,
				},
			},
			Speech: Speech{
				BaseURL:        defaultSpeechBaseURL,
				Model:          defaultSpeechModel,
				Voice:          defaultSpeechVoice,
				TimeoutSeconds: defaultSpeechTimeoutSeconds,
			},
			Image: Image{
				BaseURL:        defaultImageBaseURL,
				Model:          defaultImageModel,
				Size:           defaultImageSize,
				TimeoutSeconds: defaultImageTimeoutSeconds,
			},
			Vision: Vision{
				Enabled:        true,
				BaseURL:        defaultTextBaseURL,
				Model:          defaultVisionModel,
				TimeoutSeconds: defaultVisionTimeoutSeconds,
			},
		},
		Retry: Retry{
			Attempts: defaultRetryAttempts,
			DelayMS:  defaultRetryDelayMS,
		},
		RateLimits: RateLimits{
			TextMS:   defaultTextRateMS,
			ImageMS:  defaultImageRateMS,
			SpeechMS: defaultSpeechRateMS,
			VisionMS: defaultVisionRateMS,
		},
		Pronunciation: Pronunciation{
			Preferred: defaultPreferredReadings(),
		},
		Enrichment: Enrichment{
			ImageAttempts:  defaultImageAttempts,
			MaxPersonCount: defaultMaxPersonCount,
			UserLevel:      defaultUserLevel,
			ClaimTTL:       defaultClaimTTLSeconds,
		},
		Workflow: Workflow{
			CardEnrichmentWorkers: defaultCardEnrichmentWorkers,
			DeckEnrichmentWorkers: defaultDeckEnrichmentWorkers,
			DeckImportWorkers:     defaultDeckImportWorkers,
			BulkImportWorkers:     defaultBulkImportWorkers,
			QueuePollInterval:     defaultQueuePollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
			JobTimeout:            defaultJobTimeout,
			MaxRedeliveries:       defaultMaxRedeliveries,
			RetryBackoff:          defaultRetryBackoff,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
