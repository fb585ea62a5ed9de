// Package enrich orchestrates the full enrichment pipeline for one
// character: dictionary lookup, AI interpretation, linguistic analysis,
// audio synthesis, mnemonic image generation with validation, and card
// persistence. The pipeline degrades per field: media and analysis failures
// produce a partially completed result, while input validation and storage
// failures fail the run outright.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"inkstone/internal/cards"
	"inkstone/internal/dictionary"
	"inkstone/internal/imagevalidate"
	"inkstone/internal/interpret"
	"inkstone/internal/logging"
	"inkstone/internal/mediastore"
	"inkstone/internal/promptsynth"
	"inkstone/internal/services/imagegen"
	"inkstone/internal/services/speech"
)

// Outcome labels the final state of an enrichment run.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomePartiallyCompleted Outcome = "partially_completed"
)

// MediaSource records how a media outcome was obtained.
type MediaSource string

const (
	SourceGenerated MediaSource = "generated"
	SourceCached    MediaSource = "cached"
)

// GenerationPolicy controls regeneration behavior for one request.
type GenerationPolicy struct {
	// Force regenerates media even when a cached asset exists. The cached
	// asset is deleted before generation so a failed regeneration can never
	// leave a stale asset posing as fresh output.
	Force bool
	// UserLevel tunes the analysis register (beginner, intermediate, advanced).
	UserLevel string
}

// ProgressFunc receives pipeline stage transitions.
type ProgressFunc func(stage string, percent float64, message string)

// Request describes one character to enrich.
type Request struct {
	Character   string
	MeaningHint string
	PinyinHint  string
	DeckID      string
	Policy      GenerationPolicy
	Progress    ProgressFunc
}

// MediaOutcome describes one produced media asset.
type MediaOutcome struct {
	URL       string
	Source    MediaSource
	Provider  string
	Validated bool
	// ValidatedBy names the validator model, or "none" when the asset was
	// accepted without validation.
	ValidatedBy string
}

// Result is the full outcome of an enrichment run.
type Result struct {
	Character string
	Meaning   string
	Pinyin    string
	Analysis  *interpret.Analysis
	Audio     *MediaOutcome
	Image     *MediaOutcome
	Outcome   Outcome
	// FieldErrors maps degraded fields (analysis, audio, image,
	// interpretation) to the error that degraded them.
	FieldErrors map[string]string
}

// Interpreter resolves meanings and analysis through the provider chain.
type Interpreter interface {
	Interpret(ctx context.Context, character, meaningHint string) (interpret.Interpretation, error)
	Analyze(ctx context.Context, character, meaning, userLevel string) (interpret.Analysis, error)
}

// SpeechSynthesizer produces pronunciation audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (speech.Clip, error)
	Name() string
}

// ImageGenerator produces mnemonic images.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, negativePrompt string) (imagegen.Image, error)
	Name() string
}

// ImageValidator reviews generated images.
type ImageValidator interface {
	Enabled() bool
	Validate(ctx context.Context, data []byte, contentType string) (imagevalidate.Verdict, error)
}

// PromptSource builds image generation prompts.
type PromptSource interface {
	Synthesize(ctx context.Context, character, meaning string) promptsynth.Prompt
}

// Dictionary provides local character lookups.
type Dictionary interface {
	Lookup(ctx context.Context, character string) ([]dictionary.Entry, error)
}

// CardWriter persists enrichment results.
type CardWriter interface {
	UpsertEnrichment(ctx context.Context, enrichment cards.Enrichment) error
}

// MediaStore is the slice of the media cache the pipeline drives.
type MediaStore interface {
	Exists(key string) bool
	Metadata(key string) (mediastore.Metadata, error)
	Put(key string, data []byte, meta mediastore.Metadata) error
	Delete(key string) error
	URL(key string) (string, error)
	Claim(key string, ttl time.Duration) (func(), error)
}

// RateLimiter spaces outbound provider calls.
type RateLimiter interface {
	Acquire(ctx context.Context, service string) error
}

// Options carries the pipeline tuning knobs.
type Options struct {
	// ImageAttempts bounds the generate-validate-refine loop.
	ImageAttempts int
	// RetryAttempts and RetryDelay form the per-provider budget for audio
	// synthesis and image generation calls.
	RetryAttempts int
	RetryDelay    time.Duration
	// ClaimTTL bounds how long a generation claim from a crashed worker
	// blocks other workers.
	ClaimTTL time.Duration
	// PreferredReadings picks the sense for characters with several
	// dictionary entries, keyed by character.
	PreferredReadings map[string]string
	// DefaultUserLevel applies when the request does not set one.
	DefaultUserLevel string
}

func (o *Options) normalize() {
	if o.ImageAttempts <= 0 {
		o.ImageAttempts = 3
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 10 * time.Minute
	}
	if o.DefaultUserLevel == "" {
		o.DefaultUserLevel = "intermediate"
	}
}

// Enricher runs the pipeline.
type Enricher struct {
	interp    Interpreter
	speech    SpeechSynthesizer
	images    ImageGenerator
	validator ImageValidator
	prompts   PromptSource
	dict      Dictionary
	cards     CardWriter
	media     MediaStore
	limiter   RateLimiter
	opts      Options
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// EnricherOption customizes the enricher.
type EnricherOption func(*Enricher)

// WithSleeper overrides how retry delays are performed (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) EnricherOption {
	return func(e *Enricher) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New constructs the enricher. interp, speech, cards, and media are
// required; dict, images, validator, prompts, and limiter may be nil and
// their steps degrade accordingly.
func New(
	interp Interpreter,
	speechClient SpeechSynthesizer,
	imageClient ImageGenerator,
	validator ImageValidator,
	prompts PromptSource,
	dict Dictionary,
	cardStore CardWriter,
	media MediaStore,
	limiter RateLimiter,
	opts Options,
	logger *slog.Logger,
	extra ...EnricherOption,
) *Enricher {
	opts.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	if prompts == nil {
		prompts = promptsynth.New(nil)
	}
	enricher := &Enricher{
		interp:    interp,
		speech:    speechClient,
		images:    imageClient,
		validator: validator,
		prompts:   prompts,
		dict:      dict,
		cards:     cardStore,
		media:     media,
		limiter:   limiter,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "enrich"),
		sleep:     sleepContext,
	}
	for _, opt := range extra {
		opt(enricher)
	}
	return enricher
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
