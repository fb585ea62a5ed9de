// Package interpret derives meanings, readings, and linguistic analysis for
// Chinese characters from AI text providers. Providers are unreliable, so
// every operation runs a fixed per-provider retry budget and falls through a
// configured provider chain before giving up. Low-quality responses count as
// failures so a weak primary provider never shadows a working secondary.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inkstone/internal/logging"
	"inkstone/internal/ratelimit"
	"inkstone/internal/services"
	"inkstone/internal/services/llm"
)

// Interpretation is the core lookup result for a character.
type Interpretation struct {
	Meaning     string `json:"meaning"`
	Pinyin      string `json:"pinyin"`
	ImagePrompt string `json:"image_prompt"`
	Provider    string `json:"-"`
}

// Analysis is the extended linguistic breakdown for a character.
type Analysis struct {
	Etymology    string   `json:"etymology"`
	Mnemonics    string   `json:"mnemonics"`
	CommonErrors []string `json:"common_errors"`
	Usage        []string `json:"usage"`
	LearningTips string   `json:"learning_tips"`
	Provider     string   `json:"-"`
}

// Substantial reports whether the analysis carries the core content that
// makes it worth keeping: an etymology or a mnemonic. Peripheral fields
// alone do not count.
func (a Analysis) Substantial() bool {
	return strings.TrimSpace(a.Etymology) != "" || strings.TrimSpace(a.Mnemonics) != ""
}

// Empty reports whether the analysis carries no content at all.
func (a Analysis) Empty() bool {
	return strings.TrimSpace(a.Etymology) == "" &&
		strings.TrimSpace(a.Mnemonics) == "" &&
		len(a.CommonErrors) == 0 &&
		len(a.Usage) == 0 &&
		strings.TrimSpace(a.LearningTips) == ""
}

// Attempt records one provider call for observability and tests.
type Attempt struct {
	Provider string
	Op       string
	Elapsed  time.Duration
	OK       bool
	Err      error
}

// Completer is the slice of the chat client the adapter drives.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider pairs a configured text provider with its client.
type Provider struct {
	Name   string
	Client Completer
}

// Adapter fans requests across the provider chain.
type Adapter struct {
	providers []Provider
	limiter   *ratelimit.Limiter
	attempts  int
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
	recorder  func(Attempt)
}

// AdapterOption customizes the adapter.
type AdapterOption func(*Adapter)

// WithSleeper overrides how inter-attempt delays are performed (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) AdapterOption {
	return func(a *Adapter) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

// WithAttemptRecorder registers a callback invoked after every provider call.
func WithAttemptRecorder(recorder func(Attempt)) AdapterOption {
	return func(a *Adapter) {
		a.recorder = recorder
	}
}

// NewAdapter constructs the adapter. attempts is the per-provider retry
// budget; delay is the fixed pause between attempts against one provider.
func NewAdapter(providers []Provider, limiter *ratelimit.Limiter, attempts int, delay time.Duration, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	adapter := &Adapter{
		providers: providers,
		limiter:   limiter,
		attempts:  attempts,
		delay:     delay,
		sleep:     sleepContext,
		logger:    logging.NewComponentLogger(logger, "interpret"),
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter
}

// Interpret resolves the characters meaning, reading, and an image prompt
// seed. A meaning hint from the user, when present, pins the sense the model
// should describe.
func (a *Adapter) Interpret(ctx context.Context, character, meaningHint string) (Interpretation, error) {
	var result Interpretation
	user := "Character: " + character
	if hint := strings.TrimSpace(meaningHint); hint != "" {
		user += "\nIntended meaning: " + hint
	}
	err := a.callChain(ctx, "interpret", func(ctx context.Context, provider Provider) error {
		content, err := provider.Client.CompleteJSON(ctx, interpretationSystemPrompt, user)
		if err != nil {
			return err
		}
		var parsed Interpretation
		if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
			return fmt.Errorf("parse interpretation: %w", err)
		}
		parsed.Meaning = strings.TrimSpace(parsed.Meaning)
		parsed.Pinyin = strings.TrimSpace(parsed.Pinyin)
		parsed.ImagePrompt = strings.TrimSpace(parsed.ImagePrompt)
		if interpretationLowQuality(parsed) {
			return fmt.Errorf("%w: unusable interpretation (meaning=%q)", services.ErrLowQuality, parsed.Meaning)
		}
		parsed.Provider = provider.Name
		result = parsed
		return nil
	})
	return result, err
}

// Analyze produces the extended linguistic analysis. userLevel tunes the
// register of the explanation (beginner, intermediate, advanced).
func (a *Adapter) Analyze(ctx context.Context, character, meaning, userLevel string) (Analysis, error) {
	var result Analysis
	user := "Character: " + character
	if meaning = strings.TrimSpace(meaning); meaning != "" {
		user += "\nMeaning: " + meaning
	}
	if userLevel = strings.TrimSpace(userLevel); userLevel != "" {
		user += "\nLearner level: " + userLevel
	}
	err := a.callChain(ctx, "analyze", func(ctx context.Context, provider Provider) error {
		content, err := provider.Client.CompleteJSON(ctx, analysisSystemPrompt, user)
		if err != nil {
			return err
		}
		var parsed Analysis
		if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
			return fmt.Errorf("parse analysis: %w", err)
		}
		if parsed.Empty() {
			return fmt.Errorf("%w: empty analysis", services.ErrLowQuality)
		}
		parsed.Provider = provider.Name
		result = parsed
		return nil
	})
	return result, err
}

// ImageSearchQuery asks for a short visual search phrase for the character.
// When every provider fails it degrades to a deterministic offline fallback
// derived from the meaning, because a usable query is always needed.
func (a *Adapter) ImageSearchQuery(ctx context.Context, character, meaning string) (string, error) {
	var result string
	user := "Character: " + character
	if meaning = strings.TrimSpace(meaning); meaning != "" {
		user += "\nMeaning: " + meaning
	}
	err := a.callChain(ctx, "image_query", func(ctx context.Context, provider Provider) error {
		content, err := provider.Client.CompleteJSON(ctx, imageQuerySystemPrompt, user)
		if err != nil {
			return err
		}
		var parsed struct {
			Query string `json:"query"`
		}
		if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
			return fmt.Errorf("parse image query: %w", err)
		}
		parsed.Query = strings.TrimSpace(parsed.Query)
		if parsed.Query == "" {
			return fmt.Errorf("%w: empty image query", services.ErrLowQuality)
		}
		result = parsed.Query
		return nil
	})
	if err != nil {
		fallback := OfflineImageQuery(meaning)
		if fallback == "" {
			return "", err
		}
		a.logger.Warn("image query falling back to offline derivation",
			logging.String(logging.FieldCharacter, character),
			logging.Error(err))
		return fallback, nil
	}
	return result, nil
}

// OfflineImageQuery derives a search phrase from the meaning alone: the first
// clause before any comma or semicolon, lowercased.
func OfflineImageQuery(meaning string) string {
	meaning = strings.TrimSpace(meaning)
	if meaning == "" {
		return ""
	}
	if idx := strings.IndexAny(meaning, ",;"); idx >= 0 {
		meaning = meaning[:idx]
	}
	meaning = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(meaning), "to "))
	return strings.ToLower(meaning)
}

func interpretationLowQuality(parsed Interpretation) bool {
	meaning := strings.ToLower(parsed.Meaning)
	if meaning == "" {
		return true
	}
	if strings.Contains(meaning, "unknown") || strings.Contains(meaning, "unable to") {
		return true
	}
	return false
}

// callChain walks the provider chain, spending the full per-provider retry
// budget before advancing. Context cancellation stops the walk immediately.
func (a *Adapter) callChain(ctx context.Context, op string, call func(ctx context.Context, provider Provider) error) error {
	if len(a.providers) == 0 {
		return services.Wrap(services.ErrProviderUnavailable, "interpret", op, "no text providers configured", nil)
	}
	var lastErr error
	for _, provider := range a.providers {
		for attempt := 1; attempt <= a.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Spacing is keyed per provider, so the secondary endpoint is not
			// throttled by calls that went to the primary.
			if a.limiter != nil {
				if err := a.limiter.Acquire(ctx, provider.Name); err != nil {
					return err
				}
			}
			start := time.Now()
			err := call(ctx, provider)
			a.record(Attempt{Provider: provider.Name, Op: op, Elapsed: time.Since(start), OK: err == nil, Err: err})
			if err == nil {
				return nil
			}
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.logger.Debug("provider attempt failed",
				logging.String(logging.FieldProvider, provider.Name),
				logging.String("op", op),
				logging.Int("attempt", attempt),
				logging.Error(err))
			if attempt < a.attempts && a.delay > 0 {
				if err := a.sleep(ctx, a.delay); err != nil {
					return err
				}
			}
		}
		a.logger.Warn("provider exhausted, advancing chain",
			logging.String(logging.FieldProvider, provider.Name),
			logging.String("op", op),
			logging.Int("attempts", a.attempts),
			logging.Error(lastErr))
	}
	return services.Wrap(services.ErrProviderUnavailable, "interpret", op, "all providers exhausted", lastErr)
}

func (a *Adapter) record(attempt Attempt) {
	if a.recorder != nil {
		a.recorder(attempt)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
