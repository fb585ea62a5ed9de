package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"inkstone/internal/cards"
	"inkstone/internal/dictionary"
	"inkstone/internal/logging"
	"inkstone/internal/services"
)

// Pipeline stage names, reported through ProgressFunc and mirrored by the
// queue status machine.
const (
	StageLookingUp       = "looking_up"
	StageInterpreting    = "interpreting"
	StageAnalyzing       = "analyzing"
	StageGeneratingAudio = "generating_audio"
	StageGeneratingImage = "generating_image"
	StagePersisting      = "persisting"
)

// ValidateCharacter checks that the input is usable: non-empty and composed
// entirely of Han characters after NFC normalization. Returned errors wrap
// services.ErrMalformedInput, which classifies as permanent.
func ValidateCharacter(input string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(input))
	if normalized == "" {
		return "", services.Wrap(services.ErrMalformedInput, "enrich", "validate", "empty character", nil)
	}
	for _, r := range normalized {
		if !unicode.Is(unicode.Han, r) {
			return "", services.Wrap(services.ErrMalformedInput, "enrich", "validate",
				fmt.Sprintf("non-Han rune %q in input", r), nil)
		}
	}
	return normalized, nil
}

// Enrich runs the full pipeline for one request. Fatal errors (bad input,
// provider chain exhaustion with no dictionary fallback, storage failures)
// return a nil result; everything else degrades into FieldErrors.
func (e *Enricher) Enrich(ctx context.Context, req Request) (*Result, error) {
	character, err := ValidateCharacter(req.Character)
	if err != nil {
		return nil, err
	}
	ctx = services.WithCharacter(ctx, character)
	logger := e.logger.With(logging.String(logging.FieldCharacter, character))

	result := &Result{
		Character:   character,
		FieldErrors: map[string]string{},
	}

	// Dictionary first. A miss is routine for rare characters; the AI
	// interpretation covers it.
	e.report(req, StageLookingUp, 5, "looking up dictionary")
	dictEntry, dictFound := e.lookupDictionary(ctx, logger, character)

	e.report(req, StageInterpreting, 15, "interpreting character")
	interpretation, interpErr := e.interp.Interpret(ctx, character, req.MeaningHint)
	if interpErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !dictFound {
			return nil, services.Wrap(services.ErrProviderUnavailable, "enrich", "interpret",
				"no interpretation and no dictionary entry", interpErr)
		}
		logger.Warn("interpretation failed, using dictionary entry",
			logging.Error(interpErr))
		result.FieldErrors["interpretation"] = interpErr.Error()
		result.Meaning = dictEntry.Meaning
		result.Pinyin = dictEntry.Pinyin
	} else {
		result.Meaning = interpretation.Meaning
		result.Pinyin = interpretation.Pinyin
		// The dictionary reading wins over the model's when both exist:
		// readings are exactly the kind of detail models hallucinate.
		if dictFound && dictEntry.Pinyin != "" {
			result.Pinyin = dictEntry.Pinyin
		}
	}
	if hint := strings.TrimSpace(req.PinyinHint); hint != "" {
		result.Pinyin = hint
	}

	e.report(req, StageAnalyzing, 30, "building linguistic analysis")
	level := req.Policy.UserLevel
	if level == "" {
		level = e.opts.DefaultUserLevel
	}
	analysis, analysisErr := e.interp.Analyze(ctx, character, result.Meaning, level)
	if analysisErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("analysis unavailable", logging.Error(analysisErr))
		result.FieldErrors["analysis"] = analysisErr.Error()
	} else if !analysis.Substantial() {
		// Peripheral fields without an etymology or mnemonic teach nothing;
		// treat the analysis as absent rather than persisting filler.
		logger.Warn("analysis lacked etymology and mnemonics, dropping it")
		result.FieldErrors["analysis"] = "analysis lacked etymology and mnemonics"
	} else {
		result.Analysis = &analysis
	}

	e.report(req, StageGeneratingAudio, 45, "generating pronunciation audio")
	audio, audioErr := e.audioAsset(ctx, logger, character, req.Policy)
	if audioErr != nil {
		if isFatal(ctx, audioErr) {
			return nil, audioErr
		}
		logger.Warn("audio generation failed", logging.Error(audioErr))
		result.FieldErrors["audio"] = audioErr.Error()
	} else {
		result.Audio = audio
	}

	e.report(req, StageGeneratingImage, 65, "generating mnemonic image")
	image, imageErr := e.imageAsset(ctx, logger, character, result.Meaning, req.Policy)
	if imageErr != nil {
		if isFatal(ctx, imageErr) {
			return nil, imageErr
		}
		logger.Warn("image generation failed", logging.Error(imageErr))
		result.FieldErrors["image"] = imageErr.Error()
	} else {
		result.Image = image
	}

	e.report(req, StagePersisting, 90, "persisting card")
	enrichment := cards.Enrichment{
		Character: character,
		Meaning:   result.Meaning,
		Pinyin:    result.Pinyin,
		DeckID:    req.DeckID,
	}
	if result.Audio != nil {
		enrichment.AudioURL = result.Audio.URL
	}
	if result.Image != nil {
		enrichment.ImageURL = result.Image.URL
		enrichment.ImageValidated = result.Image.Validated
	}
	if result.Analysis != nil {
		enrichment.Analysis = result.Analysis
	}
	if err := e.cards.UpsertEnrichment(ctx, enrichment); err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", "persist", "write card", err)
	}

	if len(result.FieldErrors) == 0 {
		result.Outcome = OutcomeCompleted
	} else {
		result.Outcome = OutcomePartiallyCompleted
	}
	logger.Info("enrichment finished",
		logging.String("outcome", string(result.Outcome)),
		logging.Int("degraded_fields", len(result.FieldErrors)))
	return result, nil
}

func (e *Enricher) lookupDictionary(ctx context.Context, logger *slog.Logger, character string) (dictionary.Entry, bool) {
	if e.dict == nil {
		return dictionary.Entry{}, false
	}
	entries, err := e.dict.Lookup(ctx, character)
	if err != nil {
		if !errors.Is(err, dictionary.ErrNotFound) {
			logger.Warn("dictionary lookup failed", logging.Error(err))
		}
		return dictionary.Entry{}, false
	}
	entry, preferred := dictionary.Select(entries, e.opts.PreferredReadings, character)
	if len(entries) > 1 && !preferred {
		logger.Debug("ambiguous character, using first dictionary sense",
			logging.Int("senses", len(entries)),
			logging.String("pinyin", entry.Pinyin))
	}
	return entry, true
}

func (e *Enricher) report(req Request, stage string, percent float64, message string) {
	if req.Progress != nil {
		req.Progress(stage, percent, message)
	}
}

// isFatal distinguishes errors that must fail the run from ones that degrade
// a single field. Storage errors and context cancellation are fatal.
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, services.ErrStorage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
