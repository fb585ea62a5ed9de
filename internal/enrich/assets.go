package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inkstone/internal/imagevalidate"
	"inkstone/internal/logging"
	"inkstone/internal/mediastore"
	"inkstone/internal/promptsynth"
	"inkstone/internal/services"
	"inkstone/internal/services/imagegen"
	"inkstone/internal/services/speech"
)

// claimPollInterval spaces cache re-checks while another worker holds the
// generation claim for the same key.
const claimPollInterval = 200 * time.Millisecond

// audioAsset produces or reuses the pronunciation clip for the character.
func (e *Enricher) audioAsset(ctx context.Context, logger *slog.Logger, character string, policy GenerationPolicy) (*MediaOutcome, error) {
	if e.speech == nil {
		return nil, errors.New("no speech synthesizer configured")
	}
	key := mediastore.Key(character, mediastore.AssetAudio)

	if policy.Force {
		if err := e.media.Delete(key); err != nil {
			return nil, services.Wrap(services.ErrStorage, "enrich", "audio", "delete cached audio", err)
		}
	} else if e.media.Exists(key) {
		return e.cachedOutcome(logger, key, "audio")
	}

	release, reused, err := e.claimOrReuse(ctx, logger, key, "audio")
	if err != nil {
		return nil, err
	}
	if reused != nil {
		return reused, nil
	}
	defer release()

	var clip speech.Clip
	var lastErr error
	for attempt := 1; attempt <= e.opts.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx, "speech"); err != nil {
				return nil, err
			}
		}
		clip, lastErr = e.speech.Synthesize(ctx, character)
		if lastErr == nil {
			break
		}
		logger.Debug("audio attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(lastErr))
		if attempt < e.opts.RetryAttempts {
			if err := e.sleep(ctx, e.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("synthesize after %d attempts: %w", e.opts.RetryAttempts, lastErr)
	}

	meta := mediastore.Metadata{
		Character:   character,
		AssetType:   mediastore.AssetAudio,
		ContentType: clip.ContentType,
		Provider:    clip.Provider,
		Validated:   true,
	}
	if err := e.media.Put(key, clip.Bytes, meta); err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", "audio", "store audio", err)
	}
	url, err := e.media.URL(key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", "audio", "resolve audio url", err)
	}
	return &MediaOutcome{URL: url, Source: SourceGenerated, Provider: clip.Provider, Validated: true}, nil
}

// cachedOutcome builds the media outcome for an already-stored asset,
// carrying forward its recorded provider and validation state.
func (e *Enricher) cachedOutcome(logger *slog.Logger, key, op string) (*MediaOutcome, error) {
	meta, err := e.media.Metadata(key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", op, "read cached metadata", err)
	}
	url, err := e.media.URL(key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", op, "resolve cached url", err)
	}
	logger.Debug("reusing cached asset",
		logging.String("key", key),
		logging.Bool("validated", meta.Validated))
	return &MediaOutcome{
		URL:         url,
		Source:      SourceCached,
		Provider:    meta.Provider,
		Validated:   meta.Validated,
		ValidatedBy: meta.ValidatedBy,
	}, nil
}

// claimOrReuse acquires the generation claim for the key. Losing the claim
// race is not a failure: the holder is producing the exact asset this request
// needs, so wait for the claim to resolve and reuse the published asset. A
// holder that fails releases the claim without publishing, in which case the
// claim is taken over and generation proceeds here. The wait is bounded by
// the claim TTL, past which the claim is stale and broken by Claim itself.
func (e *Enricher) claimOrReuse(ctx context.Context, logger *slog.Logger, key, op string) (func(), *MediaOutcome, error) {
	release, err := e.media.Claim(key, e.opts.ClaimTTL)
	if err == nil {
		return release, nil, nil
	}
	if !errors.Is(err, mediastore.ErrClaimed) {
		return nil, nil, fmt.Errorf("claim %s slot: %w", op, err)
	}
	logger.Debug("generation claim held elsewhere, waiting for its result",
		logging.String("key", key))
	deadline := time.Now().Add(e.opts.ClaimTTL)
	for {
		if sleepErr := e.sleep(ctx, claimPollInterval); sleepErr != nil {
			return nil, nil, sleepErr
		}
		if e.media.Exists(key) {
			outcome, cacheErr := e.cachedOutcome(logger, key, op)
			if cacheErr != nil {
				return nil, nil, cacheErr
			}
			return nil, outcome, nil
		}
		release, err = e.media.Claim(key, e.opts.ClaimTTL)
		if err == nil {
			// The holder may have published between the cache check and the
			// takeover; reuse its asset rather than regenerating it.
			if e.media.Exists(key) {
				release()
				outcome, cacheErr := e.cachedOutcome(logger, key, op)
				if cacheErr != nil {
					return nil, nil, cacheErr
				}
				return nil, outcome, nil
			}
			return release, nil, nil
		}
		if !errors.Is(err, mediastore.ErrClaimed) {
			return nil, nil, fmt.Errorf("claim %s slot: %w", op, err)
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("claim %s slot: %w", op, err)
		}
	}
}

// imageAsset produces or reuses the mnemonic image, running the bounded
// generate-validate-refine loop. Generation errors consume attempts.
// Validator errors never discard a generated image: the image is accepted
// unvalidated, since a flaky reviewer should not cost a finished asset.
func (e *Enricher) imageAsset(ctx context.Context, logger *slog.Logger, character, meaning string, policy GenerationPolicy) (*MediaOutcome, error) {
	if e.images == nil {
		return nil, errors.New("no image generator configured")
	}
	key := mediastore.Key(character, mediastore.AssetImage)

	if policy.Force {
		if err := e.media.Delete(key); err != nil {
			return nil, services.Wrap(services.ErrStorage, "enrich", "image", "delete cached image", err)
		}
	} else if e.media.Exists(key) {
		return e.cachedOutcome(logger, key, "image")
	}

	release, reused, err := e.claimOrReuse(ctx, logger, key, "image")
	if err != nil {
		return nil, err
	}
	if reused != nil {
		return reused, nil
	}
	defer release()

	prompt := e.prompts.Synthesize(ctx, character, meaning)

	var (
		accepted    *imagegen.Image
		verdictInfo *imagevalidate.Verdict
		lastImage   *imagegen.Image
		lastErr     error
	)
	for attempt := 1; attempt <= e.opts.ImageAttempts && accepted == nil; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx, "image"); err != nil {
				return nil, err
			}
		}
		img, genErr := e.images.Generate(ctx, prompt.Text, prompt.Negative)
		if genErr != nil {
			lastErr = genErr
			logger.Debug("image attempt failed",
				logging.Int("attempt", attempt),
				logging.Error(genErr))
			if attempt < e.opts.ImageAttempts {
				if err := e.sleep(ctx, e.opts.RetryDelay); err != nil {
					return nil, err
				}
			}
			continue
		}
		lastImage = &img

		if e.validator == nil || !e.validator.Enabled() {
			accepted = &img
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx, "vision"); err != nil {
				return nil, err
			}
		}
		verdict, valErr := e.validator.Validate(ctx, img.Data, img.ContentType)
		if valErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("validator unavailable, accepting image unvalidated",
				logging.Error(valErr))
			accepted = &img
			break
		}
		if verdict.IsValid {
			accepted = &img
			verdictInfo = &verdict
			break
		}
		logger.Debug("image rejected, refining prompt",
			logging.Int("attempt", attempt),
			logging.Any("issues", verdict.Issues))
		if verdict.Crowded {
			prompt = promptsynth.Simplified(character, meaning)
		} else {
			prompt = promptsynth.Refine(prompt, verdict.Issues, character, meaning)
		}
	}

	validated := false
	validatedBy := "none"
	if accepted == nil {
		if lastImage == nil {
			if lastErr == nil {
				lastErr = errors.New("no image produced")
			}
			return nil, fmt.Errorf("generate after %d attempts: %w", e.opts.ImageAttempts, lastErr)
		}
		// Every attempt produced a flawed image. An imperfect mnemonic beats
		// none, so keep the last one and mark it unvalidated.
		logger.Warn("image attempts exhausted, keeping last unvalidated image",
			logging.Int("attempts", e.opts.ImageAttempts))
		accepted = lastImage
	} else if verdictInfo != nil {
		validated = true
		validatedBy = verdictInfo.ValidatedBy
	}

	meta := mediastore.Metadata{
		Character:   character,
		AssetType:   mediastore.AssetImage,
		ContentType: accepted.ContentType,
		Provider:    accepted.Provider,
		Validated:   validated,
		ValidatedBy: validatedBy,
	}
	if err := e.media.Put(key, accepted.Data, meta); err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", "image", "store image", err)
	}
	url, err := e.media.URL(key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "enrich", "image", "resolve image url", err)
	}
	return &MediaOutcome{
		URL:         url,
		Source:      SourceGenerated,
		Provider:    accepted.Provider,
		Validated:   validated,
		ValidatedBy: validatedBy,
	}, nil
}
