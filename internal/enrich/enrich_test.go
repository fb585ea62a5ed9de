package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"inkstone/internal/cards"
	"inkstone/internal/dictionary"
	"inkstone/internal/imagevalidate"
	"inkstone/internal/interpret"
	"inkstone/internal/mediastore"
	"inkstone/internal/services"
	"inkstone/internal/services/imagegen"
	"inkstone/internal/services/speech"
)

type fakeInterpreter struct {
	interpretation interpret.Interpretation
	interpretErr   error
	analysis       interpret.Analysis
	analysisErr    error
}

func (f *fakeInterpreter) Interpret(ctx context.Context, character, hint string) (interpret.Interpretation, error) {
	return f.interpretation, f.interpretErr
}

func (f *fakeInterpreter) Analyze(ctx context.Context, character, meaning, level string) (interpret.Analysis, error) {
	return f.analysis, f.analysisErr
}

type fakeSpeech struct {
	calls int
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) (speech.Clip, error) {
	f.calls++
	if f.err != nil {
		return speech.Clip{}, f.err
	}
	return speech.Clip{Bytes: []byte("mp3"), ContentType: "audio/mpeg", Provider: "tts-demo"}, nil
}

func (f *fakeSpeech) Name() string { return "tts-demo" }

type fakeImageGen struct {
	calls int
	errs  []error
}

func (f *fakeImageGen) Generate(ctx context.Context, prompt, negative string) (imagegen.Image, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return imagegen.Image{}, f.errs[idx]
	}
	return imagegen.Image{Data: []byte{0x89, byte(idx)}, ContentType: "image/png", Provider: "img-demo"}, nil
}

func (f *fakeImageGen) Name() string { return "img-demo" }

type fakeValidator struct {
	verdicts []imagevalidate.Verdict
	errs     []error
	calls    int
	enabled  bool
}

func (f *fakeValidator) Enabled() bool { return f.enabled }

func (f *fakeValidator) Validate(ctx context.Context, data []byte, contentType string) (imagevalidate.Verdict, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return imagevalidate.Verdict{}, f.errs[idx]
	}
	if idx < len(f.verdicts) {
		return f.verdicts[idx], nil
	}
	return imagevalidate.Verdict{IsValid: true, ValidatedBy: "vision-demo"}, nil
}

type fakeDict struct {
	entries []dictionary.Entry
	err     error
}

func (f *fakeDict) Lookup(ctx context.Context, character string) ([]dictionary.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) == 0 {
		return nil, dictionary.ErrNotFound
	}
	return f.entries, nil
}

type fakeCards struct {
	written []cards.Enrichment
	err     error
}

func (f *fakeCards) UpsertEnrichment(ctx context.Context, enrichment cards.Enrichment) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, enrichment)
	return nil
}

type fixture struct {
	interp    *fakeInterpreter
	speech    *fakeSpeech
	images    *fakeImageGen
	validator *fakeValidator
	dict      *fakeDict
	cards     *fakeCards
	media     *mediastore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	media, err := mediastore.New(t.TempDir(), "", nil)
	if err != nil {
		t.Fatalf("mediastore.New: %v", err)
	}
	return &fixture{
		interp: &fakeInterpreter{
			interpretation: interpret.Interpretation{Meaning: "tired", Pinyin: "lèi", Provider: "primary"},
			analysis:       interpret.Analysis{Etymology: "field over silk", Mnemonics: "threads piling up"},
		},
		speech:    &fakeSpeech{},
		images:    &fakeImageGen{},
		validator: &fakeValidator{enabled: true},
		dict:      &fakeDict{},
		cards:     &fakeCards{},
		media:     media,
	}
}

func (f *fixture) enricher(t *testing.T, opts Options) *Enricher {
	t.Helper()
	return New(f.interp, f.speech, f.images, f.validator, nil, f.dict, f.cards, f.media, nil, opts, nil,
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))
}

func TestEnrichCompletesWithAllFields(t *testing.T) {
	f := newFixture(t)
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %q (errors %v)", result.Outcome, result.FieldErrors)
	}
	if result.Meaning != "tired" || result.Pinyin != "lèi" {
		t.Fatalf("unexpected interpretation: %+v", result)
	}
	if result.Audio == nil || result.Audio.Source != SourceGenerated {
		t.Fatalf("expected generated audio, got %+v", result.Audio)
	}
	if result.Image == nil || !result.Image.Validated || result.Image.ValidatedBy != "vision-demo" {
		t.Fatalf("expected validated image, got %+v", result.Image)
	}
	if len(f.cards.written) != 1 {
		t.Fatalf("expected 1 card write, got %d", len(f.cards.written))
	}
	if f.cards.written[0].AudioURL == "" || f.cards.written[0].ImageURL == "" {
		t.Fatalf("expected media urls on card: %+v", f.cards.written[0])
	}
}

func TestEnrichReusesCachedMedia(t *testing.T) {
	f := newFixture(t)
	for _, assetType := range []mediastore.AssetType{mediastore.AssetAudio, mediastore.AssetImage} {
		contentType := "audio/mpeg"
		if assetType == mediastore.AssetImage {
			contentType = "image/png"
		}
		key := mediastore.Key("累", assetType)
		if err := f.media.Put(key, []byte("cached"), mediastore.Metadata{
			Character: "累", AssetType: assetType, ContentType: contentType,
			Provider: "earlier-run", Validated: true, ValidatedBy: "vision-demo",
		}); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.speech.calls != 0 || f.images.calls != 0 {
		t.Fatalf("expected no generation calls, got speech=%d image=%d", f.speech.calls, f.images.calls)
	}
	if result.Audio.Source != SourceCached || result.Image.Source != SourceCached {
		t.Fatalf("expected cached sources, got %+v %+v", result.Audio, result.Image)
	}
	if result.Image.Provider != "earlier-run" || !result.Image.Validated {
		t.Fatalf("expected cached metadata carried forward, got %+v", result.Image)
	}
}

func TestEnrichForceRegeneratesDespiteCache(t *testing.T) {
	f := newFixture(t)
	key := mediastore.Key("累", mediastore.AssetAudio)
	if err := f.media.Put(key, []byte("stale"), mediastore.Metadata{
		Character: "累", AssetType: mediastore.AssetAudio, ContentType: "audio/mpeg",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累", Policy: GenerationPolicy{Force: true}})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.speech.calls != 1 {
		t.Fatalf("expected regeneration, got %d speech calls", f.speech.calls)
	}
	if result.Audio.Source != SourceGenerated {
		t.Fatalf("expected generated audio, got %+v", result.Audio)
	}
	asset, err := f.media.Get(key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(asset.Data) == "stale" {
		t.Fatal("expected cached asset replaced")
	}
}

func TestEnrichAnalysisFailureDegradesToPartial(t *testing.T) {
	f := newFixture(t)
	f.interp.analysisErr = errors.New("providers exhausted")
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Outcome != OutcomePartiallyCompleted {
		t.Fatalf("expected partial outcome, got %q", result.Outcome)
	}
	if _, ok := result.FieldErrors["analysis"]; !ok {
		t.Fatalf("expected analysis field error, got %v", result.FieldErrors)
	}
	if result.Analysis != nil {
		t.Fatal("expected no analysis on result")
	}
	if len(f.cards.written) != 1 {
		t.Fatal("card must still be persisted on partial success")
	}
}

func TestEnrichImageRefinementLoopRetriesUntilValid(t *testing.T) {
	f := newFixture(t)
	f.validator.verdicts = []imagevalidate.Verdict{
		{IsValid: false, Crowded: true, Issues: []string{imagevalidate.IssueTooManyPeople}},
		{IsValid: false, ContainsText: true, Issues: []string{imagevalidate.IssueEmbeddedText}},
		{IsValid: true, ValidatedBy: "vision-demo"},
	}
	enricher := f.enricher(t, Options{ImageAttempts: 3})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.images.calls != 3 {
		t.Fatalf("expected 3 generation attempts, got %d", f.images.calls)
	}
	if !result.Image.Validated {
		t.Fatalf("expected validated image, got %+v", result.Image)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %q", result.Outcome)
	}
}

func TestEnrichGenerationErrorConsumesAttempt(t *testing.T) {
	f := newFixture(t)
	f.images.errs = []error{errors.New("model busy"), nil}
	enricher := f.enricher(t, Options{ImageAttempts: 3})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.images.calls != 2 {
		t.Fatalf("expected 2 generation calls, got %d", f.images.calls)
	}
	if result.Image == nil || result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed with image, got %+v", result)
	}
}

func TestEnrichValidatorErrorAcceptsUnvalidated(t *testing.T) {
	f := newFixture(t)
	f.validator.errs = []error{errors.New("vision overloaded")}
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Image == nil {
		t.Fatal("expected image despite validator failure")
	}
	if result.Image.Validated || result.Image.ValidatedBy != "none" {
		t.Fatalf("expected unvalidated acceptance, got %+v", result.Image)
	}
	if f.images.calls != 1 {
		t.Fatalf("validator failure must not consume attempts, got %d calls", f.images.calls)
	}
}

func TestEnrichExhaustedAttemptsKeepLastImage(t *testing.T) {
	f := newFixture(t)
	reject := imagevalidate.Verdict{IsValid: false, ContainsText: true, Issues: []string{imagevalidate.IssueEmbeddedText}}
	f.validator.verdicts = []imagevalidate.Verdict{reject, reject, reject}
	enricher := f.enricher(t, Options{ImageAttempts: 3})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.images.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.images.calls)
	}
	if result.Image == nil || result.Image.Validated {
		t.Fatalf("expected unvalidated last image, got %+v", result.Image)
	}
	meta, err := f.media.Metadata(mediastore.Key("累", mediastore.AssetImage))
	if err != nil {
		t.Fatalf("Metadata returned error: %v", err)
	}
	if meta.Validated || meta.ValidatedBy != "none" {
		t.Fatalf("expected unvalidated metadata, got %+v", meta)
	}
}

func TestEnrichRejectsNonHanInput(t *testing.T) {
	f := newFixture(t)
	enricher := f.enricher(t, Options{})

	for _, input := range []string{"abc", "", "累a", "12"} {
		if _, err := enricher.Enrich(context.Background(), Request{Character: input}); !errors.Is(err, services.ErrMalformedInput) {
			t.Fatalf("input %q: expected ErrMalformedInput, got %v", input, err)
		}
	}
	if f.speech.calls != 0 {
		t.Fatal("no generation should happen for invalid input")
	}
}

func TestEnrichInterpretFailureFallsBackToDictionary(t *testing.T) {
	f := newFixture(t)
	f.interp.interpretErr = errors.New("all providers exhausted")
	f.dict.entries = []dictionary.Entry{
		{Traditional: "累", Pinyin: "lèi", Meaning: "tired"},
	}
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Meaning != "tired" || result.Pinyin != "lèi" {
		t.Fatalf("expected dictionary fallback, got %+v", result)
	}
	if _, ok := result.FieldErrors["interpretation"]; !ok {
		t.Fatalf("expected interpretation field error, got %v", result.FieldErrors)
	}
	if result.Outcome != OutcomePartiallyCompleted {
		t.Fatalf("expected partial outcome, got %q", result.Outcome)
	}
}

func TestEnrichInterpretFailureWithoutDictionaryIsFatal(t *testing.T) {
	f := newFixture(t)
	f.interp.interpretErr = errors.New("all providers exhausted")
	enricher := f.enricher(t, Options{})

	_, err := enricher.Enrich(context.Background(), Request{Character: "纍"})
	if !errors.Is(err, services.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestEnrichPreferredReadingWinsOverModel(t *testing.T) {
	f := newFixture(t)
	f.interp.interpretation.Pinyin = "lěi"
	f.dict.entries = []dictionary.Entry{
		{Traditional: "累", Pinyin: "lěi", Meaning: "to accumulate"},
		{Traditional: "累", Pinyin: "lèi", Meaning: "tired"},
	}
	enricher := f.enricher(t, Options{PreferredReadings: map[string]string{"累": "lèi"}})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Pinyin != "lèi" {
		t.Fatalf("expected preferred reading lèi, got %q", result.Pinyin)
	}
}

func TestEnrichCardWriteFailureIsStorageError(t *testing.T) {
	f := newFixture(t)
	f.cards.err = errors.New("disk full")
	enricher := f.enricher(t, Options{})

	_, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestEnrichAudioFailureDegradesToPartial(t *testing.T) {
	f := newFixture(t)
	f.speech.err = errors.New("tts down")
	enricher := f.enricher(t, Options{RetryAttempts: 2})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if f.speech.calls != 2 {
		t.Fatalf("expected 2 synthesis attempts, got %d", f.speech.calls)
	}
	if result.Audio != nil {
		t.Fatal("expected no audio outcome")
	}
	if result.Outcome != OutcomePartiallyCompleted {
		t.Fatalf("expected partial outcome, got %q", result.Outcome)
	}
	if !strings.Contains(result.FieldErrors["audio"], "attempts") {
		t.Fatalf("expected audio field error, got %v", result.FieldErrors)
	}
}

// gatedSpeech blocks inside Synthesize until released, holding the audio
// claim open so a concurrent request for the same character must wait.
type gatedSpeech struct {
	entered chan struct{}
	release chan struct{}
	calls   int
}

func (g *gatedSpeech) Synthesize(ctx context.Context, text string) (speech.Clip, error) {
	g.calls++
	close(g.entered)
	<-g.release
	return speech.Clip{Bytes: []byte("mp3"), ContentType: "audio/mpeg", Provider: "tts-demo"}, nil
}

func (g *gatedSpeech) Name() string { return "tts-demo" }

func TestEnrichConcurrentRequestsShareGeneratedAudio(t *testing.T) {
	first := newFixture(t)
	gated := &gatedSpeech{entered: make(chan struct{}), release: make(chan struct{})}
	winner := New(first.interp, gated, first.images, first.validator, nil,
		first.dict, first.cards, first.media, nil, Options{}, nil,
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))

	second := newFixture(t)
	second.media = first.media
	waiting := make(chan struct{})
	var once sync.Once
	loser := New(second.interp, second.speech, second.images, second.validator, nil,
		second.dict, second.cards, second.media, nil, Options{}, nil,
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			once.Do(func() { close(waiting) })
			return nil
		}))

	type outcome struct {
		result *Result
		err    error
	}
	winnerDone := make(chan outcome, 1)
	loserDone := make(chan outcome, 1)

	go func() {
		result, err := winner.Enrich(context.Background(), Request{Character: "累"})
		winnerDone <- outcome{result, err}
	}()
	<-gated.entered

	go func() {
		result, err := loser.Enrich(context.Background(), Request{Character: "累"})
		loserDone <- outcome{result, err}
	}()
	<-waiting
	close(gated.release)

	won := <-winnerDone
	lost := <-loserDone
	if won.err != nil || lost.err != nil {
		t.Fatalf("concurrent enrich errors: winner=%v loser=%v", won.err, lost.err)
	}
	for name, got := range map[string]outcome{"winner": won, "loser": lost} {
		if got.result.Outcome != OutcomeCompleted {
			t.Fatalf("%s: expected completed, got %q (errors %v)", name, got.result.Outcome, got.result.FieldErrors)
		}
		if got.result.Audio == nil || got.result.Audio.URL == "" {
			t.Fatalf("%s: expected audio outcome, got %+v", name, got.result.Audio)
		}
	}
	if gated.calls != 1 {
		t.Fatalf("expected a single synthesis, got %d", gated.calls)
	}
	if second.speech.calls != 0 {
		t.Fatalf("claim loser must not synthesize, got %d calls", second.speech.calls)
	}
	if lost.result.Audio.Source != SourceCached {
		t.Fatalf("claim loser should reuse the published audio, got %+v", lost.result.Audio)
	}
}

func TestEnrichAnalysisWithoutCoreContentTreatedAsAbsent(t *testing.T) {
	f := newFixture(t)
	f.interp.analysis = interpret.Analysis{Usage: []string{"used after verbs"}}
	enricher := f.enricher(t, Options{})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Analysis != nil {
		t.Fatalf("analysis without etymology or mnemonics must be dropped, got %+v", result.Analysis)
	}
	if _, ok := result.FieldErrors["analysis"]; !ok {
		t.Fatalf("expected analysis field error, got %v", result.FieldErrors)
	}
	if result.Outcome != OutcomePartiallyCompleted {
		t.Fatalf("expected partial outcome, got %q", result.Outcome)
	}
	if len(f.cards.written) != 1 || f.cards.written[0].Analysis != nil {
		t.Fatalf("card must be written without analysis, got %+v", f.cards.written)
	}
}

func TestEnrichForceRegenerationFailureLeavesNoAsset(t *testing.T) {
	f := newFixture(t)
	key := mediastore.Key("累", mediastore.AssetAudio)
	if err := f.media.Put(key, []byte("stale"), mediastore.Metadata{
		Character: "累", AssetType: mediastore.AssetAudio, ContentType: "audio/mpeg",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.speech.err = errors.New("tts down")
	enricher := f.enricher(t, Options{RetryAttempts: 2})

	result, err := enricher.Enrich(context.Background(), Request{Character: "累", Policy: GenerationPolicy{Force: true}})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Outcome != OutcomePartiallyCompleted {
		t.Fatalf("expected partial outcome, got %q", result.Outcome)
	}
	if _, ok := result.FieldErrors["audio"]; !ok {
		t.Fatalf("expected audio field error, got %v", result.FieldErrors)
	}
	if f.media.Exists(key) {
		t.Fatal("failed regeneration must not leave the stale asset behind")
	}
}

type recordingLimiter struct {
	services []string
}

func (r *recordingLimiter) Acquire(ctx context.Context, service string) error {
	r.services = append(r.services, service)
	return nil
}

func TestEnrichRoutesMediaCallsThroughRateLimiter(t *testing.T) {
	f := newFixture(t)
	limiter := &recordingLimiter{}
	enricher := New(f.interp, f.speech, f.images, f.validator, nil,
		f.dict, f.cards, f.media, limiter, Options{}, nil,
		WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }))

	result, err := enricher.Enrich(context.Background(), Request{Character: "累"})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %q", result.Outcome)
	}
	want := []string{"speech", "image", "vision"}
	if len(limiter.services) != len(want) {
		t.Fatalf("expected acquisitions %v, got %v", want, limiter.services)
	}
	for i := range want {
		if limiter.services[i] != want[i] {
			t.Fatalf("acquisition %d = %q, want %q", i, limiter.services[i], want[i])
		}
	}
}

func TestEnrichProgressReportsOrderedStages(t *testing.T) {
	f := newFixture(t)
	enricher := f.enricher(t, Options{})

	var stages []string
	_, err := enricher.Enrich(context.Background(), Request{
		Character: "累",
		Progress:  func(stage string, percent float64, message string) { stages = append(stages, stage) },
	})
	if err != nil {
		t.Fatalf("Enrich returned error: %v", err)
	}
	want := []string{StageLookingUp, StageInterpreting, StageAnalyzing, StageGeneratingAudio, StageGeneratingImage, StagePersisting}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %v", len(want), stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, stages[i], want[i])
		}
	}
}
