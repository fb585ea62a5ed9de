package interpret

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"inkstone/internal/ratelimit"
	"inkstone/internal/services"
)

type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return "", errors.New("no scripted response")
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestInterpretUsesPrimaryProvider(t *testing.T) {
	primary := &scriptedCompleter{responses: []string{`{"meaning":"tired","pinyin":"lèi","image_prompt":"a farmer resting"}`}}
	secondary := &scriptedCompleter{}
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
		{Name: "secondary", Client: secondary},
	}, nil, 3, 0, nil, WithSleeper(noSleep))

	got, err := adapter.Interpret(context.Background(), "累", "")
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if got.Meaning != "tired" || got.Pinyin != "lèi" {
		t.Fatalf("unexpected interpretation: %+v", got)
	}
	if got.Provider != "primary" {
		t.Fatalf("expected primary provider, got %q", got.Provider)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", secondary.calls)
	}
}

func TestInterpretExhaustsBudgetBeforeFallback(t *testing.T) {
	failure := errors.New("provider down")
	primary := &scriptedCompleter{errs: []error{failure, failure, failure}}
	secondary := &scriptedCompleter{responses: []string{`{"meaning":"tired","pinyin":"lèi"}`}}

	var attempts []Attempt
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
		{Name: "secondary", Client: secondary},
	}, nil, 3, 500*time.Millisecond, nil,
		WithSleeper(noSleep),
		WithAttemptRecorder(func(a Attempt) { attempts = append(attempts, a) }))

	got, err := adapter.Interpret(context.Background(), "累", "")
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if got.Provider != "secondary" {
		t.Fatalf("expected secondary provider, got %q", got.Provider)
	}
	if primary.calls != 3 {
		t.Fatalf("expected 3 primary attempts, got %d", primary.calls)
	}
	if len(attempts) != 4 {
		t.Fatalf("expected 4 recorded attempts, got %d", len(attempts))
	}
	for _, attempt := range attempts[:3] {
		if attempt.Provider != "primary" || attempt.OK {
			t.Fatalf("unexpected attempt record: %+v", attempt)
		}
	}
	if !attempts[3].OK {
		t.Fatalf("expected final attempt to succeed: %+v", attempts[3])
	}
}

func TestInterpretTreatsLowQualityAsFailure(t *testing.T) {
	primary := &scriptedCompleter{responses: []string{`{"meaning":"unknown character","pinyin":""}`}}
	secondary := &scriptedCompleter{responses: []string{`{"meaning":"to walk","pinyin":"xíng"}`}}
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
		{Name: "secondary", Client: secondary},
	}, nil, 1, 0, nil, WithSleeper(noSleep))

	got, err := adapter.Interpret(context.Background(), "行", "")
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if got.Provider != "secondary" {
		t.Fatalf("expected fallback past low-quality answer, got %q", got.Provider)
	}
}

func TestInterpretAllProvidersExhausted(t *testing.T) {
	failure := errors.New("provider down")
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: &scriptedCompleter{errs: []error{failure, failure, failure}}},
	}, nil, 3, 0, nil, WithSleeper(noSleep))

	_, err := adapter.Interpret(context.Background(), "累", "")
	if !errors.Is(err, services.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestInterpretStopsOnContextCancel(t *testing.T) {
	primary := &scriptedCompleter{errs: []error{context.Canceled}}
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
	}, nil, 3, 0, nil, WithSleeper(noSleep))

	_, err := adapter.Interpret(context.Background(), "累", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", primary.calls)
	}
}

func TestAnalyzeRejectsEmptyAnalysis(t *testing.T) {
	primary := &scriptedCompleter{responses: []string{`{}`}}
	secondary := &scriptedCompleter{responses: []string{`{"etymology":"pictograph of a person walking","mnemonics":"legs in motion"}`}}
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
		{Name: "secondary", Client: secondary},
	}, nil, 1, 0, nil, WithSleeper(noSleep))

	got, err := adapter.Analyze(context.Background(), "行", "to walk", "beginner")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if got.Provider != "secondary" {
		t.Fatalf("expected secondary provider, got %q", got.Provider)
	}
}

func TestImageSearchQueryOfflineFallback(t *testing.T) {
	failure := errors.New("provider down")
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: &scriptedCompleter{errs: []error{failure}}},
	}, nil, 1, 0, nil, WithSleeper(noSleep))

	got, err := adapter.ImageSearchQuery(context.Background(), "累", "Tired, exhausted; weary")
	if err != nil {
		t.Fatalf("ImageSearchQuery returned error: %v", err)
	}
	if got != "tired" {
		t.Fatalf("expected offline fallback %q, got %q", "tired", got)
	}
}

func TestOfflineImageQuery(t *testing.T) {
	cases := []struct {
		meaning string
		want    string
	}{
		{"Tired, exhausted", "tired"},
		{"to walk; to travel", "walk"},
		{"mountain", "mountain"},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := OfflineImageQuery(tc.meaning); got != tc.want {
			t.Errorf("OfflineImageQuery(%q) = %q, want %q", tc.meaning, got, tc.want)
		}
	}
}

func TestInterpretSleepsBetweenAttempts(t *testing.T) {
	failure := errors.New("provider down")
	primary := &scriptedCompleter{errs: []error{failure, nil}, responses: []string{"", `{"meaning":"tired","pinyin":"lèi"}`}}

	var slept []time.Duration
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
	}, nil, 3, time.Second, nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	if _, err := adapter.Interpret(context.Background(), "累", ""); err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single 1s sleep, got %v", slept)
	}
}

func TestInterpretIncludesMeaningHint(t *testing.T) {
	var seenUser string
	client := completerFunc(func(ctx context.Context, system, user string) (string, error) {
		seenUser = user
		return `{"meaning":"tired","pinyin":"lèi"}`, nil
	})
	adapter := NewAdapter([]Provider{{Name: "primary", Client: client}}, nil, 1, 0, nil, WithSleeper(noSleep))

	if _, err := adapter.Interpret(context.Background(), "累", "tired"); err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if !strings.Contains(seenUser, "Intended meaning: tired") {
		t.Fatalf("expected meaning hint in prompt, got %q", seenUser)
	}
}

func TestInterpretSpacesProvidersIndependently(t *testing.T) {
	failure := errors.New("provider down")
	primary := &scriptedCompleter{errs: []error{failure}}
	secondary := &scriptedCompleter{responses: []string{`{"meaning":"tired","pinyin":"lèi"}`}}

	limiter := ratelimit.New(map[string]time.Duration{
		"primary":   time.Minute,
		"secondary": time.Minute,
	}, ratelimit.WithSleeper(func(ctx context.Context, d time.Duration) error {
		return errors.New("unexpected rate limit wait")
	}))
	adapter := NewAdapter([]Provider{
		{Name: "primary", Client: primary},
		{Name: "secondary", Client: secondary},
	}, limiter, 1, 0, nil, WithSleeper(noSleep))

	// A fresh call against the secondary must not inherit spacing from the
	// call that just went to the primary.
	got, err := adapter.Interpret(context.Background(), "累", "")
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if got.Provider != "secondary" {
		t.Fatalf("expected secondary provider, got %q", got.Provider)
	}
}

func TestAnalysisSubstantial(t *testing.T) {
	cases := []struct {
		analysis Analysis
		want     bool
	}{
		{Analysis{Etymology: "field over silk"}, true},
		{Analysis{Mnemonics: "threads piling up"}, true},
		{Analysis{Usage: []string{"used after verbs"}, LearningTips: "practice"}, false},
		{Analysis{}, false},
	}
	for _, tc := range cases {
		if got := tc.analysis.Substantial(); got != tc.want {
			t.Errorf("Substantial(%+v) = %v, want %v", tc.analysis, got, tc.want)
		}
	}
}

type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}
