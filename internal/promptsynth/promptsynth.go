// Package promptsynth builds image generation prompts for character
// mnemonics. A deterministic classify-then-template path always works
// offline; an optional AI-assisted path refines on top of it when a text
// provider is available. Grammatical particles and abstract concepts get
// symbolic compositions instead of literal scenes, since "a photo of 了"
// is not a thing an image model can draw.
package promptsynth

import (
	"context"
	"fmt"
	"strings"

	"inkstone/internal/services/llm"
)

// Category buckets a meaning into a visual strategy.
type Category string

const (
	CategoryPerson   Category = "person"
	CategoryAction   Category = "action"
	CategoryEmotion  Category = "emotion"
	CategoryObject   Category = "object"
	CategoryPlace    Category = "place"
	CategoryFood     Category = "food"
	CategoryNature   Category = "nature"
	CategoryParticle Category = "particle"
	CategoryAbstract Category = "abstract"
)

// Prompt is a ready-to-send generation prompt with its avoidance clause.
type Prompt struct {
	Text     string
	Negative string
	Category Category
	Smart    bool
}

const negativeClause = "text, letters, words, numbers, chinese characters, captions, watermarks, subtitles"

var categoryKeywords = map[Category][]string{
	CategoryPerson:   {"person", "people", "mother", "father", "sister", "brother", "child", "teacher", "friend", "woman", "man", "family", "daughter", "son", "grandmother", "grandfather", "aunt", "uncle", "doctor", "student"},
	CategoryAction:   {"to ", "walk", "run", "eat", "drink", "sleep", "speak", "write", "read", "buy", "sell", "open", "close", "jump", "swim", "drive", "fly", "sing", "dance", "work"},
	CategoryEmotion:  {"happy", "sad", "angry", "tired", "afraid", "love", "hate", "worried", "excited", "lonely", "exhausted", "weary", "joy", "fear"},
	CategoryFood:     {"rice", "noodle", "tea", "food", "meal", "fruit", "vegetable", "meat", "soup", "bread", "egg", "fish ", "cook"},
	CategoryPlace:    {"house", "home", "school", "city", "country", "shop", "store", "station", "road", "street", "room", "hospital", "park", "market"},
	CategoryNature:   {"mountain", "river", "tree", "flower", "sun", "moon", "rain", "snow", "wind", "sky", "sea", "lake", "forest", "stone", "grass", "fire", "water"},
	CategoryObject:   {"book", "table", "chair", "door", "window", "car", "phone", "clothes", "pen", "cup", "bag", "clock", "knife", "bed", "lamp"},
	CategoryParticle: {"particle", "aspect marker", "grammatical", "suffix", "prefix", "measure word", "classifier", "auxiliary", "modal", "interrogative", "possessive"},
	CategoryAbstract: {"concept", "idea", "quality", "degree", "manner", "perhaps", "possibility", "abstract", "relation", "time ", "reason", "method"},
}

// Classify buckets a meaning by keyword. Particle and abstract cues win over
// concrete ones so grammatical senses never get literal scenes.
func Classify(meaning string) Category {
	lowered := strings.ToLower(strings.TrimSpace(meaning))
	if lowered == "" {
		return CategoryAbstract
	}
	for _, category := range []Category{CategoryParticle, CategoryAbstract} {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lowered, keyword) {
				return category
			}
		}
	}
	for _, category := range []Category{CategoryPerson, CategoryEmotion, CategoryFood, CategoryNature, CategoryPlace, CategoryObject, CategoryAction} {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lowered, keyword) {
				return category
			}
		}
	}
	return CategoryAbstract
}

func subjectFrom(meaning string) string {
	meaning = strings.TrimSpace(meaning)
	if idx := strings.IndexAny(meaning, ",;("); idx >= 0 {
		meaning = meaning[:idx]
	}
	meaning = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(meaning), "to "))
	return strings.ToLower(meaning)
}

// Deterministic builds a prompt from the meaning alone, with no network
// dependency. It is the floor that smart synthesis can only improve on.
func Deterministic(character, meaning string) Prompt {
	category := Classify(meaning)
	subject := subjectFrom(meaning)
	var text string
	switch category {
	case CategoryPerson:
		text = fmt.Sprintf("A warm portrait of one %s in an everyday East Asian setting, natural lighting, soft focus background", subject)
	case CategoryAction:
		text = fmt.Sprintf("A single person in the middle of the action of %s, dynamic pose, clear uncluttered background", subject)
	case CategoryEmotion:
		text = fmt.Sprintf("A close portrait of one person whose face and posture clearly express being %s, cinematic lighting", subject)
	case CategoryFood:
		text = fmt.Sprintf("An appetizing photograph of %s on a simple table, shallow depth of field", subject)
	case CategoryPlace:
		text = fmt.Sprintf("A wide establishing shot of a %s, golden hour light, no people in frame", subject)
	case CategoryNature:
		text = fmt.Sprintf("A serene landscape photograph featuring %s, misty atmosphere, ink-wash painting mood", subject)
	case CategoryObject:
		text = fmt.Sprintf("A studio photograph of a single %s against a plain background, soft shadows", subject)
	case CategoryParticle, CategoryAbstract:
		text = fmt.Sprintf("A minimalist symbolic composition evoking the concept of %s: simple geometric shapes, flowing lines, and gradients on a calm background, no figures and no literal objects", subject)
	}
	return Prompt{Text: text, Negative: negativeClause, Category: category}
}

// Completer is the optional smart-synthesis client.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Limiter spaces smart-synthesis calls with the rest of the traffic to the
// same endpoint.
type Limiter interface {
	Acquire(ctx context.Context, service string) error
}

// Synthesizer produces prompts, preferring AI assistance when available.
type Synthesizer struct {
	smart          Completer
	limiter        Limiter
	limiterService string
	minConfidence  float64
}

// Option customizes the synthesizer.
type Option func(*Synthesizer)

// WithLimiter routes smart calls through the rate limiter under the given
// service key, normally the name of the text provider backing the completer.
func WithLimiter(limiter Limiter, service string) Option {
	return func(s *Synthesizer) {
		s.limiter = limiter
		s.limiterService = service
	}
}

// New constructs a synthesizer. smart may be nil, in which case every prompt
// is deterministic.
func New(smart Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{smart: smart, minConfidence: 0.5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const smartSystemPrompt = `You write prompts for an image generation model used on vocabulary flashcards.
Given a Chinese character and its meaning, respond with JSON only:
{"prompt": string, "negative_prompt": string, "confidence": {"cultural_accuracy": number, "educational_value": number, "clarity": number}}
prompt describes one concrete, memorable scene that evokes the meaning, in one or two sentences.
negative_prompt lists comma-separated elements the image must avoid.
For grammatical particles or abstract concepts, describe a symbolic composition of shapes and light instead of a literal scene.
Never mention text, letters, or the character itself appearing in the image.
Each confidence score is 0..1: cultural_accuracy for how faithful the scene is to a Chinese-speaking context, educational_value for how well it anchors the meaning, clarity for how unambiguous the scene is.`

// smartResponse is the contract the smart completer is asked to honor.
type smartResponse struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Confidence     struct {
		CulturalAccuracy float64 `json:"cultural_accuracy"`
		EducationalValue float64 `json:"educational_value"`
		Clarity          float64 `json:"clarity"`
	} `json:"confidence"`
}

func (r smartResponse) minScore() float64 {
	min := r.Confidence.CulturalAccuracy
	if r.Confidence.EducationalValue < min {
		min = r.Confidence.EducationalValue
	}
	if r.Confidence.Clarity < min {
		min = r.Confidence.Clarity
	}
	return min
}

// Synthesize builds the generation prompt. A malformed smart response first
// goes through plain-text extraction, since models sometimes answer with the
// prompt as prose instead of JSON; only when that salvages nothing, or any
// confidence score is below the floor, does it degrade to the deterministic
// template.
func (s *Synthesizer) Synthesize(ctx context.Context, character, meaning string) Prompt {
	base := Deterministic(character, meaning)
	if s == nil || s.smart == nil {
		return ApplyQualityGate(base, meaning)
	}
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, s.limiterService); err != nil {
			return ApplyQualityGate(base, meaning)
		}
	}
	user := "Character: " + character + "\nMeaning: " + strings.TrimSpace(meaning)
	content, err := s.smart.CompleteJSON(ctx, smartSystemPrompt, user)
	if err != nil {
		return ApplyQualityGate(base, meaning)
	}
	var parsed smartResponse
	if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
		if salvaged := extractPromptText(content); salvaged != "" {
			smart := Prompt{Text: salvaged, Negative: negativeClause, Category: base.Category, Smart: true}
			return ApplyQualityGate(smart, meaning)
		}
		return ApplyQualityGate(base, meaning)
	}
	parsed.Prompt = strings.TrimSpace(parsed.Prompt)
	if parsed.Prompt == "" || parsed.minScore() < s.minConfidence {
		return ApplyQualityGate(base, meaning)
	}
	negative := strings.TrimSpace(parsed.NegativePrompt)
	if negative == "" {
		negative = negativeClause
	}
	smart := Prompt{Text: parsed.Prompt, Negative: negative, Category: base.Category, Smart: true}
	return ApplyQualityGate(smart, meaning)
}

// extractPromptText salvages a usable prompt from a non-JSON smart response:
// code fences and surrounding quotes are stripped and the first paragraph is
// taken. Responses that still look like broken JSON, or are too short to
// describe a scene, yield nothing.
func extractPromptText(content string) string {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return ""
	}
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(strings.Trim(text, `"`))
	if len(text) < 20 {
		return ""
	}
	return text
}

var familyTerms = []string{"mother", "father", "sister", "brother", "grandmother", "grandfather", "aunt", "uncle", "daughter", "son", "family"}

// ApplyQualityGate enforces the floor every prompt must meet: enough detail
// to steer the model, an explicit no-text instruction, and a cultural
// qualifier for family terms so generated people match the study context.
func ApplyQualityGate(prompt Prompt, meaning string) Prompt {
	text := strings.TrimSpace(prompt.Text)
	if len(text) < 40 {
		text = text + ", detailed, high quality, coherent single scene"
	}
	lowered := strings.ToLower(text)
	if !strings.Contains(lowered, "no text") && !strings.Contains(lowered, "without text") {
		text = text + ". No text, letters, or characters anywhere in the image"
	}
	meaningLower := strings.ToLower(meaning)
	for _, term := range familyTerms {
		if strings.Contains(meaningLower, term) && !strings.Contains(lowered, "east asian") && !strings.Contains(lowered, "chinese") {
			text = text + ". The person is East Asian"
			break
		}
	}
	prompt.Text = text
	if prompt.Negative == "" {
		prompt.Negative = negativeClause
	}
	return prompt
}

// Simplified rebuilds a prompt around one clearly framed subject. Used when
// validation reports a crowd scene.
func Simplified(character, meaning string) Prompt {
	subject := subjectFrom(meaning)
	text := fmt.Sprintf("A simple, clear image of exactly one subject representing %s, centered composition, plain background, nothing else in frame", subject)
	prompt := Prompt{Text: text, Negative: negativeClause + ", crowds, groups of people", Category: Classify(meaning)}
	return ApplyQualityGate(prompt, meaning)
}

// Refine folds validator findings back into the prompt for the next attempt.
func Refine(base Prompt, issues []string, character, meaning string) Prompt {
	if len(issues) == 0 {
		return base
	}
	var clauses []string
	for _, issue := range issues {
		switch {
		case strings.Contains(issue, "text"):
			clauses = append(clauses, "absolutely no writing, typography, or symbols of any kind")
		case strings.Contains(issue, "people"):
			clauses = append(clauses, "at most one or two people, clearly separated")
		case strings.Contains(issue, "anatomical"):
			clauses = append(clauses, "anatomically correct figures with natural proportions")
		}
	}
	if len(clauses) == 0 {
		return base
	}
	refined := base
	refined.Text = strings.TrimRight(base.Text, ". ") + ". Ensure " + strings.Join(clauses, "; ")
	return ApplyQualityGate(refined, meaning)
}
