// Package imagevalidate turns a vision assessment into an accept/reject
// decision for generated mnemonic images. The validator itself can be down;
// that is reported as an error distinct from rejection so the enrichment
// loop can accept the image unvalidated rather than discard a usable asset.
package imagevalidate

import (
	"context"
	"fmt"
	"log/slog"

	"inkstone/internal/logging"
	"inkstone/internal/services/vision"
)

// Issue labels used in verdicts and refinement.
const (
	IssueEmbeddedText  = "embedded text"
	IssueTooManyPeople = "too many people"
	IssueAnatomical    = "anatomical distortion"
)

// Verdict is the validation outcome for one image.
type Verdict struct {
	IsValid          bool
	Issues           []string
	PersonCount      int
	Crowded          bool
	ContainsText     bool
	AnatomicalIssues bool
	ValidatedBy      string
}

// Analyzer is the slice of the vision client the validator needs.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, data []byte, contentType string) (vision.Assessment, error)
	Name() string
}

// Validator applies acceptance rules on top of vision analysis.
type Validator struct {
	analyzer   Analyzer
	maxPersons int
	logger     *slog.Logger
}

// New constructs a validator. maxPersons caps the number of human figures an
// acceptable image may contain.
func New(analyzer Analyzer, maxPersons int, logger *slog.Logger) *Validator {
	if maxPersons <= 0 {
		maxPersons = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{
		analyzer:   analyzer,
		maxPersons: maxPersons,
		logger:     logging.NewComponentLogger(logger, "imagevalidate"),
	}
}

// Enabled reports whether a vision analyzer is configured at all.
func (v *Validator) Enabled() bool {
	return v != nil && v.analyzer != nil
}

// Validate reviews the image. A returned error means the validator could not
// run, not that the image is bad; rejection is expressed through the verdict.
func (v *Validator) Validate(ctx context.Context, data []byte, contentType string) (Verdict, error) {
	var verdict Verdict
	if !v.Enabled() {
		return verdict, fmt.Errorf("imagevalidate: no analyzer configured")
	}
	assessment, err := v.analyzer.AnalyzeImage(ctx, data, contentType)
	if err != nil {
		return verdict, fmt.Errorf("imagevalidate: %w", err)
	}

	verdict.PersonCount = assessment.PersonCount
	verdict.Crowded = assessment.CrowdScene
	verdict.ContainsText = assessment.ContainsText
	verdict.AnatomicalIssues = assessment.AnatomicalIssues
	verdict.ValidatedBy = v.analyzer.Name()

	if assessment.ContainsText {
		verdict.Issues = append(verdict.Issues, IssueEmbeddedText)
	}
	if assessment.PersonCount > v.maxPersons || assessment.CrowdScene {
		verdict.Issues = append(verdict.Issues, IssueTooManyPeople)
	}
	if assessment.AnatomicalIssues {
		verdict.Issues = append(verdict.Issues, IssueAnatomical)
	}
	verdict.IsValid = len(verdict.Issues) == 0

	if !verdict.IsValid {
		v.logger.Debug("image rejected",
			logging.Any("issues", verdict.Issues),
			logging.Int("person_count", assessment.PersonCount),
			logging.String("notes", assessment.Notes))
	}
	return verdict, nil
}
