package batch

import "github.com/gradingco/gradingd/pkg/models"

// TokenEstimator computes the expected token cost of grading one page
// against a rubric. The contract is intentionally narrow and swappable
// (spec §9 Open Question: the estimation function is calibrated against a
// specific LLM family and pluggability matters more than pinning down the
// formula). BatchPlanner depends only on this interface.
type TokenEstimator interface {
	EstimatePage(rubric *models.ParsedRubric) int
}

// DefaultEstimator is a simple linear model: a fixed per-image overhead
// (vision tokenization cost), plus the serialized rubric's rough cost, plus
// a fixed expected-output budget. It is deliberately conservative —
// overestimating trades a few extra sub-batches for fewer truncated
// responses.
type DefaultEstimator struct {
	ImageOverheadTokens     int
	RubricTokensPerQuestion int
	ExpectedOutputTokens    int
}

// NewDefaultEstimator returns an estimator calibrated with reasonable
// defaults for a vision-capable chat model.
func NewDefaultEstimator() *DefaultEstimator {
	return &DefaultEstimator{
		ImageOverheadTokens:     1200,
		RubricTokensPerQuestion: 120,
		ExpectedOutputTokens:    400,
	}
}

func (e *DefaultEstimator) EstimatePage(rubric *models.ParsedRubric) int {
	rubricCost := 0
	if rubric != nil {
		rubricCost = len(rubric.Questions) * e.RubricTokensPerQuestion
	}
	return e.ImageOverheadTokens + rubricCost + e.ExpectedOutputTokens
}
