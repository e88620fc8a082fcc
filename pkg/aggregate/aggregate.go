// Package aggregate implements ResultAggregator: turning one student's merged
// QuestionResults into a StudentResult, enforcing the data model's totals and
// question-count invariants rather than failing the run when they slip.
package aggregate

import (
	"fmt"

	"github.com/gradingco/gradingd/pkg/models"
)

const scoreTolerance = 0.5

// StudentInput is one student's boundary plus the merged QuestionResults
// CrossPageMerger produced for them.
type StudentInput struct {
	Boundary        models.StudentBoundary
	QuestionResults []models.QuestionResult
	MergeConfidence float64
}

// Aggregate builds one StudentResult per input, sorted by start_page
// ascending (StudentInput order is expected to already reflect boundary
// order, but sort defensively since callers may fan results in out of
// order).
func Aggregate(inputs []StudentInput, rubric *models.ParsedRubric) []models.StudentResult {
	ordered := make([]StudentInput, len(inputs))
	copy(ordered, inputs)
	sortByStartPage(ordered)

	out := make([]models.StudentResult, 0, len(ordered))
	for _, in := range ordered {
		out = append(out, aggregateStudent(in, rubric))
	}
	return out
}

func aggregateStudent(in StudentInput, rubric *models.ParsedRubric) models.StudentResult {
	result := models.StudentResult{
		StudentID:       in.Boundary.StudentID,
		QuestionResults: in.QuestionResults,
		MergeConfidence: in.MergeConfidence,
	}
	if result.MergeConfidence == 0 {
		result.MergeConfidence = 1.0
	}

	seen := make(map[string]bool, len(in.QuestionResults))
	for _, q := range in.QuestionResults {
		result.TotalScore += q.Score
		result.MaxTotalScore += q.MaxScore
		seen[q.QuestionID] = true

		if q.IsCrossPage && (q.Score > q.MaxScore || len(q.PageIndices) < 2) {
			result.NeedsReview = true
		}
		if q.SchemaViolation {
			result.NeedsReview = true
		}
	}

	if rubric != nil && rubric.TotalQuestions > 0 {
		if len(seen) > rubric.TotalQuestions {
			result.NeedsReview = true
		}
		if len(seen) == rubric.TotalQuestions && !withinTolerance(result.MaxTotalScore, rubric.SumMaxScores()) {
			result.NeedsReview = true
		}
	}

	return result
}

func withinTolerance(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= scoreTolerance
}

func sortByStartPage(inputs []StudentInput) {
	for i := 1; i < len(inputs); i++ {
		for j := i; j > 0 && inputs[j].Boundary.StartPage < inputs[j-1].Boundary.StartPage; j-- {
			inputs[j], inputs[j-1] = inputs[j-1], inputs[j]
		}
	}
}

// ValidationSummary is a human-readable accounting of why NeedsReview was
// set, used for the review-gate event payload rather than graph control
// flow.
func ValidationSummary(r models.StudentResult, rubric *models.ParsedRubric) string {
	if !r.NeedsReview {
		return ""
	}
	if rubric != nil && rubric.TotalQuestions > 0 && len(r.QuestionResults) > rubric.TotalQuestions {
		return fmt.Sprintf("student %s reports %d questions, rubric only defines %d", r.StudentID, len(r.QuestionResults), rubric.TotalQuestions)
	}
	for _, q := range r.QuestionResults {
		if q.SchemaViolation {
			return fmt.Sprintf("student %s question %s scored outside the rubric's max_score and was clamped", r.StudentID, q.QuestionID)
		}
	}
	return fmt.Sprintf("student %s totals failed invariant checks", r.StudentID)
}
