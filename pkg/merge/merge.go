// Package merge implements CrossPageMerger: folding question fragments that
// a GradingWorker split across adjacent pages of the same student's answer
// sheet back into one QuestionResult.
package merge

import (
	"sort"
	"strings"

	"github.com/gradingco/gradingd/pkg/models"
)

// mergeConfidenceDiscount is applied to the minimum contributing-page
// confidence whenever a question spans more than one page. Left as a
// calibrated constant: nothing in the source material documents why 0.9
// specifically, only that crossing a page boundary should cost some
// confidence.
const mergeConfidenceDiscount = 0.9

// Result is one student's merged QuestionResults plus the telemetry records
// for whichever questions actually required merging.
type Result struct {
	QuestionResults []models.QuestionResult
	CrossPageQuestions []models.MergedQuestion
}

// fragment is one page's contribution to a question, carrying the page's
// overall confidence since PageResult reports confidence per page, not per
// question.
type fragment struct {
	pageIndex  int
	confidence float64
	question   models.QuestionResult
}

// Merge groups a student's completed PageResults' QuestionDetails by
// question_id and collapses any question reported on more than one page.
// Pages that never completed contribute nothing; callers surface their
// failures separately via GradingState.Errors.
func Merge(pages []models.PageResult) Result {
	byQuestion := make(map[string][]fragment)
	var order []string

	for _, page := range pages {
		if page.Status != models.PageStatusCompleted {
			continue
		}
		for _, q := range page.QuestionDetails {
			if _, seen := byQuestion[q.QuestionID]; !seen {
				order = append(order, q.QuestionID)
			}
			byQuestion[q.QuestionID] = append(byQuestion[q.QuestionID], fragment{
				pageIndex:  page.PageIndex,
				confidence: page.Confidence,
				question:   q,
			})
		}
	}

	result := Result{QuestionResults: make([]models.QuestionResult, 0, len(order))}
	for _, questionID := range order {
		fragments := byQuestion[questionID]
		if len(fragments) == 1 {
			result.QuestionResults = append(result.QuestionResults, fragments[0].question)
			continue
		}

		merged, telemetry := mergeFragments(questionID, fragments)
		result.QuestionResults = append(result.QuestionResults, merged)
		result.CrossPageQuestions = append(result.CrossPageQuestions, telemetry)
	}

	return result
}

func mergeFragments(questionID string, fragments []fragment) (models.QuestionResult, models.MergedQuestion) {
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].pageIndex < fragments[j].pageIndex })

	var (
		scoreSum    float64
		maxScore    float64
		feedback    []string
		pageIndices []int
		pointBest   = make(map[string]models.ScoringPointResult)
		pointOrder  []string
		confidence  = 1.0
	)

	for _, f := range fragments {
		scoreSum += f.question.Score
		if f.question.MaxScore > maxScore {
			maxScore = f.question.MaxScore
		}
		if f.question.Feedback != "" {
			feedback = append(feedback, f.question.Feedback)
		}
		pageIndices = append(pageIndices, f.pageIndex)
		if f.confidence < confidence {
			confidence = f.confidence
		}
		for _, pr := range f.question.ScoringPointResults {
			best, ok := pointBest[pr.PointID]
			if !ok {
				pointOrder = append(pointOrder, pr.PointID)
			}
			if !ok || pr.Awarded > best.Awarded {
				pointBest[pr.PointID] = pr
			}
		}
	}

	sort.Ints(pageIndices)
	score := scoreSum
	if score > maxScore {
		score = maxScore
	}

	scoringPointResults := make([]models.ScoringPointResult, 0, len(pointOrder))
	for _, id := range pointOrder {
		scoringPointResults = append(scoringPointResults, pointBest[id])
	}

	mergedConfidence := confidence * mergeConfidenceDiscount

	merged := models.QuestionResult{
		QuestionID:          questionID,
		Score:               score,
		MaxScore:            maxScore,
		Feedback:            strings.Join(feedback, " "),
		ScoringPointResults: scoringPointResults,
		PageIndices:         pageIndices,
		IsCrossPage:         true,
		MergeSource:         append([]int(nil), pageIndices...),
	}

	telemetry := models.MergedQuestion{
		QuestionID:  questionID,
		PageIndices: pageIndices,
		Confidence:  mergedConfidence,
		MergeReason: "question reported on multiple pages",
	}

	return merged, telemetry
}
