// Package batch computes the worker batches a grading run dispatches,
// honoring per-batch token budgets while keeping each batch's pages
// contiguous and belonging to exactly one student (the atomicity rule).
package batch

import (
	"fmt"

	"github.com/gradingco/gradingd/pkg/models"
)

// Planner builds Batches from StudentBoundaries and a token budget.
type Planner struct {
	estimator TokenEstimator
}

// NewPlanner builds a Planner around the given token estimator.
func NewPlanner(estimator TokenEstimator) *Planner {
	return &Planner{estimator: estimator}
}

// Plan computes one Batch per student when the student's total estimated
// cost fits maxTokensPerBatch, or splits into contiguous sub-batches that
// each fit the budget otherwise. A single page that alone exceeds the
// budget still gets its own batch — the budget is a planning target, not a
// hard cap enforced by splitting pages.
func (p *Planner) Plan(boundaries []models.StudentBoundary, rubric *models.ParsedRubric, maxTokensPerBatch int) ([]models.Batch, error) {
	if maxTokensPerBatch <= 0 {
		return nil, fmt.Errorf("batch: max_tokens_per_batch must be positive, got %d", maxTokensPerBatch)
	}

	perPageCost := p.estimator.EstimatePage(rubric)

	var out []models.Batch
	for _, boundary := range boundaries {
		pages := pageRange(boundary.StartPage, boundary.EndPage)
		subBatches := splitByBudget(pages, perPageCost, maxTokensPerBatch)
		for i, sub := range subBatches {
			out = append(out, models.Batch{
				BatchID:       fmt.Sprintf("%s-b%d", boundary.StudentID, i+1),
				StudentID:     boundary.StudentID,
				PageNumbers:   sub,
				TokenEstimate: perPageCost * len(sub),
			})
		}
	}
	return out, nil
}

func pageRange(start, end int) []int {
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}

// splitByBudget groups contiguous pages into sub-batches each at or under
// budget, except a lone page that alone exceeds budget, which still forms
// its own single-page sub-batch (the baseline rule: one batch per student,
// sequential sub-batch fallback only when the budget forces it).
func splitByBudget(pages []int, perPageCost, budget int) [][]int {
	if len(pages) == 0 {
		return nil
	}
	if perPageCost*len(pages) <= budget {
		return [][]int{pages}
	}

	maxPagesPerSub := budget / perPageCost
	if maxPagesPerSub < 1 {
		maxPagesPerSub = 1
	}

	var out [][]int
	for start := 0; start < len(pages); start += maxPagesPerSub {
		end := start + maxPagesPerSub
		if end > len(pages) {
			end = len(pages)
		}
		out = append(out, pages[start:end])
	}
	return out
}
