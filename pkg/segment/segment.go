// Package segment groups a run's pages into per-student boundaries, either
// from explicit configuration or by heuristic. It is a pure function module:
// no LLM calls, no I/O, safe to unit test directly against page counts.
package segment

import (
	"fmt"

	"github.com/gradingco/gradingd/pkg/models"
)

// heuristicConfidenceThreshold is the threshold below which the segmenter's
// own confidence in a heuristic split sets review_pending=results (spec §4.4).
const heuristicConfidenceThreshold = 0.8

// Input bundles everything StudentSegmenter needs to decide boundaries.
type Input struct {
	PageCount        int
	ExplicitPageBreaks []int // page indices (0-based) where a new student starts
	ExpectedStudents *int
}

// Result is the segmenter's output: the boundaries plus whether the split
// was a heuristic guess that should trigger a review gate.
type Result struct {
	Boundaries        []models.StudentBoundary
	NeedsConfirmation bool
}

// Segment partitions [0, PageCount) into StudentBoundaries.
//
// If ExplicitPageBreaks is provided and consistent with PageCount (every
// break is a valid, strictly increasing interior page index), it is honored
// verbatim with full confidence. Otherwise the documented, but
// under-specified, fallback applies (spec §9 Open Question): with no
// boundary signal at all, and ExpectedStudents unset or 1, the run is
// treated as a single student spanning every page — the conservative
// choice, since guessing multiple students from page count alone produces
// more false splits than it prevents false merges. When ExpectedStudents is
// known and > 1 with no explicit breaks, pages are divided into that many
// contiguous, as-equal-as-possible groups and flagged NeedsConfirmation,
// since an even split is unlikely to match true student boundaries.
func Segment(input Input) (Result, error) {
	if input.PageCount <= 0 {
		return Result{}, fmt.Errorf("segment: page count must be positive, got %d", input.PageCount)
	}

	if breaks, ok := normalizeBreaks(input.ExplicitPageBreaks, input.PageCount); ok {
		return Result{Boundaries: boundariesFromBreaks(breaks, input.PageCount), NeedsConfirmation: false}, nil
	}

	if input.ExpectedStudents == nil || *input.ExpectedStudents <= 1 {
		return Result{
			Boundaries:        []models.StudentBoundary{{StudentID: "S1", StartPage: 0, EndPage: input.PageCount - 1}},
			NeedsConfirmation: false,
		}, nil
	}

	n := *input.ExpectedStudents
	if n > input.PageCount {
		n = input.PageCount
	}
	return Result{Boundaries: evenSplit(n, input.PageCount), NeedsConfirmation: true}, nil
}

func normalizeBreaks(breaks []int, pageCount int) ([]int, bool) {
	if len(breaks) == 0 {
		return nil, false
	}
	prev := -1
	for _, b := range breaks {
		if b <= prev || b <= 0 || b >= pageCount {
			return nil, false
		}
		prev = b
	}
	return breaks, true
}

func boundariesFromBreaks(breaks []int, pageCount int) []models.StudentBoundary {
	starts := append([]int{0}, breaks...)
	out := make([]models.StudentBoundary, len(starts))
	for i, start := range starts {
		end := pageCount - 1
		if i+1 < len(starts) {
			end = starts[i+1] - 1
		}
		out[i] = models.StudentBoundary{StudentID: fmt.Sprintf("S%d", i+1), StartPage: start, EndPage: end}
	}
	return out
}

func evenSplit(n, pageCount int) []models.StudentBoundary {
	base := pageCount / n
	remainder := pageCount % n

	out := make([]models.StudentBoundary, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < remainder {
			size++
		}
		end := start + size - 1
		out[i] = models.StudentBoundary{StudentID: fmt.Sprintf("S%d", i+1), StartPage: start, EndPage: end}
		start = end + 1
	}
	return out
}
