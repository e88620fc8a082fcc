package models

// ScoringPointResult is how a single rubric ScoringPoint was judged on a page:
// whether (and how much of) it was awarded, and the transcript evidence that
// justified the call.
type ScoringPointResult struct {
	PointID  string  `json:"point_id"`
	Awarded  float64 `json:"awarded"`
	Evidence string  `json:"evidence,omitempty"`
}

// QuestionResult is the graded outcome for one question, scoped to a single
// page until CrossPageMerger folds same-question fragments from multiple
// pages into one entry (PageIndices growing past one element, IsCrossPage
// set, MergeSource recording every contributing page).
type QuestionResult struct {
	QuestionID          string               `json:"question_id"`
	Score               float64              `json:"score"`
	MaxScore            float64              `json:"max_score"`
	Feedback            string               `json:"feedback"`
	RubricRefs          []string             `json:"rubric_refs,omitempty"`
	ScoringPointResults []ScoringPointResult `json:"scoring_point_results,omitempty"`
	PageIndices         []int                `json:"page_indices"`
	IsCrossPage         bool                 `json:"is_cross_page"`
	MergeSource         []int                `json:"merge_source,omitempty"`
	// SchemaViolation is set when the grader's raw score fell outside the
	// rubric's declared bounds and had to be clamped. ResultAggregator turns
	// this into NeedsReview rather than discarding the question.
	SchemaViolation bool `json:"schema_violation,omitempty"`
}

// PageResult is the per-page grading outcome and the state-machine fields
// (PENDING -> IN_FLIGHT -> COMPLETED | RETRYABLE_FAILED -> IN_FLIGHT |
// FATAL_FAILED) that GradingWorker advances as it processes a batch.
// Status carries the richer in-flight/retryable states the worker needs for
// resumability; CrossPageMerger and ResultAggregator only ever observe
// COMPLETED or FATAL_FAILED pages, which collapse to the two outcomes
// (completed, failed) the data model describes.
type PageResult struct {
	PageIndex       int              `json:"page_index"`
	StudentID       string           `json:"student_id"`
	Status          PageStatus       `json:"status"`
	Score           float64          `json:"score"`
	MaxScore        float64          `json:"max_score"`
	QuestionNumbers []string         `json:"question_numbers"`
	QuestionDetails []QuestionResult `json:"question_details"`
	Feedback        string           `json:"feedback"`
	Confidence      float64          `json:"confidence"`
	AgentSkillCalls int              `json:"agent_skill_calls"`
	AttemptCount    int              `json:"attempt_count"`
	Error           *GradingError    `json:"error,omitempty"`
}

// Completed reports whether the page reached a usable terminal state.
func (p PageResult) Completed() bool { return p.Status == PageStatusCompleted }

// StudentResult is the ResultAggregator/CrossPageMerger's merged, per-student
// output: one QuestionResult per question, collapsed across however many
// pages that question's answer spanned.
type StudentResult struct {
	StudentID       string           `json:"student_id"`
	QuestionResults []QuestionResult `json:"question_results"`
	TotalScore      float64          `json:"total_score"`
	MaxTotalScore   float64          `json:"max_total_score"`
	MergeConfidence float64          `json:"merge_confidence"`
	NeedsReview     bool             `json:"needs_review"`
}

// MergedQuestion is the telemetry record CrossPageMerger emits for every
// question it actually had to fold across more than one page.
type MergedQuestion struct {
	QuestionID  string  `json:"question_id"`
	PageIndices []int   `json:"page_indices"`
	Confidence  float64 `json:"confidence"`
	MergeReason string  `json:"merge_reason"`
}
