package models

import "time"

// GradingState is the complete mutable working state of one run: everything
// a node reads or writes as it advances the graph. The checkpointer persists
// a GradingState snapshot after every node transition, keyed by
// (run_id, node_name, attempt_number), so a resumed run can rebuild exactly
// where it left off. The struct is plain and JSON-serializable end to end —
// no channels, no function values, no interfaces — so encoding/json round
// trips it byte for byte.
type GradingState struct {
	RunID         string      `json:"run_id"`
	CurrentStage  Stage       `json:"current_stage"`
	AttemptNumber int         `json:"attempt_number"`
	ReviewPending *ReviewGate `json:"review_pending,omitempty"`
	Config        *RunOptions `json:"config"`

	// Inputs, immutable after intake. Images/RubricImages marshal as
	// base64 strings via encoding/json's native []byte handling, so a
	// GradingState snapshot still round-trips byte for byte.
	Images      [][]byte `json:"images,omitempty"`
	RubricFiles [][]byte `json:"rubric_files,omitempty"`
	RubricText  string   `json:"rubric_text,omitempty"`

	// Derived.
	ProcessedImages   [][]byte          `json:"processed_images,omitempty"`
	Rubric            *ParsedRubric     `json:"rubric,omitempty"`
	StudentBoundaries []StudentBoundary `json:"student_boundaries,omitempty"`
	NeedsConfirmation bool              `json:"needs_confirmation,omitempty"`
	Batches           []Batch           `json:"batches,omitempty"`

	// Results.
	PageResults        []PageResult         `json:"page_results,omitempty"`
	PendingAggregation []MergedStudentInput `json:"pending_aggregation,omitempty"`
	CrossPageQuestions []MergedQuestion     `json:"cross_page_questions,omitempty"`
	StudentResults     []StudentResult      `json:"student_results,omitempty"`
	TotalScore         float64              `json:"total_score"`
	MaxTotalScore      float64              `json:"max_total_score"`
	Progress           float64              `json:"progress"`

	Errors []GradingError `json:"errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MergedStudentInput is CrossPageMerger's handoff to ResultAggregator: one
// student's folded QuestionResults plus the confidence the merge should
// carry into that student's StudentResult. Kept as a GradingState field
// (rather than a local in-memory value) so a run resumed between
// MERGE_PAGES and AGGREGATE doesn't need to recompute the merge.
type MergedStudentInput struct {
	StudentID       string           `json:"student_id"`
	QuestionResults []QuestionResult `json:"question_results"`
	MergeConfidence float64          `json:"merge_confidence"`
}

// NewGradingState creates the initial state for a new run at the graph's
// entry stage.
func NewGradingState(runID string, cfg *RunOptions, now time.Time) *GradingState {
	return &GradingState{
		RunID:        runID,
		CurrentStage: StageParseRubric,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PageResultsForStudent returns the subset of PageResults belonging to the
// given student, in page-number order as stored.
func (s *GradingState) PageResultsForStudent(studentID string) []PageResult {
	var out []PageResult
	for _, pr := range s.PageResults {
		if pr.StudentID == studentID {
			out = append(out, pr)
		}
	}
	return out
}

// AllPagesTerminal reports whether every page has reached COMPLETED or
// FATAL_FAILED, meaning the GRADE stage is done fanning in.
func (s *GradingState) AllPagesTerminal() bool {
	if len(s.PageResults) == 0 {
		return false
	}
	for _, pr := range s.PageResults {
		if pr.Status != PageStatusCompleted && pr.Status != PageStatusFatalFailed {
			return false
		}
	}
	return true
}

// AppendError records a GradingError on the state without discarding prior
// ones, preserving a full history across retries and resumes.
func (s *GradingState) AppendError(err *GradingError) {
	s.Errors = append(s.Errors, *err)
}
