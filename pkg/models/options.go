package models

// StudentMapping optionally names a student explicitly at intake time,
// overriding whatever synthetic student_key the segmenter would otherwise
// assign (spec §6.1 student_mapping).
type StudentMapping struct {
	StudentKey  string `json:"student_key"`
	StudentID   string `json:"student_id,omitempty"`
	StudentName string `json:"student_name,omitempty"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

// RunOptions is GradingState's config sub-record (spec §3): the
// run-scoped knobs a submitted run may override, falling back to the
// configured Defaults for anything left zero-valued. It is a concrete
// struct rather than a loose map so node code can read it without type
// assertions, while still round-tripping through the checkpointer exactly
// like every other part of GradingState.
type RunOptions struct {
	EnableReview             bool         `json:"enable_review"`
	GradingMode              string       `json:"grading_mode"`
	MaxTokensPerBatch        int          `json:"max_tokens_per_batch"`
	MaxParallelWorkers       int          `json:"max_parallel_workers"`
	MaxRetries               int          `json:"max_retries"`
	ExpectedStudents         *int         `json:"expected_students,omitempty"`
	ExpectedTotalScore       *float64     `json:"expected_total_score,omitempty"`
	StudentBoundaries        []int        `json:"student_boundaries,omitempty"`
	StudentMapping           []StudentMapping `json:"student_mapping,omitempty"`
	FallbackRubricConfidence float64      `json:"fallback_rubric_confidence"`
	LLMCallTimeoutSeconds    float64      `json:"llm_call_timeout_s"`
	NodeTimeoutSeconds       float64      `json:"node_timeout_s"`
	RunTimeoutSeconds        float64      `json:"run_timeout_s"`
	EventBufferSize          int          `json:"event_buffer_size"`
	LLMProvider              string       `json:"llm_provider,omitempty"`
}

// IsAssistMode reports whether grading_mode unconditionally skips review
// gates (spec §4.9).
func (o *RunOptions) IsAssistMode() bool {
	return o != nil && o.GradingMode == "assist"
}

// ReviewEnabled reports whether review gates should be honored at all,
// combining enable_review with the assist-mode override.
func (o *RunOptions) ReviewEnabled() bool {
	if o == nil {
		return false
	}
	return o.EnableReview && !o.IsAssistMode()
}
