package models

import "time"

// Run is the persisted row-level metadata for a grading run: identity,
// current position in the graph, and lifecycle timestamps. It is the
// lightweight half of what the checkpointer tracks; GradingState carries the
// full working data.
type Run struct {
	RunID          string         `json:"run_id"`
	CurrentStage   Stage          `json:"current_stage"`
	ReviewPending  *ReviewGate    `json:"review_pending,omitempty"`
	Config         map[string]any `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
}

// IsAwaitingReview reports whether the run is parked at a review gate.
func (r *Run) IsAwaitingReview() bool {
	return r.ReviewPending != nil
}

// IsDone reports whether the run has reached a terminal stage.
func (r *Run) IsDone() bool {
	return r.CurrentStage.IsTerminal()
}
