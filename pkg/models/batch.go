package models

// Batch is one unit of grading work handed to a GradingWorker: a contiguous
// slice of one student's pages sized to fit under the configured token
// budget per LLM call.
type Batch struct {
	BatchID       string `json:"batch_id"`
	StudentID     string `json:"student_id"`
	PageNumbers   []int  `json:"page_numbers"`
	TokenEstimate int    `json:"token_estimate"`
}
