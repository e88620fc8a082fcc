// Package worker implements GradingWorker: grading one batch (one student,
// contiguous pages) against a rubric, page by page, with the retry/backoff
// and Agent Skill rubric lookups spec §4.6 describes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gradingco/gradingd/pkg/llm"
	"github.com/gradingco/gradingd/pkg/models"
	"github.com/gradingco/gradingd/pkg/rubric"
)

// maxScoreOvershootWarning is emitted (not a hard failure) whenever a
// question's awarded score is clamped down to its max.
const maxScoreOvershootWarning = "score exceeded max_score and was clamped"

// Worker grades the pages of one Batch against a deep-copied ParsedRubric.
// A Worker instance is scoped to a single batch: callers construct one per
// dispatched GradingWorker task, matching the "no sharing of mutable
// sub-objects across goroutines" rule in spec §5.
type Worker struct {
	client     llm.Client
	maxRetries int
	sleep      func(context.Context, time.Duration)
}

// New builds a Worker. maxRetries bounds per-page LLM_TRANSIENT/
// PARSE_INVALID_JSON retries (default 2 per spec §4.6).
func New(client llm.Client, maxRetries int) *Worker {
	return &Worker{client: client, maxRetries: maxRetries, sleep: ctxSleep}
}

// ctxSleep blocks for d or until ctx is cancelled, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// PageInput pairs a page's raw image bytes with its global page index.
type PageInput struct {
	PageIndex int
	Image     []byte
}

// GradeBatch grades every page in the batch sequentially (spec §5: within a
// student's pages, the grading worker processes pages in index order) and
// returns one PageResult per page, regardless of individual failures.
func (w *Worker) GradeBatch(ctx context.Context, batch models.Batch, parsedRubric *models.ParsedRubric, pages []PageInput, now func() time.Time) []models.PageResult {
	registry := rubric.NewRegistry(parsedRubric, fallbackConfidence(parsedRubric))

	results := make([]models.PageResult, 0, len(pages))
	for _, page := range pages {
		select {
		case <-ctx.Done():
			results = append(results, cancelledPageResult(page.PageIndex, batch.StudentID, now()))
			continue
		default:
		}
		results = append(results, w.gradePage(ctx, batch, page, registry, now))
	}
	return results
}

func fallbackConfidence(r *models.ParsedRubric) float64 {
	if r != nil && r.Status == models.RubricStatusFallback {
		return r.Confidence
	}
	return 0.3
}

func (w *Worker) gradePage(ctx context.Context, batch models.Batch, page PageInput, registry *rubric.Registry, now func() time.Time) models.PageResult {
	result := models.PageResult{
		PageIndex: page.PageIndex,
		StudentID: batch.StudentID,
		Status:    models.PageStatusInFlight,
	}

	var lastErr error

	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		result.AttemptCount = attempt

		resp, err := w.client.Complete(ctx, llm.CompletionRequest{
			Images: [][]byte{page.Image},
			Prompt: buildGradingPrompt(page.PageIndex),
		})
		if err != nil {
			lastErr = err
			if !w.shouldRetry(ctx, err, attempt) {
				break
			}
			continue
		}

		questions, err := decodeGradingResponse(resp.Text)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", errInvalidPageJSON, err)
			if !w.shouldRetry(ctx, lastErr, attempt) {
				break
			}
			continue
		}

		details, calls, confidence := scoreQuestions(page.PageIndex, questions, registry)
		result.QuestionDetails = details
		result.AgentSkillCalls = calls
		result.Confidence = confidence
		for _, d := range details {
			result.QuestionNumbers = append(result.QuestionNumbers, d.QuestionID)
			result.Score += d.Score
			result.MaxScore += d.MaxScore
		}
		result.Status = models.PageStatusCompleted
		return result
	}

	result.Status = models.PageStatusFatalFailed
	result.Error = models.NewGradingError(classifyFailure(lastErr), models.StageGrade, lastErr.Error(), now()).WithPageIndex(page.PageIndex)
	return result
}

// shouldRetry sleeps (honoring a rate-limit hint when present) and reports
// whether another attempt should be made.
func (w *Worker) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt > w.maxRetries {
		return false
	}

	var rateLimit *llm.RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfterSeconds > 0 {
		w.sleep(ctx, time.Duration(rateLimit.RetryAfterSeconds*float64(time.Second)))
		return true
	}

	if errors.Is(err, llm.ErrTransient) || errors.Is(err, errInvalidPageJSON) || errors.Is(err, llm.ErrInvalidResponse) {
		w.sleep(ctx, backoffDelay(attempt))
		return true
	}

	return false
}


func classifyFailure(err error) models.ErrorKind {
	var rateLimit *llm.RateLimitError
	switch {
	case errors.As(err, &rateLimit):
		return models.ErrorKindLLMRateLimited
	case errors.Is(err, llm.ErrTransient):
		return models.ErrorKindLLMTransient
	case errors.Is(err, errInvalidPageJSON), errors.Is(err, llm.ErrInvalidResponse):
		return models.ErrorKindLLMInvalidResponse
	default:
		return models.ErrorKindInternal
	}
}

func cancelledPageResult(pageIndex int, studentID string, now time.Time) models.PageResult {
	return models.PageResult{
		PageIndex: pageIndex,
		StudentID: studentID,
		Status:    models.PageStatusFatalFailed,
		Error:     models.NewGradingError(models.ErrorKindCancelled, models.StageGrade, "grading cancelled before page started", now).WithPageIndex(pageIndex),
	}
}

type rawGradedQuestion struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

type rawGradingResponse struct {
	Questions []rawGradedQuestion `json:"questions"`
}

func decodeGradingResponse(text string) ([]rawGradedQuestion, error) {
	var raw rawGradingResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	return raw.Questions, nil
}

// scoreQuestions resolves each identified question against the registry
// (the Agent Skill call), validates and clamps the score, and returns the
// QuestionResults, the number of Agent Skill invocations made, and the
// page's overall confidence (the minimum of its questions' lookup
// confidences, since one unresolved question id should drag down the whole
// page's trustworthiness rather than be averaged away).
func scoreQuestions(pageIndex int, raw []rawGradedQuestion, registry *rubric.Registry) ([]models.QuestionResult, int, float64) {
	out := make([]models.QuestionResult, 0, len(raw))
	calls := 0
	confidence := 1.0
	for _, q := range raw {
		lookup := registry.GetRubricForQuestion(q.QuestionID)
		calls++
		if lookup.Confidence < confidence {
			confidence = lookup.Confidence
		}

		score := q.Score
		feedback := q.Feedback
		if score < 0 {
			score = 0
		}
		schemaViolation := false
		if score > lookup.Rubric.MaxPoints {
			score = lookup.Rubric.MaxPoints
			feedback = feedback + " (" + maxScoreOvershootWarning + ")"
			schemaViolation = true
		}

		var rubricRefs []string
		if lookup.IsDefault {
			rubricRefs = []string{"default"}
		}

		out = append(out, models.QuestionResult{
			QuestionID:      q.QuestionID,
			Score:           score,
			MaxScore:        lookup.Rubric.MaxPoints,
			Feedback:        feedback,
			RubricRefs:      rubricRefs,
			PageIndices:     []int{pageIndex},
			SchemaViolation: schemaViolation,
		})
	}
	if len(raw) == 0 {
		confidence = 0
	}
	return out, calls, confidence
}

func buildGradingPrompt(pageIndex int) string {
	return fmt.Sprintf(`Grade exam page %d against the provided rubric. Identify every question
number visible on this page and score it. Respond with JSON exactly:
{"questions": [{"question_id": "1", "score": 8, "feedback": "..."}]}`, pageIndex)
}
