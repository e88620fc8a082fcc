// Package llm defines the narrow interface through which the grading graph
// invokes a vision/text LLM, plus an HTTP-backed implementation and a
// deterministic stub for tests. Retry and backoff live in pkg/rubric and
// pkg/worker, not here: LLMClient itself is a single-call abstraction, the
// same way the teacher's agent package keeps transport separate from
// conversational retry logic.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited is returned (wrapped) by a Client when the provider signals
// a rate limit. Callers should inspect a *RateLimitError via errors.As to
// read the provider's cool-down hint.
var ErrRateLimited = errors.New("llm: rate limited")

// ErrTransient marks network errors, 5xx responses, and timeouts — callers
// classify these as models.ErrorKindLLMTransient and retry.
var ErrTransient = errors.New("llm: transient failure")

// ErrInvalidResponse marks a response that wasn't the expected JSON shape —
// callers classify these as models.ErrorKindLLMInvalidResponse.
var ErrInvalidResponse = errors.New("llm: invalid response")

// RateLimitError carries a provider-supplied cool-down hint, when available.
type RateLimitError struct {
	RetryAfterSeconds float64
	Err               error
}

func (e *RateLimitError) Error() string { return "llm: rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// CompletionRequest is one vision/text call: zero or more page images plus a
// text prompt. Both RubricParser and GradingWorker build their own prompts
// and parse the returned JSON themselves; the client only moves bytes.
type CompletionRequest struct {
	Images    [][]byte
	Prompt    string
	MaxTokens int
}

// CompletionResponse is the raw model output plus token accounting.
type CompletionResponse struct {
	Text         string
	TokensUsed   int
	FinishReason string
}

// Client is the abstract LLM collaborator. Implementations must be safe for
// concurrent use: GradingWorkers across a fan-out share a single Client.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
