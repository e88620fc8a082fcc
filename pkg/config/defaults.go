package config

import "time"

// GradingMode selects whether review gates are honored (spec §6.5).
type GradingMode string

const (
	GradingModeStrict GradingMode = "strict"
	GradingModeAssist GradingMode = "assist"
)

// IsValid reports whether m is a recognized grading mode.
func (m GradingMode) IsValid() bool {
	switch m {
	case GradingModeStrict, GradingModeAssist:
		return true
	default:
		return false
	}
}

// Defaults holds the recognized run configuration options from spec §6.5.
// A submitted run may override any of these; unset fields fall back here.
type Defaults struct {
	// MaxParallelWorkers bounds the GraphRuntime's Send fan-out worker pool.
	MaxParallelWorkers int `yaml:"max_parallel_workers" validate:"omitempty,min=1"`

	// MaxTokensPerBatch is the token budget the BatchPlanner honors per
	// GradingWorker invocation.
	MaxTokensPerBatch int `yaml:"max_tokens_per_batch" validate:"omitempty,min=1"`

	// MaxRetries is the per-LLM-call retry cap.
	MaxRetries int `yaml:"max_retries" validate:"omitempty,min=0"`

	// LLMCallTimeoutSeconds is the per-LLM-call timeout.
	LLMCallTimeoutSeconds float64 `yaml:"llm_call_timeout_s" validate:"omitempty,min=0"`

	// NodeTimeoutSeconds is the per-graph-node timeout.
	NodeTimeoutSeconds float64 `yaml:"node_timeout_s" validate:"omitempty,min=0"`

	// RunTimeoutSeconds is the end-to-end run timeout.
	RunTimeoutSeconds float64 `yaml:"run_timeout_s" validate:"omitempty,min=0"`

	// EnableReview toggles the rubric/results review gates.
	EnableReview bool `yaml:"enable_review"`

	// GradingMode: "assist" skips gates unconditionally.
	GradingMode GradingMode `yaml:"grading_mode"`

	// FallbackRubricConfidence is assigned to synthesized fallback rubrics.
	FallbackRubricConfidence float64 `yaml:"fallback_rubric_confidence" validate:"omitempty,min=0,max=1"`

	// EventBufferSize is the per-subscriber bounded EventBus queue size.
	EventBufferSize int `yaml:"event_buffer_size" validate:"omitempty,min=1"`

	// LLMProvider names the default entry in the LLMProviderRegistry used
	// for rubric parsing and page grading when a run does not override it.
	LLMProvider string `yaml:"llm_provider,omitempty"`
}

// DefaultDefaults returns the built-in defaults applied before any
// YAML/per-run overrides, matching the values named throughout spec.md.
func DefaultDefaults() *Defaults {
	return &Defaults{
		MaxParallelWorkers:       4,
		MaxTokensPerBatch:        12000,
		MaxRetries:               2,
		LLMCallTimeoutSeconds:    60,
		NodeTimeoutSeconds:       300,
		RunTimeoutSeconds:        1800,
		EnableReview:             true,
		GradingMode:              GradingModeStrict,
		FallbackRubricConfidence: 0.3,
		EventBufferSize:          256,
	}
}

// LLMCallTimeout returns the per-LLM-call timeout as a time.Duration.
func (d *Defaults) LLMCallTimeout() time.Duration {
	return time.Duration(d.LLMCallTimeoutSeconds * float64(time.Second))
}

// NodeTimeout returns the per-node timeout as a time.Duration.
func (d *Defaults) NodeTimeout() time.Duration {
	return time.Duration(d.NodeTimeoutSeconds * float64(time.Second))
}

// RunTimeout returns the end-to-end run timeout as a time.Duration.
func (d *Defaults) RunTimeout() time.Duration {
	return time.Duration(d.RunTimeoutSeconds * float64(time.Second))
}
