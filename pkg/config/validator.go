package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", q.MaxConcurrentRuns)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.ClaimTimeout <= 0 {
		return fmt.Errorf("claim_timeout must be positive, got %v", q.ClaimTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.OrphanDetectionInterval <= 0 {
		return fmt.Errorf("orphan_detection_interval must be positive, got %v", q.OrphanDetectionInterval)
	}
	if q.OrphanDetectionInterval >= q.ClaimTimeout {
		return fmt.Errorf("orphan_detection_interval must be less than claim_timeout to prevent false orphan detection, got interval=%v claim_timeout=%v", q.OrphanDetectionInterval, q.ClaimTimeout)
	}

	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d == nil {
		return fmt.Errorf("defaults configuration is nil")
	}

	if d.MaxParallelWorkers < 1 {
		return NewValidationError("defaults", "", "max_parallel_workers", fmt.Errorf("must be at least 1"))
	}
	if d.MaxTokensPerBatch < 1 {
		return NewValidationError("defaults", "", "max_tokens_per_batch", fmt.Errorf("must be at least 1"))
	}
	if d.MaxRetries < 0 {
		return NewValidationError("defaults", "", "max_retries", fmt.Errorf("must be non-negative"))
	}
	if d.LLMCallTimeoutSeconds <= 0 {
		return NewValidationError("defaults", "", "llm_call_timeout_s", fmt.Errorf("must be positive"))
	}
	if d.NodeTimeoutSeconds <= 0 {
		return NewValidationError("defaults", "", "node_timeout_s", fmt.Errorf("must be positive"))
	}
	if d.RunTimeoutSeconds <= 0 {
		return NewValidationError("defaults", "", "run_timeout_s", fmt.Errorf("must be positive"))
	}
	if d.NodeTimeoutSeconds < d.LLMCallTimeoutSeconds {
		return NewValidationError("defaults", "", "node_timeout_s", fmt.Errorf("must be at least llm_call_timeout_s"))
	}
	if d.RunTimeoutSeconds < d.NodeTimeoutSeconds {
		return NewValidationError("defaults", "", "run_timeout_s", fmt.Errorf("must be at least node_timeout_s"))
	}
	if d.GradingMode != "" && !d.GradingMode.IsValid() {
		return NewValidationError("defaults", "", "grading_mode", fmt.Errorf("invalid grading mode: %s", d.GradingMode))
	}
	if d.FallbackRubricConfidence < 0 || d.FallbackRubricConfidence > 1 {
		return NewValidationError("defaults", "", "fallback_rubric_confidence", fmt.Errorf("must be between 0 and 1"))
	}
	if d.EventBufferSize < 1 {
		return NewValidationError("defaults", "", "event_buffer_size", fmt.Errorf("must be at least 1"))
	}
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "", "llm_provider", fmt.Errorf("LLM provider '%s' not found", d.LLMProvider))
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	if v.cfg.LLMProviderRegistry.Len() == 0 {
		return fmt.Errorf("at least one LLM provider must be configured")
	}

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}

		if provider.Type == LLMProviderVertexAI {
			if provider.ProjectEnv != "" {
				if value := os.Getenv(provider.ProjectEnv); value == "" {
					return NewValidationError("llm_provider", name, "project_env", fmt.Errorf("environment variable %s is not set", provider.ProjectEnv))
				}
			}
			if provider.LocationEnv != "" {
				if value := os.Getenv(provider.LocationEnv); value == "" {
					return NewValidationError("llm_provider", name, "location_env", fmt.Errorf("environment variable %s is not set", provider.LocationEnv))
				}
			}
		}

		if provider.MaxTokensPerCall < 1000 {
			return NewValidationError("llm_provider", name, "max_tokens_per_call", fmt.Errorf("must be at least 1000"))
		}
	}

	return nil
}
