package config

// Config is the umbrella configuration object returned by Initialize() and
// used throughout the process: system-wide grading defaults, the queue
// tuning knobs for the run worker pool, and the LLM provider registry.
type Config struct {
	configDir string

	// Defaults are the grading run defaults applied when a submitted run
	// does not override them (spec §6.5 recognized options).
	Defaults *Defaults

	// Queue tunes the RunQueue/RunWorker polling pool (ambient infra concern,
	// analogous to a message queue consumer group).
	Queue *QueueConfig

	// LLMProviderRegistry indexes configured vision/text LLM providers by name.
	LLMProviderRegistry *LLMProviderRegistry
}

// ConfigStats summarizes loaded configuration for logging/health checks.
type ConfigStats struct {
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		LLMProviders: c.LLMProviderRegistry.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
