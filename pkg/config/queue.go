package config

import "time"

// QueueConfig tunes the RunQueue/RunWorker pool that polls for queued and
// resumable grading runs across process replicas.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica, each
	// independently polling and claiming runs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentRuns is the global limit of runs being executed across
	// ALL replicas, enforced by a checkpoint-store COUNT query.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// PollInterval is the base interval for checking queued/resumable runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so replicas
	// don't poll in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// ClaimTimeout is the maximum time a run may hold its claim without a
	// heartbeat before another replica may reclaim it.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight runs to
	// reach a checkpoint during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned runs (claimed
	// but not heartbeating).
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		MaxConcurrentRuns:       8,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		ClaimTimeout:            5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanDetectionInterval: 1 * time.Minute,
	}
}
