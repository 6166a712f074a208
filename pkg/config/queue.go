package config

import "time"

// QueueConfig controls how the durable queue is polled, claimed, and
// processed, mirroring the teacher's queue tunables generalized from one
// session queue to per-provider probe queues plus the summarize queue.
type QueueConfig struct {
	// PollInterval is the base interval between poll cycles per queue worker.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval to avoid
	// thundering-herd polling across replicas.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is loaded and merged but not read by any component;
	// orphaned claims are detected with OrphanThreshold.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout bounds how long to wait for in-flight jobs
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often the recovery scheduler scans for
	// orphaned claims and unfinished runs.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job may remain claimed without
	// completion before it is considered orphaned and released.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// DefaultRetryLimit is applied to jobs that do not specify one.
	DefaultRetryLimit int `yaml:"default_retry_limit"`

	// DefaultRetryBackoffSeconds is loaded and merged but not read by any
	// component; queue.Store.Send uses a 30-second base backoff for jobs
	// that do not specify one.
	DefaultRetryBackoffSeconds int `yaml:"default_retry_backoff_seconds"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		PollInterval:               1 * time.Second,
		PollIntervalJitter:         250 * time.Millisecond,
		JobTimeout:                 5 * time.Minute,
		GracefulShutdownTimeout:    30 * time.Second,
		OrphanDetectionInterval:    5 * time.Minute,
		OrphanThreshold:            5 * time.Minute,
		DefaultRetryLimit:          3,
		DefaultRetryBackoffSeconds: 30,
	}
}
