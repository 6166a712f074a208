package config

import "time"

// RetentionConfig holds the retention settings for completed queue rows.
// It is loaded and merged, but no component reads it: there is no cleanup
// loop, and completed/failed Job rows are not deleted. ProbeResult and
// Transcript rows live outside the jobs table (spec.md §3).
type RetentionConfig struct {
	// CompletedJobRetention is the configured keep time for a
	// completed/failed Job row.
	CompletedJobRetention time.Duration `yaml:"completed_job_retention"`

	// CleanupInterval is the configured cleanup period.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CompletedJobRetention: 72 * time.Hour,
		CleanupInterval:       1 * time.Hour,
	}
}
