package config

// Defaults contains system-wide Run defaults. They are loaded and merged,
// but no component reads them: run.Controller.StartRun rejects a missing
// samplePercentage or priority rather than filling it in, and the
// summarize handler does not consult SummaryModelID.
type Defaults struct {
	// SamplePercentage is the configured default sample percentage.
	SamplePercentage int `yaml:"sample_percentage,omitempty" validate:"omitempty,min=1,max=100"`

	// Priority is the configured default Run priority.
	Priority string `yaml:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH"`

	// SummaryModelID is the configured default summarization model.
	SummaryModelID string `yaml:"summary_model_id,omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		SamplePercentage: 100,
		Priority:         "NORMAL",
	}
}
