package store

import "testing"

func TestNextStatusAfterProbeProgress(t *testing.T) {
	cases := []struct {
		name     string
		current  string
		progress Progress
		want     string
	}{
		{"pending with no terminal probes yet stays pending", RunStatusPending, Progress{Total: 4}, RunStatusPending},
		{"pending moves to running on first completion", RunStatusPending, Progress{Total: 4, Completed: 1}, RunStatusRunning},
		{"pending moves to running on first failure", RunStatusPending, Progress{Total: 4, Failed: 1}, RunStatusRunning},
		{"pending jumps straight to summarizing when the first probe also finishes the phase", RunStatusPending, Progress{Total: 1, Completed: 1}, RunStatusSummarizing},
		{"running stays running mid-phase", RunStatusRunning, Progress{Total: 4, Completed: 2}, RunStatusRunning},
		{"running moves to summarizing once the phase closes", RunStatusRunning, Progress{Total: 4, Completed: 3, Failed: 1}, RunStatusSummarizing},
		{"paused never auto-transitions", RunStatusPaused, Progress{Total: 4, Completed: 4}, RunStatusPaused},
		{"terminal statuses never auto-transition", RunStatusCancelled, Progress{Total: 4, Completed: 4}, RunStatusCancelled},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := nextStatusAfterProbeProgress(c.current, c.progress)
			if got != c.want {
				t.Errorf("nextStatusAfterProbeProgress(%q, %+v) = %q, want %q", c.current, c.progress, got, c.want)
			}
		})
	}
}

func TestNextStatusAfterSummarizeProgress(t *testing.T) {
	cases := []struct {
		name      string
		current   string
		summarize Progress
		want      string
	}{
		{"summarizing stays summarizing mid-phase", RunStatusSummarizing, Progress{Total: 3, Completed: 1}, RunStatusSummarizing},
		{"summarizing completes once the phase closes", RunStatusSummarizing, Progress{Total: 3, Completed: 2, Failed: 1}, RunStatusCompleted},
		{"zero-transcript run never auto-completes from a stray summarize event", RunStatusSummarizing, Progress{Total: 0}, RunStatusSummarizing},
		{"non-summarizing statuses are untouched", RunStatusRunning, Progress{Total: 3, Completed: 3}, RunStatusRunning},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := nextStatusAfterSummarizeProgress(c.current, c.summarize)
			if got != c.want {
				t.Errorf("nextStatusAfterSummarizeProgress(%q, %+v) = %q, want %q", c.current, c.summarize, got, c.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		if !isTerminal(s) {
			t.Errorf("isTerminal(%q) = false, want true", s)
		}
	}
	nonTerminal := []string{RunStatusPending, RunStatusRunning, RunStatusPaused, RunStatusSummarizing}
	for _, s := range nonTerminal {
		if isTerminal(s) {
			t.Errorf("isTerminal(%q) = true, want false", s)
		}
	}
}
