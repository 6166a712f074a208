// Package handler implements the probe and summarize queue handlers:
// the rate-limited bridge between the durable queue and the external
// transcript/summary producers (spec.md §4.4, §4.5).
package handler

import (
	"errors"
	"regexp"
	"strings"

	"github.com/evalforge/evalcore/pkg/producer"
)

// RunPausedCause is the sentinel error message the probe/summarize
// handlers re-throw when their Run is PAUSED, so the queue redelivers the
// job after its backoff (spec.md §7). The queue worker handles it like any
// other handler error: each redelivery uses one retry from the job's
// retry_limit, and the job fails terminally once that is exhausted.
const RunPausedCause = "RUN_PAUSED"

var (
	retryableKeywords = []string{
		"econnreset", "etimedout", "connection reset", "timed out", "timeout",
		"fetch failed", "network error", "connection refused", "eof",
	}
	nonRetryableKeywords = []string{
		"validation failed", "unauthorized", "forbidden", "not found", "bad request",
	}
	httpStatusPattern = regexp.MustCompile(`\b(\d{3})\b`)
)

// isRetryable classifies a producer error by message, per spec.md §8.5's
// test vectors: network keywords and 429/5xx are retryable; validation and
// 4xx (401/403/404/400) are not; unmatched messages default to retryable.
func isRetryable(message string) bool {
	lower := strings.ToLower(message)

	for _, kw := range nonRetryableKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range retryableKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	if m := httpStatusPattern.FindString(lower); m != "" {
		switch m {
		case "400", "401", "403", "404":
			return false
		case "429":
			return true
		}
		if len(m) == 3 && m[0] == '5' {
			return true
		}
	}

	return true
}

// classifyProducerError decides retryability, preferring the producer's own
// structured Retryable flag when it returned one (spec.md §9) and falling
// back to message classification otherwise.
func classifyProducerError(err error) (retryable bool, code, message string) {
	var pe *producer.ProducerError
	if errors.As(err, &pe) {
		return pe.Retryable, pe.Code, pe.Message
	}
	msg := err.Error()
	return isRetryable(msg), "", msg
}
