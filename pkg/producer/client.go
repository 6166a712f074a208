package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TranscriptProducer sends a probe input to the external LLM worker and
// returns its transcript, or a ProducerError describing why it could not.
type TranscriptProducer interface {
	Probe(ctx context.Context, input TranscriptInput) (*TranscriptContent, error)
}

// SummaryProducer sends a transcript to the external summarizer worker and
// returns its decision, or a ProducerError describing why it could not.
type SummaryProducer interface {
	Summarize(ctx context.Context, input SummaryInput) (*SummaryContent, error)
}

// HTTPClient is the justified replacement for the source's gRPC+protobuf
// worker transport: a plain HTTP+JSON collaborator implementing both
// TranscriptProducer and SummaryProducer against the same worker service.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	probePath   string
	summarize   string
}

// NewHTTPClient constructs a Client against baseURL, with a timeout
// matching the producer's documented 60s-120s budget (spec.md §5).
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		probePath:  "/v1/probe",
		summarize:  "/v1/summarize",
	}
}

// Probe calls the transcript producer.
func (c *HTTPClient) Probe(ctx context.Context, input TranscriptInput) (*TranscriptContent, error) {
	var out TranscriptOutput
	if err := c.postJSON(ctx, c.probePath, input, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, producerErr(out.Error)
	}
	if out.Transcript == nil {
		return nil, fmt.Errorf("transcript producer returned success with no transcript")
	}
	return out.Transcript, nil
}

// Summarize calls the summary producer.
func (c *HTTPClient) Summarize(ctx context.Context, input SummaryInput) (*SummaryContent, error) {
	var out SummaryOutput
	if err := c.postJSON(ctx, c.summarize, input, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, producerErr(out.Error)
	}
	if out.Summary == nil {
		return nil, fmt.Errorf("summary producer returned success with no summary")
	}
	return out.Summary, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal producer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create producer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProducerError{Message: err.Error(), Code: "transport_error", Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read producer response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &ProducerError{
			Message:   fmt.Sprintf("producer returned HTTP %d", resp.StatusCode),
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Retryable: true,
		}
	}
	if resp.StatusCode >= 400 {
		return &ProducerError{
			Message:   fmt.Sprintf("producer returned HTTP %d", resp.StatusCode),
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Retryable: false,
		}
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode producer response: %w", err)
	}
	return nil
}

func producerErr(e *ProducerError) error {
	if e == nil {
		return &ProducerError{Message: "producer reported failure with no error detail", Code: "unknown", Retryable: true}
	}
	return e
}

// Error satisfies the error interface.
func (e *ProducerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
