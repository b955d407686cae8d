package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Sink receives flushed span batches.
type Sink interface {
	Export(ctx context.Context, spans []Span) error
}

// HTTPSink posts span batches to a collector endpoint.
type HTTPSink struct {
	url        string
	httpClient *http.Client
}

// HTTPSinkOption configures an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithSinkHTTP overrides the HTTP client used for exports.
func WithSinkHTTP(c *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.httpClient = c
	}
}

// NewHTTPSink creates a sink posting to the given collector URL.
func NewHTTPSink(url string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{
		url:        url,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type exportRequest struct {
	Traces []Span `json:"traces"`
}

// Export posts one batch. Any transport or status failure is returned so
// the emitter can requeue the batch.
func (s *HTTPSink) Export(ctx context.Context, spans []Span) error {
	body, err := json.Marshal(exportRequest{Traces: spans})
	if err != nil {
		return fmt.Errorf("failed to marshal spans: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trace sink request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trace sink returned status %d", resp.StatusCode)
	}
	return nil
}
