package provider

import (
	"context"
	"fmt"
	"sync"
)

// Mock returns deterministic responses for local runs and tests.
type Mock struct {
	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	streamScript    []Chunk
	calls           []MockCall

	// Usage, when set, is attached to every response.
	Usage *Usage
	// Err, when set, fails every call.
	Err error
}

// MockCall records one Generate invocation.
type MockCall struct {
	Model  string
	Prompt string
}

// NewMock creates a mock provider with a default response.
func NewMock() *Mock {
	return &Mock{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockWithResponses creates a mock provider with predefined responses
// keyed by prompt.
func NewMockWithResponses(responses map[string]string, defaultResponse string) *Mock {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &Mock{responses: responses, defaultResponse: defaultResponse}
}

// Name returns the provider identifier.
func (m *Mock) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (m *Mock) Models() []string {
	return []string{"mock-1"}
}

// SetStreamScript sets the chunks GenerateStream will replay.
func (m *Mock) SetStreamScript(chunks []Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamScript = chunks
}

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate returns a deterministic response for the prompt.
func (m *Mock) Generate(_ context.Context, model string, prompt string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if model == "" {
		model = "mock-1"
	}
	m.calls = append(m.calls, MockCall{Model: model, Prompt: prompt})
	if m.Err != nil {
		return nil, m.Err
	}
	if response, ok := m.responses[prompt]; ok {
		return &Response{Content: response, Model: model, Usage: m.Usage}, nil
	}
	content := fmt.Sprintf("%s\n%s", m.defaultResponse, prompt)
	return &Response{Content: content, Model: model, Usage: m.Usage}, nil
}

// GenerateStream replays the configured stream script, or falls back to the
// Generate response as a single chunk plus terminal marker.
func (m *Mock) GenerateStream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	m.mu.Lock()
	script := m.streamScript
	m.mu.Unlock()

	if script == nil {
		resp, err := m.Generate(ctx, model, prompt)
		if err != nil {
			return nil, err
		}
		script = []Chunk{
			{Content: resp.Content},
			{Done: true, Usage: resp.Usage},
		}
	} else {
		m.mu.Lock()
		m.calls = append(m.calls, MockCall{Model: model, Prompt: prompt})
		m.mu.Unlock()
	}

	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
