package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultLocalBaseURL = "http://localhost:11434"

// NameLocal is the registry name of the local runtime provider. Routing
// treats this name specially: local calls are free and health-gated.
const NameLocal = "local"

// Local implements Provider and StreamingProvider against a locally hosted
// inference endpoint (Ollama-compatible API).
type Local struct {
	baseURL     string
	httpClient  *http.Client
	models      []string
	temperature float64
	maxTokens   int
}

// LocalOption configures a Local provider.
type LocalOption func(*Local)

// WithHTTPClient overrides the HTTP client used for endpoint calls.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *Local) {
		l.httpClient = c
	}
}

// WithModels sets the models the provider advertises.
func WithModels(models ...string) LocalOption {
	return func(l *Local) {
		l.models = models
	}
}

// WithGenerationDefaults sets temperature and max token options sent with
// every generation request.
func WithGenerationDefaults(temperature float64, maxTokens int) LocalOption {
	return func(l *Local) {
		l.temperature = temperature
		l.maxTokens = maxTokens
	}
}

// NewLocal creates a provider for a local inference endpoint. An empty
// baseURL falls back to the conventional localhost port.
func NewLocal(baseURL string, opts ...LocalOption) *Local {
	if baseURL == "" {
		baseURL = defaultLocalBaseURL
	}
	l := &Local{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		temperature: 0.2,
		maxTokens:   4096,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the provider identifier.
func (l *Local) Name() string {
	return NameLocal
}

// Models returns the configured model list. ListModels reports what the
// endpoint actually serves.
func (l *Local) Models() []string {
	return l.models
}

type localGenerateRequest struct {
	Model   string            `json:"model"`
	Prompt  string            `json:"prompt"`
	Stream  bool              `json:"stream"`
	Options localModelOptions `json:"options"`
}

type localModelOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type localGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

type localTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels queries the endpoint's model listing. The health monitor uses
// this as its probe.
func (l *Local) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", l.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("local endpoint returned status %d", resp.StatusCode)}
	}

	var tags localTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to parse model listing: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Generate sends a prompt to the local endpoint and returns the completed
// response with token counts mapped into Usage.
func (l *Local) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	body, err := l.postGenerate(ctx, model, prompt, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var genResp localGenerateResponse
	if err := json.Unmarshal(raw, &genResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if genResp.Error != "" {
		return nil, fmt.Errorf("local endpoint error: %s", genResp.Error)
	}

	return &Response{
		Content: genResp.Response,
		Model:   model,
		Usage: &Usage{
			PromptTokens:     genResp.PromptEvalCount,
			CompletionTokens: genResp.EvalCount,
			TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
		},
	}, nil
}

// GenerateStream sends a prompt with streaming enabled. Fragments arrive on
// the returned channel as they are decoded; the terminal chunk carries
// Done=true and the endpoint's token counts. The producer goroutine closes
// the channel and stops when ctx is cancelled.
func (l *Local) GenerateStream(ctx context.Context, model string, prompt string) (<-chan Chunk, error) {
	body, err := l.postGenerate(ctx, model, prompt, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, 8)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var frag localGenerateResponse
			if err := json.Unmarshal(line, &frag); err != nil {
				l.send(ctx, ch, Chunk{Err: fmt.Errorf("failed to parse stream fragment: %w", err)})
				return
			}
			if frag.Error != "" {
				l.send(ctx, ch, Chunk{Err: fmt.Errorf("local endpoint error: %s", frag.Error)})
				return
			}

			if frag.Done {
				l.send(ctx, ch, Chunk{
					Done: true,
					Usage: &Usage{
						PromptTokens:     frag.PromptEvalCount,
						CompletionTokens: frag.EvalCount,
						TotalTokens:      frag.PromptEvalCount + frag.EvalCount,
					},
				})
				return
			}
			if !l.send(ctx, ch, Chunk{Content: frag.Response}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			l.send(ctx, ch, Chunk{Err: fmt.Errorf("stream read failed: %w", err)})
		}
	}()
	return ch, nil
}

// send delivers a chunk unless the consumer has gone away.
func (l *Local) send(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Local) postGenerate(ctx context.Context, model, prompt string, stream bool) (io.ReadCloser, error) {
	reqBody := localGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: stream,
		Options: localModelOptions{
			Temperature: l.temperature,
			NumPredict:  l.maxTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local endpoint request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &Error{Status: resp.StatusCode, Err: fmt.Errorf("local endpoint returned status %d: %s", resp.StatusCode, string(raw))}
	}
	return resp.Body, nil
}
