package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zen-systems/taskgate/pkg/provider"
)

// AgentTask is the work handed to a delegate agent.
type AgentTask struct {
	TaskID            string         `json:"taskId"`
	StageHint         string         `json:"stageHint,omitempty"`
	ResearchContextID string         `json:"researchContextId,omitempty"`
	InputPayload      map[string]any `json:"inputPayload,omitempty"`
	RagContext        string         `json:"ragContext,omitempty"`
	AgentName         string         `json:"agentName"`
}

// AgentResult is the delegate's terminal report. Status "completed" is the
// only success value; anything else carries Error.
type AgentResult struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Artifacts    map[string]any  `json:"artifacts,omitempty"`
	QualityScore *float64        `json:"qualityScore,omitempty"`
	Sources      []string        `json:"sources,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// AgentClient delegates tasks to an external agent daemon over HTTP.
// Delegations can run multi-step work, so the per-request deadline comes
// from the caller's context rather than the http.Client.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
}

// AgentOption configures an AgentClient.
type AgentOption func(*AgentClient)

// WithAgentHTTP overrides the HTTP client, mostly for tests.
func WithAgentHTTP(client *http.Client) AgentOption {
	return func(a *AgentClient) {
		a.httpClient = client
	}
}

// NewAgentClient creates a client for the agent daemon at baseURL.
func NewAgentClient(baseURL string, opts ...AgentOption) *AgentClient {
	a := &AgentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Delegate submits the task and blocks until the agent reports a terminal
// status or ctx expires.
func (a *AgentClient) Delegate(ctx context.Context, task AgentTask) (*AgentResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delegate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/delegate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delegate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("agent returned status %d after %s", resp.StatusCode, time.Since(start).Round(time.Millisecond)),
		}
	}

	var result AgentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode delegate response: %w", err)
	}
	if result.Status == "" {
		return nil, fmt.Errorf("agent response missing status")
	}

	return &result, nil
}
