package dispatch

import (
	"errors"
	"fmt"

	"github.com/zen-systems/taskgate/pkg/eligibility"
)

// Dispatch failure categories. Result.Error carries the human-readable
// message; these sentinels let callers discriminate with errors.Is.
var (
	// ErrUnknownTaskType means no route exists for the request's task type.
	// Fatal for that request; no provider is contacted.
	ErrUnknownTaskType = errors.New("unknown task type")
	// ErrProviderUnavailable means the chosen provider could not serve the
	// call: local required but unhealthy, or a remote failure. The caller
	// may retry; the dispatcher does not.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrDispatchTimeout means the provider call exceeded its bounded
	// timeout. Same caller semantics as ErrProviderUnavailable,
	// distinguished in the message only.
	ErrDispatchTimeout = errors.New("dispatch timeout")
)

// TaskRequest is one unit of work submitted for dispatch. Immutable once
// dispatched.
type TaskRequest struct {
	TaskID            string              `json:"taskId"`
	TaskType          string              `json:"taskType"`
	ResearchContextID string              `json:"researchContextId,omitempty"`
	StageHint         string              `json:"stageHint,omitempty"`
	InputPayload      map[string]any      `json:"inputPayload,omitempty"`
	ContextHint       string              `json:"contextHint,omitempty"`
	Streaming         bool                `json:"streaming,omitempty"`
	Options           eligibility.Options `json:"options,omitempty"`
}

// Validate rejects requests that cannot be dispatched.
func (r *TaskRequest) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("taskId is required")
	}
	if r.TaskType == "" {
		return fmt.Errorf("taskType is required")
	}
	return nil
}

// Result is the terminal artifact of one dispatched TaskRequest.
type Result struct {
	Success      bool     `json:"success"`
	TaskID       string   `json:"taskId"`
	Provider     string   `json:"providerUsed,omitempty"`
	Output       *Payload `json:"outputPayload,omitempty"`
	QualityScore *float64 `json:"qualitativeScore,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	Error        string   `json:"error,omitempty"`
	DurationMs   int64    `json:"durationMs"`
}

// StreamEvent is one increment of a streaming dispatch. The terminal event
// carries Done=true and the final Result.
type StreamEvent struct {
	Content string  `json:"content,omitempty"`
	Done    bool    `json:"done,omitempty"`
	Result  *Result `json:"result,omitempty"`
}
