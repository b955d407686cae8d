package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/taskgate/pkg/cost"
	"github.com/zen-systems/taskgate/pkg/eligibility"
	"github.com/zen-systems/taskgate/pkg/prompt"
	"github.com/zen-systems/taskgate/pkg/provider"
	"github.com/zen-systems/taskgate/pkg/retrieval"
	"github.com/zen-systems/taskgate/pkg/trace"
)

// HealthReader reports whether the local provider can take work.
type HealthReader interface {
	IsAvailable() bool
}

// ContextFetcher assembles retrieval context for a dispatch.
type ContextFetcher interface {
	Fetch(ctx context.Context, query string, collections []string, topK int) retrieval.Bundle
}

// AgentCaller hands a task to a delegate agent and waits for its terminal
// report.
type AgentCaller interface {
	Delegate(ctx context.Context, task AgentTask) (*AgentResult, error)
}

// SpanWriter receives completed trace spans.
type SpanWriter interface {
	Emit(span trace.Span)
}

// Dispatcher routes task requests to delegate agents or model providers,
// enforces per-route timeouts, and feeds cost and trace telemetry. It never
// retries; retry policy belongs to the caller.
type Dispatcher struct {
	routes     *Routes
	providers  map[string]provider.Provider
	accountant *cost.Accountant

	policy    *eligibility.Policy
	health    HealthReader
	retriever ContextFetcher
	agent     AgentCaller
	spans     SpanWriter

	maxChunkChars int
	logger        func(format string, args ...any)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPolicy sets the local-eligibility policy.
func WithPolicy(p *eligibility.Policy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithHealth wires the local provider health monitor. Without one the local
// lane is treated as unavailable.
func WithHealth(h HealthReader) DispatcherOption {
	return func(d *Dispatcher) {
		d.health = h
	}
}

// WithRetriever wires context retrieval for routes that configure
// collections.
func WithRetriever(f ContextFetcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.retriever = f
	}
}

// WithAgent wires the delegate agent client.
func WithAgent(a AgentCaller) DispatcherOption {
	return func(d *Dispatcher) {
		d.agent = a
	}
}

// WithSpans wires the trace span destination.
func WithSpans(w SpanWriter) DispatcherOption {
	return func(d *Dispatcher) {
		d.spans = w
	}
}

// WithMaxChunkChars bounds each rendered context chunk.
func WithMaxChunkChars(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxChunkChars = n
	}
}

// WithDispatcherLogger overrides the dispatcher's log output.
func WithDispatcherLogger(logger func(format string, args ...any)) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over a compiled route table and a
// provider registry keyed by provider name.
func NewDispatcher(routes *Routes, providers map[string]provider.Provider, accountant *cost.Accountant, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		routes:        routes,
		providers:     providers,
		accountant:    accountant,
		policy:        eligibility.DefaultPolicy(),
		maxChunkChars: 2000,
		logger:        log.Printf,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one task request end to end and returns its terminal
// result. Failures come back as Success=false with a populated error,
// never as a panic or a partial result; DurationMs is set on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, req TaskRequest) Result {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return Result{
			TaskID:     req.TaskID,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	span := trace.StartSpan("", "", "dispatch."+req.TaskType)
	span.SetMeta("taskId", req.TaskID)
	if req.StageHint != "" {
		span.SetMeta("stage", req.StageHint)
	}

	res := d.run(ctx, req, span)
	res.TaskID = req.TaskID
	res.DurationMs = time.Since(start).Milliseconds()

	if res.Provider != "" {
		span.SetMeta("provider", res.Provider)
	}
	if res.Success {
		span.End()
	} else {
		span.EndWithError(errors.New(res.Error))
	}
	d.emitSpan(*span)

	return res
}

func (d *Dispatcher) run(ctx context.Context, req TaskRequest, span *trace.Span) Result {
	route, ok := d.routes.Lookup(req.TaskType)
	if !ok {
		return failure(fmt.Errorf("%w: %s", ErrUnknownTaskType, req.TaskType))
	}
	if route.IsAgent() {
		return d.runAgent(ctx, req, route, span)
	}
	return d.runModel(ctx, req, route, span)
}

// runAgent delegates the task to the route's agent with a long bounded
// timeout. The delegate's error text passes through unmodified.
func (d *Dispatcher) runAgent(ctx context.Context, req TaskRequest, route Route, span *trace.Span) Result {
	if d.agent == nil {
		return failure(fmt.Errorf("%w: no agent client configured", ErrProviderUnavailable))
	}

	bundle := d.fetchContext(ctx, req, route)
	task := AgentTask{
		TaskID:            req.TaskID,
		StageHint:         req.StageHint,
		ResearchContextID: req.ResearchContextID,
		InputPayload:      req.InputPayload,
		RagContext:        bundle.Render(d.maxChunkChars),
		AgentName:         route.Agent,
	}

	callCtx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	child := trace.StartSpan(span.TraceID, span.SpanID, "agent.delegate")
	child.SetMeta("agent", route.Agent)
	callStart := time.Now()
	agentRes, err := d.agent.Delegate(callCtx, task)
	latency := time.Since(callStart)
	if err != nil {
		child.EndWithError(err)
		d.emitSpan(*child)
		d.logf("[dispatch] agent %s failed for task %s: %v", route.Agent, req.TaskID, err)
		return failure(callError(err))
	}
	child.End()
	d.emitSpan(*child)

	// The delegate accounts its own model usage; this envelope records the
	// call itself.
	d.record(cost.CallInfo{
		Provider: route.Agent,
		Tier:     route.Tier,
		Model:    "delegate",
		Stage:    req.StageHint,
		Latency:  latency,
	})

	if agentRes.Status != "completed" {
		msg := agentRes.Error
		if msg == "" {
			msg = fmt.Sprintf("agent %s returned status %q", route.Agent, agentRes.Status)
		}
		return Result{Error: msg}
	}

	payload := payloadFromAgent(agentRes)
	return Result{
		Success:      true,
		Provider:     route.Agent,
		Output:       &payload,
		QualityScore: agentRes.QualityScore,
		Sources:      agentRes.Sources,
	}
}

// runModel picks a lane, assembles the prompt, and invokes the model
// provider with a short bounded timeout.
func (d *Dispatcher) runModel(ctx context.Context, req TaskRequest, route Route, span *trace.Span) Result {
	target, tier, err := d.pickLane(req, route)
	if err != nil {
		return failure(err)
	}
	prov, ok := d.providers[target.Provider]
	if !ok {
		return failure(fmt.Errorf("%w: provider %s is not configured", ErrProviderUnavailable, target.Provider))
	}

	bundle := d.fetchContext(ctx, req, route)
	promptText := prompt.Build(req.TaskType, req.InputPayload, bundle.Render(d.maxChunkChars))

	callCtx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	child := trace.StartSpan(span.TraceID, span.SpanID, "provider.generate")
	child.SetMeta("provider", target.Provider)
	child.SetMeta("model", target.Model)
	callStart := time.Now()
	resp, err := prov.Generate(callCtx, target.Model, promptText)
	latency := time.Since(callStart)
	if err != nil {
		child.EndWithError(err)
		d.emitSpan(*child)
		d.logf("[dispatch] provider %s failed for task %s: %v", target.Provider, req.TaskID, err)
		return failure(callError(err))
	}
	child.End()
	d.emitSpan(*child)

	d.record(cost.CallInfo{
		Provider:   target.Provider,
		Tier:       tier,
		Model:      target.Model,
		Stage:      req.StageHint,
		Usage:      resp.Usage,
		PromptText: promptText,
		OutputText: resp.Content,
		Latency:    latency,
	})

	payload := ParsePayload(resp.Content)
	return Result{
		Success:  true,
		Provider: target.Provider,
		Output:   &payload,
	}
}

// pickLane chooses between a route's local and remote targets. Local wins
// when the route permits that tier, the policy classifies the task as
// local-eligible, and the local provider is healthy. Routes that require
// local execution fail closed instead of falling through to a remote tier.
func (d *Dispatcher) pickLane(req TaskRequest, route Route) (Target, provider.Tier, error) {
	if route.Local.Model != "" && provider.TierLocal.AtLeast(route.MinTier) {
		decision := d.policy.Evaluate(req.TaskType, req.Options)
		reason := decision.Reason
		if decision.UseLocal {
			if d.localAvailable() {
				return route.Local, provider.TierLocal, nil
			}
			reason = "local provider unhealthy"
		}
		if route.RequireLocal {
			return Target{}, "", fmt.Errorf("%w: %s must run locally but %s", ErrProviderUnavailable, req.TaskType, reason)
		}
		d.logf("[dispatch] %s routed to remote: %s", req.TaskType, reason)
	}
	if route.Remote.Model == "" {
		return Target{}, "", fmt.Errorf("%w: no remote target for task type %s", ErrProviderUnavailable, req.TaskType)
	}
	return route.Remote, route.Tier, nil
}

// fetchContext pulls retrieval context for routes that configure
// collections, using the request's context hint as the query. Best-effort:
// a missing retriever, hint, or result set degrades to an empty bundle.
func (d *Dispatcher) fetchContext(ctx context.Context, req TaskRequest, route Route) retrieval.Bundle {
	if d.retriever == nil || len(route.Collections) == 0 || req.ContextHint == "" {
		return retrieval.Bundle{}
	}
	return d.retriever.Fetch(ctx, req.ContextHint, route.Collections, route.TopK)
}

func (d *Dispatcher) localAvailable() bool {
	return d.health != nil && d.health.IsAvailable()
}

func (d *Dispatcher) record(info cost.CallInfo) {
	if d.accountant == nil {
		return
	}
	d.accountant.Record(d.accountant.EnvelopeFor(info))
}

func (d *Dispatcher) emitSpan(span trace.Span) {
	if d.spans == nil {
		return
	}
	d.spans.Emit(span)
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger(format, args...)
	}
}

func failure(err error) Result {
	return Result{Error: err.Error()}
}

// callError maps transport failures onto the dispatch taxonomy. Deadline
// expiry becomes a timeout; everything else is provider unavailability. The
// original message is preserved inside the wrapper.
func callError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// payloadFromAgent normalizes the delegate's result field, which may be a
// JSON object, a JSON-encoded string, or absent with artifacts standing in.
func payloadFromAgent(res *AgentResult) Payload {
	if len(res.Result) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(res.Result, &fields); err == nil && fields != nil {
			return Structured(fields)
		}
		var text string
		if err := json.Unmarshal(res.Result, &text); err == nil {
			return ParsePayload(text)
		}
		return RawText(string(res.Result))
	}
	if len(res.Artifacts) > 0 {
		return Structured(res.Artifacts)
	}
	return Structured(nil)
}
