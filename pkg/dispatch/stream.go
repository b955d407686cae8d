package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/taskgate/pkg/cost"
	"github.com/zen-systems/taskgate/pkg/prompt"
	"github.com/zen-systems/taskgate/pkg/provider"
	"github.com/zen-systems/taskgate/pkg/trace"
)

const streamBuffer = 8

// DispatchStream executes one task request with incremental output. Route
// lookup and lane selection happen synchronously so configuration and
// policy errors come back as an error instead of a dead channel. The
// returned channel delivers content events followed by one terminal event
// carrying the final Result, then closes. Cancelling ctx abandons the
// stream and releases the provider connection.
//
// Agent routes and providers without streaming support degrade to a single
// terminal event.
func (d *Dispatcher) DispatchStream(ctx context.Context, req TaskRequest) (<-chan StreamEvent, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	route, ok := d.routes.Lookup(req.TaskType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, req.TaskType)
	}
	if route.IsAgent() {
		return d.terminalOnlyStream(ctx, req), nil
	}

	target, tier, err := d.pickLane(req, route)
	if err != nil {
		return nil, err
	}
	prov, ok := d.providers[target.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s is not configured", ErrProviderUnavailable, target.Provider)
	}
	streamer, ok := prov.(provider.StreamingProvider)
	if !ok {
		return d.terminalOnlyStream(ctx, req), nil
	}

	span := trace.StartSpan("", "", "dispatch."+req.TaskType)
	span.SetMeta("taskId", req.TaskID)
	span.SetMeta("streaming", "true")
	span.SetMeta("provider", target.Provider)

	bundle := d.fetchContext(ctx, req, route)
	promptText := prompt.Build(req.TaskType, req.InputPayload, bundle.Render(d.maxChunkChars))

	callCtx, cancel := context.WithTimeout(ctx, route.Timeout)
	child := trace.StartSpan(span.TraceID, span.SpanID, "provider.generate")
	child.SetMeta("provider", target.Provider)
	child.SetMeta("model", target.Model)
	callStart := time.Now()

	ch, err := streamer.GenerateStream(callCtx, target.Model, promptText)
	if err != nil {
		cancel()
		child.EndWithError(err)
		d.emitSpan(*child)
		span.EndWithError(err)
		d.emitSpan(*span)
		return nil, callError(err)
	}

	events := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(events)
		defer cancel()

		var output strings.Builder
		var usage *provider.Usage
		var streamErr error

	relay:
		for chunk := range ch {
			switch {
			case chunk.Err != nil:
				streamErr = chunk.Err
				break relay
			case chunk.Done:
				usage = chunk.Usage
				break relay
			default:
				output.WriteString(chunk.Content)
				select {
				case events <- StreamEvent{Content: chunk.Content}:
				case <-callCtx.Done():
					streamErr = callCtx.Err()
					break relay
				}
			}
		}
		// A producer that closed early because the deadline fired leaves
		// no chunk error behind.
		if streamErr == nil && callCtx.Err() != nil {
			streamErr = callCtx.Err()
		}
		latency := time.Since(callStart)

		res := Result{TaskID: req.TaskID}
		if streamErr != nil {
			child.EndWithError(streamErr)
			d.emitSpan(*child)
			d.logf("[dispatch] stream from %s failed for task %s: %v", target.Provider, req.TaskID, streamErr)
			res.Error = callError(streamErr).Error()
		} else {
			child.End()
			d.emitSpan(*child)
			d.record(cost.CallInfo{
				Provider:   target.Provider,
				Tier:       tier,
				Model:      target.Model,
				Stage:      req.StageHint,
				Usage:      usage,
				PromptText: promptText,
				OutputText: output.String(),
				Latency:    latency,
			})
			payload := ParsePayload(output.String())
			res.Success = true
			res.Provider = target.Provider
			res.Output = &payload
		}
		res.DurationMs = time.Since(start).Milliseconds()

		if res.Success {
			span.End()
		} else {
			span.EndWithError(errors.New(res.Error))
		}
		d.emitSpan(*span)

		select {
		case events <- StreamEvent{Done: true, Result: &res}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// terminalOnlyStream adapts a synchronous dispatch to the stream contract.
func (d *Dispatcher) terminalOnlyStream(ctx context.Context, req TaskRequest) <-chan StreamEvent {
	events := make(chan StreamEvent, 1)
	go func() {
		defer close(events)
		res := d.Dispatch(ctx, req)
		select {
		case events <- StreamEvent{Done: true, Result: &res}:
		case <-ctx.Done():
		}
	}()
	return events
}
