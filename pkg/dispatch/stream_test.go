package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/cost"
	"github.com/zen-systems/taskgate/pkg/provider"
)

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestDispatchStream_contentThenTerminal(t *testing.T) {
	f := newFixture(t)
	f.local.SetStreamScript([]provider.Chunk{
		{Content: `{"ok"`},
		{Content: `: true}`},
		{Done: true, Usage: &provider.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}},
	})

	events, err := f.d.DispatchStream(context.Background(), TaskRequest{
		TaskID:   "task-1",
		TaskType: "code_review",
	})
	if err != nil {
		t.Fatalf("DispatchStream() error = %v", err)
	}

	got := collectEvents(t, events)
	if len(got) != 3 {
		t.Fatalf("events = %d, want 2 content + 1 terminal", len(got))
	}
	if got[0].Content != `{"ok"` || got[1].Content != `: true}` {
		t.Errorf("content events = %q, %q; want script fragments in order", got[0].Content, got[1].Content)
	}

	terminal := got[2]
	if !terminal.Done || terminal.Result == nil {
		t.Fatalf("last event = %+v, want terminal with result", terminal)
	}
	if !terminal.Result.Success {
		t.Fatalf("terminal result failed: %s", terminal.Result.Error)
	}
	if terminal.Result.Output == nil || terminal.Result.Output.Kind != PayloadStructured {
		t.Errorf("Output = %+v, want structured payload parsed from accumulated stream", terminal.Result.Output)
	}
	if terminal.Result.Output.Fields["ok"] != true {
		t.Errorf("Fields[ok] = %v, want true", terminal.Result.Output.Fields["ok"])
	}

	report := f.acct.Report()
	bucket, ok := report.ByProvider[provider.NameLocal]
	if !ok || bucket.Calls != 1 {
		t.Fatalf("ByProvider[local] = %+v, want the streamed call recorded", bucket)
	}
	if bucket.TokensIn != 10 || bucket.TokensOut != 4 {
		t.Errorf("tokens = %d/%d, want terminal-chunk counts 10/4", bucket.TokensIn, bucket.TokensOut)
	}
	if report.TotalUSD != 0 {
		t.Errorf("TotalUSD = %v, want 0 for local stream", report.TotalUSD)
	}
}

func TestDispatchStream_unknownTaskType(t *testing.T) {
	f := newFixture(t)

	events, err := f.d.DispatchStream(context.Background(), TaskRequest{TaskID: "task-1", TaskType: "juggling"})
	if err == nil {
		t.Fatal("DispatchStream() should fail synchronously for unknown types")
	}
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("error = %v, want ErrUnknownTaskType", err)
	}
	if events != nil {
		t.Error("no channel should be returned on synchronous failure")
	}
}

func TestDispatchStream_failsClosedSynchronously(t *testing.T) {
	f := newFixture(t)
	f.health.healthy = false

	_, err := f.d.DispatchStream(context.Background(), TaskRequest{TaskID: "task-1", TaskType: "format_check"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestDispatchStream_streamError(t *testing.T) {
	f := newFixture(t)
	f.local.SetStreamScript([]provider.Chunk{
		{Content: "partial "},
		{Err: errors.New("connection reset")},
	})

	events, err := f.d.DispatchStream(context.Background(), TaskRequest{
		TaskID:   "task-1",
		TaskType: "code_review",
	})
	if err != nil {
		t.Fatalf("DispatchStream() error = %v", err)
	}

	got := collectEvents(t, events)
	terminal := got[len(got)-1]
	if !terminal.Done || terminal.Result == nil {
		t.Fatalf("last event = %+v, want terminal", terminal)
	}
	if terminal.Result.Success {
		t.Fatal("terminal result should fail after a mid-stream error")
	}
	if !strings.Contains(terminal.Result.Error, "connection reset") {
		t.Errorf("Error = %q, want original stream error preserved", terminal.Result.Error)
	}
	if f.acct.Report().Envelopes != 0 {
		t.Error("failed streams must not record cost envelopes")
	}
}

func TestDispatchStream_agentDegradesToTerminal(t *testing.T) {
	f := newFixture(t)
	f.agent.res = &AgentResult{Status: "completed", Result: []byte(`{"summary": "done"}`)}

	events, err := f.d.DispatchStream(context.Background(), TaskRequest{TaskID: "task-1", TaskType: "research"})
	if err != nil {
		t.Fatalf("DispatchStream() error = %v", err)
	}

	got := collectEvents(t, events)
	if len(got) != 1 {
		t.Fatalf("events = %d, want a single terminal event", len(got))
	}
	if !got[0].Done || got[0].Result == nil || !got[0].Result.Success {
		t.Errorf("event = %+v, want successful terminal result", got[0])
	}
}

type plainProvider struct {
	response string
}

func (p *plainProvider) Generate(_ context.Context, model, _ string) (*provider.Response, error) {
	return &provider.Response{Content: p.response, Model: model}, nil
}

func (p *plainProvider) Name() string { return "plain" }

func (p *plainProvider) Models() []string { return nil }

func TestDispatchStream_nonStreamingProvider(t *testing.T) {
	cfg := config.DefaultDispatchConfig()
	routes, err := CompileRoutes(cfg)
	if err != nil {
		t.Fatalf("CompileRoutes() error = %v", err)
	}
	d := NewDispatcher(routes, map[string]provider.Provider{
		"anthropic": &plainProvider{response: `{"approved": false}`},
	}, cost.NewAccountant(cfg.Pricing, 0), WithDispatcherLogger(t.Logf))

	events, err := d.DispatchStream(context.Background(), TaskRequest{
		TaskID:   "task-1",
		TaskType: "compliance_review",
	})
	if err != nil {
		t.Fatalf("DispatchStream() error = %v", err)
	}

	got := collectEvents(t, events)
	if len(got) != 1 {
		t.Fatalf("events = %d, want a single terminal event", len(got))
	}
	res := got[0].Result
	if res == nil || !res.Success || res.Provider != "anthropic" {
		t.Fatalf("result = %+v, want success via anthropic", res)
	}
	if res.Output == nil || res.Output.Fields["approved"] != false {
		t.Errorf("Output = %+v, want parsed compliance verdict", res.Output)
	}
}

func TestDispatchStream_consumerCancel(t *testing.T) {
	f := newFixture(t)
	script := make([]provider.Chunk, 0, 40)
	for i := 0; i < 40; i++ {
		script = append(script, provider.Chunk{Content: "tok "})
	}
	f.local.SetStreamScript(script)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := f.d.DispatchStream(ctx, TaskRequest{TaskID: "task-1", TaskType: "code_review"})
	if err != nil {
		t.Fatalf("DispatchStream() error = %v", err)
	}

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no first event")
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after consumer cancel")
		}
	}
}
