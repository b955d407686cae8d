package dispatch

import (
	"testing"
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/provider"
)

func TestCompileRoutes_defaults(t *testing.T) {
	routes, err := CompileRoutes(config.DefaultDispatchConfig())
	if err != nil {
		t.Fatalf("CompileRoutes() error = %v", err)
	}

	review, ok := routes.Lookup("code_review")
	if !ok {
		t.Fatal("Lookup(code_review) not found")
	}
	if review.IsAgent() {
		t.Error("code_review should be a direct-model route")
	}
	if review.Local.Provider != provider.NameLocal || review.Local.Model == "" {
		t.Errorf("code_review local target = %+v, want local provider with a model", review.Local)
	}
	if review.Remote.Provider != "anthropic" {
		t.Errorf("code_review remote provider = %q, want anthropic", review.Remote.Provider)
	}
	if review.Timeout != 60*time.Second {
		t.Errorf("code_review timeout = %v, want 60s", review.Timeout)
	}
	if review.MinTier != provider.TierLocal {
		t.Errorf("code_review min tier = %v, want LOCAL", review.MinTier)
	}

	research, ok := routes.Lookup("research")
	if !ok {
		t.Fatal("Lookup(research) not found")
	}
	if !research.IsAgent() || research.Agent != "research-agent" {
		t.Errorf("research route agent = %q, want research-agent", research.Agent)
	}
	if research.Timeout != 300*time.Second {
		t.Errorf("research timeout = %v, want 300s", research.Timeout)
	}
	if len(research.Collections) != 2 || research.TopK != 5 {
		t.Errorf("research retrieval = %v topK %d, want 2 collections topK 5", research.Collections, research.TopK)
	}

	if _, ok := routes.Lookup("nonexistent"); ok {
		t.Error("Lookup(nonexistent) should miss")
	}
}

func TestCompileRoutes_sortedListing(t *testing.T) {
	routes, err := CompileRoutes(config.DefaultDispatchConfig())
	if err != nil {
		t.Fatalf("CompileRoutes() error = %v", err)
	}

	all := routes.All()
	if len(all) != routes.Len() {
		t.Fatalf("All() returned %d routes, want %d", len(all), routes.Len())
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].TaskType >= all[i].TaskType {
			t.Fatalf("All() not sorted: %q before %q", all[i-1].TaskType, all[i].TaskType)
		}
	}
}

func TestCompileRoutes_rejectsInvalid(t *testing.T) {
	cfg := &config.DispatchConfig{
		TaskTypes: map[string]config.TaskRoute{
			"broken": {Tier: "TURBO", Remote: config.RouteTarget{Provider: "openai", Model: "gpt-5.2-instant"}},
		},
	}
	if _, err := CompileRoutes(cfg); err == nil {
		t.Error("CompileRoutes() with unknown tier should fail")
	}
}
