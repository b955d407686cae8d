package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/provider"
)

// Target is a resolved provider and model pair.
type Target struct {
	Provider string
	Model    string
}

// Route is one compiled dispatch table entry. Tiers are parsed and timeouts
// materialized so the hot path never touches configuration strings.
type Route struct {
	TaskType     string
	Tier         provider.Tier
	MinTier      provider.Tier
	Agent        string
	Local        Target
	Remote       Target
	RequireLocal bool
	Collections  []string
	TopK         int
	Timeout      time.Duration
}

// IsAgent reports whether the route delegates to an agent daemon.
func (r Route) IsAgent() bool {
	return r.Agent != ""
}

// Routes is an immutable compiled dispatch table.
type Routes struct {
	byType map[string]Route
}

// CompileRoutes validates the dispatch table and compiles it for lookup.
func CompileRoutes(cfg *config.DispatchConfig) (*Routes, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch config: %w", err)
	}

	byType := make(map[string]Route, len(cfg.TaskTypes))
	for name, rc := range cfg.TaskTypes {
		tier, err := provider.ParseTier(rc.Tier)
		if err != nil {
			return nil, fmt.Errorf("task type %s: %w", name, err)
		}
		minTier := provider.TierLocal
		if rc.MinTier != "" {
			minTier, err = provider.ParseTier(rc.MinTier)
			if err != nil {
				return nil, fmt.Errorf("task type %s: %w", name, err)
			}
		}

		timeout := time.Duration(rc.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			if rc.Agent != "" {
				timeout = 300 * time.Second
			} else {
				timeout = 60 * time.Second
			}
		}

		byType[name] = Route{
			TaskType:     name,
			Tier:         tier,
			MinTier:      minTier,
			Agent:        rc.Agent,
			Local:        Target{Provider: provider.NameLocal, Model: rc.Local.Model},
			Remote:       Target{Provider: rc.Remote.Provider, Model: rc.Remote.Model},
			RequireLocal: rc.RequireLocal,
			Collections:  rc.Retrieval.Collections,
			TopK:         rc.Retrieval.TopK,
			Timeout:      timeout,
		}
	}

	return &Routes{byType: byType}, nil
}

// Lookup returns the route for a task type.
func (r *Routes) Lookup(taskType string) (Route, bool) {
	route, ok := r.byType[taskType]
	return route, ok
}

// All returns every route sorted by task type.
func (r *Routes) All() []Route {
	routes := make([]Route, 0, len(r.byType))
	for _, route := range r.byType {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].TaskType < routes[j].TaskType
	})
	return routes
}

// Len returns the number of routes.
func (r *Routes) Len() int {
	return len(r.byType)
}
