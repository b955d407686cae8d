package cost

import (
	"sync"
	"time"

	"github.com/zen-systems/taskgate/pkg/config"
	"github.com/zen-systems/taskgate/pkg/provider"
)

// Bucket aggregates envelopes along one dimension.
type Bucket struct {
	CostUSD   float64 `json:"costUsd"`
	TokensIn  int     `json:"tokensIn"`
	TokensOut int     `json:"tokensOut"`
	Calls     int     `json:"calls"`
}

// BudgetStatus reports where spend stands against the configured budget.
type BudgetStatus struct {
	MaxUSD   float64 `json:"maxUsd"`
	SpentUSD float64 `json:"spentUsd"`
	Level    string  `json:"level"`
}

// Budget levels, in escalation order.
const (
	BudgetOK       = "ok"
	BudgetWarning  = "warning"
	BudgetCritical = "critical"
	BudgetExceeded = "exceeded"
)

// Report is a point-in-time snapshot of accumulated cost.
type Report struct {
	Currency       string            `json:"currency"`
	TotalUSD       float64           `json:"totalUsd"`
	TotalTokensIn  int               `json:"totalTokensIn"`
	TotalTokensOut int               `json:"totalTokensOut"`
	Envelopes      int               `json:"envelopes"`
	ByProvider     map[string]Bucket `json:"byProvider,omitempty"`
	ByModel        map[string]Bucket `json:"byModel,omitempty"`
	ByStage        map[string]Bucket `json:"byStage,omitempty"`
	Budget         *BudgetStatus     `json:"budget,omitempty"`
}

// Accountant accumulates cost envelopes into running totals by provider,
// model, and business-stage hint. Budget checks are advisory signals; the
// accountant never blocks a dispatch.
type Accountant struct {
	mu           sync.Mutex
	pricing      config.Pricing
	maxBudgetUSD float64

	totalUSD       float64
	totalTokensIn  int
	totalTokensOut int
	envelopes      int
	byProvider     map[string]*Bucket
	byModel        map[string]*Bucket
	byStage        map[string]*Bucket
}

// NewAccountant creates an accountant with the given pricing table and
// advisory budget. A zero maxBudgetUSD disables budget reporting.
func NewAccountant(pricing config.Pricing, maxBudgetUSD float64) *Accountant {
	return &Accountant{
		pricing:      pricing,
		maxBudgetUSD: maxBudgetUSD,
		byProvider:   make(map[string]*Bucket),
		byModel:      make(map[string]*Bucket),
		byStage:      make(map[string]*Bucket),
	}
}

// EnvelopeFor builds the cost envelope for a completed call. Explicit
// provider counts are used exactly; absent counts fall back to text-length
// estimation. Local-tier calls cost zero regardless of pricing entries.
func (a *Accountant) EnvelopeFor(info CallInfo) Envelope {
	usage := normalizeUsage(info.Usage)
	if usage.TotalTokens == 0 {
		usage.PromptTokens = EstimateTokens(info.PromptText)
		usage.CompletionTokens = EstimateTokens(info.OutputText)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	var costUSD float64
	if info.Tier != provider.TierLocal {
		costUSD, _ = estimateCost(a.pricing, info.Provider, info.Model, usage)
	}

	return Envelope{
		Provider:     info.Provider,
		Tier:         info.Tier,
		Model:        info.Model,
		Stage:        info.Stage,
		TokensIn:     usage.PromptTokens,
		TokensOut:    usage.CompletionTokens,
		TokensCached: usage.CachedTokens,
		CostUSD:      costUSD,
		LatencyMs:    info.Latency.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
}

// Record accumulates one envelope into the running totals.
func (a *Accountant) Record(env Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalUSD += env.CostUSD
	a.totalTokensIn += env.TokensIn
	a.totalTokensOut += env.TokensOut
	a.envelopes++

	addToBucket(a.byProvider, env.Provider, env)
	addToBucket(a.byModel, env.Model, env)
	if env.Stage != "" {
		addToBucket(a.byStage, env.Stage, env)
	}
}

// Total returns the accumulated spend in USD.
func (a *Accountant) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalUSD
}

// IsBudgetExceeded reports whether accumulated spend has reached maxUSD.
// A non-positive maxUSD means unlimited.
func (a *Accountant) IsBudgetExceeded(maxUSD float64) bool {
	if maxUSD <= 0 {
		return false
	}
	return a.Total() >= maxUSD
}

// Report snapshots the accumulated totals.
func (a *Accountant) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Report{
		Currency:       "USD",
		TotalUSD:       a.totalUSD,
		TotalTokensIn:  a.totalTokensIn,
		TotalTokensOut: a.totalTokensOut,
		Envelopes:      a.envelopes,
		ByProvider:     copyBuckets(a.byProvider),
		ByModel:        copyBuckets(a.byModel),
		ByStage:        copyBuckets(a.byStage),
	}
	if a.maxBudgetUSD > 0 {
		r.Budget = &BudgetStatus{
			MaxUSD:   a.maxBudgetUSD,
			SpentUSD: a.totalUSD,
			Level:    budgetLevel(a.totalUSD, a.maxBudgetUSD),
		}
	}
	return r
}

func budgetLevel(spent, max float64) string {
	switch pct := spent / max; {
	case pct >= 1.0:
		return BudgetExceeded
	case pct >= 0.9:
		return BudgetCritical
	case pct >= 0.75:
		return BudgetWarning
	default:
		return BudgetOK
	}
}

func addToBucket(buckets map[string]*Bucket, key string, env Envelope) {
	b, ok := buckets[key]
	if !ok {
		b = &Bucket{}
		buckets[key] = b
	}
	b.CostUSD += env.CostUSD
	b.TokensIn += env.TokensIn
	b.TokensOut += env.TokensOut
	b.Calls++
}

func copyBuckets(buckets map[string]*Bucket) map[string]Bucket {
	if len(buckets) == 0 {
		return nil
	}
	out := make(map[string]Bucket, len(buckets))
	for k, v := range buckets {
		out[k] = *v
	}
	return out
}
