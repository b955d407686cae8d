package eligibility

// Options carries the per-task signals the classifier evaluates. They ride
// on the task request.
type Options struct {
	// RequiresAudit vetoes local execution regardless of other signals.
	RequiresAudit bool `json:"requiresAudit,omitempty"`
	// PreferLocal defaults to true when unset.
	PreferLocal *bool `json:"preferLocal,omitempty"`
	// EstimatedTokens is the caller's size estimate for the task input.
	EstimatedTokens int `json:"estimatedTokens,omitempty"`
}

// Decision explains a classification outcome.
type Decision struct {
	UseLocal bool
	Reason   string
}

// Policy holds the static local-eligibility rules: which task types may run
// locally and how large they may be.
type Policy struct {
	allowed      map[string]bool
	tokenCeiling int
}

// DefaultAllowedTaskTypes lists the task types eligible for local execution
// out of the box.
func DefaultAllowedTaskTypes() []string {
	return []string{
		"code_review",
		"refactor",
		"lint",
		"doc_generation",
		"summarize",
		"format_check",
	}
}

const defaultTokenCeiling = 8000

// NewPolicy builds a policy from an allow-list and token ceiling. Empty
// inputs fall back to the defaults.
func NewPolicy(allowedTaskTypes []string, tokenCeiling int) *Policy {
	if len(allowedTaskTypes) == 0 {
		allowedTaskTypes = DefaultAllowedTaskTypes()
	}
	if tokenCeiling <= 0 {
		tokenCeiling = defaultTokenCeiling
	}
	allowed := make(map[string]bool, len(allowedTaskTypes))
	for _, t := range allowedTaskTypes {
		allowed[t] = true
	}
	return &Policy{allowed: allowed, tokenCeiling: tokenCeiling}
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() *Policy {
	return NewPolicy(nil, 0)
}

// TokenCeiling returns the configured size bound.
func (p *Policy) TokenCeiling() int {
	return p.tokenCeiling
}

// Evaluate classifies a task for local execution. Rules apply in order and
// short-circuit: allow-list membership, audit veto, caller preference, size
// ceiling. Unknown task types are never eligible.
func (p *Policy) Evaluate(taskType string, opts Options) Decision {
	if !p.allowed[taskType] {
		return Decision{UseLocal: false, Reason: "task type not local-eligible"}
	}
	if opts.RequiresAudit {
		return Decision{UseLocal: false, Reason: "audit required"}
	}
	if opts.PreferLocal != nil && !*opts.PreferLocal {
		return Decision{UseLocal: false, Reason: "caller opted out of local"}
	}
	if opts.EstimatedTokens > p.tokenCeiling {
		return Decision{UseLocal: false, Reason: "estimated tokens exceed ceiling"}
	}
	return Decision{UseLocal: true, Reason: "eligible"}
}

// ShouldUseLocal is the boolean shorthand for Evaluate.
func (p *Policy) ShouldUseLocal(taskType string, opts Options) bool {
	return p.Evaluate(taskType, opts).UseLocal
}
