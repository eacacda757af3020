package rules

import "time"

// Decision is the risk outcome attached to a matched rule.
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionBlock  Decision = "BLOCK"
)

// Valid reports whether d is one of the three recognized decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionReview, DecisionBlock:
		return true
	}
	return false
}

// Logic determines how a rule combines its condition results.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"

	// LogicAlways marks the catch-all rule. It matches every record and
	// must be the last rule of a rule set.
	LogicAlways Logic = "ALWAYS"
)

// Valid reports whether l is one of the three recognized logic values.
func (l Logic) Valid() bool {
	switch l {
	case LogicAnd, LogicOr, LogicAlways:
		return true
	}
	return false
}

// Condition is a single flat comparison against one record field.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// Outcome is the decision a rule yields when it matches.
type Outcome struct {
	RiskScore int      `json:"risk_score" yaml:"risk_score"`
	Decision  Decision `json:"decision" yaml:"decision"`
	Reason    string   `json:"reason" yaml:"reason"`
}

// Rule is an ordered condition-action unit. A rule either matches a record
// or it does not; on match its Outcome is authoritative for the record
// (first-match-wins across the containing rule set).
type Rule struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Logic      Logic       `json:"logic" yaml:"logic"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Outcome    Outcome     `json:"outcome" yaml:"outcome"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		c.Value = cloneValue(c.Value)
		out.Conditions[i] = c
	}
	return out
}

// RuleSet is a named, fully-ordered snapshot of rules. Each version is
// independently addressable; mutations through the store replace the whole
// sequence atomically.
type RuleSet struct {
	Version   string         `json:"version" yaml:"version"`
	Domain    string         `json:"domain" yaml:"domain"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Features  map[string]any `json:"features" yaml:"features"`
	Rules     []Rule         `json:"rules" yaml:"rules"`
}

// Clone returns a deep copy of the rule set.
func (rs *RuleSet) Clone() *RuleSet {
	out := &RuleSet{
		Version:   rs.Version,
		Domain:    rs.Domain,
		CreatedAt: rs.CreatedAt,
		Rules:     make([]Rule, len(rs.Rules)),
	}
	if rs.Features != nil {
		out.Features = make(map[string]any, len(rs.Features))
		for k, v := range rs.Features {
			out.Features[k] = cloneValue(v)
		}
	}
	for i, r := range rs.Rules {
		out.Rules[i] = r.Clone()
	}
	return out
}

// Get returns the rule with the given id, or nil.
func (rs *RuleSet) Get(id string) *Rule {
	for i := range rs.Rules {
		if rs.Rules[i].ID == id {
			return &rs.Rules[i]
		}
	}
	return nil
}

// CatchAll returns the index of the ALWAYS rule, or -1 if there is none.
func (rs *RuleSet) CatchAll() int {
	for i := range rs.Rules {
		if rs.Rules[i].Logic == LogicAlways {
			return i
		}
	}
	return -1
}

// Record is an open mapping of transaction field names to scalar values.
// Records arrive pre-validated; the engine only checks field presence.
type Record map[string]any

// Get returns the value for a field. A field that is missing, or present
// with an explicit nil, counts as absent.
func (r Record) Get(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// TransactionID returns the record's transaction_id, or "unknown" when the
// record carries none.
func (r Record) TransactionID() string {
	if v, ok := r.Get("transaction_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}

// RuleResult is the deterministic output of evaluating one record.
type RuleResult struct {
	TransactionID   string   `json:"transaction_id"`
	MatchedRuleID   string   `json:"matched_rule_id"`
	MatchedRuleName string   `json:"matched_rule_name"`
	RiskScore       int      `json:"risk_score"`
	Decision        Decision `json:"decision"`
	RuleReason      string   `json:"rule_reason"`
}

// cloneValue deep-copies the slice and map shapes that YAML and JSON
// decoding produce for condition values and feature metadata.
func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
