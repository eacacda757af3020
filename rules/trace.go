package rules

// Trace result records. These are read-only values produced during traced
// evaluation; they are never persisted and never mutated after creation.

// ConditionEvaluation records the outcome of one condition against one record.
// ActualValue is nil when the field was absent from the record.
type ConditionEvaluation struct {
	Field         string   `json:"field"`
	Operator      Operator `json:"operator"`
	ExpectedValue any      `json:"expected_value"`
	ActualValue   any      `json:"actual_value"`
	Passed        bool     `json:"passed"`
}

// RuleEvaluation records what one rule would have decided for a record,
// including every condition it examined and its own wall time.
type RuleEvaluation struct {
	RuleID      string                `json:"rule_id"`
	RuleName    string                `json:"rule_name"`
	Conditions  []ConditionEvaluation `json:"conditions"`
	Logic       Logic                 `json:"logic"`
	Matched     bool                  `json:"matched"`
	TimestampMS float64               `json:"timestamp_ms"`
}

// EvaluationTrace is the complete, non-short-circuited record of one
// evaluation: every rule in order, which one won, and how long it all took.
// Timings come from the monotonic clock and are best-effort.
type EvaluationTrace struct {
	TransactionID         string           `json:"transaction_id"`
	EvaluatedRules        []RuleEvaluation `json:"evaluated_rules"`
	MatchedRuleIndex      int              `json:"matched_rule_index"`
	TotalEvaluationTimeMS float64          `json:"total_evaluation_time_ms"`
	ConfigVersion         string           `json:"config_version"`
}
