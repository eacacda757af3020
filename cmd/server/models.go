package main

import (
	"github.com/fraudlab/riskrules/explain"
	"github.com/fraudlab/riskrules/rules"
)

// ReorderRequest carries the full proposed rule order for one version.
type ReorderRequest struct {
	RuleIDs []string `json:"rule_ids"`
}

// ValidateResponse reports standalone rule validation.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// EvaluateResponse pairs a deterministic result with its optional trace.
type EvaluateResponse struct {
	Result *rules.RuleResult      `json:"result"`
	Trace  *rules.EvaluationTrace `json:"trace"`
}

// BatchEvaluateResponse carries batch results in input order. Traces is
// nil when tracing is disabled.
type BatchEvaluateResponse struct {
	Results []*rules.RuleResult      `json:"results"`
	Traces  []*rules.EvaluationTrace `json:"traces"`
	Count   int                      `json:"count"`
}

// ExplainRequest pairs a transaction with its evaluated result.
type ExplainRequest struct {
	Transaction rules.Record     `json:"transaction"`
	Result      rules.RuleResult `json:"result"`
}

// FinalDecisionResponse combines the deterministic decision with its
// explanation into the analyst-facing shape.
type FinalDecisionResponse struct {
	TransactionID       string             `json:"transaction_id"`
	RiskScore           int                `json:"risk_score"`
	Decision            rules.Decision     `json:"decision"`
	RuleMatched         string             `json:"rule_matched"`
	RuleReason          string             `json:"rule_reason"`
	LLMExplanation      string             `json:"llm_explanation"`
	Confidence          explain.Confidence `json:"confidence"`
	NeedsHumanReview    bool               `json:"needs_human_review"`
	ClarifyingQuestions []string           `json:"clarifying_questions"`
}

// GenerateResponse carries synthetic transactions.
type GenerateResponse struct {
	Transactions []rules.Record `json:"transactions"`
	Count        int            `json:"count"`
}
