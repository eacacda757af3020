package rules

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// fraudRuleSet builds the canonical two-rule set: a high-amount block rule
// followed by the catch-all.
func fraudRuleSet() *RuleSet {
	return &RuleSet{
		Version:   "v1",
		Domain:    "fraud_detection",
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Rules: []Rule{
			{
				ID:    "R1",
				Name:  "High Amount",
				Logic: LogicOr,
				Conditions: []Condition{
					{Field: "transaction_amount", Operator: OpGreaterThan, Value: 10000},
				},
				Outcome: Outcome{RiskScore: 90, Decision: DecisionBlock, Reason: "amount exceeds threshold"},
			},
			{
				ID:      "DEFAULT",
				Name:    "Default Allow",
				Logic:   LogicAlways,
				Outcome: Outcome{RiskScore: 0, Decision: DecisionAllow, Reason: "no risk rules matched"},
			},
		},
	}
}

func TestEvaluateFirstRuleWins(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	result, err := engine.Evaluate(Record{"transaction_id": "tx-1", "transaction_amount": 15000})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if result.Decision != DecisionBlock {
		t.Errorf("Decision = %s, want BLOCK", result.Decision)
	}
	if result.RiskScore != 90 {
		t.Errorf("RiskScore = %d, want 90", result.RiskScore)
	}
	if result.MatchedRuleID != "R1" {
		t.Errorf("MatchedRuleID = %s, want R1", result.MatchedRuleID)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("TransactionID = %s, want tx-1", result.TransactionID)
	}
}

func TestEvaluateFallsThroughToCatchAll(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	result, err := engine.Evaluate(Record{"transaction_id": "tx-2", "transaction_amount": 500})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}

	if result.Decision != DecisionAllow {
		t.Errorf("Decision = %s, want ALLOW", result.Decision)
	}
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %d, want 0", result.RiskScore)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("MatchedRuleID = %s, want DEFAULT", result.MatchedRuleID)
	}
}

func TestEvaluateAbsentFieldSoftFails(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	// No transaction_amount at all: the condition is false, not an error,
	// and the record falls through to the catch-all.
	result, err := engine.Evaluate(Record{"transaction_id": "tx-3"})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("MatchedRuleID = %s, want DEFAULT", result.MatchedRuleID)
	}

	// An explicit nil counts as absent too.
	result, err = engine.Evaluate(Record{"transaction_id": "tx-4", "transaction_amount": nil})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("MatchedRuleID = %s, want DEFAULT for nil field", result.MatchedRuleID)
	}
}

func TestEvaluateFirstMatchWinsAmongOverlappingRules(t *testing.T) {
	rs := fraudRuleSet()
	review := Rule{
		ID:    "R2",
		Name:  "Medium Amount",
		Logic: LogicOr,
		Conditions: []Condition{
			{Field: "transaction_amount", Operator: OpGreaterThan, Value: 1000},
		},
		Outcome: Outcome{RiskScore: 50, Decision: DecisionReview, Reason: "elevated amount"},
	}
	// R1 (>10000) stays first; R2 (>1000) also matches large amounts but
	// must never win while it sits behind R1.
	rs.Rules = []Rule{rs.Rules[0], review, rs.Rules[1]}

	engine := NewEngine(rs)
	result, err := engine.Evaluate(Record{"transaction_amount": 20000})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "R1" {
		t.Errorf("MatchedRuleID = %s, want R1 (earlier rule wins)", result.MatchedRuleID)
	}
}

func TestEvaluateAndLogicRequiresEveryCondition(t *testing.T) {
	rs := &RuleSet{
		Version: "v1",
		Rules: []Rule{
			{
				ID:    "R1",
				Name:  "New Device Abroad",
				Logic: LogicAnd,
				Conditions: []Condition{
					{Field: "is_new_device", Operator: OpEqual, Value: true},
					{Field: "country_mismatch", Operator: OpEqual, Value: true},
				},
				Outcome: Outcome{RiskScore: 75, Decision: DecisionReview, Reason: "new device from mismatched country"},
			},
			{
				ID:      "DEFAULT",
				Name:    "Default Allow",
				Logic:   LogicAlways,
				Outcome: Outcome{RiskScore: 0, Decision: DecisionAllow, Reason: "ok"},
			},
		},
	}
	engine := NewEngine(rs)

	result, err := engine.Evaluate(Record{"is_new_device": true, "country_mismatch": true})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "R1" {
		t.Errorf("both conditions true: MatchedRuleID = %s, want R1", result.MatchedRuleID)
	}

	result, err = engine.Evaluate(Record{"is_new_device": true, "country_mismatch": false})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("one condition false: MatchedRuleID = %s, want DEFAULT", result.MatchedRuleID)
	}
}

func TestEvaluateEmptyConditionsNeverMatch(t *testing.T) {
	// An AND/OR rule with no conditions must not silently match
	// everything; only the catch-all may do that.
	rs := fraudRuleSet()
	rs.Rules[0].Conditions = nil

	engine := NewEngine(rs)
	result, err := engine.Evaluate(Record{"transaction_amount": 99999})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("MatchedRuleID = %s, want DEFAULT", result.MatchedRuleID)
	}
}

func TestEvaluateUnrecognizedLogicNeverMatches(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules[0].Logic = Logic("XOR")

	engine := NewEngine(rs)
	result, err := engine.Evaluate(Record{"transaction_amount": 99999})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if result.MatchedRuleID != "DEFAULT" {
		t.Errorf("MatchedRuleID = %s, want DEFAULT", result.MatchedRuleID)
	}
}

func TestEvaluateMissingCatchAllIsFatal(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules = rs.Rules[:1] // drop DEFAULT

	engine := NewEngine(rs)
	_, err := engine.Evaluate(Record{"transaction_amount": 500})
	if err == nil {
		t.Fatal("Evaluate() without a catch-all should fail")
	}

	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error should be *NoMatchError, got %T", err)
	}
	if noMatch.Version != "v1" {
		t.Errorf("Version = %s, want v1", noMatch.Version)
	}
}

func TestEvaluateUnknownOperatorIsFatal(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules[0].Conditions[0].Operator = Operator("between")

	engine := NewEngine(rs)
	_, err := engine.Evaluate(Record{"transaction_amount": 15000})
	if err == nil {
		t.Fatal("Evaluate() with a corrupt operator should fail")
	}

	var opErr *UnknownOperatorError
	if !errors.As(err, &opErr) {
		t.Fatalf("error should be *UnknownOperatorError, got %T", err)
	}
}

func TestTracedAndUntracedDecisionsAgree(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	records := []Record{
		{"transaction_id": "a", "transaction_amount": 15000},
		{"transaction_id": "b", "transaction_amount": 500},
		{"transaction_id": "c"},
	}

	for _, record := range records {
		fast, err := engine.Evaluate(record)
		if err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
		traced, _, err := engine.EvaluateWithTrace(record)
		if err != nil {
			t.Fatalf("EvaluateWithTrace() failed: %v", err)
		}

		if fast.Decision != traced.Decision || fast.MatchedRuleID != traced.MatchedRuleID || fast.RiskScore != traced.RiskScore {
			t.Errorf("traced result %+v differs from untraced %+v", traced, fast)
		}
	}
}

func TestTraceCoversEveryRule(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	// R1 matches, but the trace must still show what DEFAULT would have
	// done: no short-circuit on the traced path.
	result, trace, err := engine.EvaluateWithTrace(Record{"transaction_id": "tx-9", "transaction_amount": 15000})
	if err != nil {
		t.Fatalf("EvaluateWithTrace() failed: %v", err)
	}

	if len(trace.EvaluatedRules) != 2 {
		t.Fatalf("EvaluatedRules length = %d, want 2", len(trace.EvaluatedRules))
	}
	if trace.MatchedRuleIndex != 0 {
		t.Errorf("MatchedRuleIndex = %d, want 0", trace.MatchedRuleIndex)
	}
	if !trace.EvaluatedRules[1].Matched {
		t.Error("catch-all should be marked matched in the trace even though R1 won")
	}
	if trace.ConfigVersion != "v1" {
		t.Errorf("ConfigVersion = %s, want v1", trace.ConfigVersion)
	}
	if trace.TransactionID != "tx-9" {
		t.Errorf("TransactionID = %s, want tx-9", trace.TransactionID)
	}
	if result.MatchedRuleID != "R1" {
		t.Errorf("MatchedRuleID = %s, want R1", result.MatchedRuleID)
	}
}

func TestTraceRecordsConditionDetail(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	_, trace, err := engine.EvaluateWithTrace(Record{"transaction_amount": 15000})
	if err != nil {
		t.Fatalf("EvaluateWithTrace() failed: %v", err)
	}

	conds := trace.EvaluatedRules[0].Conditions
	if len(conds) != 1 {
		t.Fatalf("Conditions length = %d, want 1", len(conds))
	}
	ce := conds[0]
	if ce.Field != "transaction_amount" || ce.Operator != OpGreaterThan {
		t.Errorf("condition trace = %+v, want transaction_amount > trace", ce)
	}
	if !ce.Passed {
		t.Error("condition should have passed")
	}
	if ce.ActualValue == nil {
		t.Error("ActualValue should carry the record's value")
	}
}

func TestTraceAbsentFieldKeepsNilActualValue(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	_, trace, err := engine.EvaluateWithTrace(Record{"transaction_id": "tx-10"})
	if err != nil {
		t.Fatalf("EvaluateWithTrace() failed: %v", err)
	}

	ce := trace.EvaluatedRules[0].Conditions[0]
	if ce.ActualValue != nil {
		t.Errorf("ActualValue = %v, want nil for absent field", ce.ActualValue)
	}
	if ce.Passed {
		t.Error("absent field condition must not pass")
	}
}

func TestTraceSerializesEmptyConditionsAsList(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules[0].Conditions = nil // AND/OR with no conditions, plus the catch-all

	engine := NewEngine(rs)
	_, trace, err := engine.EvaluateWithTrace(Record{"transaction_id": "tx-11", "transaction_amount": 500})
	if err != nil {
		t.Fatalf("EvaluateWithTrace() failed: %v", err)
	}

	for i, eval := range trace.EvaluatedRules {
		if eval.Conditions == nil {
			t.Fatalf("EvaluatedRules[%d].Conditions is nil, want empty list", i)
		}
		raw, err := json.Marshal(eval)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		if !strings.Contains(string(raw), `"conditions":[]`) {
			t.Errorf("EvaluatedRules[%d] serialized as %s, want \"conditions\":[]", i, raw)
		}
	}
}

func TestTraceMissingCatchAllIsFatal(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules = rs.Rules[:1]

	engine := NewEngine(rs)
	_, _, err := engine.EvaluateWithTrace(Record{"transaction_amount": 500})

	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error should be *NoMatchError, got %v", err)
	}
}

func TestEvaluateBatchKeepsInputOrder(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	records := make([]Record, 50)
	for i := range records {
		amount := 100
		if i%2 == 0 {
			amount = 20000
		}
		records[i] = Record{"transaction_amount": amount}
	}

	results, err := engine.EvaluateBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("EvaluateBatch() failed: %v", err)
	}
	if len(results) != len(records) {
		t.Fatalf("results length = %d, want %d", len(results), len(records))
	}

	for i, result := range results {
		want := DecisionAllow
		if i%2 == 0 {
			want = DecisionBlock
		}
		if result.Decision != want {
			t.Errorf("results[%d].Decision = %s, want %s", i, result.Decision, want)
		}
	}
}

func TestEvaluateBatchAbortsOnCorruptRuleSet(t *testing.T) {
	rs := fraudRuleSet()
	rs.Rules = rs.Rules[:1] // no catch-all: small amounts cannot match

	engine := NewEngine(rs)
	records := []Record{
		{"transaction_amount": 20000},
		{"transaction_amount": 5}, // triggers NoMatchError
		{"transaction_amount": 30000},
	}

	_, err := engine.EvaluateBatch(context.Background(), records)
	if err == nil {
		t.Fatal("EvaluateBatch() should abort the whole batch on a corrupt rule set")
	}

	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error should be *NoMatchError, got %T", err)
	}
}

func TestEvaluateBatchWithTrace(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	items, err := engine.EvaluateBatchWithTrace(context.Background(), []Record{
		{"transaction_id": "a", "transaction_amount": 15000},
		{"transaction_id": "b", "transaction_amount": 50},
	})
	if err != nil {
		t.Fatalf("EvaluateBatchWithTrace() failed: %v", err)
	}

	if items[0].Result.Decision != DecisionBlock {
		t.Errorf("items[0].Decision = %s, want BLOCK", items[0].Result.Decision)
	}
	if items[1].Result.Decision != DecisionAllow {
		t.Errorf("items[1].Decision = %s, want ALLOW", items[1].Result.Decision)
	}
	for i, item := range items {
		if item.Trace == nil {
			t.Fatalf("items[%d].Trace is nil", i)
		}
		if len(item.Trace.EvaluatedRules) != 2 {
			t.Errorf("items[%d] trace covers %d rules, want 2", i, len(item.Trace.EvaluatedRules))
		}
	}
}

func TestEvaluateBatchHonorsCancelledContext(t *testing.T) {
	engine := NewEngine(fraudRuleSet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.EvaluateBatch(ctx, []Record{{"transaction_amount": 1}})
	if err == nil {
		t.Fatal("EvaluateBatch() with a cancelled context should fail")
	}
}

func TestRecordTransactionID(t *testing.T) {
	if got := (Record{"transaction_id": "tx-42"}).TransactionID(); got != "tx-42" {
		t.Errorf("TransactionID() = %s, want tx-42", got)
	}
	if got := (Record{}).TransactionID(); got != "unknown" {
		t.Errorf("TransactionID() = %s, want unknown", got)
	}
	if got := (Record{"transaction_id": 17}).TransactionID(); got != "unknown" {
		t.Errorf("TransactionID() with non-string id = %s, want unknown", got)
	}
}
