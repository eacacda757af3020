package rules

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine evaluates records against one immutable rule-set snapshot.
//
// The engine is pure: it holds no mutable state, performs no I/O, and never
// blocks during evaluation, so a single Engine is safe for concurrent use
// and records in a batch are evaluated independently.
type Engine struct {
	rs *RuleSet
}

// NewEngine creates an engine over a rule-set snapshot. The caller must not
// mutate the snapshot afterwards; snapshots obtained from a Store are safe.
func NewEngine(rs *RuleSet) *Engine {
	return &Engine{rs: rs}
}

// RuleSet returns the snapshot the engine was constructed with.
func (e *Engine) RuleSet() *RuleSet {
	return e.rs
}

// evaluateCondition applies one condition to a record. An absent field is a
// soft failure: the condition is false, never an error.
func evaluateCondition(cond Condition, record Record) (bool, error) {
	actual, ok := record.Get(cond.Field)
	if !ok {
		return false, nil
	}
	return apply(cond.Operator, actual, cond.Value)
}

// evaluateRule reports whether a rule matches a record.
//
// ALWAYS matches unconditionally. AND and OR with an empty condition list
// are false: a rule with no conditions must never silently match everything
// unless it is the catch-all. Any unrecognized logic value never matches;
// ValidateRule rejects such rules before they can be committed, so this
// branch only fires on a hand-edited snapshot.
func evaluateRule(rule Rule, record Record) (bool, error) {
	if rule.Logic == LogicAlways {
		return true, nil
	}
	if len(rule.Conditions) == 0 {
		return false, nil
	}
	switch rule.Logic {
	case LogicAnd:
		for _, cond := range rule.Conditions {
			ok, err := evaluateCondition(cond, record)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case LogicOr:
		for _, cond := range rule.Conditions {
			ok, err := evaluateCondition(cond, record)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// result builds the RuleResult for a matched rule.
func (e *Engine) result(rule Rule, record Record) *RuleResult {
	return &RuleResult{
		TransactionID:   record.TransactionID(),
		MatchedRuleID:   rule.ID,
		MatchedRuleName: rule.Name,
		RiskScore:       rule.Outcome.RiskScore,
		Decision:        rule.Outcome.Decision,
		RuleReason:      rule.Outcome.Reason,
	}
}

// Evaluate runs the fast path: rules in stored order, first match wins,
// remaining rules are skipped. *NoMatchError means the snapshot lacks its
// catch-all rule and is treated as an invariant violation, not a normal
// outcome.
func (e *Engine) Evaluate(record Record) (*RuleResult, error) {
	for _, rule := range e.rs.Rules {
		matched, err := evaluateRule(rule, record)
		if err != nil {
			return nil, err
		}
		if matched {
			return e.result(rule, record), nil
		}
	}
	return nil, &NoMatchError{Version: e.rs.Version}
}

// evaluateRuleTraced evaluates one rule without short-circuiting condition
// collection, producing the per-rule trace entry.
func evaluateRuleTraced(rule Rule, record Record) (RuleEvaluation, error) {
	start := time.Now()
	eval := RuleEvaluation{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Logic:      rule.Logic,
		Conditions: make([]ConditionEvaluation, 0, len(rule.Conditions)),
	}

	switch {
	case rule.Logic == LogicAlways:
		eval.Matched = true
	case len(rule.Conditions) == 0:
		eval.Matched = false
	default:
		allPassed, anyPassed := true, false
		for _, cond := range rule.Conditions {
			actual, present := record.Get(cond.Field)
			ce := ConditionEvaluation{
				Field:         cond.Field,
				Operator:      cond.Operator,
				ExpectedValue: cond.Value,
			}
			if present {
				passed, err := apply(cond.Operator, actual, cond.Value)
				if err != nil {
					return RuleEvaluation{}, err
				}
				ce.ActualValue = actual
				ce.Passed = passed
			}
			eval.Conditions = append(eval.Conditions, ce)
			allPassed = allPassed && ce.Passed
			anyPassed = anyPassed || ce.Passed
		}
		switch rule.Logic {
		case LogicAnd:
			eval.Matched = allPassed
		case LogicOr:
			eval.Matched = anyPassed
		}
	}

	eval.TimestampMS = float64(time.Since(start)) / float64(time.Millisecond)
	return eval, nil
}

// EvaluateWithTrace evaluates every rule in order without short-circuiting,
// so the trace shows what each rule would have done, not just the ones
// reached before the winner. The result is still taken from the first
// matching rule; its index is recorded as MatchedRuleIndex. The returned
// Decision is always identical to what Evaluate would produce for the same
// record.
func (e *Engine) EvaluateWithTrace(record Record) (*RuleResult, *EvaluationTrace, error) {
	start := time.Now()
	trace := &EvaluationTrace{
		TransactionID:    record.TransactionID(),
		EvaluatedRules:   make([]RuleEvaluation, 0, len(e.rs.Rules)),
		MatchedRuleIndex: -1,
		ConfigVersion:    e.rs.Version,
	}

	var result *RuleResult
	for idx, rule := range e.rs.Rules {
		eval, err := evaluateRuleTraced(rule, record)
		if err != nil {
			return nil, nil, err
		}
		trace.EvaluatedRules = append(trace.EvaluatedRules, eval)

		if eval.Matched && result == nil {
			trace.MatchedRuleIndex = idx
			result = e.result(rule, record)
		}
	}

	if result == nil {
		return nil, nil, &NoMatchError{Version: e.rs.Version}
	}

	trace.TotalEvaluationTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	return result, trace, nil
}

// EvaluateBatch evaluates records concurrently across a worker pool bounded
// by GOMAXPROCS. Results keep the input order. The batch is not isolated
// per record: the first evaluation error cancels the remaining work and
// fails the whole batch, since the only possible errors indicate a
// corrupted rule set that taints every result.
func (e *Engine) EvaluateBatch(ctx context.Context, records []Record) ([]*RuleResult, error) {
	results := make([]*RuleResult, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := e.Evaluate(record)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchItem pairs a batch result with its trace.
type BatchItem struct {
	Result *RuleResult
	Trace  *EvaluationTrace
}

// EvaluateBatchWithTrace is EvaluateBatch on the traced path. It shares the
// whole-batch abort policy.
func (e *Engine) EvaluateBatchWithTrace(ctx context.Context, records []Record) ([]BatchItem, error) {
	items := make([]BatchItem, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, trace, err := e.EvaluateWithTrace(record)
			if err != nil {
				return err
			}
			items[i] = BatchItem{Result: result, Trace: trace}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
