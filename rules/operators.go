package rules

import (
	"reflect"
	"strings"
)

// Operator is a comparison applied between a record field and a condition's
// expected value. The set is closed: every recognized operator has an explicit
// branch in apply, and anything else is rejected as a corrupt rule definition
// rather than silently not matching.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
)

// Valid reports whether op is a recognized operator.
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpEqual, OpNotEqual, OpIn, OpNotIn:
		return true
	}
	return false
}

// apply evaluates actual <op> expected. Ordinal operators compare numbers
// numerically and strings lexically; mismatched or unorderable types do not
// satisfy the comparison. An unrecognized operator returns
// *UnknownOperatorError: that is a corrupt rule set, not bad input data.
func apply(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpGreaterThan:
		cmp, ok := compareOrdered(actual, expected)
		return ok && cmp > 0, nil
	case OpLessThan:
		cmp, ok := compareOrdered(actual, expected)
		return ok && cmp < 0, nil
	case OpGreaterOrEqual:
		cmp, ok := compareOrdered(actual, expected)
		return ok && cmp >= 0, nil
	case OpLessOrEqual:
		cmp, ok := compareOrdered(actual, expected)
		return ok && cmp <= 0, nil
	case OpEqual:
		return looseEqual(actual, expected), nil
	case OpNotEqual:
		return !looseEqual(actual, expected), nil
	case OpIn:
		return contains(expected, actual), nil
	case OpNotIn:
		return !contains(expected, actual), nil
	default:
		return false, &UnknownOperatorError{Operator: string(op)}
	}
}

// compareOrdered returns -1/0/+1 and whether the two values are comparable.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// looseEqual compares values with numeric types unified, so a JSON float64
// 100 equals a YAML int 100. Everything else must match exactly.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// contains tests membership of needle in collection. Collections are the
// slice shapes produced by YAML/JSON decoding; a string collection tests
// substring containment, mirroring the reference semantics.
func contains(collection, needle any) bool {
	switch c := collection.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(c, s)
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, e := range c {
			if e == s {
				return true
			}
		}
		return false
	}
	v := reflect.ValueOf(collection)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if looseEqual(v.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

// toFloat widens any numeric type a decoder might hand us to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
