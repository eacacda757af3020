package rules

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeleteCatchAll is returned when a caller tries to delete the ALWAYS
// rule. A rule set must always retain exactly one catch-all.
var ErrDeleteCatchAll = errors.New("cannot delete the catch-all rule (logic: ALWAYS)")

// NotFoundError reports an unknown rule-set version or rule id.
type NotFoundError struct {
	Kind string // "version" or "rule"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ValidationError reports a structurally invalid rule. Each message names
// the offending field so the caller can correct the input.
type ValidationError struct {
	RuleID string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %s is invalid: %s", e.RuleID, strings.Join(e.Errors, "; "))
}

// ConflictError reports a duplicate rule id within a version.
type ConflictError struct {
	RuleID  string
	Version string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rule %s already exists in version %s", e.RuleID, e.Version)
}

// MismatchError reports a reorder request whose ids are not an exact
// permutation of the stored rule ids.
type MismatchError struct {
	Missing []string
	Extra   []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("rule id mismatch: missing %v, extra %v", e.Missing, e.Extra)
}

// OrderError reports an ordering that violates the catch-all invariant.
type OrderError struct {
	Reason string
}

func (e *OrderError) Error() string {
	return e.Reason
}

// UnknownOperatorError reports a condition operator outside the closed
// operator set. It indicates a corrupt rule set, not bad input data, and is
// surfaced as a hard failure.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Operator)
}

// NoMatchError reports that no rule matched a record. With a well-formed
// rule set this is unreachable (the catch-all matches everything), so its
// occurrence signals a corrupted or hand-edited rule set.
type NoMatchError struct {
	Version string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching rule in version %s and no catch-all rule defined", e.Version)
}
