package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

// Store owns validated, ordered rule sets per version.
//
// Writers are serialized per version: at most one mutation is in flight for
// a given version at a time, and every mutation rebuilds the full rule
// sequence, persists it through the backend, then publishes the new
// snapshot. Readers always see either the previous or the new snapshot,
// never a partial edit. Different versions are fully independent.
type Store struct {
	backend Backend
	cache   SnapshotCache

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

// NewStore creates a store over a backend with the default in-memory
// snapshot cache.
func NewStore(backend Backend) *Store {
	return NewStoreWithCache(backend, NewInMemorySnapshotCache(DefaultCacheConfig()))
}

// NewStoreWithCache creates a store with a caller-provided snapshot cache.
func NewStoreWithCache(backend Backend, cache SnapshotCache) *Store {
	return &Store{
		backend: backend,
		cache:   cache,
		writers: make(map[string]*sync.Mutex),
	}
}

// writer returns the single-writer lock for a version.
func (s *Store) writer(version string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.writers[version]
	if !ok {
		w = &sync.Mutex{}
		s.writers[version] = w
	}
	return w
}

// Snapshot returns the current rule set for a version, loading it from the
// backend on a cache miss. The returned snapshot is shared and immutable:
// callers, including engines, must not modify it.
//
// The miss path takes the per-version writer lock and re-checks the cache
// under it. Without that, a reader loading the old document could publish
// it over a snapshot committed between its load and its cache write, hiding
// the committed mutation and feeding a stale base to the next writer.
func (s *Store) Snapshot(version string) (*RuleSet, error) {
	if rs := s.cache.Get(version); rs != nil {
		return rs, nil
	}

	w := s.writer(version)
	w.Lock()
	defer w.Unlock()

	return s.snapshotLocked(version)
}

// snapshotLocked is the miss path of Snapshot. The caller must hold the
// writer lock for the version.
func (s *Store) snapshotLocked(version string) (*RuleSet, error) {
	if rs := s.cache.Get(version); rs != nil {
		return rs, nil
	}

	rs, err := s.backend.Load(version)
	if err != nil {
		return nil, err
	}
	s.cache.Set(version, rs)
	return rs, nil
}

// Load returns a defensive copy of the rule set for a version. The copy
// does not reflect later mutations.
func (s *Store) Load(version string) (*RuleSet, error) {
	rs, err := s.Snapshot(version)
	if err != nil {
		return nil, err
	}
	return rs.Clone(), nil
}

// GetRule returns a copy of one rule.
func (s *Store) GetRule(version, ruleID string) (Rule, error) {
	rs, err := s.Snapshot(version)
	if err != nil {
		return Rule{}, err
	}
	r := rs.Get(ruleID)
	if r == nil {
		return Rule{}, &NotFoundError{Kind: "rule", ID: ruleID}
	}
	return r.Clone(), nil
}

// Versions lists the versions known to the backend.
func (s *Store) Versions() ([]string, error) {
	return s.backend.Versions()
}

// Invalidate drops the cached snapshot for a version, forcing a backend
// reload on next access. Used when the backing document was edited out of
// band.
func (s *Store) Invalidate(version string) {
	s.cache.Invalidate(version)
}

// ValidateRule checks a rule standalone and returns one message per
// problem, empty when the rule is structurally valid. Cross-rule invariants
// (a single catch-all, in last position) are commit-time checks in the
// store, not part of standalone validation.
func ValidateRule(r Rule) []string {
	var errs []string

	if r.ID == "" {
		errs = append(errs, "missing required field: id")
	}
	if r.Name == "" {
		errs = append(errs, "missing required field: name")
	}
	if !r.Logic.Valid() {
		errs = append(errs, fmt.Sprintf("logic must be one of AND, OR, ALWAYS; got %q", r.Logic))
	}
	if r.Logic != LogicAlways && len(r.Conditions) == 0 {
		errs = append(errs, "conditions must be non-empty unless logic is ALWAYS")
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			errs = append(errs, fmt.Sprintf("conditions[%d]: missing required field: field", i))
		}
		if !c.Operator.Valid() {
			errs = append(errs, fmt.Sprintf("conditions[%d]: unknown operator %q", i, c.Operator))
		}
	}
	if r.Outcome.RiskScore < 0 || r.Outcome.RiskScore > 100 {
		errs = append(errs, fmt.Sprintf("outcome.risk_score must be in [0, 100]; got %d", r.Outcome.RiskScore))
	}
	if !r.Outcome.Decision.Valid() {
		errs = append(errs, fmt.Sprintf("outcome.decision must be one of ALLOW, REVIEW, BLOCK; got %q", r.Outcome.Decision))
	}

	return errs
}

// AddRule validates and inserts a rule into a version. With a position
// (0-based) the rule is inserted there, clamped to the sequence bounds;
// without one it is appended before the catch-all. A rule with logic ALWAYS
// is always normalized to the last slot regardless of the requested
// position, and is rejected when the version already has a catch-all.
func (s *Store) AddRule(version string, rule Rule, position *int) error {
	if errs := ValidateRule(rule); len(errs) > 0 {
		return &ValidationError{RuleID: rule.ID, Errors: errs}
	}

	w := s.writer(version)
	w.Lock()
	defer w.Unlock()

	cur, err := s.snapshotLocked(version)
	if err != nil {
		return err
	}
	if cur.Get(rule.ID) != nil {
		return &ConflictError{RuleID: rule.ID, Version: version}
	}

	next := cur.Clone()
	idx := len(next.Rules)
	if position != nil {
		idx = *position
		if idx < 0 {
			idx = 0
		}
		if idx > len(next.Rules) {
			idx = len(next.Rules)
		}
	}
	next.Rules = append(next.Rules, Rule{})
	copy(next.Rules[idx+1:], next.Rules[idx:])
	next.Rules[idx] = rule.Clone()

	return s.commit(version, next)
}

// UpdateRule replaces the fields of an existing rule, preserving its
// position unless its logic changed to or from ALWAYS, in which case the
// order is re-normalized (and the commit fails if the version would be left
// without a catch-all).
func (s *Store) UpdateRule(version, ruleID string, updated Rule) error {
	updated.ID = ruleID
	if errs := ValidateRule(updated); len(errs) > 0 {
		return &ValidationError{RuleID: ruleID, Errors: errs}
	}

	w := s.writer(version)
	w.Lock()
	defer w.Unlock()

	cur, err := s.snapshotLocked(version)
	if err != nil {
		return err
	}
	if cur.Get(ruleID) == nil {
		return &NotFoundError{Kind: "rule", ID: ruleID}
	}

	next := cur.Clone()
	for i := range next.Rules {
		if next.Rules[i].ID == ruleID {
			next.Rules[i] = updated.Clone()
			break
		}
	}

	return s.commit(version, next)
}

// DeleteRule removes a rule. Deleting the catch-all is refused: a rule set
// must always retain exactly one ALWAYS rule.
func (s *Store) DeleteRule(version, ruleID string) error {
	w := s.writer(version)
	w.Lock()
	defer w.Unlock()

	cur, err := s.snapshotLocked(version)
	if err != nil {
		return err
	}
	r := cur.Get(ruleID)
	if r == nil {
		return &NotFoundError{Kind: "rule", ID: ruleID}
	}
	if r.Logic == LogicAlways {
		return ErrDeleteCatchAll
	}

	next := cur.Clone()
	for i := range next.Rules {
		if next.Rules[i].ID == ruleID {
			next.Rules = append(next.Rules[:i], next.Rules[i+1:]...)
			break
		}
	}

	return s.commit(version, next)
}

// Reorder replaces the stored order with the given id sequence. The ids
// must be an exact permutation of the existing rule ids, and the catch-all
// must come last in the proposed order.
func (s *Store) Reorder(version string, ruleIDs []string) error {
	w := s.writer(version)
	w.Lock()
	defer w.Unlock()

	cur, err := s.snapshotLocked(version)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(cur.Rules))
	for _, r := range cur.Rules {
		existing[r.ID] = true
	}
	proposed := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		proposed[id] = true
	}

	var missing, extra []string
	for id := range existing {
		if !proposed[id] {
			missing = append(missing, id)
		}
	}
	for _, id := range ruleIDs {
		if !existing[id] {
			extra = append(extra, id)
		}
	}
	if len(missing) > 0 || len(extra) > 0 || len(ruleIDs) != len(cur.Rules) {
		sort.Strings(missing)
		sort.Strings(extra)
		return &MismatchError{Missing: missing, Extra: extra}
	}

	if last := cur.Get(ruleIDs[len(ruleIDs)-1]); last == nil || last.Logic != LogicAlways {
		return &OrderError{Reason: "catch-all rule (logic: ALWAYS) must be last in the order"}
	}

	next := cur.Clone()
	reordered := make([]Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		reordered = append(reordered, next.Get(id).Clone())
	}
	next.Rules = reordered

	return s.commit(version, next)
}

// commit normalizes the order, enforces the catch-all invariant, persists
// the document through the backend, and only then publishes the snapshot.
// Validation happens strictly before the save, so a failed commit never
// corrupts committed state.
func (s *Store) commit(version string, next *RuleSet) error {
	normalize(next)
	if err := checkInvariant(next); err != nil {
		return err
	}
	if err := s.backend.Save(next); err != nil {
		return fmt.Errorf("failed to persist version %s: %w", version, err)
	}
	s.cache.Set(version, next)
	return nil
}

// normalize moves the catch-all rule to the last slot, preserving the
// relative order of the other rules.
func normalize(rs *RuleSet) {
	idx := rs.CatchAll()
	if idx < 0 || idx == len(rs.Rules)-1 {
		return
	}
	catchAll := rs.Rules[idx]
	rs.Rules = append(rs.Rules[:idx], rs.Rules[idx+1:]...)
	rs.Rules = append(rs.Rules, catchAll)
}

// checkInvariant verifies the structural invariant of a committed rule
// set: exactly one ALWAYS rule, in last position.
func checkInvariant(rs *RuleSet) error {
	count := 0
	for _, r := range rs.Rules {
		if r.Logic == LogicAlways {
			count++
		}
	}
	switch {
	case count == 0:
		return &OrderError{Reason: "rule set must contain a catch-all rule (logic: ALWAYS)"}
	case count > 1:
		return &OrderError{Reason: "rule set must contain exactly one catch-all rule"}
	}
	if rs.Rules[len(rs.Rules)-1].Logic != LogicAlways {
		return &OrderError{Reason: "catch-all rule (logic: ALWAYS) must be last"}
	}
	return nil
}

var ruleIDPattern = regexp.MustCompile(`^R(\d+)$`)

// NextRuleID returns the lowest-numbered unused id in the conventional
// R<n> naming scheme. It never collides with an existing id, including ids
// outside the scheme.
func NextRuleID(rs *RuleSet) string {
	used := make(map[int]bool)
	for _, r := range rs.Rules {
		if m := ruleIDPattern.FindStringSubmatch(r.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				used[n] = true
			}
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return fmt.Sprintf("R%d", n)
}
