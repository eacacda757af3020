package rules

import (
	"sort"
	"sync"
)

// MemoryBackend implements Backend with an in-memory map. Useful for tests
// and for callers that manage durability themselves.
type MemoryBackend struct {
	sets map[string]*RuleSet
	mu   sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sets: make(map[string]*RuleSet)}
}

// Load returns a copy of the stored document for a version.
func (b *MemoryBackend) Load(version string) (*RuleSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rs, ok := b.sets[version]
	if !ok {
		return nil, &NotFoundError{Kind: "version", ID: version}
	}
	return rs.Clone(), nil
}

// Save stores a copy of the document under rs.Version.
func (b *MemoryBackend) Save(rs *RuleSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sets[rs.Version] = rs.Clone()
	return nil
}

// Versions lists the stored versions.
func (b *MemoryBackend) Versions() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	versions := make([]string, 0, len(b.sets))
	for v := range b.sets {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}
