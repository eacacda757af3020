package rules

// Backend persists rule-set documents. Each version is one whole document:
// Save replaces it entirely, never patches it. The store treats the backend
// as write-through storage; the in-memory snapshot is the source of truth
// between mutations.
type Backend interface {
	// Load reads the document for a version. Returns *NotFoundError when
	// the version does not exist.
	Load(version string) (*RuleSet, error)

	// Save writes the full document for rs.Version, replacing any
	// previous content.
	Save(rs *RuleSet) error

	// Versions lists the versions the backend knows about.
	Versions() ([]string, error)
}
