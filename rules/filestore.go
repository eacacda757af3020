package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileBackend persists each rule-set version as a human-editable YAML
// document rules_<version>.yaml inside a config directory. Every save
// replaces the whole file; writes go to a temp file first and are renamed
// into place so a crash never leaves a partially written document.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir, creating the
// directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the config directory the backend reads and writes.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the document path for a version.
func (b *FileBackend) Path(version string) string {
	return filepath.Join(b.dir, "rules_"+version+".yaml")
}

// Load reads and decodes the document for a version.
func (b *FileBackend) Load(version string) (*RuleSet, error) {
	data, err := os.ReadFile(b.Path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Kind: "version", ID: version}
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file for version %s: %w", version, err)
	}
	if rs.Version == "" {
		rs.Version = version
	}
	return &rs, nil
}

// Save writes the full document for rs.Version atomically.
func (b *FileBackend) Save(rs *RuleSet) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to encode rule set: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, "rules_*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.Path(rs.Version)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace rules file: %w", err)
	}
	return nil
}

// Versions lists the versions present in the config directory, sorted.
func (b *FileBackend) Versions() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "rules_") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(strings.TrimPrefix(name, "rules_"), ".yaml"))
	}
	sort.Strings(versions)
	return versions, nil
}
