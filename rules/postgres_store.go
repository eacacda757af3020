package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend persists rule-set documents in PostgreSQL, one row per
// version with the full document serialized as JSON. The whole-document
// contract is the same as the file backend's: Save replaces the row's
// document, never patches it.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a backend over an open database handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Load reads the document for a version.
func (b *PostgresBackend) Load(version string) (*RuleSet, error) {
	var document []byte
	err := b.db.QueryRow(`
		SELECT document
		FROM rulesets
		WHERE version = $1
	`, version).Scan(&document)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "version", ID: version}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule set: %w", err)
	}

	var rs RuleSet
	if err := json.Unmarshal(document, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set document for version %s: %w", version, err)
	}
	return &rs, nil
}

// Save upserts the full document for rs.Version.
func (b *PostgresBackend) Save(rs *RuleSet) error {
	document, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to encode rule set: %w", err)
	}

	_, err = b.db.Exec(`
		INSERT INTO rulesets (version, domain, document, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (version)
		DO UPDATE SET domain = EXCLUDED.domain, document = EXCLUDED.document, updated_at = NOW()
	`, rs.Version, rs.Domain, document)

	if err != nil {
		return fmt.Errorf("failed to save rule set: %w", err)
	}
	return nil
}

// Versions lists the stored versions.
func (b *PostgresBackend) Versions() ([]string, error) {
	rows, err := b.db.Query(`SELECT version FROM rulesets ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}
