package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step. SQL runs first, then Apply
// when set; both share the migration's transaction.
type Migration struct {
	Version     int
	Description string
	SQL         string
	Apply       func(tx *sql.Tx) error
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version" yaml:"current_version"`
	AvailableVersion int             `json:"available_version" yaml:"available_version"`
	Pending          []MigrationInfo `json:"pending" yaml:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: categories and digests tables",
		SQL: `
CREATE TABLE IF NOT EXISTS categories (
  label TEXT PRIMARY KEY,
  description TEXT
);

CREATE TABLE IF NOT EXISTS digests (
  digest BLOB PRIMARY KEY,
  category_label TEXT REFERENCES categories(label),
  timestamp TEXT,
  byte_size INTEGER
);
`,
	},
	{
		Version:     2,
		Description: "index digests by category and timestamp",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_digests_category ON digests(category_label);
CREATE INDEX IF NOT EXISTS idx_digests_timestamp ON digests(timestamp);
`,
	},
	{
		Version:     3,
		Description: "settings table pinning hash algorithm and shard depth",
		SQL: `
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "rewrite legacy timestamps into the fixed-width UTC layout",
		Apply:       restampLegacyTimestamps,
	},
}

// restampLegacyTimestamps rewrites every timestamp that is not already in
// dbTimeLayout. Range filters compare the column as text, so a naive
// "2016-08-01 12:30:00" row would otherwise sort before any rewritten one.
// Values that do not parse are left alone; reads report them.
func restampLegacyTimestamps(tx *sql.Tx) error {
	rows, err := tx.Query("SELECT digest, timestamp FROM digests WHERE timestamp IS NOT NULL")
	if err != nil {
		return err
	}
	type restamp struct {
		digest []byte
		value  string
	}
	var pending []restamp
	for rows.Next() {
		var (
			d   []byte
			raw string
		)
		if err := rows.Scan(&d, &raw); err != nil {
			rows.Close()
			return err
		}
		parsed, err := dbParseTime(raw)
		if err != nil {
			continue
		}
		if formatted := dbFormatTime(parsed); formatted != raw {
			pending = append(pending, restamp{digest: d, value: formatted})
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		if _, err := tx.Exec("UPDATE digests SET timestamp = ? WHERE digest = ?", r.value, r.digest); err != nil {
			return fmt.Errorf("restamp %x: %w", r.digest, err)
		}
	}
	return nil
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// detectPreMigrationDB checks if the digests table exists but no migrations
// have been recorded. Index files written by earlier tooling have the same
// two tables and no version history.
func detectPreMigrationDB(db *sql.DB) (bool, error) {
	var digestsExist int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='digests'").Scan(&digestsExist)
	if err != nil {
		return false, err
	}
	if digestsExist == 0 {
		return false, nil
	}

	var migrationsExist int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&migrationsExist)
	if err != nil {
		return false, err
	}
	if migrationsExist == 0 {
		return true, nil
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

// runMigrations applies all pending migrations in order.
func runMigrations(db *sql.DB) error {
	// Detect pre-migration databases BEFORE creating the migrations table.
	preMigration, err := detectPreMigrationDB(db)
	if err != nil {
		return fmt.Errorf("detect pre-migration db: %w", err)
	}

	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	if preMigration {
		if _, err := db.Exec("INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", 1); err != nil {
			return fmt.Errorf("stamp pre-migration db: %w", err)
		}
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range sortedMigrations() {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if m.SQL != "" {
			if _, err := tx.Exec(m.SQL); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
			}
		}
		if m.Apply != nil {
			if err := m.Apply(tx); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
			}
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationPlan returns the current migration status without applying anything.
func MigrationPlan(db *sql.DB) (*MigrationStatus, error) {
	preMigration, err := detectPreMigrationDB(db)
	if err != nil {
		return nil, err
	}

	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return nil, err
	}

	effective := current
	if preMigration && effective == 0 {
		effective = 1
	}

	sorted := sortedMigrations()
	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > effective {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		CurrentVersion:   effective,
		AvailableVersion: available,
		Pending:          pending,
	}, nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (int, error) {
	return currentVersion(s.db)
}
