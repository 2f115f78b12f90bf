package store

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	return rawDBAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func rawDBAt(t *testing.T, path string) *sql.DB {
	t.Helper()
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func latestVersion() int {
	sorted := sortedMigrations()
	return sorted[len(sorted)-1].Version
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count); err != nil {
		t.Fatalf("check %s: %v", name, err)
	}
	return count == 1
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected version %d, got %d", latestVersion(), version)
	}

	for _, name := range []string{"categories", "digests", "settings"} {
		if !tableExists(t, db, name) {
			t.Fatalf("%s table not created", name)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestDetectPreMigrationDB(t *testing.T) {
	db := testRawDB(t)

	pre, err := detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if pre {
		t.Fatal("empty DB should not be pre-migration")
	}

	// Index file laid out by older tooling: both tables, no version history.
	legacy := []string{
		"CREATE TABLE categories (label TEXT PRIMARY KEY, description TEXT)",
		"CREATE TABLE digests (digest BLOB PRIMARY KEY, category_label TEXT REFERENCES categories(label), timestamp TEXT, byte_size INTEGER)",
		"INSERT INTO categories (label, description) VALUES ('cat1', 'legacy')",
		"INSERT INTO digests (digest, category_label, timestamp, byte_size) VALUES (x'abcd', 'cat1', '2016-08-01 12:30:00.123456', 4)",
	}
	for _, stmt := range legacy {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed legacy db: %v", err)
		}
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !pre {
		t.Fatal("DB with digests but no schema_migrations should be pre-migration")
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect after migration: %v", err)
	}
	if pre {
		t.Fatal("after migration should not be pre-migration")
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected version %d, got %d", latestVersion(), version)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM digests").Scan(&rows); err != nil {
		t.Fatalf("count legacy rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected legacy row to survive migration, got %d rows", rows)
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 {
		t.Fatalf("expected current 0, got %d", plan.CurrentVersion)
	}
	if plan.AvailableVersion != latestVersion() {
		t.Fatalf("expected available %d, got %d", latestVersion(), plan.AvailableVersion)
	}
	if len(plan.Pending) != len(migrations) {
		t.Fatalf("expected %d pending, got %d", len(migrations), len(plan.Pending))
	}
}

func TestMigrationPlanPreMigrationDB(t *testing.T) {
	db := testRawDB(t)
	if _, err := db.Exec("CREATE TABLE digests (digest BLOB PRIMARY KEY)"); err != nil {
		t.Fatalf("create digests: %v", err)
	}

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 1 {
		t.Fatalf("expected legacy db to count as version 1, got %d", plan.CurrentVersion)
	}
	if len(plan.Pending) != len(migrations)-1 {
		t.Fatalf("expected %d pending, got %d", len(migrations)-1, len(plan.Pending))
	}
	if plan.Pending[0].Version != 2 {
		t.Fatalf("expected first pending version 2, got %d", plan.Pending[0].Version)
	}
}

func TestStoreSchemaVersion(t *testing.T) {
	st := testStore(t)
	version, err := st.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestLegacyTimestampsRewrittenOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw := rawDBAt(t, path)

	current := time.Date(2016, 8, 2, 9, 0, 0, 0, time.UTC)
	legacy := []string{
		"CREATE TABLE categories (label TEXT PRIMARY KEY, description TEXT)",
		"CREATE TABLE digests (digest BLOB PRIMARY KEY, category_label TEXT REFERENCES categories(label), timestamp TEXT, byte_size INTEGER)",
		"INSERT INTO categories (label, description) VALUES ('cat1', 'legacy')",
		"INSERT INTO digests VALUES (x'aa01', 'cat1', '2016-08-01 12:30:00', 1)",
		"INSERT INTO digests VALUES (x'aa02', 'cat1', '2016-08-01 12:30:00.25', 1)",
		"INSERT INTO digests VALUES (x'aa03', 'cat1', '2016-08-01T12:30:00.5Z', 1)",
		"INSERT INTO digests VALUES (x'aa04', 'cat1', '" + dbFormatTime(current) + "', 1)",
	}
	for _, stmt := range legacy {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("seed legacy db: %v", err)
		}
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	st, err := Open(path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	naive, err := time.ParseInLocation("2006-01-02 15:04:05", "2016-08-01 12:30:00", time.Local)
	if err != nil {
		t.Fatalf("parse naive: %v", err)
	}
	tests := []struct {
		digest string
		want   time.Time
	}{
		{digest: "aa01", want: naive},
		{digest: "aa02", want: naive.Add(250 * time.Millisecond)},
		{digest: "aa03", want: time.Date(2016, 8, 1, 12, 30, 0, 500_000_000, time.UTC)},
		{digest: "aa04", want: current},
	}
	for _, tt := range tests {
		t.Run(tt.digest, func(t *testing.T) {
			var stored string
			if err := st.db.QueryRow("SELECT timestamp FROM digests WHERE digest = ?", []byte(mustDigest(t, tt.digest))).Scan(&stored); err != nil {
				t.Fatalf("read timestamp: %v", err)
			}
			if stored != dbFormatTime(tt.want) {
				t.Fatalf("expected %q, got %q", dbFormatTime(tt.want), stored)
			}
		})
	}

	since, until := naive, naive.Add(time.Nanosecond)
	matches, err := st.QueryRecords(context.Background(), RecordFilter{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("query range: %v", err)
	}
	if len(matches) != 1 || matches[0].Digest.Hex() != "aa01" {
		t.Fatalf("expected only aa01 in range, got %+v", matches)
	}
}
