package migrations_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"geoattend/engine/internal/store/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := openDB(t)

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	for _, obj := range []struct{ kind, name string }{
		{"table", "attendance_events"},
		{"table", "site_membership"},
		{"trigger", "trg_attendance_events_membership"},
	} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type=? AND name=?", obj.kind, obj.name,
		).Scan(&name)
		if err != nil {
			t.Errorf("%s %s not found: %v", obj.kind, obj.name, err)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := openDB(t)

	if err := migrations.Run(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrations.Run(db); err != nil {
		t.Fatalf("second run (should be no-op): %v", err)
	}
}
