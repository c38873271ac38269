package migrate_test

import (
	"testing"

	"caseline/internal/db"
	"caseline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected applied version >= 1, got %d", version)
	}
	// a second run against a current store must change nothing
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}
	var again int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&again); err != nil {
		t.Fatal(err)
	}
	if again != version {
		t.Fatalf("version moved from %d to %d on re-run", version, again)
	}
	for _, table := range []string{"cases", "artifacts", "case_events", "stage_roles", "role_settings", "api_keys"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}
