package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApplyMigrationFileIdempotent(t *testing.T) {
	sqdb, err := OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })

	path := filepath.Join("..", "..", "migrations", "001_init.sql")
	if err := ApplyMigrationFile(sqdb, path); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrationFile(sqdb, path); err != nil {
		t.Fatalf("second apply must be a no-op: %v", err)
	}

	for _, table := range []string{
		"users", "sessions", "compliance_records", "compliance_recipients",
		"compliance_reminders", "compliance_confirmations", "audit_log",
	} {
		var name string
		err := sqdb.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
