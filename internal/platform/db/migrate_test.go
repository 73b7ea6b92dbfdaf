package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
}

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "010_add_index.sql", "CREATE INDEX x ON messages (id);")
	writeMigration(t, dir, "001_create_users.sql", "CREATE TABLE users (id TEXT);")
	writeMigration(t, dir, "002_create_messages.sql", "CREATE TABLE messages (id TEXT);")
	writeMigration(t, dir, "notes.txt", "ignored")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("position %d: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Name != "create_users" {
		t.Errorf("expected name create_users, got %s", migrations[0].Name)
	}
}

func TestLoadMigrationsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_a.sql", "SELECT 1;")
	writeMigration(t, dir, "001_b.sql", "SELECT 2;")

	m := NewMigrator(nil, dir)
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestParseMigrationName(t *testing.T) {
	version, name, err := parseMigrationName("003_create_conversations.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 3 || name != "create_conversations" {
		t.Errorf("got version=%d name=%s", version, name)
	}

	if _, _, err := parseMigrationName("bad.sql"); err == nil {
		t.Error("expected error for missing version prefix")
	}
	if _, _, err := parseMigrationName("x_bad.sql"); err == nil {
		t.Error("expected error for non-numeric version")
	}
}
