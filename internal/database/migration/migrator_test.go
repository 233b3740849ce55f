package migration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/freekieb7/lockbox/internal/database"
	"github.com/freekieb7/lockbox/internal/database/migration"
)

func TestUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "lockbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	migrator := migration.NewMigrator(db, migration.DialectSQLite)
	migrations := migration.All()

	if err := migrator.Up(ctx, migrations); err != nil {
		t.Fatal(err)
	}

	applied, err := migrator.Applied(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != len(migrations) {
		t.Fatalf("expected %d applied migrations, got %d", len(migrations), len(applied))
	}
	for i, m := range migrations {
		if applied[i].Id != m.Identifier() {
			t.Errorf("migrator stored unexpected migration: got %v want %v", applied[i].Id, m.Identifier())
		}
	}

	for _, table := range []string{"tbl_revoked_token", "tbl_user_invalidation", "tbl_user"} {
		var name string
		row := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err := row.Scan(&name); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	t.Run("second run is a no-op", func(t *testing.T) {
		if err := migrator.Up(ctx, migrations); err != nil {
			t.Fatal(err)
		}
		applied, err := migrator.Applied(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(applied) != len(migrations) {
			t.Fatalf("expected %d applied migrations, got %d", len(migrations), len(applied))
		}
	})
}
