//go:build integration

package store

import (
	"context"
	"testing"
	"testing/fstest"
)

// migrationRecorded reports whether version has a schema_migrations row.
func migrationRecorded(t *testing.T, ctx context.Context, version string) bool {
	t.Helper()
	var ok bool
	err := testStore.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&ok)
	if err != nil {
		t.Fatalf("checking schema_migrations: %v", err)
	}
	return ok
}

func dropMigration(ctx context.Context, table string, versions ...string) {
	testStore.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	for _, v := range versions {
		testStore.pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", v)
	}
}

func TestMigrate_AppliesOnceAndCounts(t *testing.T) {
	ctx := context.Background()
	migrations := fstest.MapFS{
		"910_kiosk_a.sql": {Data: []byte("CREATE TABLE kiosk_migrate_tbl (id INT);")},
		"911_kiosk_b.sql": {Data: []byte("ALTER TABLE kiosk_migrate_tbl ADD COLUMN label TEXT;")},
	}
	t.Cleanup(func() { dropMigration(ctx, "kiosk_migrate_tbl", "910_kiosk_a.sql", "911_kiosk_b.sql") })

	// 911 depends on 910, so success also proves lexical order.
	n, err := testStore.Migrate(ctx, migrations)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if n != 2 {
		t.Errorf("first run applied %d, expected 2", n)
	}
	for _, v := range []string{"910_kiosk_a.sql", "911_kiosk_b.sql"} {
		if !migrationRecorded(t, ctx, v) {
			t.Errorf("%s not recorded", v)
		}
	}

	n, err = testStore.Migrate(ctx, migrations)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if n != 0 {
		t.Errorf("second run applied %d, expected 0", n)
	}
}

func TestMigrate_FailedFileLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	migrations := fstest.MapFS{
		"920_kiosk_ok.sql":  {Data: []byte("CREATE TABLE kiosk_partial_tbl (id INT);")},
		"921_kiosk_bad.sql": {Data: []byte("CREATE TABLE kiosk_bad_tbl (id INT); NOT SQL;")},
	}
	t.Cleanup(func() {
		dropMigration(ctx, "kiosk_partial_tbl", "920_kiosk_ok.sql", "921_kiosk_bad.sql")
		dropMigration(ctx, "kiosk_bad_tbl")
	})

	n, err := testStore.Migrate(ctx, migrations)
	if err == nil {
		t.Fatal("expected error for bad SQL")
	}
	if n != 1 {
		t.Errorf("applied %d before failure, expected 1", n)
	}
	if migrationRecorded(t, ctx, "921_kiosk_bad.sql") {
		t.Error("failed migration was recorded")
	}
	var exists bool
	testStore.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'kiosk_bad_tbl')",
	).Scan(&exists)
	if exists {
		t.Error("failed migration left a table behind")
	}
}

func TestMigrate_EmptyFS(t *testing.T) {
	n, err := testStore.Migrate(context.Background(), fstest.MapFS{})
	if err != nil || n != 0 {
		t.Errorf("Migrate(empty) = %d, %v", n, err)
	}
}
