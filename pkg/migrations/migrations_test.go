package migrations

import (
	"context"
	"testing"

	"github.com/omnibridge/bridge-runtime/pkg/migrations/relayerdb"
	"github.com/omnibridge/bridge-runtime/pkg/pgutil"
	"github.com/uptrace/bun/migrate"
)

func TestRelayerDBMigrations_Apply(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)

	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("expected migrations to run, but none were applied")
	}

	expectedTables := []string{
		"incomplete_operations",
		"operations_log",
		"pending_tasks",
		"nonce_counter",
		"config",
		"master_key",
		"utxo_ledger",
		"used_utxos",
		"reveal_utxos",
		"brc20_rune_store",
		"mint_orders",
		"burn_requests",
		"bun_migrations",
	}
	for _, table := range expectedTables {
		pgutil.AssertTableExists(t, db, table)
	}

	pgutil.AssertIndexExists(t, db, "idx_incomplete_operations_address")
	pgutil.AssertIndexExists(t, db, "idx_incomplete_operations_memo")
}

func TestRelayerDBMigrations_Idempotency(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)

	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate() failed: %v", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("expected no new migrations on second run")
	}
}

func TestRelayerDBMigrations_Rollback(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, relayerdb.Migrations)

	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	pgutil.AssertTableExists(t, db, "incomplete_operations")

	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("expected rollback to process a migration group")
	}
	pgutil.AssertTableNotExists(t, db, "incomplete_operations")
}
