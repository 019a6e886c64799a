package db_test

import (
	"context"
	"testing"

	"github.com/fireflydesigns/meowbot/db"
	"github.com/fireflydesigns/meowbot/testutil"
)

func TestMigrateIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	// SetupTestDB already migrated once; a second and third run must be clean.
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("third migrate failed: %v", err)
	}
}

// A channel with recorded activity but no settings row gets its flags
// backfilled by the migration.
func TestMigrateBackfillsApprovalFromActivity(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	channel := "migrate_backfill_test"
	testutil.CleanCounters(t, database, channel)

	if _, err := database.ExecContext(ctx,
		`INSERT INTO streamer_totals (channel, total_meows) VALUES ($1, 7)
		 ON CONFLICT (channel) DO UPDATE SET total_meows = 7`, channel); err != nil {
		t.Fatalf("seed totals: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var approved, global bool
	err := database.QueryRowContext(ctx,
		`SELECT join_approved, global_access FROM channel_settings WHERE channel=$1`, channel).
		Scan(&approved, &global)
	if err != nil {
		t.Fatalf("settings row missing after backfill: %v", err)
	}
	if !approved || !global {
		t.Errorf("backfill flags = (%v, %v), want (true, true)", approved, global)
	}
}

// Databases carrying the legacy opt-in column get it folded into
// global_access without data loss.
func TestMigrateCarriesLegacyOptInColumn(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	channel := "migrate_legacy_test"
	testutil.CleanCounters(t, database, channel)

	if _, err := database.ExecContext(ctx,
		`ALTER TABLE channel_settings ADD COLUMN IF NOT EXISTS global_leaderboard_opt_in BOOLEAN DEFAULT FALSE`); err != nil {
		t.Fatalf("add legacy column: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(),
			`ALTER TABLE channel_settings DROP COLUMN IF EXISTS global_leaderboard_opt_in`)
	})
	if _, err := database.ExecContext(ctx,
		`INSERT INTO channel_settings (channel, global_leaderboard_opt_in) VALUES ($1, TRUE)
		 ON CONFLICT (channel) DO UPDATE SET global_leaderboard_opt_in = TRUE, global_access = FALSE`, channel); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var global bool
	if err := database.QueryRowContext(ctx,
		`SELECT global_access FROM channel_settings WHERE channel=$1`, channel).Scan(&global); err != nil {
		t.Fatalf("read row: %v", err)
	}
	if !global {
		t.Error("legacy opt-in not carried into global_access")
	}
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	access, refresh, _, scope, err := db.GetOAuthToken(ctx, database, "nonexistent")
	if err != nil {
		t.Fatalf("get missing token: %v", err)
	}
	if access != "" || refresh != "" || scope != "" {
		t.Errorf("missing provider should return zero values, got %q %q %q", access, refresh, scope)
	}
}
