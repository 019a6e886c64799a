// Package testutil provides test database setup and HTTP mocks shared across
// package tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fireflydesigns/meowbot/db"
)

// SetupTestDB creates a test database connection and runs the embedded
// migrations. It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// CleanCounters removes all counter and settings rows touching the given
// channel, for isolation between tests that share a database.
func CleanCounters(t *testing.T, database *sql.DB, channel string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = database.ExecContext(ctx, `DELETE FROM user_meows WHERE channel=$1`, channel)
		_, _ = database.ExecContext(ctx, `DELETE FROM streamer_totals WHERE channel=$1`, channel)
		_, _ = database.ExecContext(ctx, `DELETE FROM channel_settings WHERE channel=$1`, channel)
	})
}
