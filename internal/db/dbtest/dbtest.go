// Package dbtest opens migrated databases for tests. SQLite in a temp dir is
// the default; TEST_DATABASE_URL points the same tests at Postgres, where
// packages share one database and must run with -p 1.
package dbtest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/proconfianza/server/internal/db"
)

// Open returns an empty, migrated database that is closed when the test ends.
func Open(t testing.TB) *db.DB {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	}

	ctx := context.Background()
	database, err := db.Open(ctx, databaseURL, QuietLogger())
	require.NoError(t, err, "database open must succeed; check TEST_DATABASE_URL")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database, goose.NopLogger()), "migrations must run successfully")
	require.NoError(t, Truncate(ctx, database), "truncate tables")
	return database
}

// Truncate removes every row so each test starts from a clean state.
func Truncate(ctx context.Context, d *db.DB) error {
	if d.Dialect == db.DialectPostgres {
		_, err := d.ExecContext(ctx, "TRUNCATE TABLE verification_codes, invitations, users CASCADE")
		return err
	}
	for _, table := range []string{"verification_codes", "invitations", "users"} {
		if _, err := d.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// QuietLogger discards output.
func QuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
