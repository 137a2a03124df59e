package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Dialect names the SQL engine behind a DB handle.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the connection pool together with its dialect. Queries are written
// with Postgres-style $N placeholders and rebound for SQLite.
type DB struct {
	*sql.DB
	Dialect Dialect
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders into the form the dialect understands.
func (d *DB) Rebind(query string) string {
	if d.Dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?${1}")
	}
	return query
}

// ForUpdate returns the row-locking suffix for SELECTs inside a transaction.
// SQLite has no row locks; the single writer connection serializes instead.
func (d *DB) ForUpdate() string {
	if d.Dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// InTx runs fn inside a transaction, committing on success and rolling back on any error.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Open dispatches on the DATABASE_URL scheme: postgres:// and postgresql://
// go to lib/pq, sqlite:// to the embedded engine.
func Open(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return nil, fmt.Errorf("DATABASE_URL is empty")
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return openSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"), log)
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return openPostgres(ctx, databaseURL, log)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme (want postgres:// or sqlite://)")
	}
}
