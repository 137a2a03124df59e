package db

import (
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// goose keeps its dialect and base FS in package state.
var migrateMu sync.Mutex

// Migrate applies the embedded goose migrations for the handle's dialect.
func Migrate(d *DB, log goose.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	gooseDialect, dir := "postgres", "migrations/postgres"
	if d.Dialect == DialectSQLite {
		gooseDialect, dir = "sqlite3", "migrations/sqlite"
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if log != nil {
		goose.SetLogger(log)
	}

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(d.DB, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
