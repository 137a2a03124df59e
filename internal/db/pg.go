package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		user := u.User.Username()
		u.User = url.UserPassword(user, "****")
	}
	return u.String()
}

// extractDBName returns the database name from URL path ("/proconfianza" -> "proconfianza").
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

// openPostgres establishes a connection to PostgreSQL and configures the connection pool.
func openPostgres(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*DB, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	dbName := extractDBName(u)
	host := u.Hostname()
	port := u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}

	log.WithFields(logrus.Fields{
		"host": host,
		"port": port,
		"db":   dbName,
		"dsn":  redactDSN(databaseURL),
	}).Info("DB connect target")

	// Check the database exists on this instance via the maintenance DB so a
	// wrong host gives a clear message instead of a bare ping failure.
	if dbName != "" {
		maintenanceURL := *u
		maintenanceURL.Path = "/postgres"
		maintenanceURL.RawPath = ""

		maintDB, err := sql.Open("postgres", maintenanceURL.String())
		if err == nil {
			defer maintDB.Close()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			var found string
			rowErr := maintDB.QueryRowContext(checkCtx,
				"SELECT datname FROM pg_database WHERE datname = $1",
				dbName,
			).Scan(&found)

			switch {
			case rowErr == nil:
				log.Debugf("DB precheck: database %q exists", found)
			case errors.Is(rowErr, sql.ErrNoRows):
				log.Warnf("DB precheck: database %q NOT found on this Postgres instance", dbName)
			default:
				log.WithError(rowErr).Debug("DB precheck: could not query pg_database")
			}
		}
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(connectCtx); err != nil {
		_ = sqlDB.Close()
		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database %q not found on host=%s port=%s: %w", dbName, host, port, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, Dialect: DialectPostgres}, nil
}
