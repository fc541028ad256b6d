// Package db owns the conversation schema and its migrations.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the database schema up to date. The SQL files under
// migrations/ are embedded at compile time and applied in order; already
// applied versions are skipped via golang-migrate's schema_migrations
// table. Both `quill migrate` and server startup call this, so it must
// be safe to run repeatedly.
//
// connURL is a postgres:// or postgresql:// URL.
func Migrate(connURL string) error {
	slog.Debug("running database migrations")

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	dbURL, err := migrateURL(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("connecting for migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("closing migration connection", "error", dbErr)
		}
	}()

	// A dirty version means a previous run died mid-migration. Refuse to
	// proceed rather than stack a second failure on top.
	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", verErr)
	}
	if dirty {
		slog.Error("schema is dirty, manual intervention required",
			"version", version,
			"hint", fmt.Sprintf("inspect the schema and run: migrate force %d", version))
		return fmt.Errorf("schema dirty at version %d, manual cleanup required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("schema already up to date")
			return nil
		}
		if v, d, e := m.Version(); e == nil && d {
			slog.Error("migration failed, schema left dirty",
				"version", v,
				"hint", fmt.Sprintf("fix the migration and run: migrate force %d", v))
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if v, d, e := m.Version(); e != nil {
		slog.Warn("migrations applied but version check failed", "error", e)
	} else {
		slog.Info("migrations applied", "version", v, "dirty", d)
	}
	return nil
}

// migrateURL rewrites a postgres URL onto the pgx5:// scheme that selects
// golang-migrate's pgx v5 database driver.
func migrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
}
