// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"identity-service/backend/internal/db"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// Source returns the embedded migration source.
func Source() (source.Driver, error) {
	d, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	return d, nil
}

// Run applies migrations in the given direction using the provided DSN.
// direction is "up", "down" or "steps"; steps is only read for "steps" and may be negative.
// Returns nil on success or when already at the target version.
func Run(dsn, direction string, steps int) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set")
	}
	switch direction {
	case "up", "down":
	case "steps":
		if steps == 0 {
			return errors.New("steps must be non-zero")
		}
	default:
		return fmt.Errorf("direction must be up, down or steps, got %q", direction)
	}

	src, err := Source()
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, toMigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// toMigrateURL rewrites pgx-style schemes to the postgres scheme golang-migrate registers.
func toMigrateURL(dsn string) string {
	for _, prefix := range []string{"pgx://", "pgx5://"} {
		if len(dsn) > len(prefix) && dsn[:len(prefix)] == prefix {
			return "postgres://" + dsn[len(prefix):]
		}
	}
	return dsn
}
