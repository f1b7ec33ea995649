package postgres

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration found at sourceURL, e.g.
// "file://migrations", and reports the schema version before and after.
func (s *Storage) Migrate(sourceURL string) (before, after uint, err error) {
	driver, err := migratepg.WithInstance(s.raw, &migratepg.Config{})
	if err != nil {
		return 0, 0, err
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return 0, 0, err
	}

	before, _, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, 0, err
	}

	after, _, err = m.Version()
	if err != nil {
		return before, 0, err
	}
	return before, after, nil
}
