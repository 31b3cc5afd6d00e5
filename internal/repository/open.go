package repository

import (
	"context"

	"github.com/rs/zerolog"

	"fints-agent/internal/domain"
	"fints-agent/internal/errors"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Open returns the pending repository for driver. The returned close function
// must be called when the caller is done with the repository.
func Open(ctx context.Context, driver, dir, dsn string, logger zerolog.Logger) (domain.PendingRepository, func() error, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dir, logger), func() error { return nil }, nil
	case DriverPostgres:
		db, err := OpenPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, nil, err
		}
		return NewStore(db, logger).Pending(), db.Close, nil
	default:
		return nil, nil, errors.NewAppErrorf(errors.ConfigError, "unknown store driver %q", driver)
	}
}
