package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"fints-agent/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor SQLExecutor
	logger   zerolog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

// Pending returns the Postgres backed pending transfer repository
func (s *Store) Pending() *PostgresPendingRepository {
	return NewPostgresPendingRepository(s)
}

func (s *Store) queries() *pendingQueries {
	return &pendingQueries{db: s.executor, logger: s.logger}
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.NewAppError(errors.InternalError, "cannot begin nested transaction")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to begin transaction", err)
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.InternalError, "failed to commit transaction", err)
	}
	return nil
}

// OpenPostgres connects with lib/pq and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.NewAppError(errors.ConfigError, "store.dsn is required for the postgres store")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigError, "failed to open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.InternalError, "failed to connect to database", err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
