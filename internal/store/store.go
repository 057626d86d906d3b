// Package store provides Postgres persistence for the response engine.
package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/helpdeskhq/response-engine/pkg/logger"
)

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &Store{db: db, logger: log}, nil
}

// New wraps an existing database handle. Useful in tests.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorw("rollback failed", "error", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}
