// Package postgres implements flowvc.VersionRepository on PostgreSQL via
// pgx. Snapshots are stored whole as JSONB: the access pattern is append a
// version, read history, swap a branch tip — never partial updates.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements flowvc.VersionRepository using a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// New creates a Store backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
