// Package postgres implements the tracker storage interfaces on PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgconn"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/dbmanager"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// Store implements the storage interfaces over a shared connection pool.
type Store struct {
	pool *dbmanager.Pool
}

// NewStore creates a Store over the given pool.
func NewStore(pool *dbmanager.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn() *sql.DB {
	return s.pool.DB()
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// mapError converts driver errors into the dberror taxonomy.
func mapError(err error) apperrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return dberror.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return dberror.ErrAlreadyExists.Err(err)
	}
	return dberror.ErrDatabase.Err(err)
}
