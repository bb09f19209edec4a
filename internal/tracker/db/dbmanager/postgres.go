// Package dbmanager manages the PostgreSQL connection pool for the tracker.
package dbmanager

import (
	"fmt"
	"time"

	"database/sql"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Pool wraps the shared *sql.DB used by the postgres store.
type Pool struct {
	db *sql.DB
}

// NewPostgresPool opens a connection pool with sane timeouts and verifies
// connectivity with a ping.
func NewPostgresPool(dsn string) (*Pool, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to open db")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		log.Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Session-level guard rails. No tracker query should hold a lock or run
	// for longer than this.
	params := map[string]string{
		"lock_timeout":      "5s",
		"statement_timeout": "5s",
	}
	for param, value := range params {
		query := fmt.Sprintf("SET %s = %s", pq.QuoteIdentifier(param), pq.QuoteLiteral(value))
		if _, err := sqlDB.Exec(query); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set %s: %w", param, err)
		}
	}

	return &Pool{db: sqlDB}, nil
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Stats returns pool statistics for the status endpoint.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the pool.
func (p *Pool) Close() {
	if p.db != nil {
		p.db.Close()
	}
}
