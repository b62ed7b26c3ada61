// Package pg owns the shared PostgreSQL pool and the tenant-scoped data
// access used by the route layer. Every read and write here flows through
// the tenant chokepoint; there is no path around the cooperative predicate.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects and applies pool defaults. The pool is shared across
// concurrent requests from different cooperatives, which is exactly why
// scoping is applied per call and never per connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (tests use sqlmock here).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for wiring (readiness probe, migrations).
func (s *Store) DB() *sql.DB { return s.db }
