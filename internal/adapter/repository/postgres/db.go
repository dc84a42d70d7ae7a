package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Connection pool sizing. A ledger transaction holds its connection for the
// duration of its row locks, so the pool stays small and connections are
// recycled before the server's idle timeout.
const (
	maxOpenConns    = 25
	maxIdleConns    = 10
	connMaxLifetime = 30 * time.Minute
)

// DB wraps the connection pool shared by the ledger store and the read-side
// repositories.
type DB struct {
	*sql.DB
}

// NewDB opens the points database and verifies the connection. connStr is a
// lib/pq DSN, e.g. "host=localhost port=5432 user=postgres password=postgres
// dbname=points sslmode=disable".
func NewDB(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the connection pool
func (db *DB) Close() error {
	return db.DB.Close()
}
