// Package sqlite is the embedded durable domain.Store, built on
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tutu-network/anoncredits/internal/domain"
)

// DB is a SQLite-backed domain.Store.
//
// The pool is pinned to one connection so transactions are serialized in
// process; this is what makes read-modify-write on balances safe without
// row locks.
type DB struct {
	*queries
	db *sql.DB
}

var _ domain.Store = (*DB)(nil)

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// Open opens (creating if needed) the database at path and applies all
// migrations. Use ":memory:" for a throwaway database.
func Open(path string, opts ...Option) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{db: sqlDB, queries: &queries{q: sqlDB, now: time.Now}}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Migrate applies every schema statement. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range Migrations() {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// RunInTx runs fn inside a single SQL transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&queries{q: tx, now: d.now}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// HealthCheck verifies the database answers a trivial query.
func (d *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("sqlite health: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
