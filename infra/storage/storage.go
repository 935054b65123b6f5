// Package storage persists payments, their events and refunds, idempotency
// records and retry attempts in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/mstgnz/payflow/infra/conn"
	"github.com/mstgnz/payflow/infra/logger"
)

// Store is the SQL-backed repository shared by all components
type Store struct {
	db      *sql.DB
	dialect string
	log     *logger.SystemLogger
}

// New wraps an open database handle. dialect is conn.DriverSQLite or
// conn.DriverPostgres.
func New(db *sql.DB, dialect string, log *logger.SystemLogger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, dialect: dialect, log: log}
}

// Open connects and migrates in one step
func Open(ctx context.Context, opts conn.Options, log *logger.SystemLogger) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log
	}
	db, err := conn.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	s := New(db, opts.Driver, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema for the active dialect
func (s *Store) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == conn.DriverPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if s.dialect == conn.DriverSQLite {
		s.optimizeSQLite(ctx)
	}
	return nil
}

func (s *Store) optimizeSQLite(ctx context.Context) {
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA temp_store = memory;",
		"PRAGMA optimize;",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			s.log.Warn("Failed to apply sqlite pragma", logger.LogContext{Fields: map[string]any{
				"pragma": pragma,
				"error":  err.Error(),
			}})
		}
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *Store) rebind(query string) string {
	if s.dialect != conn.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// retryOperation retries fn while SQLite reports the database as busy,
// backing off 10ms, 20ms, 40ms...
func (s *Store) retryOperation(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
		s.log.Debug("Database busy, retrying", logger.LogContext{Fields: map[string]any{
			"backoff_ms": backoff.Milliseconds(),
			"attempt":    attempt + 1,
		}})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// jsonText stores JSON as text; lib/pq would send []byte as bytea
func jsonText(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func jsonBytes(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}
