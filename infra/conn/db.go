package conn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mstgnz/payflow/infra/logger"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Options controls how a database handle is opened
type Options struct {
	Driver   string
	DSN      string
	Attempts int
	Wait     time.Duration
	// Logger receives connection progress, nop when nil
	Logger *logger.SystemLogger
}

// Open connects to the database, pinging until it answers or the attempts
// run out. SQLite paths get WAL and busy-timeout parameters appended.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Wait == 0 {
		opts.Wait = 2 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		db, err := sql.Open(opts.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		configurePool(db, opts.Driver)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			log.Info("Database connected", logger.LogContext{Fields: map[string]any{
				"driver":  opts.Driver,
				"attempt": attempt,
			}})
			return db, nil
		}

		lastErr = err
		db.Close()
		log.Warn("Database ping failed", logger.LogContext{Fields: map[string]any{
			"driver":  opts.Driver,
			"attempt": attempt,
			"error":   err.Error(),
		}})

		if attempt < opts.Attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Wait):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", opts.Driver, opts.Attempts, lastErr)
}

func configurePool(db *sql.DB, driver string) {
	if driver == DriverSQLite {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)
}

// sqliteDSN creates the parent directory and adds multi-process settings
func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite database path is empty")
	}
	if strings.Contains(path, "?") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_timeout=20000&_txlock=immediate&_foreign_keys=on", nil
}
