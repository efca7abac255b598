package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database by default
const SQLiteBusyTimeoutMS = 5000

// Options tune the SQLite connection
type Options struct {
	// BusyTimeout bounds lock waits; zero uses SQLiteBusyTimeoutMS
	BusyTimeout time.Duration
	// MaxOpenConns caps the pool; zero leaves database/sql's default
	MaxOpenConns int
}

// Open opens a SQLite database at the specified path with default options.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return OpenWithOptions(path, Options{}, logger)
}

// OpenWithOptions opens a SQLite database tuned for many concurrent writers.
// Pragmas are passed as DSN parameters so every pooled connection gets them,
// and transactions start with BEGIN IMMEDIATE so writers queue on the busy
// timeout instead of failing on lock upgrade.
func OpenWithOptions(path string, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	busyMS := SQLiteBusyTimeoutMS
	if opts.BusyTimeout > 0 {
		busyMS = int(opts.BusyTimeout / time.Millisecond)
	}

	if logger != nil {
		logger.Debugw("Opening database", "path", path, "busy_timeout_ms", busyMS)
	}

	db, err := sql.Open("sqlite3", dsn(path, busyMS))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	// sql.Open is lazy; surface bad paths here
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", !isMemory(path),
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	return db, nil
}

func dsn(path string, busyMS int) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(busyMS))
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	if !isMemory(path) {
		params.Set("_journal_mode", "WAL")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
