package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema file. Version is the numeric file prefix.
type Migration struct {
	Version string
	Name    string
	File    string
}

// MigrationStatus reports whether a migration has been applied to a database
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt string
}

// Migrations lists the embedded migrations in apply order
func Migrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var list []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, _ := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		list = append(list, Migration{Version: version, Name: name, File: entry.Name()})
	}
	// 000_create_schema_migrations.sql runs first
	sort.Slice(list, func(i, j int) bool { return list[i].File < list[j].File })
	return list, nil
}

// appliedMigrations maps version to applied_at. A database without
// schema_migrations has nothing applied.
func appliedMigrations(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		if IsDatabaseClosed(err) {
			return nil, errors.Mark(errors.Wrap(err, "read schema_migrations"), ErrDatabaseClosed)
		}
		if strings.Contains(err.Error(), "no such table") {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status lists every embedded migration with its applied state
func Status(db *sql.DB) ([]MigrationStatus, error) {
	list, err := Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(db)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(list))
	for _, m := range list {
		at, ok := applied[m.Version]
		status = append(status, MigrationStatus{Migration: m, Applied: ok, AppliedAt: at})
	}
	return status, nil
}

// Migrate runs all pending migrations, each in its own transaction.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	status, err := Status(db)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	start := time.Now()
	applied := 0
	for _, s := range status {
		if s.Applied {
			logger.Debugw("Skipping migration (already applied)",
				"migration", s.File,
				"applied_at", s.AppliedAt,
			)
			continue
		}
		began := time.Now()
		if err := apply(db, s.Migration); err != nil {
			return err
		}
		applied++
		logger.Infow("Applied migration",
			"migration", s.File,
			"version", s.Version,
			"duration_ms", time.Since(began).Milliseconds(),
		)
	}

	if applied > 0 {
		logger.Infow("Migrations complete",
			"total_migrations", len(status),
			"applied", applied,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

func apply(db *sql.DB, m Migration) error {
	sqlBytes, err := migrations.ReadFile(path.Join(migrationsDir, m.File))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.File)
	}

	tx, err := db.Begin()
	if err != nil {
		if IsDatabaseClosed(err) {
			return errors.Mark(errors.Wrapf(err, "begin tx for %s", m.File), ErrDatabaseClosed)
		}
		return errors.Wrapf(err, "begin tx for %s", m.File)
	}

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.File)
	}
	return nil
}
