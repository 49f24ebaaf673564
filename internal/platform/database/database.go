// Package database opens the per-environment SQLite metadata cache file and
// puts it in the WAL/foreign-keys configuration the rest of the core
// assumes.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mafzaal/d365fo-client-go/internal/platform/migrations"
)

// Open creates (if absent) and opens metadata.sqlite under cacheDir, enables
// WAL journaling and foreign key enforcement, and applies any pending
// migrations. The pool is capped at one writer connection — SQLite allows
// only one writer at a time and sharing a single *sql.DB connection avoids
// SQLITE_BUSY under the 5s busy timeout set in the DSN.
func Open(ctx context.Context, cacheDir string) (*sql.DB, error) {
	if strings.TrimSpace(cacheDir) == "" {
		return nil, fmt.Errorf("cache_dir is required")
	}

	path := filepath.Join(cacheDir, "metadata.sqlite")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return db, nil
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error fn returns.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
