// Package migrations embeds the forward-only SQL migrations applied to a
// freshly opened metadata cache database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Apply executes every embedded migration file, in filename order, against
// db. Each file is run as a single statement batch; a failing file aborts
// before any later file runs. It then checks metadata_search for the
// legacy contentless FTS5 shape and migrates it forward if found.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	return migrateContentlessSearchIndex(ctx, db)
}

// legacyFTSMarker appears in sqlite_master's recorded CREATE VIRTUAL
// TABLE statement for metadata_search only when that table was built
// by an older migration that declared an external-content ("content=")
// FTS5 index instead of the content-bearing shape the search engine
// now reads from directly.
const legacyFTSMarker = "content="

// contentBearingFTSSchema is the shape 0001_init.sql declares today;
// kept in sync with it so a forced rebuild produces an identical table.
const contentBearingFTSSchema = `
CREATE VIRTUAL TABLE metadata_search USING fts5(
    entity_name,
    entity_type UNINDEXED,
    entity_set_name,
    description,
    labels,
    properties_text,
    actions_text,
    entity_category UNINDEXED,
    is_read_only UNINDEXED,
    data_service_enabled UNINDEXED,
    global_version_id UNINDEXED,
    entity_id UNINDEXED
);`

// migrateContentlessSearchIndex drops and recreates metadata_search if
// it was left in the legacy contentless shape by an older database,
// then marks every existing global version for an FTS rebuild since
// dropping the table discards its rows. The orchestrator drains that
// queue on startup.
func migrateContentlessSearchIndex(ctx context.Context, db *sql.DB) error {
	var existingSQL sql.NullString
	err := db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'metadata_search'`).Scan(&existingSQL)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect metadata_search schema: %w", err)
	}
	if !existingSQL.Valid || !strings.Contains(existingSQL.String, legacyFTSMarker) {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fts migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE metadata_search`); err != nil {
		return fmt.Errorf("drop legacy metadata_search: %w", err)
	}
	if _, err := tx.ExecContext(ctx, contentBearingFTSSchema); err != nil {
		return fmt.Errorf("recreate metadata_search: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO fts_rebuild_queue (global_version_id) SELECT id FROM global_versions`); err != nil {
		return fmt.Errorf("queue fts rebuild: %w", err)
	}

	return tx.Commit()
}
