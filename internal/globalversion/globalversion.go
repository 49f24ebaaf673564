// Package globalversion maintains the registry of content-addressed
// GlobalVersion buckets and the links from environments to the bucket
// they are currently pinned to.
package globalversion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/version"
)

const sampleModuleLimit = 10

// Manager owns the global_versions and environment_versions tables.
type Manager struct {
	db    *sql.DB
	clock collaborators.Clock
}

func NewManager(db *sql.DB, clock collaborators.Clock) *Manager {
	return &Manager{db: db, clock: clock}
}

func (m *Manager) now() time.Time { return time.Unix(m.clock.Now(), 0).UTC() }

// GetOrCreateGlobalVersion finds the GlobalVersion matching detected's
// modules_hash, or creates one (with up to sampleModuleLimit sample
// modules recorded for diagnostics) if none exists.
func (m *Manager) GetOrCreateGlobalVersion(ctx context.Context, environmentID int64, detected *version.Detected) (domain.GlobalVersion, bool, error) {
	var gv domain.GlobalVersion
	wasCreated := false

	err := withTx(ctx, m.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, version_hash, modules_hash, first_seen_at, last_used_at, reference_count, created_by_environment_id
			FROM global_versions WHERE modules_hash = ?`, detected.ModulesHash)

		var firstSeen, lastUsed string
		err := row.Scan(&gv.ID, &gv.VersionHash, &gv.ModulesHash, &firstSeen, &lastUsed, &gv.ReferenceCount, &gv.CreatedByEnvironmentID)
		switch {
		case err == nil:
			gv.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
			gv.LastUsedAt, _ = time.Parse(time.RFC3339, lastUsed)
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return fmt.Errorf("lookup global version: %w", err)
		}

		now := m.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO global_versions (version_hash, modules_hash, first_seen_at, last_used_at, reference_count, created_by_environment_id)
			VALUES (?, ?, ?, ?, 0, ?)`,
			detected.VersionHash, detected.ModulesHash, now.Format(time.RFC3339), now.Format(time.RFC3339), environmentID)
		if err != nil {
			return fmt.Errorf("insert global version: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		gv = domain.GlobalVersion{
			ID:                     id,
			VersionHash:            detected.VersionHash,
			ModulesHash:            detected.ModulesHash,
			FirstSeenAt:            now,
			LastUsedAt:             now,
			ReferenceCount:         0,
			CreatedByEnvironmentID: environmentID,
		}
		wasCreated = true

		sample := detected.Modules
		if len(sample) > sampleModuleLimit {
			sample = sample[:sampleModuleLimit]
		}
		for i, mod := range sample {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO modules (global_version_id, module_id, name, version, publisher, display_name, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				gv.ID, mod.ModuleID, mod.Name, mod.Version, mod.Publisher, mod.DisplayName, i); err != nil {
				return fmt.Errorf("insert sample module: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.GlobalVersion{}, false, err
	}
	return gv, wasCreated, nil
}

// LinkEnvironmentToVersion deactivates any prior active link for
// environmentID, inserts a new active link to globalVersionID, and bumps
// the target version's reference_count and last_used_at.
func (m *Manager) LinkEnvironmentToVersion(ctx context.Context, environmentID, globalVersionID int64) error {
	now := m.now()
	return withTx(ctx, m.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE environment_versions SET is_active = 0
			WHERE environment_id = ? AND is_active = 1`, environmentID); err != nil {
			return fmt.Errorf("deactivate prior link: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO environment_versions (environment_id, global_version_id, detected_at, is_active, sync_status)
			VALUES (?, ?, ?, 1, ?)`,
			environmentID, globalVersionID, now.Format(time.RFC3339), domain.SyncStatusPending); err != nil {
			return fmt.Errorf("insert new link: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE global_versions SET reference_count = reference_count + 1, last_used_at = ?
			WHERE id = ?`, now.Format(time.RFC3339), globalVersionID); err != nil {
			return fmt.Errorf("bump reference count: %w", err)
		}
		return nil
	})
}

// SetSyncStatus updates the sync_status of environmentID's link to
// globalVersionID; is_active is left unchanged.
func (m *Manager) SetSyncStatus(ctx context.Context, environmentID, globalVersionID int64, status domain.SyncStatus) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE environment_versions SET sync_status = ?
		WHERE environment_id = ? AND global_version_id = ?`, status, environmentID, globalVersionID)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

// ActiveGlobalVersionID returns the global_version_id currently active
// for environmentID, or 0 if none is active yet.
func (m *Manager) ActiveGlobalVersionID(ctx context.Context, environmentID int64) (int64, error) {
	var id int64
	err := m.db.QueryRowContext(ctx, `
		SELECT global_version_id FROM environment_versions
		WHERE environment_id = ? AND is_active = 1`, environmentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("active global version: %w", err)
	}
	return id, nil
}

// CompletedGlobalVersionFor reports whether some environment already has
// a completed sync against globalVersionID — the condition that lets the
// orchestrator choose sharing_mode.
func (m *Manager) CompletedGlobalVersionFor(ctx context.Context, globalVersionID int64) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM environment_versions
		WHERE global_version_id = ? AND sync_status = ?`, globalVersionID, domain.SyncStatusCompleted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("completed global version lookup: %w", err)
	}
	return count > 0, nil
}

// LatestCompletedModulesHash returns the modules_hash of environmentID's
// most recently completed version, used for incremental-sync overlap
// checks. Returns "" if none exists.
func (m *Manager) LatestCompletedModulesHash(ctx context.Context, environmentID int64) (string, error) {
	var hash string
	err := m.db.QueryRowContext(ctx, `
		SELECT gv.modules_hash FROM environment_versions ev
		JOIN global_versions gv ON gv.id = ev.global_version_id
		WHERE ev.environment_id = ? AND ev.sync_status = ?
		ORDER BY ev.detected_at DESC LIMIT 1`, environmentID, domain.SyncStatusCompleted).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest completed modules hash: %w", err)
	}
	return hash, nil
}

// EnvironmentSyncStatus returns the most recent sync_status recorded
// for environmentID's link to globalVersionID, or "" if no such link
// was ever created.
func (m *Manager) EnvironmentSyncStatus(ctx context.Context, environmentID, globalVersionID int64) (domain.SyncStatus, error) {
	var status string
	err := m.db.QueryRowContext(ctx, `
		SELECT sync_status FROM environment_versions
		WHERE environment_id = ? AND global_version_id = ?
		ORDER BY detected_at DESC LIMIT 1`, environmentID, globalVersionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("environment sync status: %w", err)
	}
	return domain.SyncStatus(status), nil
}

// CleanupUnusedVersions deletes global versions with zero references
// whose last_used_at is older than retentionDays, cascading to all
// version-scoped metadata via foreign keys.
func (m *Manager) CleanupUnusedVersions(ctx context.Context, retentionDays int) (int, error) {
	cutoff := m.now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM global_versions WHERE reference_count = 0 AND last_used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup unused versions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
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
