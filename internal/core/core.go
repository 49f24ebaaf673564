// Package core wires a ClientConfig into a runnable client: it owns the
// SQLite metadata store, the domain-specific disk cache, and every
// collaborator and sub-service, and exposes the one surface the CLI and
// MCP entry points call against.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
	"github.com/mafzaal/d365fo-client-go/internal/cache"
	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/globalversion"
	"github.com/mafzaal/d365fo-client-go/internal/label"
	"github.com/mafzaal/d365fo-client-go/internal/platform/database"
	"github.com/mafzaal/d365fo-client-go/internal/query"
	"github.com/mafzaal/d365fo-client-go/internal/search"
	"github.com/mafzaal/d365fo-client-go/internal/sync"
	"github.com/mafzaal/d365fo-client-go/internal/version"
)

// Client is the full, wired-up metadata client for one D365 F&O
// environment: one SQLite cache file, one ODataClient, one set of
// sub-services.
type Client struct {
	cfg           *config.ClientConfig
	db            *sql.DB
	diskCache     *cache.Cache
	odata         collaborators.ODataClient
	clock         collaborators.Clock
	log           *logging.Logger
	detector      *version.Detector
	versions      *globalversion.Manager
	orchestrator  *sync.Orchestrator
	resolver      *label.Resolver
	query         *query.Service
	search        *search.Engine
	environmentID int64
}

// Open builds every collaborator implied by cfg.AuthMode, opens the
// SQLite metadata store under cfg.CacheDir, and registers (or reuses)
// the environments row for cfg.BaseURL.
func Open(ctx context.Context, cfg *config.ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.NewFromEnv("d365fo-client")
	clock := collaborators.SystemClock{}

	db, err := database.Open(ctx, cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	diskCache, err := cache.Open(filepath.Join(cfg.CacheDir, "objects.db"), cache.Config{
		L1TTL:      cfg.LabelCacheExpiry,
		L1Capacity: uint64(cfg.MaxMemoryCacheSize),
		L2MaxBytes: cache.DefaultConfig().L2MaxBytes,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open object cache: %w", err)
	}

	token, err := buildTokenProvider(cfg)
	if err != nil {
		db.Close()
		diskCache.Close()
		return nil, err
	}
	odataClient := collaborators.NewHTTPODataClient(cfg.BaseURL, token, cfg.Timeout, cfg.VerifySSL)

	environmentID, err := ensureEnvironment(ctx, db, cfg.BaseURL, clock)
	if err != nil {
		db.Close()
		diskCache.Close()
		return nil, fmt.Errorf("register environment: %w", err)
	}

	detector := version.NewDetector(clock, log)
	versions := globalversion.NewManager(db, clock)
	orchestrator := sync.NewOrchestrator(db, versions, detector, clock, log, sync.Options{Language: cfg.Language})
	if err := orchestrator.DrainFTSRebuildQueue(ctx); err != nil {
		log.Warn(ctx, "drain fts rebuild queue", map[string]interface{}{"error": err.Error()})
	}
	resolver := label.NewResolver(db, odataClient, cfg.LabelCacheExpiry)

	return &Client{
		cfg:           cfg,
		db:            db,
		diskCache:     diskCache,
		odata:         odataClient,
		clock:         clock,
		log:           log,
		detector:      detector,
		versions:      versions,
		orchestrator:  orchestrator,
		resolver:      resolver,
		query:         query.NewService(db, diskCache, resolver),
		search:        search.NewEngine(db),
		environmentID: environmentID,
	}, nil
}

func buildTokenProvider(cfg *config.ClientConfig) (collaborators.TokenProvider, error) {
	switch cfg.AuthMode {
	case config.AuthModeClientCredentials:
		return collaborators.NewClientCredentialsTokenProvider(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.Timeout), nil
	case config.AuthModeDefault:
		return collaborators.NewStaticTokenProvider(""), nil
	default:
		return nil, fmt.Errorf("unsupported auth_mode %q", cfg.AuthMode)
	}
}

func ensureEnvironment(ctx context.Context, db *sql.DB, baseURL string, clock collaborators.Clock) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `SELECT id FROM environments WHERE base_url = ?`, baseURL).Scan(&id)
	if err == nil {
		return id, nil
	}
	now := time.Unix(clock.Now(), 0).UTC().Format(time.RFC3339)
	res, err := db.ExecContext(ctx, `INSERT INTO environments (base_url, display_name, created_at) VALUES (?, ?, ?)`, baseURL, baseURL, now)
	if err != nil {
		return 0, fmt.Errorf("insert environment: %w", err)
	}
	return res.LastInsertId()
}

// Close releases the metadata store and object cache file handles.
func (c *Client) Close() error {
	var errs []error
	if c.resolver != nil {
		c.resolver.Stop()
	}
	if err := c.diskCache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close client: %v", errs)
	}
	return nil
}

// StartSync launches a sync session against the active environment,
// auto-selecting a strategy unless override is non-empty.
func (c *Client) StartSync(ctx context.Context, override domain.SyncStrategy, onProgress sync.ProgressFunc) (domain.SyncSession, error) {
	return c.orchestrator.StartSync(ctx, c.environmentID, c.odata, override, onProgress)
}

func (c *Client) GetSyncProgress(sessionID string) (domain.SyncSession, bool) {
	return c.orchestrator.GetSession(sessionID)
}

func (c *Client) CancelSync(sessionID string) error {
	return c.orchestrator.CancelSession(sessionID)
}

func (c *Client) ListSyncSessions() []domain.SyncSession {
	return c.orchestrator.ListSessions(c.environmentID)
}

func (c *Client) GetSyncHistory(ctx context.Context, limit int) ([]domain.SyncSession, error) {
	return c.orchestrator.SyncHistory(ctx, c.environmentID, limit)
}

// activeGlobalVersionID resolves the environment's current pinned
// version; read operations always run against it.
func (c *Client) activeGlobalVersionID(ctx context.Context) (int64, error) {
	id, err := c.versions.ActiveGlobalVersionID(ctx, c.environmentID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("environment has no synced global version yet; run StartSync first")
	}
	return id, nil
}

func (c *Client) GetEntity(ctx context.Context, name string, kind domain.EntityKind) (domain.Entity, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return domain.Entity{}, err
	}
	return c.query.GetEntity(ctx, gvID, name, kind, c.cfg.Language)
}

func (c *Client) ListEntities(ctx context.Context, category string, isReadOnly *bool, limit, offset int) ([]domain.DataEntity, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.query.ListEntities(ctx, gvID, category, isReadOnly, limit, offset)
}

func (c *Client) GetEnumeration(ctx context.Context, name string) (domain.Enumeration, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return domain.Enumeration{}, err
	}
	return c.query.GetEnumeration(ctx, gvID, name, c.cfg.Language)
}

func (c *Client) GetActions(ctx context.Context, entityName string, bindingKind domain.BindingKind, namePattern string, limit, offset int) ([]domain.EntityAction, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.query.GetActions(ctx, gvID, entityName, bindingKind, namePattern, limit, offset)
}

func (c *Client) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.search.Search(ctx, gvID, q)
}

func (c *Client) GetLabel(ctx context.Context, labelID string) (string, bool, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return "", false, err
	}
	return c.resolver.GetLabel(ctx, gvID, labelID, c.cfg.Language, true)
}

func (c *Client) GetLabelsBatch(ctx context.Context, labelIDs []string) (map[string]string, error) {
	gvID, err := c.activeGlobalVersionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.resolver.GetLabelsBatch(ctx, gvID, labelIDs, c.cfg.Language, true)
}

func (c *Client) GetEnvironmentInfo(ctx context.Context) (query.EnvironmentInfo, error) {
	gvID, _ := c.activeGlobalVersionID(ctx)
	return c.query.GetEnvironmentInfo(ctx, c.environmentID, gvID)
}

// CleanupUnusedVersions prunes global versions unreferenced for more
// than retentionDays, used by the retention-sweep scheduler.
func (c *Client) CleanupUnusedVersions(ctx context.Context, retentionDays int) (int, error) {
	return c.versions.CleanupUnusedVersions(ctx, retentionDays)
}
