// Package sync implements the sync orchestrator: strategy selection,
// bounded-concurrency metadata fan-out, batched transactional writes,
// FTS index population, and the session lifecycle state machine.
package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/mafzaal/d365fo-client-go/infrastructure/errors"
	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
	"github.com/mafzaal/d365fo-client-go/infrastructure/resilience"
	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/globalversion"
	"github.com/mafzaal/d365fo-client-go/internal/version"
)

// errCancelled signals a cooperative stop requested between batches;
// it is never surfaced to callers as a session failure.
var errCancelled = errors.New("sync: cancelled")

// Options tunes the orchestrator's concurrency and batching per
// spec.md §4.3's defaults.
type Options struct {
	Concurrency    int
	BatchSize      int
	LabelBatchSize int
	Language       string
	Retry          resilience.RetryConfig
}

func DefaultOptions() Options {
	return Options{
		Concurrency:    8,
		BatchSize:      500,
		LabelBatchSize: 50,
		Language:       "en-US",
		Retry:          defaultRetry(),
	}
}

// defaultRetry fixes the remote-fetch retry policy for a sync session:
// base 500ms, doubling, capped at 30s, at most 5 attempts. It is kept
// separate from resilience.DefaultRetryConfig, which tunes the
// generic collaborators transport instead.
func defaultRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Orchestrator owns the sync session lifecycle for one database.
type Orchestrator struct {
	db        *sql.DB
	versions  *globalversion.Manager
	detector  *version.Detector
	clock     collaborators.Clock
	log       *logging.Logger
	opts      Options
	sessions  *registry
}

func NewOrchestrator(db *sql.DB, versions *globalversion.Manager, detector *version.Detector, clock collaborators.Clock, log *logging.Logger, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.LabelBatchSize <= 0 {
		opts.LabelBatchSize = DefaultOptions().LabelBatchSize
	}
	if opts.Language == "" {
		opts.Language = DefaultOptions().Language
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultOptions().Retry
	}
	return &Orchestrator{
		db:       db,
		versions: versions,
		detector: detector,
		clock:    clock,
		log:      log,
		opts:     opts,
		sessions: newRegistry(),
	}
}

// StartSync runs version detection, chooses (or honors an override)
// strategy, and launches the fetch/write pipeline in the background.
// The returned session reflects the pending/running state at launch;
// callers poll GetSession or supply onProgress for updates.
func (o *Orchestrator) StartSync(ctx context.Context, environmentID int64, client collaborators.ODataClient, override domain.SyncStrategy, onProgress ProgressFunc) (domain.SyncSession, error) {
	if running, ok := o.runningSessionFor(environmentID); ok {
		return domain.SyncSession{}, coreerrors.SyncConflict(environmentID, running)
	}

	detected, err := o.detector.DetectVersion(ctx, client, true)
	if err != nil {
		return domain.SyncSession{}, err
	}

	gv, created, err := o.versions.GetOrCreateGlobalVersion(ctx, environmentID, detected)
	if err != nil {
		return domain.SyncSession{}, fmt.Errorf("get or create global version: %w", err)
	}

	strategy := override
	if strategy == "" {
		strategy, err = o.resolveStrategy(ctx, environmentID, gv, created, detected)
		if err != nil {
			return domain.SyncSession{}, err
		}
	}

	h := newSessionHandle(environmentID, gv.ID, strategy, o.clock, onProgress)
	o.sessions.put(h)
	if err := o.persistSession(ctx, h.snapshot()); err != nil {
		o.log.WithError(err).Warn("failed to persist sync session row")
	}

	go o.run(context.Background(), h, environmentID, gv, client, strategy)

	return h.snapshot(), nil
}

// persistSession upserts sessionID's row in sync_sessions so
// GetSyncHistory can read it back after the in-memory registry entry
// is gone (process restart, long-since-finished session).
func (o *Orchestrator) persistSession(ctx context.Context, s domain.SyncSession) error {
	errMsgs, err := json.Marshal(s.ErrorMessages)
	if err != nil {
		return fmt.Errorf("marshal error messages: %w", err)
	}
	var finishedAt any
	if s.FinishedAt != nil {
		finishedAt = s.FinishedAt.Format(time.RFC3339)
	}
	_, err = o.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (session_id, environment_id, target_global_version_id, strategy, state, started_at, finished_at, phase, items_total, items_done, errors_count, error_messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			state = excluded.state, finished_at = excluded.finished_at, phase = excluded.phase,
			items_total = excluded.items_total, items_done = excluded.items_done,
			errors_count = excluded.errors_count, error_messages = excluded.error_messages`,
		s.SessionID, s.EnvironmentID, s.TargetGlobalVersionID, string(s.Strategy), string(s.State),
		s.StartedAt.Format(time.RFC3339), finishedAt, s.Phase, s.ItemsTotal, s.ItemsDone, s.ErrorsCount, string(errMsgs))
	return err
}

// SyncHistory returns the persisted sessions for environmentID, most
// recent first.
func (o *Orchestrator) SyncHistory(ctx context.Context, environmentID int64, limit int) ([]domain.SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT session_id, environment_id, target_global_version_id, strategy, state, started_at, finished_at, phase, items_total, items_done, errors_count, error_messages
		FROM sync_sessions WHERE environment_id = ? ORDER BY started_at DESC LIMIT ?`, environmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync history: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncSession
	for rows.Next() {
		var s domain.SyncSession
		var strategy, state, startedAt, errMsgs string
		var finishedAt sql.NullString
		if err := rows.Scan(&s.SessionID, &s.EnvironmentID, &s.TargetGlobalVersionID, &strategy, &state, &startedAt, &finishedAt, &s.Phase, &s.ItemsTotal, &s.ItemsDone, &s.ErrorsCount, &errMsgs); err != nil {
			return nil, fmt.Errorf("scan sync history row: %w", err)
		}
		s.Strategy = domain.SyncStrategy(strategy)
		s.State = domain.SessionState(state)
		s.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			s.FinishedAt = &t
		}
		_ = json.Unmarshal([]byte(errMsgs), &s.ErrorMessages)
		out = append(out, s)
	}
	return out, rows.Err()
}

// runningSessionFor returns the id of a still-active session for
// environmentID, if any, so StartSync can reject overlapping runs
// with SyncConflict per spec.md §5's ordering guarantee.
func (o *Orchestrator) runningSessionFor(environmentID int64) (string, bool) {
	for _, s := range o.sessions.listForEnvironment(environmentID) {
		switch s.State {
		case domain.SessionPending, domain.SessionRunning, domain.SessionCancelling:
			return s.SessionID, true
		}
	}
	return "", false
}

// GetSession returns the live snapshot for sessionID.
func (o *Orchestrator) GetSession(sessionID string) (domain.SyncSession, bool) {
	h, ok := o.sessions.get(sessionID)
	if !ok {
		return domain.SyncSession{}, false
	}
	return h.snapshot(), true
}

// ListSessions returns every known session for environmentID, most
// recent first is not guaranteed — callers sort by StartedAt.
func (o *Orchestrator) ListSessions(environmentID int64) []domain.SyncSession {
	return o.sessions.listForEnvironment(environmentID)
}

// CancelSession requests cooperative cancellation of a running
// session. It returns NotCancellable if the session is already terminal.
func (o *Orchestrator) CancelSession(sessionID string) error {
	h, ok := o.sessions.get(sessionID)
	if !ok {
		return coreerrors.NotFound("sync session", sessionID)
	}
	snap := h.snapshot()
	if snap.State != domain.SessionRunning && snap.State != domain.SessionPending {
		return coreerrors.NotCancellable(sessionID)
	}
	h.requestCancel()
	return nil
}

func (o *Orchestrator) resolveStrategy(ctx context.Context, environmentID int64, gv domain.GlobalVersion, created bool, detected *version.Detected) (domain.SyncStrategy, error) {
	oldActiveID, err := o.versions.ActiveGlobalVersionID(ctx, environmentID)
	if err != nil {
		return "", fmt.Errorf("active global version: %w", err)
	}

	in := strategyInputs{HasActiveVersion: oldActiveID != 0}

	if !created {
		sharing, err := o.versions.CompletedGlobalVersionFor(ctx, gv.ID)
		if err != nil {
			return "", fmt.Errorf("completed global version lookup: %w", err)
		}
		in.SharingModeAvailable = sharing
	}

	if oldActiveID != 0 && oldActiveID != gv.ID {
		status, err := o.versions.EnvironmentSyncStatus(ctx, environmentID, oldActiveID)
		if err != nil {
			return "", fmt.Errorf("environment sync status: %w", err)
		}
		if status == domain.SyncStatusCompleted {
			in.HasPriorCompleted = true
			oldIDs, err := o.moduleIDs(ctx, oldActiveID)
			if err != nil {
				return "", fmt.Errorf("prior module ids: %w", err)
			}
			in.ModuleOverlapRatio = ModuleOverlapRatio(oldIDs, moduleIDsFromDetected(detected))
		}
	}

	return SelectStrategy(in), nil
}

func (o *Orchestrator) moduleIDs(ctx context.Context, globalVersionID int64) ([]string, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT module_id FROM modules WHERE global_version_id = ?`, globalVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func moduleIDsFromDetected(detected *version.Detected) []string {
	ids := make([]string, len(detected.Modules))
	for i, m := range detected.Modules {
		ids[i] = m.ModuleID
	}
	return ids
}

// run executes the fetch/write pipeline for one session. It never
// returns an error — outcomes are reflected in the session state.
func (o *Orchestrator) run(ctx context.Context, h *sessionHandle, environmentID int64, gv domain.GlobalVersion, client collaborators.ODataClient, strategy domain.SyncStrategy) {
	start := time.Now()
	log := o.log.WithFields(map[string]interface{}{"environment_id": environmentID, "global_version_id": gv.ID, "strategy": string(strategy)})

	if err := o.versions.SetSyncStatus(ctx, environmentID, gv.ID, domain.SyncStatusSyncing); err != nil {
		log.WithError(err).Warn("failed to mark sync_status=syncing")
	}

	h.setPhase("detect")

	if strategy == domain.StrategySharingMode {
		h.setItemsTotal(0)
		o.complete(ctx, h, environmentID, gv, strategy, start)
		return
	}

	if includesEntities(strategy) {
		h.setPhase("entities")
		if err := o.syncEntities(ctx, h, gv.ID, client, strategy); err != nil {
			o.fail(ctx, h, environmentID, gv, err)
			return
		}
	}

	if includesActionsAndEnums(strategy) {
		h.setPhase("enumerations")
		if err := o.syncEnumerations(ctx, h, gv.ID, client); err != nil {
			o.fail(ctx, h, environmentID, gv, err)
			return
		}
	}

	if includesLabels(strategy) {
		h.setPhase("labels")
		if err := o.syncLabels(ctx, h, gv.ID, client); err != nil {
			log.WithError(err).Warn("label resolution failed; continuing without label text")
		}
	}

	h.setPhase("indexing")
	if err := o.populateFTS(ctx, gv.ID); err != nil {
		o.fail(ctx, h, environmentID, gv, err)
		return
	}

	o.complete(ctx, h, environmentID, gv, strategy, start)
}

func (o *Orchestrator) complete(ctx context.Context, h *sessionHandle, environmentID int64, gv domain.GlobalVersion, strategy domain.SyncStrategy, start time.Time) {
	if err := o.versions.LinkEnvironmentToVersion(ctx, environmentID, gv.ID); err != nil {
		o.fail(ctx, h, environmentID, gv, err)
		return
	}
	if err := o.versions.SetSyncStatus(ctx, environmentID, gv.ID, domain.SyncStatusCompleted); err != nil {
		o.log.WithError(err).Warn("failed to mark sync_status=completed")
	}
	_ = time.Since(start)

	h.mu.Lock()
	cancelling := h.session.State == domain.SessionCancelling
	h.mu.Unlock()
	if cancelling {
		h.finish(domain.SessionCancelled, o.clock)
	} else {
		h.finish(domain.SessionCompleted, o.clock)
	}
	if err := o.persistSession(ctx, h.snapshot()); err != nil {
		o.log.WithError(err).Warn("failed to persist completed sync session row")
	}
}

func (o *Orchestrator) fail(ctx context.Context, h *sessionHandle, environmentID int64, gv domain.GlobalVersion, err error) {
	if errors.Is(err, errCancelled) {
		h.finish(domain.SessionCancelled, o.clock)
	} else {
		h.addError(err.Error())
		if e := o.versions.SetSyncStatus(ctx, environmentID, gv.ID, domain.SyncStatusFailed); e != nil {
			o.log.WithError(e).Warn("failed to mark sync_status=failed")
		}
		h.finish(domain.SessionFailed, o.clock)
	}
	if err := o.persistSession(ctx, h.snapshot()); err != nil {
		o.log.WithError(err).Warn("failed to persist failed sync session row")
	}
}

func (o *Orchestrator) syncEntities(ctx context.Context, h *sessionHandle, gvID int64, client collaborators.ODataClient, strategy domain.SyncStrategy) error {
	dataRaw, err := o.retryGet(ctx, client, "DataEntities", "")
	if err != nil {
		return coreerrors.Transport("fetch DataEntities list failed", err)
	}
	dataDTOs, err := decodeCollection[dataEntityDTO](dataRaw)
	if err != nil {
		return coreerrors.Parse("decode DataEntities list failed", err)
	}
	dataEntities := make([]domain.DataEntity, len(dataDTOs))
	for i, d := range dataDTOs {
		dataEntities[i] = domain.DataEntity{
			GlobalVersionID:       gvID,
			Name:                  d.Name,
			EntitySetName:         d.EntitySetName,
			Category:              domain.EntityCategory(d.Category),
			DataServiceEnabled:    d.DataServiceEnabled,
			DataManagementEnabled: d.DataManagementEnabled,
			IsReadOnly:            d.IsReadOnly,
			LabelID:               d.LabelID,
		}
	}

	listRaw, err := o.retryGet(ctx, client, "PublicEntities", "")
	if err != nil {
		return coreerrors.Transport("fetch PublicEntities list failed", err)
	}
	names, err := decodeCollection[publicEntityListDTO](listRaw)
	if err != nil {
		return coreerrors.Parse("decode PublicEntities list failed", err)
	}

	h.setItemsTotal(len(dataEntities) + len(names))

	publicEntities, err := o.fetchPublicEntityDetails(ctx, h, client, gvID, names, strategy)
	if err != nil {
		return err
	}

	if err := o.writeDataEntities(ctx, gvID, dataEntities, h); err != nil {
		return err
	}
	return o.writePublicEntities(ctx, gvID, publicEntities, h, strategy)
}

func (o *Orchestrator) fetchPublicEntityDetails(ctx context.Context, h *sessionHandle, client collaborators.ODataClient, gvID int64, names []publicEntityListDTO, strategy domain.SyncStrategy) ([]domain.PublicEntity, error) {
	results := make([]domain.PublicEntity, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	expand := "$expand=Properties,NavigationProperties"
	if includesActionsAndEnums(strategy) {
		expand += ",Actions"
	}

	for i, n := range names {
		i, n := i, n
		g.Go(func() error {
			if h.cancelRequested() {
				return nil
			}
			raw, err := o.retryGet(gctx, client, fmt.Sprintf("PublicEntities('%s')", n.Name), expand)
			if err != nil {
				h.addError(fmt.Sprintf("fetch PublicEntities('%s'): %v", n.Name, err))
				return nil
			}
			dto, err := decodeSingle[publicEntityDTO](raw)
			if err != nil {
				h.addError(fmt.Sprintf("decode PublicEntities('%s'): %v", n.Name, err))
				return nil
			}
			results[i] = convertPublicEntity(gvID, dto)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func convertPublicEntity(gvID int64, dto publicEntityDTO) domain.PublicEntity {
	pe := domain.PublicEntity{
		GlobalVersionID: gvID,
		Name:            dto.Name,
		EntitySetName:   dto.EntitySetName,
		LabelID:         dto.LabelID,
	}
	for _, p := range dto.Properties {
		pe.Properties = append(pe.Properties, domain.EntityProperty{
			Name: p.Name, TypeName: p.TypeName, DataType: p.DataType, IsKey: p.IsKey,
			IsMandatory: p.IsMandatory, AllowEdit: p.AllowEdit, AllowEditOnCreate: p.AllowEditOnCreate,
			IsDimension: p.IsDimension, PropertyOrder: p.PropertyOrder, LabelID: p.LabelID,
		})
	}
	for _, n := range dto.Navigations {
		nav := domain.NavigationProperty{Name: n.Name, RelatedEntity: n.RelatedEntity, Cardinality: domain.Cardinality(n.Cardinality)}
		for _, c := range n.Constraints {
			nav.Constraints = append(nav.Constraints, domain.RelationConstraint{
				Kind: domain.ConstraintKind(c.Kind), Property: c.Property, RelatedProperty: c.RelatedProperty, FixedValue: c.FixedValue,
			})
		}
		pe.Navigations = append(pe.Navigations, nav)
	}
	for _, a := range dto.Actions {
		act := domain.EntityAction{
			GlobalVersionID: gvID, Name: a.Name, EntityName: dto.Name, BindingKind: domain.BindingKind(a.BindingKind),
			ReturnTypeName: a.ReturnTypeName, ReturnIsCollection: a.ReturnIsCollection, FieldLookup: a.FieldLookup, LabelID: a.LabelID,
		}
		for _, p := range a.Parameters {
			act.Parameters = append(act.Parameters, domain.ActionParameter{Name: p.Name, TypeName: p.TypeName, IsCollection: p.IsCollection, ParameterOrder: p.ParameterOrder})
		}
		pe.Actions = append(pe.Actions, act)
	}
	return pe
}

func (o *Orchestrator) syncEnumerations(ctx context.Context, h *sessionHandle, gvID int64, client collaborators.ODataClient) error {
	listRaw, err := o.retryGet(ctx, client, "PublicEnumerations", "")
	if err != nil {
		return coreerrors.Transport("fetch PublicEnumerations list failed", err)
	}
	names, err := decodeCollection[enumerationListDTO](listRaw)
	if err != nil {
		return coreerrors.Parse("decode PublicEnumerations list failed", err)
	}

	h.addItemsDone(0)
	results := make([]domain.Enumeration, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, n := range names {
		i, n := i, n
		g.Go(func() error {
			if h.cancelRequested() {
				return nil
			}
			raw, err := o.retryGet(gctx, client, fmt.Sprintf("PublicEnumerations('%s')", n.Name), "$expand=Members")
			if err != nil {
				h.addError(fmt.Sprintf("fetch PublicEnumerations('%s'): %v", n.Name, err))
				return nil
			}
			dto, err := decodeSingle[enumerationDTO](raw)
			if err != nil {
				h.addError(fmt.Sprintf("decode PublicEnumerations('%s'): %v", n.Name, err))
				return nil
			}
			e := domain.Enumeration{GlobalVersionID: gvID, Name: dto.Name, LabelID: dto.LabelID}
			for _, m := range dto.Members {
				e.Members = append(e.Members, domain.EnumerationMember{Name: m.Name, Value: m.Value, ConfigurationEnabled: m.ConfigurationEnabled, LabelID: m.LabelID})
			}
			results[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return o.writeEnumerations(ctx, gvID, results, h)
}

// labelsEntitySet/labelsAction name the unbound action used to resolve
// label ids to text in bulk, mirroring the detector's CallAction use.
const (
	labelsEntitySet = "LabelRuntimeService"
	labelsAction    = "GetLabels"
)

func (o *Orchestrator) syncLabels(ctx context.Context, h *sessionHandle, gvID int64, client collaborators.ODataClient) error {
	ids, err := o.distinctLabelIDs(ctx, gvID)
	if err != nil {
		return fmt.Errorf("collect label ids: %w", err)
	}
	resolved := make(map[string]string, len(ids))
	for _, batch := range chunk(ids, o.opts.LabelBatchSize) {
		if h.cancelRequested() {
			break
		}
		raw, err := o.retryCallAction(ctx, client, labelsEntitySet, labelsAction, map[string]any{"labelIds": batch, "language": o.opts.Language})
		if err != nil {
			h.addError(fmt.Sprintf("resolve label batch: %v", err))
			continue
		}
		m, err := decodeSingle[map[string]string](raw)
		if err != nil {
			h.addError(fmt.Sprintf("decode label batch: %v", err))
			continue
		}
		for k, v := range m {
			resolved[k] = v
		}
	}
	return o.writeLabels(ctx, gvID, o.opts.Language, resolved)
}

func (o *Orchestrator) distinctLabelIDs(ctx context.Context, gvID int64) ([]string, error) {
	seen := map[string]struct{}{}
	queries := []string{
		`SELECT DISTINCT label_id FROM data_entities WHERE global_version_id = ? AND label_id IS NOT NULL AND label_id != ''`,
		`SELECT DISTINCT label_id FROM public_entities WHERE global_version_id = ? AND label_id IS NOT NULL AND label_id != ''`,
		`SELECT DISTINCT ep.label_id FROM entity_properties ep JOIN public_entities pe ON pe.id = ep.public_entity_id WHERE pe.global_version_id = ? AND ep.label_id IS NOT NULL AND ep.label_id != ''`,
		`SELECT DISTINCT label_id FROM entity_actions WHERE global_version_id = ? AND label_id IS NOT NULL AND label_id != ''`,
		`SELECT DISTINCT label_id FROM enumerations WHERE global_version_id = ? AND label_id IS NOT NULL AND label_id != ''`,
		`SELECT DISTINCT em.label_id FROM enumeration_members em JOIN enumerations e ON e.id = em.enumeration_id WHERE e.global_version_id = ? AND em.label_id IS NOT NULL AND em.label_id != ''`,
	}
	for _, q := range queries {
		rows, err := o.db.QueryContext(ctx, q, gvID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			seen[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// retryGet and retryCallAction apply the configured exponential
// backoff to individual remote calls. Authentication failures are
// never retried — spec.md §4.3 requires them to terminate the session
// immediately — so each attempt is checked against errors.IsRetryable
// before sleeping for the next one.
func (o *Orchestrator) retryGet(ctx context.Context, client collaborators.ODataClient, path, query string) ([]byte, error) {
	return retryCall(ctx, o.opts.Retry, func() ([]byte, error) { return client.Get(ctx, path, query) })
}

func (o *Orchestrator) retryCallAction(ctx context.Context, client collaborators.ODataClient, entitySet, action string, params map[string]any) ([]byte, error) {
	return retryCall(ctx, o.opts.Retry, func() ([]byte, error) { return client.CallAction(ctx, entitySet, action, params) })
}

func retryCall(ctx context.Context, cfg resilience.RetryConfig, fn func() ([]byte, error)) ([]byte, error) {
	var lastErr error
	delay := cfg.InitialDelay
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := fn()
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if coreerrors.Is(err, coreerrors.KindAuth) || !coreerrors.IsRetryable(err) {
			return nil, err
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	return nil, lastErr
}
