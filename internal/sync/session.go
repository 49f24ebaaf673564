package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
)

// ProgressFunc receives a snapshot of a session's progress. It is
// called immediately on every phase change and terminal transition;
// other progress updates call it at most once per second, and an
// update skipped by that limit is not delivered later. There is no
// timer, so it is not called while progress does not change.
type ProgressFunc func(domain.SyncSession)

// sessionHandle is the orchestrator's live view of one session: the
// published domain.SyncSession snapshot plus the cancellation signal
// workers poll between batches.
type sessionHandle struct {
	mu           sync.Mutex
	session      domain.SyncSession
	cancel       chan struct{}
	cancelOnce   sync.Once
	lastNotifyAt time.Time
	onProgress   ProgressFunc
}

func newSessionHandle(environmentID, targetVersionID int64, strategy domain.SyncStrategy, clock collaborators.Clock, onProgress ProgressFunc) *sessionHandle {
	return &sessionHandle{
		session: domain.SyncSession{
			SessionID:             uuid.NewString(),
			EnvironmentID:         environmentID,
			TargetGlobalVersionID: targetVersionID,
			Strategy:              strategy,
			State:                 domain.SessionPending,
			StartedAt:             time.Unix(clock.Now(), 0).UTC(),
			Phase:                 "pending",
		},
		cancel:     make(chan struct{}),
		onProgress: onProgress,
	}
}

func (h *sessionHandle) snapshot() domain.SyncSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := h.session
	cp.ErrorMessages = append([]string(nil), h.session.ErrorMessages...)
	return cp
}

func (h *sessionHandle) setPhase(phase string) {
	h.mu.Lock()
	h.session.Phase = phase
	h.session.State = domain.SessionRunning
	h.mu.Unlock()
	h.notify(true)
}

func (h *sessionHandle) setItemsTotal(n int) {
	h.mu.Lock()
	h.session.ItemsTotal = n
	h.mu.Unlock()
	h.notify(false)
}

func (h *sessionHandle) addItemsDone(n int) {
	h.mu.Lock()
	h.session.ItemsDone += n
	h.mu.Unlock()
	h.notify(false)
}

func (h *sessionHandle) addError(msg string) {
	h.mu.Lock()
	h.session.ErrorsCount++
	h.session.ErrorMessages = append(h.session.ErrorMessages, msg)
	h.mu.Unlock()
}

func (h *sessionHandle) requestCancel() {
	h.mu.Lock()
	if h.session.State == domain.SessionRunning {
		h.session.State = domain.SessionCancelling
	}
	h.mu.Unlock()
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *sessionHandle) cancelRequested() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

func (h *sessionHandle) finish(state domain.SessionState, clock collaborators.Clock) {
	h.mu.Lock()
	h.session.State = state
	now := time.Unix(clock.Now(), 0).UTC()
	h.session.FinishedAt = &now
	h.session.Phase = string(state)
	h.mu.Unlock()
	h.notify(true)
}

// notify fires the progress callback immediately when force is set
// (phase changes, terminal transitions); otherwise only if at least
// one second has passed since the last call.
func (h *sessionHandle) notify(force bool) {
	if h.onProgress == nil {
		return
	}
	h.mu.Lock()
	due := force || time.Since(h.lastNotifyAt) >= time.Second
	if due {
		h.lastNotifyAt = time.Now()
	}
	snap := h.session
	snap.ErrorMessages = append([]string(nil), h.session.ErrorMessages...)
	h.mu.Unlock()
	if due {
		h.onProgress(snap)
	}
}

// registry tracks sessions in memory for the lifetime of the process.
// Sync sessions are ephemeral per spec.md §3, so no persistence is
// required beyond the SyncSession row's own lifecycle fields.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionHandle
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*sessionHandle)}
}

func (r *registry) put(h *sessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[h.session.SessionID] = h
}

func (r *registry) get(sessionID string) (*sessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[sessionID]
	return h, ok
}

func (r *registry) listForEnvironment(environmentID int64) []domain.SyncSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SyncSession, 0, len(r.sessions))
	for _, h := range r.sessions {
		snap := h.snapshot()
		if snap.EnvironmentID == environmentID {
			out = append(out, snap)
		}
	}
	return out
}
