package label

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
)

const (
	coalesceWindow = 50 * time.Millisecond
	batchSize      = 50
	englishLang    = "en-US"

	labelsEntitySet = "LabelRuntimeService"
	labelsAction    = "GetLabels"
)

type l1Key struct {
	gvID int64
	lang string
	id   string
}

// Resolver implements the L1 -> L2(DB) -> remote label lookup chain.
// It has no standalone L2 disk tier of its own: labels_cache in the
// metadata database plays that role, since label text shares the
// GlobalVersion's lifetime once written (spec.md §3).
type Resolver struct {
	db     *sql.DB
	client collaborators.ODataClient
	l1     *ttlcache.Cache[l1Key, string]

	batchMu sync.Mutex
	batches map[string]*pendingBatch
}

func NewResolver(db *sql.DB, client collaborators.ODataClient, l1TTL time.Duration) *Resolver {
	if l1TTL <= 0 {
		l1TTL = time.Hour
	}
	c := ttlcache.New[l1Key, string](ttlcache.WithTTL[l1Key, string](l1TTL), ttlcache.WithCapacity[l1Key, string](5000))
	go c.Start()
	return &Resolver{db: db, client: client, l1: c, batches: make(map[string]*pendingBatch)}
}

func (r *Resolver) Stop() { r.l1.Stop() }

// GetLabel resolves a single label id for lang, falling back to
// en-US when lang misses and fallbackToEnglish is set.
func (r *Resolver) GetLabel(ctx context.Context, gvID int64, labelID, lang string, fallbackToEnglish bool) (string, bool, error) {
	m, err := r.GetLabelsBatch(ctx, gvID, []string{labelID}, lang, fallbackToEnglish)
	if err != nil {
		return "", false, err
	}
	text, ok := m[labelID]
	return text, ok, nil
}

// GetLabelsBatch resolves every id in ids for lang via L1, then the
// labels_cache table, then a coalesced remote fetch for whatever is
// still missing.
func (r *Resolver) GetLabelsBatch(ctx context.Context, gvID int64, ids []string, lang string, fallbackToEnglish bool) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if text, ok := r.l1Get(gvID, lang, id); ok {
			result[id] = text
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	dbResolved, stillMissing, err := r.lookupDB(ctx, gvID, lang, missing)
	if err != nil {
		return nil, fmt.Errorf("label db lookup: %w", err)
	}
	for id, text := range dbResolved {
		result[id] = text
		r.l1Set(gvID, lang, id, text)
	}
	if len(stillMissing) == 0 {
		return result, nil
	}

	remote, err := r.fetchRemoteCoalesced(stillMissing, lang)
	if err == nil {
		for id, text := range remote {
			result[id] = text
			r.l1Set(gvID, lang, id, text)
			if err := r.persist(ctx, gvID, id, lang, text); err != nil {
				return nil, fmt.Errorf("persist label %s: %w", id, err)
			}
		}
	}

	if fallbackToEnglish && lang != englishLang {
		var notFound []string
		for _, id := range stillMissing {
			if _, ok := result[id]; !ok {
				notFound = append(notFound, id)
			}
		}
		if len(notFound) > 0 {
			english, ferr := r.GetLabelsBatch(ctx, gvID, notFound, englishLang, false)
			if ferr == nil {
				for id, text := range english {
					result[id] = text
					r.l1Set(gvID, lang, id, text)
					_ = r.persist(ctx, gvID, id, lang, text)
				}
			}
		}
	}

	return result, nil
}

func (r *Resolver) l1Get(gvID int64, lang, id string) (string, bool) {
	item := r.l1.Get(l1Key{gvID, lang, id})
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (r *Resolver) l1Set(gvID int64, lang, id, text string) {
	r.l1.Set(l1Key{gvID, lang, id}, text, ttlcache.DefaultTTL)
}

func (r *Resolver) lookupDB(ctx context.Context, gvID int64, lang string, ids []string) (map[string]string, []string, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, gvID, lang)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT label_id, label_text FROM labels_cache WHERE global_version_id = ? AND language = ? AND label_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	found := make(map[string]string, len(ids))
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, nil, err
		}
		found[id] = text
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (r *Resolver) persist(ctx context.Context, gvID int64, labelID, lang, text string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO labels_cache (global_version_id, label_id, language, label_text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (global_version_id, label_id, language) DO UPDATE SET label_text = excluded.label_text`,
		gvID, labelID, lang, text)
	return err
}

// pendingBatch accumulates label ids requested for one language within
// a coalesceWindow before issuing a single remote batch call.
type pendingBatch struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	done   chan struct{}
	result map[string]string
	err    error
}

func (r *Resolver) fetchRemoteCoalesced(ids []string, lang string) (map[string]string, error) {
	r.batchMu.Lock()
	b, exists := r.batches[lang]
	if !exists {
		b = &pendingBatch{ids: make(map[string]struct{}), done: make(chan struct{})}
		r.batches[lang] = b
		time.AfterFunc(coalesceWindow, func() { r.flushBatch(lang) })
	}
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
	r.batchMu.Unlock()

	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if v, ok := b.result[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (r *Resolver) flushBatch(lang string) {
	r.batchMu.Lock()
	b := r.batches[lang]
	delete(r.batches, lang)
	r.batchMu.Unlock()
	if b == nil {
		return
	}

	ids := make([]string, 0, len(b.ids))
	for id := range b.ids {
		ids = append(ids, id)
	}

	result := make(map[string]string, len(ids))
	var lastErr error
	for _, part := range chunkStrings(ids, batchSize) {
		raw, err := r.client.CallAction(context.Background(), labelsEntitySet, labelsAction, map[string]any{"labelIds": part, "language": lang})
		if err != nil {
			lastErr = err
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			lastErr = err
			continue
		}
		for k, v := range m {
			result[k] = v
		}
	}

	b.mu.Lock()
	b.result = result
	if len(result) == 0 {
		b.err = lastErr
	}
	b.mu.Unlock()
	close(b.done)
}

func chunkStrings(items []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
