// Package search answers structured and free-text queries over one
// GlobalVersion's cached metadata, backed by the metadata_search FTS5
// table the sync orchestrator populates.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Query is the structured search request from spec.md §4.5.
type Query struct {
	Text        string
	EntityTypes []string
	Filters     Filters
	Limit       int
	Offset      int
	UseFulltext bool
}

// Filters narrows results by base-table columns. Empty string /
// nil-pointer fields are not applied.
type Filters struct {
	EntityCategory     string
	IsReadOnly         *bool
	DataServiceEnabled *bool
}

// Result is one matched row.
type Result struct {
	Name          string
	EntityType    string
	EntitySetName string
	Description   string
	Relevance     float64
	Snippet       string
}

type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

const defaultLimit = 50

// Search runs q against globalVersionID's rows. With UseFulltext and
// a non-empty Text it issues an FTS MATCH ranked by BM25; otherwise it
// falls back to a name LIKE scan over metadata_search's indexed
// columns, which still carries every kind in one place.
func (e *Engine) Search(ctx context.Context, globalVersionID int64, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	if q.UseFulltext && strings.TrimSpace(q.Text) != "" {
		return e.searchFulltext(ctx, globalVersionID, q, limit)
	}
	return e.searchLike(ctx, globalVersionID, q, limit)
}

func (e *Engine) searchFulltext(ctx context.Context, gvID int64, q Query, limit int) ([]Result, error) {
	where, args := buildFilterClause(gvID, q)
	matchExpr := fmt.Sprintf("%s OR %s OR %s", ftsMatchTerm(q.Text, "entity_name"), ftsMatchTerm(q.Text, "labels"), ftsMatchTerm(q.Text, "properties_text"))

	query := fmt.Sprintf(`
		SELECT entity_name, entity_type, entity_set_name, description,
		       bm25(metadata_search) AS rank,
		       snippet(metadata_search, 3, '<mark>', '</mark>', '...', 10) AS snip
		FROM metadata_search
		WHERE metadata_search MATCH ? AND %s
		ORDER BY rank
		LIMIT ? OFFSET ?`, where)

	allArgs := append([]any{matchExpr}, args...)
	allArgs = append(allArgs, limit, q.Offset)

	rows, err := e.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.Name, &r.EntityType, &r.EntitySetName, &r.Description, &rank, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan fulltext row: %w", err)
		}
		// bm25 is lower-is-better; relevance is presented as its negation
		// so callers can sort non-increasing, per spec.md §4.5.
		r.Relevance = -rank
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	applyTieBreak(out, q.Text)
	return out, nil
}

func (e *Engine) searchLike(ctx context.Context, gvID int64, q Query, limit int) ([]Result, error) {
	where, args := buildFilterClause(gvID, q)
	if strings.TrimSpace(q.Text) != "" {
		where += " AND entity_name LIKE ?"
		args = append(args, "%"+q.Text+"%")
	}

	query := fmt.Sprintf(`
		SELECT entity_name, entity_type, entity_set_name, description
		FROM metadata_search
		WHERE %s
		ORDER BY entity_name
		LIMIT ? OFFSET ?`, where)

	allArgs := append(args, limit, q.Offset)
	rows, err := e.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Name, &r.EntityType, &r.EntitySetName, &r.Description); err != nil {
			return nil, fmt.Errorf("scan like row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	applyTieBreak(out, q.Text)
	return out, nil
}

func buildFilterClause(gvID int64, q Query) (string, []any) {
	clauses := []string{"global_version_id = ?"}
	args := []any{gvID}

	if len(q.EntityTypes) > 0 {
		placeholders := make([]string, len(q.EntityTypes))
		for i, t := range q.EntityTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, fmt.Sprintf("entity_type IN (%s)", strings.Join(placeholders, ",")))
	}

	if q.Filters.EntityCategory != "" {
		clauses = append(clauses, "entity_category = ?")
		args = append(args, q.Filters.EntityCategory)
	}
	if q.Filters.IsReadOnly != nil {
		clauses = append(clauses, "is_read_only = ?")
		args = append(args, boolToInt(*q.Filters.IsReadOnly))
	}
	if q.Filters.DataServiceEnabled != nil {
		clauses = append(clauses, "data_service_enabled = ?")
		args = append(args, boolToInt(*q.Filters.DataServiceEnabled))
	}

	return strings.Join(clauses, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ftsMatchTerm quotes text as an FTS5 column-scoped phrase query.
func ftsMatchTerm(text, column string) string {
	return fmt.Sprintf(`%s:%s`, column, quoteFTS(text))
}

func quoteFTS(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// applyTieBreak re-sorts entries sharing the same Relevance: exact
// case-insensitive name match first, then shorter name, then
// lexicographic, per spec.md §4.5.
func applyTieBreak(results []Result, text string) {
	lowerText := strings.ToLower(text)
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		aExact := strings.ToLower(a.Name) == lowerText
		bExact := strings.ToLower(b.Name) == lowerText
		if aExact != bExact {
			return aExact
		}
		if len(a.Name) != len(b.Name) {
			return len(a.Name) < len(b.Name)
		}
		return a.Name < b.Name
	})
}
