package search

import (
	"context"
	"testing"

	"github.com/mafzaal/d365fo-client-go/internal/platform/database"
)

func openSearchEngine(t *testing.T) (*Engine, int64) {
	t.Helper()
	db, err := database.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`INSERT INTO environments (id, base_url, created_at) VALUES (1, 'https://example.operations.dynamics.com', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO global_versions (id, version_hash, modules_hash, first_seen_at, last_used_at, created_by_environment_id) VALUES (1, 'abc', 'abc123', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z', 1)`); err != nil {
		t.Fatal(err)
	}

	rows := []struct {
		name, kind, setName, labels, category string
		isReadOnly, dataServiceEnabled         bool
	}{
		{"Customers", "data_entity", "Customers", "Customer master", "Master", false, true},
		{"CustomerGroups", "data_entity", "CustomerGroups", "Customer groups", "Reference", true, true},
		{"SalesOrders", "data_entity", "SalesOrders", "Sales orders", "Transaction", false, false},
	}
	for _, r := range rows {
		if _, err := db.Exec(`
			INSERT INTO metadata_search (entity_name, entity_type, entity_set_name, description, labels, properties_text, actions_text, entity_category, is_read_only, data_service_enabled, global_version_id, entity_id)
			VALUES (?, ?, ?, ?, ?, '', '', ?, ?, ?, 1, ?)`, r.name, r.kind, r.setName, r.name, r.labels, r.category, r.isReadOnly, r.dataServiceEnabled, r.name); err != nil {
			t.Fatal(err)
		}
	}

	return NewEngine(db), 1
}

func TestSearch_FulltextRanksCustomerEntitiesFirst(t *testing.T) {
	e, gvID := openSearchEngine(t)

	results, err := e.Search(context.Background(), gvID, Query{Text: "customer", UseFulltext: true, Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	names := map[string]bool{results[0].Name: true, results[1].Name: true}
	if !names["Customers"] || !names["CustomerGroups"] {
		t.Fatalf("results = %+v, want Customers and CustomerGroups", results)
	}
	if results[0].Relevance < results[1].Relevance {
		t.Fatalf("relevance not non-increasing: %v then %v", results[0].Relevance, results[1].Relevance)
	}
}

func TestSearch_LikeFallbackWhenUseFulltextFalse(t *testing.T) {
	e, gvID := openSearchEngine(t)

	results, err := e.Search(context.Background(), gvID, Query{Text: "Sales", UseFulltext: false})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "SalesOrders" {
		t.Fatalf("results = %+v, want [SalesOrders]", results)
	}
}

func TestSearch_CategoryFilter(t *testing.T) {
	e, gvID := openSearchEngine(t)

	results, err := e.Search(context.Background(), gvID, Query{UseFulltext: false, Filters: Filters{EntityCategory: "Reference"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "CustomerGroups" {
		t.Fatalf("results = %+v, want [CustomerGroups]", results)
	}
}

func TestSearch_IsReadOnlyFilter(t *testing.T) {
	e, gvID := openSearchEngine(t)
	readOnly := true

	results, err := e.Search(context.Background(), gvID, Query{UseFulltext: false, Filters: Filters{IsReadOnly: &readOnly}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "CustomerGroups" {
		t.Fatalf("results = %+v, want [CustomerGroups]", results)
	}
}

func TestSearch_DataServiceEnabledFilter(t *testing.T) {
	e, gvID := openSearchEngine(t)
	enabled := false

	results, err := e.Search(context.Background(), gvID, Query{UseFulltext: false, Filters: Filters{DataServiceEnabled: &enabled}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Name != "SalesOrders" {
		t.Fatalf("results = %+v, want [SalesOrders]", results)
	}
}

func TestSearch_EntityTypeFilter(t *testing.T) {
	e, gvID := openSearchEngine(t)

	results, err := e.Search(context.Background(), gvID, Query{UseFulltext: false, EntityTypes: []string{"action"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none (no action rows seeded)", results)
	}
}
