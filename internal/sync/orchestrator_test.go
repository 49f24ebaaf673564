package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/globalversion"
	"github.com/mafzaal/d365fo-client-go/internal/platform/database"
	"github.com/mafzaal/d365fo-client-go/internal/version"
)

type fakeClient struct{}

func (fakeClient) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (fakeClient) CallAction(ctx context.Context, entitySet, action string, params map[string]any) ([]byte, error) {
	switch action {
	case "GetInstalledModules":
		return json.Marshal([]string{
			"Name: ApplicationSuite | Version: 10.0.1 | Module: AppSuite | Publisher: Microsoft | DisplayName: Application Suite",
		})
	case "GetApplicationVersion":
		return json.Marshal("10.0.1")
	case "GetPlatformBuildVersion":
		return json.Marshal("7.0.7000.1")
	default:
		return nil, errors.New("unknown action")
	}
}

func (fakeClient) Get(ctx context.Context, path, query string) ([]byte, error) {
	switch path {
	case "DataEntities":
		return json.Marshal([]dataEntityDTO{
			{Name: "CustomersEntity", EntitySetName: "Customers", Category: "Master", DataServiceEnabled: true, LabelID: "@Foo1"},
		})
	case "PublicEntities":
		return json.Marshal([]publicEntityListDTO{{Name: "Customers", EntitySetName: "Customers"}})
	case "PublicEntities('Customers')":
		return json.Marshal(publicEntityDTO{
			Name: "Customers", EntitySetName: "Customers", LabelID: "@Foo1",
			Properties: []propertyDTO{{Name: "CustomerAccount", TypeName: "Edm.String", IsKey: true, LabelID: "@Foo2"}},
			Actions:    []actionDTO{{Name: "Recalculate", BindingKind: "BoundToEntity"}},
		})
	case "PublicEnumerations":
		return json.Marshal([]enumerationListDTO{{Name: "NoYes", LabelID: "@Foo3"}})
	case "PublicEnumerations('NoYes')":
		return json.Marshal(enumerationDTO{
			Name: "NoYes", LabelID: "@Foo3",
			Members: []enumerationMember{{Name: "No", Value: 0}, {Name: "Yes", Value: 1}},
		})
	default:
		return nil, errors.New("unknown path: " + path)
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	db, err := database.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`INSERT INTO environments (id, base_url, created_at) VALUES (1, 'https://example.operations.dynamics.com', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed environment: %v", err)
	}

	log := logging.New("sync-test", "error", "json")
	mgr := globalversion.NewManager(db, collaborators.SystemClock{})
	det := version.NewDetector(collaborators.SystemClock{}, log)
	return NewOrchestrator(db, mgr, det, collaborators.SystemClock{}, log, DefaultOptions())
}

func awaitTerminal(t *testing.T, o *Orchestrator, sessionID string) domain.SyncSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := o.GetSession(sessionID)
		if !ok {
			t.Fatalf("session %s not found", sessionID)
		}
		switch snap.State {
		case domain.SessionCompleted, domain.SessionFailed, domain.SessionCancelled:
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach a terminal state in time", sessionID)
	return domain.SyncSession{}
}

func TestStartSync_FullWithoutLabels_FirstTimeSync(t *testing.T) {
	o := newTestOrchestrator(t)
	client := fakeClient{}

	session, err := o.StartSync(context.Background(), 1, client, "", nil)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}
	if session.Strategy != domain.StrategyFullWithoutLabels {
		t.Fatalf("Strategy = %q, want full_without_labels (no active version yet)", session.Strategy)
	}

	final := awaitTerminal(t, o, session.SessionID)
	if final.State != domain.SessionCompleted {
		t.Fatalf("State = %q, want completed; errors=%v", final.State, final.ErrorMessages)
	}
	if final.ItemsDone == 0 {
		t.Fatal("ItemsDone = 0, want > 0")
	}
}

func TestStartSync_SharingModeForIdenticalModuleSets(t *testing.T) {
	dbA, err := database.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer dbA.Close()
	if _, err := dbA.Exec(`INSERT INTO environments (id, base_url, created_at) VALUES (1, 'https://a.example', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}
	log := logging.New("sync-test", "error", "json")
	mgrA := globalversion.NewManager(dbA, collaborators.SystemClock{})
	detA := version.NewDetector(collaborators.SystemClock{}, log)
	oA := NewOrchestrator(dbA, mgrA, detA, collaborators.SystemClock{}, log, DefaultOptions())

	sessA, err := oA.StartSync(context.Background(), 1, fakeClient{}, "", nil)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}
	finalA := awaitTerminal(t, oA, sessA.SessionID)
	if finalA.State != domain.SessionCompleted {
		t.Fatalf("env A State = %q, want completed", finalA.State)
	}

	// Same physical DB (sharing_mode is a same-database concept: any
	// environment whose installed-module hash matches an existing
	// completed GlobalVersion reuses it) but a second environment row.
	if _, err := dbA.Exec(`INSERT INTO environments (id, base_url, created_at) VALUES (2, 'https://b.example', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}
	detB := version.NewDetector(collaborators.SystemClock{}, log)
	oB := NewOrchestrator(dbA, mgrA, detB, collaborators.SystemClock{}, log, DefaultOptions())

	sessB, err := oB.StartSync(context.Background(), 2, fakeClient{}, "", nil)
	if err != nil {
		t.Fatalf("StartSync() error = %v", err)
	}
	if sessB.Strategy != domain.StrategySharingMode {
		t.Fatalf("env B Strategy = %q, want sharing_mode", sessB.Strategy)
	}
	finalB := awaitTerminal(t, oB, sessB.SessionID)
	if finalB.ItemsTotal != 0 {
		t.Fatalf("env B ItemsTotal = %d, want 0 (no network fetch in sharing_mode)", finalB.ItemsTotal)
	}
}

func TestCancelSession_UnknownSessionReturnsNotFound(t *testing.T) {
	o := newTestOrchestrator(t)
	if err := o.CancelSession("does-not-exist"); err == nil {
		t.Fatal("CancelSession() error = nil, want not-found error")
	}
}
