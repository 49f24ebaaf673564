package core

import (
	"context"
	"testing"
	"time"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/globalversion"
	"github.com/mafzaal/d365fo-client-go/internal/platform/database"
)

func TestEnsureEnvironment_FindOrCreate(t *testing.T) {
	db, err := database.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := collaborators.SystemClock{}
	id1, err := ensureEnvironment(context.Background(), db, "https://example.operations.dynamics.com", clock)
	if err != nil {
		t.Fatalf("ensureEnvironment() first call error = %v", err)
	}
	if id1 == 0 {
		t.Fatal("expected non-zero environment id")
	}

	id2, err := ensureEnvironment(context.Background(), db, "https://example.operations.dynamics.com", clock)
	if err != nil {
		t.Fatalf("ensureEnvironment() second call error = %v", err)
	}
	if id2 != id1 {
		t.Fatalf("expected idempotent id %d, got %d", id1, id2)
	}

	id3, err := ensureEnvironment(context.Background(), db, "https://other.operations.dynamics.com", clock)
	if err != nil {
		t.Fatalf("ensureEnvironment() for a second base url error = %v", err)
	}
	if id3 == id1 {
		t.Fatal("expected a distinct id for a distinct base url")
	}
}

func TestBuildTokenProvider(t *testing.T) {
	t.Run("default auth mode returns a static provider", func(t *testing.T) {
		p, err := buildTokenProvider(&config.ClientConfig{AuthMode: config.AuthModeDefault})
		if err != nil {
			t.Fatalf("buildTokenProvider() error = %v", err)
		}
		if _, ok := p.(*collaborators.StaticTokenProvider); !ok {
			t.Fatalf("expected *StaticTokenProvider, got %T", p)
		}
	})

	t.Run("client credentials mode returns an oauth provider", func(t *testing.T) {
		p, err := buildTokenProvider(&config.ClientConfig{
			AuthMode:     config.AuthModeClientCredentials,
			TenantID:     "tenant",
			ClientID:     "client",
			ClientSecret: "secret",
			Timeout:      30 * time.Second,
		})
		if err != nil {
			t.Fatalf("buildTokenProvider() error = %v", err)
		}
		if _, ok := p.(*collaborators.ClientCredentialsTokenProvider); !ok {
			t.Fatalf("expected *ClientCredentialsTokenProvider, got %T", p)
		}
	})

	t.Run("unknown auth mode errors", func(t *testing.T) {
		if _, err := buildTokenProvider(&config.ClientConfig{AuthMode: "bogus"}); err == nil {
			t.Fatal("expected an error for an unsupported auth mode")
		}
	})
}

func TestClient_ActiveGlobalVersionID_NoSyncYet(t *testing.T) {
	db, err := database.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := collaborators.SystemClock{}
	envID, err := ensureEnvironment(context.Background(), db, "https://example.operations.dynamics.com", clock)
	if err != nil {
		t.Fatalf("ensureEnvironment() error = %v", err)
	}

	c := &Client{db: db, environmentID: envID, versions: globalversion.NewManager(db, clock)}
	_, err = c.activeGlobalVersionID(context.Background())
	if err == nil {
		t.Fatal("expected an error before any sync has completed")
	}
}
