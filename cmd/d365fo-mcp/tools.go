package main

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mafzaal/d365fo-client-go/internal/core"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/search"
)

// registerTools exposes a flat tool-name -> handler map over the core
// client's public API. Each tool is an independent AddTool call rather
// than a shared dispatch mixin, so adding one never risks breaking
// another's schema.
func registerTools(server *mcp.Server, client *core.Client) error {
	if err := addTool(server, "get_entity", "Fetch one data or public entity by name, including its fields, keys, and actions.", func(ctx context.Context, _ *mcp.CallToolRequest, in getEntityInput) (*mcp.CallToolResult, domain.Entity, error) {
		kind := domain.EntityKindData
		if in.Kind != "" {
			kind = domain.EntityKind(in.Kind)
		}
		entity, err := client.GetEntity(ctx, in.Name, kind)
		return nil, entity, err
	}); err != nil {
		return err
	}

	if err := addTool(server, "list_entities", "List cached data entities, optionally filtered by category, with paging.", func(ctx context.Context, _ *mcp.CallToolRequest, in listEntitiesInput) (*mcp.CallToolResult, listEntitiesOutput, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = 50
		}
		entities, err := client.ListEntities(ctx, in.Category, in.IsReadOnly, limit, in.Offset)
		return nil, listEntitiesOutput{Entities: entities}, err
	}); err != nil {
		return err
	}

	if err := addTool(server, "search_metadata", "Search cached entities, enumerations, and labels by name or text.", func(ctx context.Context, _ *mcp.CallToolRequest, in searchMetadataInput) (*mcp.CallToolResult, searchMetadataOutput, error) {
		q := search.Query{
			Text:        in.Text,
			Limit:       in.Limit,
			Offset:      in.Offset,
			UseFulltext: true,
		}
		if q.Limit <= 0 {
			q.Limit = 25
		}
		if in.Category != "" {
			q.Filters = search.Filters{EntityCategory: in.Category}
		}
		results, err := client.Search(ctx, q)
		return nil, searchMetadataOutput{Results: results}, err
	}); err != nil {
		return err
	}

	if err := addTool(server, "get_label", "Resolve one D365 label id to its display text in the configured language.", func(ctx context.Context, _ *mcp.CallToolRequest, in getLabelInput) (*mcp.CallToolResult, getLabelOutput, error) {
		text, found, err := client.GetLabel(ctx, in.LabelID)
		return nil, getLabelOutput{Text: text, Found: found}, err
	}); err != nil {
		return err
	}

	if err := addTool(server, "start_sync", "Start a metadata sync session against the environment's OData endpoint.", func(ctx context.Context, _ *mcp.CallToolRequest, in startSyncInput) (*mcp.CallToolResult, domain.SyncSession, error) {
		strategy := domain.StrategyIncremental
		if in.Strategy != "" {
			strategy = domain.SyncStrategy(in.Strategy)
		}
		session, err := client.StartSync(ctx, strategy, nil)
		return nil, session, err
	}); err != nil {
		return err
	}

	if err := addTool(server, "get_sync_progress", "Check the current state and item counts of a sync session by id.", func(ctx context.Context, _ *mcp.CallToolRequest, in getSyncProgressInput) (*mcp.CallToolResult, domain.SyncSession, error) {
		session, ok := client.GetSyncProgress(in.SessionID)
		if !ok {
			return nil, domain.SyncSession{}, fmt.Errorf("sync session %q not found", in.SessionID)
		}
		return nil, session, nil
	}); err != nil {
		return err
	}

	return nil
}

// addTool builds the input/output JSON schemas for T/R and registers
// the tool, so each call site only supplies the name, description, and
// handler closure.
func addTool[T, R any](server *mcp.Server, name, description string, handler func(context.Context, *mcp.CallToolRequest, T) (*mcp.CallToolResult, R, error)) error {
	inSchema, err := jsonschema.For[T](nil)
	if err != nil {
		return fmt.Errorf("build input schema for %s: %w", name, err)
	}
	outSchema, err := jsonschema.For[R](nil)
	if err != nil {
		return fmt.Errorf("build output schema for %s: %w", name, err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  inSchema,
		OutputSchema: outSchema,
	}, handler)
	return nil
}

type getEntityInput struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

type listEntitiesInput struct {
	Category   string `json:"category,omitempty"`
	IsReadOnly *bool  `json:"is_read_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type listEntitiesOutput struct {
	Entities []domain.DataEntity `json:"entities"`
}

type searchMetadataInput struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type searchMetadataOutput struct {
	Results []search.Result `json:"results"`
}

type getLabelInput struct {
	LabelID string `json:"label_id"`
}

type getLabelOutput struct {
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

type startSyncInput struct {
	Strategy string `json:"strategy,omitempty"`
}

type getSyncProgressInput struct {
	SessionID string `json:"session_id"`
}
