// Package query is the read-only public API surface over one
// environment's active GlobalVersion: entities, actions, enumerations,
// labels, and environment info. GetEntity reads through the L1/L2
// object cache before the database; the other methods query the
// database directly.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	coreerrors "github.com/mafzaal/d365fo-client-go/infrastructure/errors"
	"github.com/mafzaal/d365fo-client-go/internal/cache"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/label"
)

// Service answers reads against globalVersionID-scoped rows.
type Service struct {
	db       *sql.DB
	cache    *cache.Cache
	resolver *label.Resolver
}

func NewService(db *sql.DB, c *cache.Cache, resolver *label.Resolver) *Service {
	return &Service{db: db, cache: c, resolver: resolver}
}

// GetEntity returns the tagged-variant result (spec.md §9): kind
// "public" loads the structural shape (properties/navigations/
// actions), kind "data" loads the collection-level record only.
func (s *Service) GetEntity(ctx context.Context, gvID int64, name string, kind domain.EntityKind, lang string) (domain.Entity, error) {
	cacheKey := cache.Key(gvID, "entity:"+string(kind), name)
	if raw, ok, err := s.cache.Get(cacheKey); err != nil {
		return domain.Entity{}, err
	} else if ok {
		var e domain.Entity
		if err := json.Unmarshal(raw, &e); err == nil {
			return e, nil
		}
	}

	var result domain.Entity
	var err error
	switch kind {
	case domain.EntityKindPublic:
		result, err = s.loadPublicEntity(ctx, gvID, name)
	default:
		result, err = s.loadDataEntity(ctx, gvID, name)
	}
	if err != nil {
		return domain.Entity{}, err
	}

	if err := s.resolveEntityLabels(ctx, gvID, &result, lang); err != nil {
		return domain.Entity{}, err
	}

	if raw, err := json.Marshal(result); err == nil {
		_ = s.cache.Set(cacheKey, raw)
	}
	return result, nil
}

func (s *Service) resolveEntityLabels(ctx context.Context, gvID int64, e *domain.Entity, lang string) error {
	if lang == "" {
		return nil
	}
	if e.Data != nil {
		return label.ResolveLabels(ctx, s.resolver, gvID, e.Data, lang, true)
	}
	if e.Public != nil {
		return label.ResolveLabels(ctx, s.resolver, gvID, e.Public, lang, true)
	}
	return nil
}

func (s *Service) loadDataEntity(ctx context.Context, gvID int64, name string) (domain.Entity, error) {
	var d domain.DataEntity
	d.GlobalVersionID = gvID
	var category, labelID, labelText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT name, entity_set_name, category, data_service_enabled, data_management_enabled, is_read_only, label_id, label_text
		FROM data_entities WHERE global_version_id = ? AND name = ?`, gvID, name).
		Scan(&d.Name, &d.EntitySetName, &category, &d.DataServiceEnabled, &d.DataManagementEnabled, &d.IsReadOnly, &labelID, &labelText)
	if err == sql.ErrNoRows {
		return domain.Entity{}, coreerrors.NotFound("data entity", name)
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load data entity: %w", err)
	}
	d.Category = domain.EntityCategory(category.String)
	d.LabelID = labelID.String
	d.LabelText = labelText.String
	return domain.Entity{Kind: domain.EntityKindData, Data: &d}, nil
}

func (s *Service) loadPublicEntity(ctx context.Context, gvID int64, name string) (domain.Entity, error) {
	var p domain.PublicEntity
	p.GlobalVersionID = gvID
	var id int64
	var labelID, labelText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_set_name, label_id, label_text
		FROM public_entities WHERE global_version_id = ? AND name = ?`, gvID, name).
		Scan(&id, &p.Name, &p.EntitySetName, &labelID, &labelText)
	if err == sql.ErrNoRows {
		return domain.Entity{}, coreerrors.NotFound("public entity", name)
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load public entity: %w", err)
	}
	p.LabelID = labelID.String
	p.LabelText = labelText.String

	propRows, err := s.db.QueryContext(ctx, `
		SELECT name, type_name, data_type, is_key, is_mandatory, allow_edit, allow_edit_on_create, is_dimension, property_order, label_id
		FROM entity_properties WHERE public_entity_id = ? ORDER BY property_order`, id)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load properties: %w", err)
	}
	defer propRows.Close()
	for propRows.Next() {
		var prop domain.EntityProperty
		var labelID sql.NullString
		if err := propRows.Scan(&prop.Name, &prop.TypeName, &prop.DataType, &prop.IsKey, &prop.IsMandatory, &prop.AllowEdit, &prop.AllowEditOnCreate, &prop.IsDimension, &prop.PropertyOrder, &labelID); err != nil {
			return domain.Entity{}, fmt.Errorf("scan property: %w", err)
		}
		prop.LabelID = labelID.String
		p.Properties = append(p.Properties, prop)
	}
	if err := propRows.Err(); err != nil {
		return domain.Entity{}, err
	}

	navRows, err := s.db.QueryContext(ctx, `SELECT id, name, related_entity, cardinality FROM navigation_properties WHERE public_entity_id = ?`, id)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load navigations: %w", err)
	}
	defer navRows.Close()
	for navRows.Next() {
		var nav domain.NavigationProperty
		var navID int64
		if err := navRows.Scan(&navID, &nav.Name, &nav.RelatedEntity, &nav.Cardinality); err != nil {
			return domain.Entity{}, fmt.Errorf("scan navigation: %w", err)
		}
		cons, err := s.loadConstraints(ctx, navID)
		if err != nil {
			return domain.Entity{}, err
		}
		nav.Constraints = cons
		p.Navigations = append(p.Navigations, nav)
	}
	if err := navRows.Err(); err != nil {
		return domain.Entity{}, err
	}

	actRows, err := s.db.QueryContext(ctx, `
		SELECT name, entity_name, binding_kind, return_type_name, return_is_collection, field_lookup, label_id, id
		FROM entity_actions WHERE global_version_id = ? AND entity_name = ?`, gvID, p.Name)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("load actions: %w", err)
	}
	defer actRows.Close()
	for actRows.Next() {
		var a domain.EntityAction
		var labelID sql.NullString
		var actionID int64
		if err := actRows.Scan(&a.Name, &a.EntityName, &a.BindingKind, &a.ReturnTypeName, &a.ReturnIsCollection, &a.FieldLookup, &labelID, &actionID); err != nil {
			return domain.Entity{}, fmt.Errorf("scan action: %w", err)
		}
		a.LabelID = labelID.String
		params, err := s.loadParameters(ctx, actionID)
		if err != nil {
			return domain.Entity{}, err
		}
		a.Parameters = params
		p.Actions = append(p.Actions, a)
	}
	if err := actRows.Err(); err != nil {
		return domain.Entity{}, err
	}

	return domain.Entity{Kind: domain.EntityKindPublic, Public: &p}, nil
}

func (s *Service) loadConstraints(ctx context.Context, navID int64) ([]domain.RelationConstraint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, property, related_property, fixed_value FROM relation_constraints WHERE navigation_property_id = ?`, navID)
	if err != nil {
		return nil, fmt.Errorf("load constraints: %w", err)
	}
	defer rows.Close()
	var out []domain.RelationConstraint
	for rows.Next() {
		var c domain.RelationConstraint
		if err := rows.Scan(&c.Kind, &c.Property, &c.RelatedProperty, &c.FixedValue); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Service) loadParameters(ctx context.Context, actionID int64) ([]domain.ActionParameter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type_name, is_collection, parameter_order FROM action_parameters WHERE entity_action_id = ? ORDER BY parameter_order`, actionID)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()
	var out []domain.ActionParameter
	for rows.Next() {
		var p domain.ActionParameter
		if err := rows.Scan(&p.Name, &p.TypeName, &p.IsCollection, &p.ParameterOrder); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEntities returns every DataEntity name/category for gvID,
// paginated by limit/offset. isReadOnly narrows by the read-only flag
// when non-nil.
func (s *Service) ListEntities(ctx context.Context, gvID int64, category string, isReadOnly *bool, limit, offset int) ([]domain.DataEntity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT name, entity_set_name, category, data_service_enabled, data_management_enabled, is_read_only, label_id, label_text FROM data_entities WHERE global_version_id = ?`
	args := []any{gvID}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	if isReadOnly != nil {
		query += " AND is_read_only = ?"
		args = append(args, boolToInt(*isReadOnly))
	}
	query += " ORDER BY name LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.DataEntity
	for rows.Next() {
		var d domain.DataEntity
		d.GlobalVersionID = gvID
		var cat, labelID, labelText sql.NullString
		if err := rows.Scan(&d.Name, &d.EntitySetName, &cat, &d.DataServiceEnabled, &d.DataManagementEnabled, &d.IsReadOnly, &labelID, &labelText); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		d.Category = domain.EntityCategory(cat.String)
		d.LabelID = labelID.String
		d.LabelText = labelText.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetEnumeration loads an Enumeration and its members by name.
func (s *Service) GetEnumeration(ctx context.Context, gvID int64, name, lang string) (domain.Enumeration, error) {
	var e domain.Enumeration
	e.GlobalVersionID = gvID
	var id int64
	var labelID, labelText sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, name, label_id, label_text FROM enumerations WHERE global_version_id = ? AND name = ?`, gvID, name).
		Scan(&id, &e.Name, &labelID, &labelText)
	if err == sql.ErrNoRows {
		return domain.Enumeration{}, coreerrors.NotFound("enumeration", name)
	}
	if err != nil {
		return domain.Enumeration{}, fmt.Errorf("load enumeration: %w", err)
	}
	e.LabelID = labelID.String
	e.LabelText = labelText.String

	rows, err := s.db.QueryContext(ctx, `SELECT name, value, configuration_enabled, label_id, label_text FROM enumeration_members WHERE enumeration_id = ? ORDER BY value`, id)
	if err != nil {
		return domain.Enumeration{}, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.EnumerationMember
		var labelID, labelText sql.NullString
		if err := rows.Scan(&m.Name, &m.Value, &m.ConfigurationEnabled, &labelID, &labelText); err != nil {
			return domain.Enumeration{}, fmt.Errorf("scan member: %w", err)
		}
		m.LabelID = labelID.String
		m.LabelText = labelText.String
		e.Members = append(e.Members, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Enumeration{}, err
	}

	if lang != "" {
		if err := label.ResolveLabels(ctx, s.resolver, gvID, &e, lang, true); err != nil {
			return domain.Enumeration{}, err
		}
	}
	return e, nil
}

// GetActions returns every EntityAction bound to entityName (or, if
// entityName is empty, every unbound action) for gvID. bindingKind and
// namePattern further narrow the result when non-empty; namePattern is
// matched as a SQL LIKE pattern against the action name. limit/offset
// paginate the result, with limit<=0 defaulting to 100.
func (s *Service) GetActions(ctx context.Context, gvID int64, entityName string, bindingKind domain.BindingKind, namePattern string, limit, offset int) ([]domain.EntityAction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, name, entity_name, binding_kind, return_type_name, return_is_collection, field_lookup, label_id
		FROM entity_actions WHERE global_version_id = ? AND entity_name = ?`
	args := []any{gvID, entityName}
	if bindingKind != "" {
		query += " AND binding_kind = ?"
		args = append(args, bindingKind)
	}
	if namePattern != "" {
		query += " AND name LIKE ?"
		args = append(args, namePattern)
	}
	query += " ORDER BY name LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityAction
	for rows.Next() {
		var a domain.EntityAction
		var labelID sql.NullString
		var id int64
		if err := rows.Scan(&id, &a.Name, &a.EntityName, &a.BindingKind, &a.ReturnTypeName, &a.ReturnIsCollection, &a.FieldLookup, &labelID); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.LabelID = labelID.String
		params, err := s.loadParameters(ctx, id)
		if err != nil {
			return nil, err
		}
		a.Parameters = params
		out = append(out, a)
	}
	return out, rows.Err()
}

// EnvironmentInfo is the §6.2 GetEnvironmentInfo result.
type EnvironmentInfo struct {
	BaseURL             string
	ActiveGlobalVersionID int64
	AppVersion          string
	PlatformVersion     string
	EntityCount         int
	ActionCount         int
	EnumCount           int
	LabelCount          int
	LastSyncAt          *time.Time
}

func (s *Service) GetEnvironmentInfo(ctx context.Context, environmentID, gvID int64) (EnvironmentInfo, error) {
	var info EnvironmentInfo
	info.ActiveGlobalVersionID = gvID

	var lastSyncAt sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT base_url, last_sync_at FROM environments WHERE id = ?`, environmentID).
		Scan(&info.BaseURL, &lastSyncAt); err != nil {
		return EnvironmentInfo{}, fmt.Errorf("load environment: %w", err)
	}
	if lastSyncAt.Valid {
		t, err := time.Parse(time.RFC3339, lastSyncAt.String)
		if err == nil {
			info.LastSyncAt = &t
		}
	}

	counts := []struct {
		table string
		dest  *int
	}{
		{"data_entities", &info.EntityCount},
		{"entity_actions", &info.ActionCount},
		{"enumerations", &info.EnumCount},
		{"labels_cache", &info.LabelCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE global_version_id = ?`, c.table), gvID).Scan(c.dest); err != nil {
			return EnvironmentInfo{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	return info, nil
}
