package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mafzaal/d365fo-client-go/internal/domain"
	"github.com/mafzaal/d365fo-client-go/internal/platform/database"
)

// chunk splits items into slices of at most size, preserving order.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func (o *Orchestrator) writeDataEntities(ctx context.Context, gvID int64, entities []domain.DataEntity, h *sessionHandle) error {
	for _, batch := range chunk(entities, o.opts.BatchSize) {
		if h.cancelRequested() {
			return errCancelled
		}
		if err := database.WithTx(ctx, o.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO data_entities (global_version_id, name, entity_set_name, category, data_service_enabled, data_management_enabled, is_read_only, label_id)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					gvID, e.Name, e.EntitySetName, string(e.Category), e.DataServiceEnabled, e.DataManagementEnabled, e.IsReadOnly, e.LabelID); err != nil {
					return fmt.Errorf("insert data_entity %s: %w", e.Name, err)
				}
			}
			return nil
		}); err != nil {
			return err
		}
		h.addItemsDone(len(batch))
	}
	return nil
}

func (o *Orchestrator) writePublicEntities(ctx context.Context, gvID int64, entities []domain.PublicEntity, h *sessionHandle, strategy domain.SyncStrategy) error {
	for _, batch := range chunk(entities, o.opts.BatchSize) {
		if h.cancelRequested() {
			return errCancelled
		}
		if err := database.WithTx(ctx, o.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO public_entities (global_version_id, name, entity_set_name, label_id)
					VALUES (?, ?, ?, ?)`, gvID, e.Name, e.EntitySetName, e.LabelID)
				if err != nil {
					return fmt.Errorf("insert public_entity %s: %w", e.Name, err)
				}
				entityID, err := res.LastInsertId()
				if err != nil {
					return fmt.Errorf("public_entity last insert id: %w", err)
				}

				for _, p := range e.Properties {
					if _, err := tx.ExecContext(ctx, `
						INSERT INTO entity_properties (public_entity_id, name, type_name, data_type, is_key, is_mandatory, allow_edit, allow_edit_on_create, is_dimension, property_order, label_id)
						VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
						entityID, p.Name, p.TypeName, p.DataType, p.IsKey, p.IsMandatory, p.AllowEdit, p.AllowEditOnCreate, p.IsDimension, p.PropertyOrder, p.LabelID); err != nil {
						return fmt.Errorf("insert property %s.%s: %w", e.Name, p.Name, err)
					}
				}

				for _, n := range e.Navigations {
					navRes, err := tx.ExecContext(ctx, `
						INSERT INTO navigation_properties (public_entity_id, name, related_entity, cardinality)
						VALUES (?, ?, ?, ?)`, entityID, n.Name, n.RelatedEntity, string(n.Cardinality))
					if err != nil {
						return fmt.Errorf("insert navigation %s.%s: %w", e.Name, n.Name, err)
					}
					navID, err := navRes.LastInsertId()
					if err != nil {
						return fmt.Errorf("navigation last insert id: %w", err)
					}
					for _, c := range n.Constraints {
						if _, err := tx.ExecContext(ctx, `
							INSERT INTO relation_constraints (navigation_property_id, kind, property, related_property, fixed_value)
							VALUES (?, ?, ?, ?, ?)`, navID, string(c.Kind), c.Property, c.RelatedProperty, c.FixedValue); err != nil {
							return fmt.Errorf("insert constraint %s.%s: %w", e.Name, n.Name, err)
						}
					}
				}

				if includesActionsAndEnums(strategy) {
					for _, a := range e.Actions {
						if err := insertAction(ctx, tx, gvID, e.Name, a); err != nil {
							return err
						}
					}
				}
			}
			return nil
		}); err != nil {
			return err
		}
		h.addItemsDone(len(batch))
	}
	return nil
}

func insertAction(ctx context.Context, tx *sql.Tx, gvID int64, entityName string, a domain.EntityAction) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entity_actions (global_version_id, name, entity_name, binding_kind, return_type_name, return_is_collection, field_lookup, label_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gvID, a.Name, entityName, string(a.BindingKind), a.ReturnTypeName, a.ReturnIsCollection, a.FieldLookup, a.LabelID)
	if err != nil {
		return fmt.Errorf("insert action %s.%s: %w", entityName, a.Name, err)
	}
	actionID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("action last insert id: %w", err)
	}
	for _, p := range a.Parameters {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO action_parameters (entity_action_id, name, type_name, is_collection, parameter_order)
			VALUES (?, ?, ?, ?, ?)`, actionID, p.Name, p.TypeName, p.IsCollection, p.ParameterOrder); err != nil {
			return fmt.Errorf("insert action parameter %s.%s.%s: %w", entityName, a.Name, p.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) writeEnumerations(ctx context.Context, gvID int64, enums []domain.Enumeration, h *sessionHandle) error {
	for _, batch := range chunk(enums, o.opts.BatchSize) {
		if h.cancelRequested() {
			return errCancelled
		}
		if err := database.WithTx(ctx, o.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO enumerations (global_version_id, name, label_id)
					VALUES (?, ?, ?)`, gvID, e.Name, e.LabelID)
				if err != nil {
					return fmt.Errorf("insert enumeration %s: %w", e.Name, err)
				}
				enumID, err := res.LastInsertId()
				if err != nil {
					return fmt.Errorf("enumeration last insert id: %w", err)
				}
				for _, m := range e.Members {
					if _, err := tx.ExecContext(ctx, `
						INSERT INTO enumeration_members (enumeration_id, name, value, configuration_enabled, label_id)
						VALUES (?, ?, ?, ?, ?)`, enumID, m.Name, m.Value, m.ConfigurationEnabled, m.LabelID); err != nil {
						return fmt.Errorf("insert enumeration member %s.%s: %w", e.Name, m.Name, err)
					}
				}
			}
			return nil
		}); err != nil {
			return err
		}
		h.addItemsDone(len(batch))
	}
	return nil
}

func (o *Orchestrator) writeLabels(ctx context.Context, gvID int64, language string, resolved map[string]string) error {
	if len(resolved) == 0 {
		return nil
	}
	ids := make([]string, 0, len(resolved))
	for id := range resolved {
		ids = append(ids, id)
	}
	for _, batch := range chunk(ids, o.opts.BatchSize) {
		if err := database.WithTx(ctx, o.db, func(tx *sql.Tx) error {
			for _, id := range batch {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO labels_cache (global_version_id, label_id, language, label_text)
					VALUES (?, ?, ?, ?)
					ON CONFLICT (global_version_id, label_id, language) DO UPDATE SET label_text = excluded.label_text`,
					gvID, id, language, resolved[id]); err != nil {
					return fmt.Errorf("insert label %s: %w", id, err)
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// populateFTS rebuilds the metadata_search rows for gvID from the
// entity/action/enumeration rows just written, inside a single
// transaction as spec.md §4.3 step 6 requires.
func (o *Orchestrator) populateFTS(ctx context.Context, gvID int64) error {
	return database.WithTx(ctx, o.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM metadata_search WHERE global_version_id = ?`, gvID); err != nil {
			return fmt.Errorf("clear fts rows: %w", err)
		}

		dataRows, err := tx.QueryContext(ctx, `SELECT id, name, entity_set_name, label_id, category, is_read_only, data_service_enabled FROM data_entities WHERE global_version_id = ?`, gvID)
		if err != nil {
			return fmt.Errorf("select data_entities for fts: %w", err)
		}
		if err := insertDataEntityFTSRows(ctx, tx, dataRows, gvID); err != nil {
			return err
		}

		pubRows, err := tx.QueryContext(ctx, `SELECT id, name, entity_set_name, label_id FROM public_entities WHERE global_version_id = ?`, gvID)
		if err != nil {
			return fmt.Errorf("select public_entities for fts: %w", err)
		}
		if err := insertFTSRowsWithChildren(ctx, tx, pubRows, gvID, "public_entity"); err != nil {
			return err
		}

		enumRows, err := tx.QueryContext(ctx, `SELECT id, name, '' , label_id FROM enumerations WHERE global_version_id = ?`, gvID)
		if err != nil {
			return fmt.Errorf("select enumerations for fts: %w", err)
		}
		if err := insertFTSRows(ctx, tx, enumRows, gvID, "enumeration"); err != nil {
			return err
		}

		actionRows, err := tx.QueryContext(ctx, `SELECT id, name, entity_name, label_id FROM entity_actions WHERE global_version_id = ?`, gvID)
		if err != nil {
			return fmt.Errorf("select entity_actions for fts: %w", err)
		}
		return insertFTSRows(ctx, tx, actionRows, gvID, "action")
	})
}

// DrainFTSRebuildQueue repopulates metadata_search for every
// global version a migration marked as needing a rebuild (for
// instance after dropping a legacy FTS shape) and removes it from the
// queue once done. Called once at startup; safe to call with an empty
// queue.
func (o *Orchestrator) DrainFTSRebuildQueue(ctx context.Context) error {
	rows, err := o.db.QueryContext(ctx, `SELECT global_version_id FROM fts_rebuild_queue`)
	if err != nil {
		return fmt.Errorf("select fts_rebuild_queue: %w", err)
	}
	var gvIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan fts_rebuild_queue row: %w", err)
		}
		gvIDs = append(gvIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, gvID := range gvIDs {
		if err := o.populateFTS(ctx, gvID); err != nil {
			return fmt.Errorf("rebuild fts for global version %d: %w", gvID, err)
		}
		if _, err := o.db.ExecContext(ctx, `DELETE FROM fts_rebuild_queue WHERE global_version_id = ?`, gvID); err != nil {
			return fmt.Errorf("dequeue fts rebuild for global version %d: %w", gvID, err)
		}
	}
	return nil
}

// insertDataEntityFTSRows writes data_entity rows, denormalizing
// category/is_read_only/data_service_enabled onto the FTS row so
// search.Filters can apply them without a join back to data_entities.
func insertDataEntityFTSRows(ctx context.Context, tx *sql.Tx, rows *sql.Rows, gvID int64) error {
	defer rows.Close()
	type row struct {
		id, name, setName, labelID, category string
		isReadOnly, dataServiceEnabled        bool
	}
	var collected []row
	for rows.Next() {
		var id int64
		var name, setName, labelID, category string
		var isReadOnly, dataServiceEnabled bool
		if err := rows.Scan(&id, &name, &setName, &labelID, &category, &isReadOnly, &dataServiceEnabled); err != nil {
			return fmt.Errorf("scan data_entity for fts: %w", err)
		}
		collected = append(collected, row{id: fmt.Sprintf("%d", id), name: name, setName: setName, labelID: labelID, category: category, isReadOnly: isReadOnly, dataServiceEnabled: dataServiceEnabled})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range collected {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_search (entity_name, entity_type, entity_set_name, description, labels, properties_text, actions_text, entity_category, is_read_only, data_service_enabled, global_version_id, entity_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.name, "data_entity", r.setName, r.name, r.labelID, "", "", r.category, r.isReadOnly, r.dataServiceEnabled, gvID, r.id); err != nil {
			return fmt.Errorf("insert data_entity fts row %s: %w", r.name, err)
		}
	}
	return nil
}

func insertFTSRows(ctx context.Context, tx *sql.Tx, rows *sql.Rows, gvID int64, entityType string) error {
	defer rows.Close()
	type row struct {
		id, name, setName, labelID string
	}
	var collected []row
	for rows.Next() {
		var id int64
		var name, setName, labelID string
		if err := rows.Scan(&id, &name, &setName, &labelID); err != nil {
			return fmt.Errorf("scan fts source row: %w", err)
		}
		collected = append(collected, row{id: fmt.Sprintf("%d", id), name: name, setName: setName, labelID: labelID})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range collected {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_search (entity_name, entity_type, entity_set_name, description, labels, properties_text, actions_text, global_version_id, entity_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.name, entityType, r.setName, r.name, r.labelID, "", "", gvID, r.id); err != nil {
			return fmt.Errorf("insert fts row %s: %w", r.name, err)
		}
	}
	return nil
}

// insertFTSRowsWithChildren synthesizes properties_text/actions_text/
// labels for public entities, which own child rows the other metadata
// kinds don't.
func insertFTSRowsWithChildren(ctx context.Context, tx *sql.Tx, rows *sql.Rows, gvID int64, entityType string) error {
	defer rows.Close()
	type row struct {
		id, name, setName, labelID string
	}
	var collected []row
	for rows.Next() {
		var id int64
		var name, setName, labelID string
		if err := rows.Scan(&id, &name, &setName, &labelID); err != nil {
			return fmt.Errorf("scan public_entity for fts: %w", err)
		}
		collected = append(collected, row{id: fmt.Sprintf("%d", id), name: name, setName: setName, labelID: labelID})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range collected {
		propRows, err := tx.QueryContext(ctx, `SELECT name, type_name, label_id FROM entity_properties WHERE public_entity_id = ?`, r.id)
		if err != nil {
			return fmt.Errorf("select properties for fts: %w", err)
		}
		var propParts, labelIDs []string
		for propRows.Next() {
			var name, typeName, labelID string
			if err := propRows.Scan(&name, &typeName, &labelID); err != nil {
				propRows.Close()
				return fmt.Errorf("scan property for fts: %w", err)
			}
			propParts = append(propParts, name, typeName)
			if labelID != "" {
				labelIDs = append(labelIDs, labelID)
			}
		}
		propRows.Close()

		actionRows, err := tx.QueryContext(ctx, `SELECT name FROM entity_actions WHERE global_version_id = ? AND entity_name = ?`, gvID, r.name)
		if err != nil {
			return fmt.Errorf("select actions for fts: %w", err)
		}
		var actionParts []string
		for actionRows.Next() {
			var name string
			if err := actionRows.Scan(&name); err != nil {
				actionRows.Close()
				return fmt.Errorf("scan action for fts: %w", err)
			}
			actionParts = append(actionParts, name)
		}
		actionRows.Close()

		if r.labelID != "" {
			labelIDs = append(labelIDs, r.labelID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_search (entity_name, entity_type, entity_set_name, description, labels, properties_text, actions_text, global_version_id, entity_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.name, entityType, r.setName, r.name, strings.Join(labelIDs, " "), strings.Join(propParts, " "), strings.Join(actionParts, " "), gvID, r.id); err != nil {
			return fmt.Errorf("insert public entity fts row %s: %w", r.name, err)
		}
	}
	return nil
}
