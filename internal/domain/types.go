// Package domain holds the value types shared by every layer of the
// metadata cache: environments, global versions, the version-scoped
// metadata rows, labels, and sync sessions.
package domain

import "time"

// EntityCategory classifies a DataEntity's business purpose.
type EntityCategory string

const (
	CategoryMaster        EntityCategory = "Master"
	CategoryTransaction   EntityCategory = "Transaction"
	CategoryDocument      EntityCategory = "Document"
	CategoryReference     EntityCategory = "Reference"
	CategoryParameter     EntityCategory = "Parameter"
	CategoryMiscellaneous EntityCategory = "Miscellaneous"
)

// Cardinality describes a navigation property's multiplicity.
type Cardinality string

const (
	CardinalitySingle   Cardinality = "Single"
	CardinalityMultiple Cardinality = "Multiple"
)

// ConstraintKind describes a navigation relation constraint.
type ConstraintKind string

const (
	ConstraintReferential ConstraintKind = "Referential"
	ConstraintFixed       ConstraintKind = "Fixed"
	ConstraintRelated     ConstraintKind = "Related"
)

// BindingKind describes how an action is invoked.
type BindingKind string

const (
	BindingUnbound          BindingKind = "Unbound"
	BindingBoundToEntitySet BindingKind = "BoundToEntitySet"
	BindingBoundToEntity    BindingKind = "BoundToEntity"
)

// SyncStatus is the lifecycle state of an EnvironmentVersion link.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncStrategy is the plan chosen for a sync session. See
// sync.SelectStrategy for the selection rules.
type SyncStrategy string

const (
	StrategyFull              SyncStrategy = "full"
	StrategyEntitiesOnly      SyncStrategy = "entities_only"
	StrategyLabelsOnly        SyncStrategy = "labels_only"
	StrategyFullWithoutLabels SyncStrategy = "full_without_labels"
	StrategySharingMode       SyncStrategy = "sharing_mode"
	StrategyIncremental       SyncStrategy = "incremental"
)

// SessionState is the sync session state machine from spec.md §4.3.
type SessionState string

const (
	SessionPending    SessionState = "pending"
	SessionRunning    SessionState = "running"
	SessionCancelling SessionState = "cancelling"
	SessionCompleted  SessionState = "completed"
	SessionFailed     SessionState = "failed"
	SessionCancelled  SessionState = "cancelled"
)

// EntityKind distinguishes the two GetEntity result shapes (spec.md §9
// tagged-variant redesign of "dynamic dispatch on entity kinds").
type EntityKind string

const (
	EntityKindData   EntityKind = "data"
	EntityKindPublic EntityKind = "public"
)

// Environment is a registered D365 F&O environment, identified by its
// canonical base URL.
type Environment struct {
	ID          int64
	BaseURL     string // lowercased, no trailing slash
	DisplayName string
	CreatedAt   time.Time
	LastSyncAt  *time.Time
}

// GlobalVersion is the content-addressed bucket of metadata shared by
// every environment whose installed-module set hashes the same.
type GlobalVersion struct {
	ID                      int64
	VersionHash             string // modules_hash[:16]
	ModulesHash             string // sha256 hex, 64 chars
	FirstSeenAt             time.Time
	LastUsedAt              time.Time
	ReferenceCount          int
	CreatedByEnvironmentID  int64
}

// Module is an installed-module diagnostic record attached to a
// GlobalVersion. Not used for equality; modules_hash is canonical.
type Module struct {
	GlobalVersionID int64
	ModuleID        string
	Name            string
	Version         string
	Publisher       string
	DisplayName     string
	SortOrder       int
}

// EnvironmentVersion links an Environment to the GlobalVersion it is
// currently (or was historically) pinned to.
type EnvironmentVersion struct {
	EnvironmentID      int64
	GlobalVersionID    int64
	DetectedAt         time.Time
	IsActive           bool
	SyncStatus         SyncStatus
	LastSyncDurationMs int64
}

// DataEntity is the collection-level record for a version-scoped
// entity: name, entity set, category, and capability flags.
type DataEntity struct {
	GlobalVersionID      int64
	Name                 string
	EntitySetName        string
	Category             EntityCategory
	DataServiceEnabled   bool
	DataManagementEnabled bool
	IsReadOnly           bool
	LabelID              string
	LabelText            string
}

// PublicEntity adds the structural shape (properties, navigations,
// actions) to a DataEntity sharing the same name and version.
type PublicEntity struct {
	GlobalVersionID int64
	Name            string
	EntitySetName   string
	LabelID         string
	LabelText       string
	Properties      []EntityProperty
	Navigations     []NavigationProperty
	Actions         []EntityAction
}

// GetLabelID implements label.Holder.
func (p *PublicEntity) GetLabelID() string { return p.LabelID }

// SetLabelText implements label.Holder.
func (p *PublicEntity) SetLabelText(text string) { p.LabelText = text }

// GetLabelID implements label.Holder.
func (d *DataEntity) GetLabelID() string { return d.LabelID }

// SetLabelText implements label.Holder.
func (d *DataEntity) SetLabelText(text string) { d.LabelText = text }

// EntityProperty is a single field on a PublicEntity.
type EntityProperty struct {
	Name              string
	TypeName          string
	DataType          string
	IsKey             bool
	IsMandatory       bool
	AllowEdit         bool
	AllowEditOnCreate bool
	IsDimension       bool
	PropertyOrder     int
	LabelID           string
	LabelText         string
}

func (p *EntityProperty) GetLabelID() string      { return p.LabelID }
func (p *EntityProperty) SetLabelText(text string) { p.LabelText = text }

// NavigationProperty points from a PublicEntity to a related entity.
type NavigationProperty struct {
	Name          string
	RelatedEntity string
	Cardinality   Cardinality
	Constraints   []RelationConstraint
}

// RelationConstraint is one leg of a NavigationProperty's join.
type RelationConstraint struct {
	Kind           ConstraintKind
	Property       string
	RelatedProperty string
	FixedValue     string
}

// EntityAction is a callable operation bound to an entity, entity set,
// or unbound.
type EntityAction struct {
	GlobalVersionID    int64
	Name               string
	EntityName         string
	BindingKind        BindingKind
	ReturnTypeName     string
	ReturnIsCollection bool
	FieldLookup        string
	Parameters         []ActionParameter
	LabelID            string
	LabelText          string
}

func (a *EntityAction) GetLabelID() string      { return a.LabelID }
func (a *EntityAction) SetLabelText(text string) { a.LabelText = text }

// ActionParameter is a single parameter of an EntityAction.
type ActionParameter struct {
	Name           string
	TypeName       string
	IsCollection   bool
	ParameterOrder int
}

// Enumeration is a version-scoped named set of integer-valued members.
type Enumeration struct {
	GlobalVersionID int64
	Name            string
	LabelID         string
	LabelText       string
	Members         []EnumerationMember
}

func (e *Enumeration) GetLabelID() string      { return e.LabelID }
func (e *Enumeration) SetLabelText(text string) { e.LabelText = text }

// EnumerationMember is one named integer value of an Enumeration.
type EnumerationMember struct {
	Name                 string
	Value                int
	ConfigurationEnabled bool
	LabelID              string
	LabelText            string
}

func (m *EnumerationMember) GetLabelID() string      { return m.LabelID }
func (m *EnumerationMember) SetLabelText(text string) { m.LabelText = text }

// Label is a resolved (global_version_id, label_id, language) tuple.
type Label struct {
	GlobalVersionID int64
	LabelID         string
	Language        string
	LabelText       string
	ExpiresAt       *time.Time
}

// SyncSession is the ephemeral lifecycle record for a running or
// finished sync.
type SyncSession struct {
	SessionID             string
	EnvironmentID         int64
	TargetGlobalVersionID int64
	Strategy              SyncStrategy
	State                 SessionState
	StartedAt             time.Time
	FinishedAt            *time.Time
	Phase                 string
	ItemsTotal            int
	ItemsDone             int
	ErrorsCount           int
	ErrorMessages         []string
}

// Entity is the tagged-variant GetEntity result (spec.md §9): exactly
// one of Data or Public is non-nil, selected by Kind.
type Entity struct {
	Kind   EntityKind
	Data   *DataEntity
	Public *PublicEntity
}
