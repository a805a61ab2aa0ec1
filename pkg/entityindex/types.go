package entityindex

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the domain type for attribute field types.
type FieldType string

// Field type constants (typed).
const (
	FieldTypeText               FieldType = "text"
	FieldTypeTextarea           FieldType = "textarea"
	FieldTypeInteger            FieldType = "integer"
	FieldTypeDecimal            FieldType = "decimal"
	FieldTypeBoolean            FieldType = "boolean"
	FieldTypeDate               FieldType = "date"
	FieldTypeDateTime           FieldType = "datetime"
	FieldTypeSelect             FieldType = "select"
	FieldTypeMultiSelect        FieldType = "multiselect"
	FieldTypeTags               FieldType = "tags"
	FieldTypeRelation           FieldType = "relation"
	FieldTypeRelationCollection FieldType = "relation_collection"
	FieldTypeFile               FieldType = "file"
	FieldTypeNode               FieldType = "node"
	FieldTypeCompound           FieldType = "compound"
)

// IsMultiple reports whether values of this field type are stored as
// ordered sequences rather than scalars.
func (ft FieldType) IsMultiple() bool {
	switch ft {
	case FieldTypeMultiSelect, FieldTypeTags, FieldTypeRelationCollection:
		return true
	}
	return false
}

// IsFullText reports whether the field type participates in free-text search.
func (ft FieldType) IsFullText() bool {
	return ft == FieldTypeText || ft == FieldTypeTextarea || ft == FieldTypeTags
}

// CompoundInputKind discriminates the inputs of a compound attribute
// definition.
type CompoundInputKind string

const (
	CompoundInputLiteral  CompoundInputKind = "literal"
	CompoundInputField    CompoundInputKind = "field"
	CompoundInputOperator CompoundInputKind = "operator"
)

// CompoundOperatorConcat is the only operator a compound definition may use.
const CompoundOperatorConcat = "CONCAT"

// CompoundInput is one step in a compound attribute definition. For a
// literal input Value holds the literal text, for a field input the
// referenced attribute code, for an operator input the operator name.
type CompoundInput struct {
	Kind  CompoundInputKind `json:"kind"`
	Value string            `json:"value"`
}

// Attribute describes one attribute of the dynamic content model.
type Attribute struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	FieldType    FieldType       `json:"field_type"`
	Localized    bool            `json:"localized"`
	DefaultValue any             `json:"default_value,omitempty"`
	Options      []string        `json:"options,omitempty"`
	Compound     []CompoundInput `json:"compound,omitempty"`
	ExpectedType string          `json:"expected_type,omitempty"`
}

// StorageKey returns the document field key for this attribute in the
// given locale. Localized attributes are stored under one key per locale.
func (a *Attribute) StorageKey(localeCode string) string {
	if a.Localized && localeCode != "" {
		return a.Code + localeSeparator + localeCode
	}
	return a.Code
}

const localeSeparator = "__"

// AttributeSet is the ordered collection of attributes an entity carries.
type AttributeSet struct {
	ID           uuid.UUID   `json:"id"`
	Code         string      `json:"code"`
	AttributeIDs []uuid.UUID `json:"attribute_ids"`
}

// EntityType describes one entity type of the content model.
type EntityType struct {
	ID                   uuid.UUID `json:"id"`
	Code                 string    `json:"code"`
	Endpoint             string    `json:"endpoint,omitempty"`
	WorkflowID           uuid.UUID `json:"workflow_id"`
	Localized            bool      `json:"localized"`
	LocalizedWorkflow    bool      `json:"localized_workflow"`
	DefaultWorkflowPoint uuid.UUID `json:"default_workflow_point"`
}

// Locale is a content locale, identified by a code such as "en_US".
type Locale struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
}

// WorkflowPoint is a named state in an entity type's workflow.
type WorkflowPoint struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Status     string    `json:"status"`
	Public     bool      `json:"public"`
	Deleted    bool      `json:"deleted"`
}

// StatusState is the lifecycle state of a StatusRecord.
type StatusState string

const (
	// StatusStateActive marks the record currently in effect for its locale.
	StatusStateActive StatusState = "active"
	// StatusStateHistory marks a superseded record. History is never deleted.
	StatusStateHistory StatusState = "history"
)

// StatusRecord captures one workflow status assignment of an entity.
// For a given (entity, locale) pair at most one record is active at a time.
type StatusRecord struct {
	Status      string      `json:"status"`
	Locale      string      `json:"locale,omitempty"`
	State       StatusState `json:"state"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StoredDocument is the persisted form of an entity in the document store.
// Localized attribute values are stored under "code__localeCode" keys,
// non-localized ones under the bare attribute code.
type StoredDocument struct {
	ID                string         `json:"id"`
	EntityTypeID      uuid.UUID      `json:"entity_type_id"`
	AttributeSetID    uuid.UUID      `json:"attribute_set_id"`
	Localized         bool           `json:"localized"`
	LocalizedWorkflow bool           `json:"localized_workflow"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Status            []StatusRecord `json:"status"`
	Fields            map[string]any `json:"fields"`
}

// Clone returns a deep copy of the document. Status and Fields are copied
// so mutations on the clone never leak into the receiver.
func (d *StoredDocument) Clone() *StoredDocument {
	c := *d
	c.Status = make([]StatusRecord, len(d.Status))
	copy(c.Status, d.Status)
	c.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		c.Fields[k] = v
	}
	return &c
}

// ActiveStatus returns the active StatusRecord for the given locale code,
// or nil if none exists.
func (d *StoredDocument) ActiveStatus(localeCode string) *StatusRecord {
	for i := range d.Status {
		if d.Status[i].State == StatusStateActive && d.Status[i].Locale == localeCode {
			return &d.Status[i]
		}
	}
	return nil
}

// EntityOutputType is the type tag carried by every formatted entity.
const EntityOutputType = "entity"

// FormattedEntity is the API-facing projection of a stored document. It is
// produced per read request and never persisted. Status is a plain string
// when a single locale is in context, or a map of locale code to status
// otherwise; localized fields collapse the same way.
type FormattedEntity struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	EntityType        string         `json:"entity_type"`
	EntityTypeID      uuid.UUID      `json:"entity_type_id"`
	AttributeSetCode  string         `json:"attribute_set_code"`
	AttributeSetID    uuid.UUID      `json:"attribute_set_id"`
	Localized         bool           `json:"localized"`
	LocalizedWorkflow bool           `json:"localized_workflow"`
	Locale            string         `json:"locale,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Status            any            `json:"status"`
	Fields            map[string]any `json:"fields"`
}

// ReferenceProjection is the minimal projection of a referenced entity
// denormalized into the referencing document at write time.
type ReferenceProjection struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	AttributeSetID uuid.UUID      `json:"attribute_set_id"`
	EntityTypeID   uuid.UUID      `json:"entity_type_id"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// CreateEntityRequest contains parameters for creating an entity.
// Locale may be a locale id or code; when empty every tracked locale is
// written. Status may be a plain status name or a map of locale code to
// status name; when absent the entity type's default workflow point is used.
type CreateEntityRequest struct {
	ID             string         `json:"id,omitempty"`
	EntityTypeID   uuid.UUID      `json:"entity_type_id"`
	AttributeSetID uuid.UUID      `json:"attribute_set_id"`
	Fields         map[string]any `json:"fields"`
	Status         any            `json:"status,omitempty"`
	Locale         string         `json:"locale,omitempty"`
}

// UpdateEntityRequest contains parameters for updating an entity. Only the
// attributes present in Fields are recomputed.
type UpdateEntityRequest struct {
	Fields map[string]any `json:"fields,omitempty"`
	Status any            `json:"status,omitempty"`
	Locale string         `json:"locale,omitempty"`
}

// GetEntityOptions narrow a fetch to a locale and/or workflow status.
// Status is a plain status name or an operator map (e/ne/in/nin).
type GetEntityOptions struct {
	Locale  string
	Status  any
	Include []string
}

// ListEntitiesRequest describes a filtered, sorted, paginated listing.
// Filter keys prefixed "fields." route to attribute-aware filters, the "s"
// key routes to free-text search. Sort entries use a leading '-' for
// descending order. Limit 0 means "up to the pagination ceiling".
type ListEntitiesRequest struct {
	Filter  map[string]any
	Sort    []string
	Offset  int
	Limit   int
	Include []string
	Locale  string
	Status  any
}

// ListMeta echoes the effective request parameters alongside result counts.
type ListMeta struct {
	Count   int            `json:"count"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Total   int            `json:"total"`
	Filter  map[string]any `json:"filter,omitempty"`
	Sort    []string       `json:"sort,omitempty"`
	Include []string       `json:"include,omitempty"`
	Locale  string         `json:"locale,omitempty"`
	Status  any            `json:"status,omitempty"`
}

// ListEntitiesResult is one page of formatted entities plus list metadata.
type ListEntitiesResult struct {
	Entities []*FormattedEntity `json:"entities"`
	Meta     ListMeta           `json:"meta"`
}
