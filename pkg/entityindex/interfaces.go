package entityindex

import (
	"context"

	"github.com/google/uuid"
)

// MetadataProvider exposes read-only lookups into the content model
// metadata (attributes, attribute sets, entity types, locales, workflows).
// Metadata management itself lives outside this module.
type MetadataProvider interface {
	AttributeByID(ctx context.Context, id uuid.UUID) (*Attribute, error)
	AttributeByCode(ctx context.Context, code string) (*Attribute, error)
	AttributesByFieldType(ctx context.Context, ft FieldType) ([]*Attribute, error)
	AttributeSetByID(ctx context.Context, id uuid.UUID) (*AttributeSet, error)
	EntityTypeByID(ctx context.Context, id uuid.UUID) (*EntityType, error)
	LocaleByID(ctx context.Context, id uuid.UUID) (*Locale, error)
	LocaleByCode(ctx context.Context, code string) (*Locale, error)
	Locales(ctx context.Context) ([]*Locale, error)
	WorkflowPointByID(ctx context.Context, id uuid.UUID) (*WorkflowPoint, error)
	WorkflowPointByStatus(ctx context.Context, workflowID uuid.UUID, status string) (*WorkflowPoint, error)
}

// Query is a document-store query body fragment in the store's native
// bool/nested structure.
type Query map[string]any

// Script is a scripted partial mutation applied by UpdateByQuery.
type Script struct {
	Source string         `json:"source"`
	Params map[string]any `json:"params,omitempty"`
}

// SearchRequest is a compiled query plus pagination and sort.
type SearchRequest struct {
	Query Query
	From  int
	Size  int
	Sort  []map[string]any
}

// SearchResult is one page of raw documents plus the total hit count.
type SearchResult struct {
	Total     int
	Documents []*StoredDocument
}

// DocumentStore is the narrow interface to the underlying search index.
// Implementations return ErrEntityNotFound for absent documents and wrap
// every other failure in a StoreError.
type DocumentStore interface {
	// EnsureIndex creates the index with its field mapping if absent.
	EnsureIndex(ctx context.Context) error

	// Index creates or replaces a document under its id.
	Index(ctx context.Context, doc *StoredDocument) error

	// Get returns the document with the given id.
	Get(ctx context.Context, id string) (*StoredDocument, error)

	// Update merges the given partial body into an existing document.
	Update(ctx context.Context, id string, partial map[string]any) error

	// Delete removes the document with the given id.
	Delete(ctx context.Context, id string) error

	// Search executes a compiled query.
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)

	// UpdateByQuery applies a scripted mutation to every matching document.
	UpdateByQuery(ctx context.Context, query Query, script Script) error

	// DeleteByQuery removes every matching document.
	DeleteByQuery(ctx context.Context, query Query) error

	// Refresh makes all prior writes visible to subsequent searches.
	Refresh(ctx context.Context) error
}

// CacheInvalidator is notified whenever a mutation makes downstream
// read-through caches for the entity type stale.
type CacheInvalidator interface {
	InvalidateEntities(ctx context.Context)
}

// ParseContext carries the surrounding state a field handler may need when
// parsing a value for storage.
type ParseContext struct {
	Attribute *Attribute
	// Locale is the locale code the value is being stored for, empty for
	// non-localized attributes.
	Locale string
	// LocaleCodes are all locale codes tracked by the entity type.
	LocaleCodes []string
	// RequestFields is the full field map of the current request.
	RequestFields map[string]any
	// Current is the stored document being updated, nil on create.
	Current *StoredDocument
}

// FieldHandler knows how to store and format values of one field type.
// One handler instance exists per configured field type.
type FieldHandler interface {
	// ParseForStorage converts an API-level value into its stored form.
	ParseForStorage(ctx context.Context, value any, pc ParseContext) (any, error)

	// FormatForOutput converts a stored value back into its API form.
	FormatForOutput(value any, attr *Attribute, localeCode string) any
}

// FilterContributor lets a handler translate an attribute filter into
// query clauses. Handlers without this capability get the default
// operator-table translation.
type FilterContributor interface {
	BuildFilterClause(q *BoolQuery, attr *Attribute, filter any, localeCode string, localeCodes []string) error
}

// CascadeContributor lets a handler participate in cross-document cleanup
// when a referenced entity or file is deleted elsewhere.
type CascadeContributor interface {
	// CascadeFieldTypes names the field types whose attributes this
	// handler owns during a cascade.
	CascadeFieldTypes() []FieldType

	// CascadeRewrite removes the deleted id from a stored value. It
	// returns the replacement value and whether anything changed.
	CascadeRewrite(deletedID string, value any) (any, bool)
}

// Service is the entity projection engine: it moves between API-level
// entity parameters and stored documents, and back to formatted output.
type Service interface {
	CreateEntity(ctx context.Context, req CreateEntityRequest) (*FormattedEntity, error)
	UpdateEntity(ctx context.Context, id string, req UpdateEntityRequest) (*FormattedEntity, error)
	GetEntity(ctx context.Context, id string, opts GetEntityOptions) (*FormattedEntity, error)
	ListEntities(ctx context.Context, req ListEntitiesRequest) (*ListEntitiesResult, error)
	DeleteEntity(ctx context.Context, id string) (*FormattedEntity, error)
	DeleteEntityForLocale(ctx context.Context, id string, localeID uuid.UUID) error

	// Bulk mutations fired when content-model metadata is removed.
	DeleteFieldsByAttribute(ctx context.Context, attributeID uuid.UUID) error
	DeleteEntitiesByAttributeSet(ctx context.Context, attributeSetID uuid.UUID) error
	DeleteEntitiesByEntityType(ctx context.Context, entityTypeID uuid.UUID) error

	// Cascade cleanup fired when a referenced entity or file is removed.
	OnEntityDeleted(ctx context.Context, deletedID string) error
	OnFileDeleted(ctx context.Context, deletedID string) error
}
