package entityindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// projector implements the Service interface: it orchestrates
// create/update/fetch/list against the document store, moving between
// API-level entity parameters and stored documents.
type projector struct {
	store     DocumentStore
	metadata  MetadataProvider
	registry  *fieldRegistry
	compiler  *queryCompiler
	evaluator *compoundEvaluator
	cache     CacheInvalidator
	logger    *slog.Logger
}

// Option represents a functional option for configuring the service.
type Option func(*projector)

// WithDocumentStore sets the document store backing the service.
func WithDocumentStore(store DocumentStore) Option {
	return func(p *projector) { p.store = store }
}

// WithMetadataProvider sets the content-model metadata source.
func WithMetadataProvider(metadata MetadataProvider) Option {
	return func(p *projector) { p.metadata = metadata }
}

// WithCacheInvalidator sets the downstream cache invalidation hook.
func WithCacheInvalidator(cache CacheInvalidator) Option {
	return func(p *projector) { p.cache = cache }
}

// WithLogger sets the logger used for cascade and bulk operations.
func WithLogger(logger *slog.Logger) Option {
	return func(p *projector) { p.logger = logger }
}

// New creates a new service instance with the given options.
func New(options ...Option) (Service, error) {
	p := &projector{}
	for _, option := range options {
		option(p)
	}
	if p.store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if p.metadata == nil {
		return nil, fmt.Errorf("metadata provider is required")
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.registry = newFieldRegistry(p.store, p.metadata)
	p.compiler = &queryCompiler{metadata: p.metadata, registry: p.registry}
	p.evaluator = &compoundEvaluator{metadata: p.metadata}
	return p, nil
}

func (p *projector) invalidateCache(ctx context.Context) {
	if p.cache != nil {
		p.cache.InvalidateEntities(ctx)
	}
}

// resolveLocale resolves a locale reference, which may be a locale code or
// a locale id. An empty reference resolves to nil (no locale context).
func (p *projector) resolveLocale(ctx context.Context, ref string) (*Locale, error) {
	if ref == "" {
		return nil, nil
	}
	if loc, err := p.metadata.LocaleByCode(ctx, ref); err == nil {
		return loc, nil
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, badRequestf("locale", "unknown locale %q", ref)
	}
	return p.metadata.LocaleByID(ctx, id)
}

// trackedLocales returns the locale codes the entity type tracks, in the
// metadata provider's order. A fully non-localized entity type tracks none.
func (p *projector) trackedLocales(ctx context.Context, entityType *EntityType) ([]string, error) {
	if !entityType.Localized && !entityType.LocalizedWorkflow {
		return nil, nil
	}
	locales, err := p.metadata.Locales(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(locales))
	for _, loc := range locales {
		codes = append(codes, loc.Code)
	}
	return codes, nil
}

func (p *projector) resolveSetAttributes(ctx context.Context, setID uuid.UUID) (*AttributeSet, []*Attribute, error) {
	set, err := p.metadata.AttributeSetByID(ctx, setID)
	if err != nil {
		return nil, nil, err
	}
	attrs := make([]*Attribute, 0, len(set.AttributeIDs))
	for _, id := range set.AttributeIDs {
		attr, err := p.metadata.AttributeByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		attrs = append(attrs, attr)
	}
	return set, attrs, nil
}

// suppliedValue extracts the request value for one attribute and locale.
// A localized attribute may be supplied as a per-locale map or as a scalar
// applied to every target locale.
func suppliedValue(fields map[string]any, attr *Attribute, localeCode string) (any, bool) {
	raw, ok := fields[attr.Code]
	if !ok {
		return nil, false
	}
	if attr.Localized && localeCode != "" {
		if perLocale, isMap := raw.(map[string]any); isMap {
			v, has := perLocale[localeCode]
			return v, has
		}
	}
	return raw, true
}

// statusNameFor extracts the requested status for one locale. A scalar
// status applies to every locale; a map supplies per-locale names.
func statusNameFor(status any, localeCode string) (string, bool) {
	switch s := status.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case map[string]string:
		name, ok := s[localeCode]
		return name, ok
	case map[string]any:
		v, ok := s[localeCode]
		if !ok {
			return "", false
		}
		return stringify(v), true
	default:
		return stringify(status), true
	}
}

// resolveStatusName validates a requested status against the entity type's
// workflow, falling back to the default workflow point when none is given.
func (p *projector) resolveStatusName(ctx context.Context, entityType *EntityType, status any, localeCode string) (string, error) {
	if name, ok := statusNameFor(status, localeCode); ok {
		point, err := p.metadata.WorkflowPointByStatus(ctx, entityType.WorkflowID, name)
		if err != nil {
			return "", badRequestf("status", "unknown status %q", name)
		}
		return point.Status, nil
	}
	point, err := p.metadata.WorkflowPointByID(ctx, entityType.DefaultWorkflowPoint)
	if err != nil {
		return "", err
	}
	return point.Status, nil
}

// CreateEntity builds a new stored document from the request, walking the
// attribute set per relevant locale, and returns the entity through the
// read path so the output shape matches subsequent fetches.
func (p *projector) CreateEntity(ctx context.Context, req CreateEntityRequest) (*FormattedEntity, error) {
	entityType, err := p.metadata.EntityTypeByID(ctx, req.EntityTypeID)
	if err != nil {
		return nil, err
	}
	_, attrs, err := p.resolveSetAttributes(ctx, req.AttributeSetID)
	if err != nil {
		return nil, err
	}
	locale, err := p.resolveLocale(ctx, req.Locale)
	if err != nil {
		return nil, err
	}
	tracked, err := p.trackedLocales(ctx, entityType)
	if err != nil {
		return nil, err
	}

	targets := tracked
	if locale != nil {
		targets = []string{locale.Code}
	}

	now := time.Now().UTC()
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	doc := &StoredDocument{
		ID:                id,
		EntityTypeID:      entityType.ID,
		AttributeSetID:    req.AttributeSetID,
		Localized:         entityType.Localized,
		LocalizedWorkflow: entityType.LocalizedWorkflow,
		CreatedAt:         now,
		UpdatedAt:         now,
		Fields:            make(map[string]any),
	}

	for _, attr := range attrs {
		handler, err := p.registry.Handler(attr.FieldType)
		if err != nil {
			return nil, err
		}
		locales := []string{""}
		if attr.Localized {
			locales = targets
		}
		for _, lc := range locales {
			value, ok := suppliedValue(req.Fields, attr, lc)
			if !ok {
				value = attr.DefaultValue
			}
			parsed, err := handler.ParseForStorage(ctx, value, ParseContext{
				Attribute:     attr,
				Locale:        lc,
				LocaleCodes:   tracked,
				RequestFields: req.Fields,
			})
			if err != nil {
				return nil, err
			}
			doc.Fields[attr.StorageKey(lc)] = parsed
		}
	}

	statusLocales := []string{""}
	if entityType.LocalizedWorkflow {
		statusLocales = tracked
	}
	for _, lc := range statusLocales {
		name, err := p.resolveStatusName(ctx, entityType, req.Status, lc)
		if err != nil {
			return nil, err
		}
		doc.Status = append(doc.Status, StatusRecord{
			Status:    name,
			Locale:    lc,
			State:     StatusStateActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := p.store.Index(ctx, doc); err != nil {
		return nil, err
	}

	return p.GetEntity(ctx, doc.ID, GetEntityOptions{Locale: req.Locale})
}

// UpdateEntity recomputes only the attributes present in the request,
// writing at most once for the field/status changes and once more for any
// compound recomputation the change triggered.
func (p *projector) UpdateEntity(ctx context.Context, id string, req UpdateEntityRequest) (*FormattedEntity, error) {
	current, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entityType, err := p.metadata.EntityTypeByID(ctx, current.EntityTypeID)
	if err != nil {
		return nil, err
	}
	_, attrs, err := p.resolveSetAttributes(ctx, current.AttributeSetID)
	if err != nil {
		return nil, err
	}
	locale, err := p.resolveLocale(ctx, req.Locale)
	if err != nil {
		return nil, err
	}
	tracked, err := p.trackedLocales(ctx, entityType)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	requestLocale := ""
	if locale != nil {
		requestLocale = locale.Code
	}

	for _, attr := range attrs {
		if _, supplied := req.Fields[attr.Code]; !supplied || attr.FieldType == FieldTypeCompound {
			continue
		}
		handler, err := p.registry.Handler(attr.FieldType)
		if err != nil {
			return nil, err
		}
		locales := []string{""}
		if attr.Localized {
			if locale != nil {
				locales = []string{locale.Code}
			} else {
				locales = tracked
			}
		}
		for _, lc := range locales {
			value, ok := suppliedValue(req.Fields, attr, lc)
			if !ok {
				continue
			}
			parsed, err := handler.ParseForStorage(ctx, value, ParseContext{
				Attribute:     attr,
				Locale:        lc,
				LocaleCodes:   tracked,
				RequestFields: req.Fields,
				Current:       current,
			})
			if err != nil {
				return nil, err
			}
			working.Fields[attr.StorageKey(lc)] = parsed
		}
	}

	if req.Status != nil {
		if err := p.applyStatusUpdate(ctx, working, entityType, req.Status, locale, tracked); err != nil {
			return nil, err
		}
	}

	changed := !reflect.DeepEqual(current.Fields, working.Fields) ||
		!reflect.DeepEqual(current.Status, working.Status)
	if changed {
		// Two-phase compound recompute: compound fields are provisionally
		// nulled for the first write and re-derived for a second, partial
		// write covering only the recomputed keys.
		token := prepareCompoundRecompute(working, attrs, requestLocale, tracked)
		working.UpdatedAt = time.Now().UTC()
		if err := p.store.Index(ctx, working); err != nil {
			return nil, err
		}

		recomputed, err := p.evaluator.finalizeCompoundRecompute(ctx, working, token, req.Fields, requestLocale, tracked)
		if err != nil {
			return nil, err
		}
		if len(recomputed) > 0 {
			if err := p.store.Update(ctx, id, map[string]any{"fields": recomputed}); err != nil {
				return nil, err
			}
		}
	}

	return p.GetEntity(ctx, id, GetEntityOptions{Locale: req.Locale})
}

// applyStatusUpdate transitions status records per resolved locale: a
// changed status moves the prior active record to history and appends a
// new active one; an unchanged status is a no-op for that locale.
func (p *projector) applyStatusUpdate(ctx context.Context, doc *StoredDocument, entityType *EntityType, status any, locale *Locale, tracked []string) error {
	locales := []string{""}
	if entityType.LocalizedWorkflow {
		if locale != nil {
			locales = []string{locale.Code}
		} else if perLocale, ok := status.(map[string]any); ok {
			locales = locales[:0]
			for _, lc := range tracked {
				if _, has := perLocale[lc]; has {
					locales = append(locales, lc)
				}
			}
		} else {
			locales = tracked
		}
	}

	now := time.Now().UTC()
	for _, lc := range locales {
		name, err := p.resolveStatusName(ctx, entityType, status, lc)
		if err != nil {
			return err
		}
		active := doc.ActiveStatus(lc)
		if active != nil && active.Status == name {
			continue
		}
		if active != nil {
			active.State = StatusStateHistory
			active.UpdatedAt = now
		}
		doc.Status = append(doc.Status, StatusRecord{
			Status:    name,
			Locale:    lc,
			State:     StatusStateActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return nil
}

// GetEntity reads the raw document and projects it for the requested
// locale and status context.
func (p *projector) GetEntity(ctx context.Context, id string, opts GetEntityOptions) (*FormattedEntity, error) {
	doc, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	locale, err := p.resolveLocale(ctx, opts.Locale)
	if err != nil {
		return nil, err
	}
	return p.formatDocument(ctx, doc, locale, opts.Status)
}

// ListEntities compiles the request into a store query, executes it and
// formats every hit through the fetch formatting path.
func (p *projector) ListEntities(ctx context.Context, req ListEntitiesRequest) (*ListEntitiesResult, error) {
	locale, err := p.resolveLocale(ctx, req.Locale)
	if err != nil {
		return nil, err
	}
	locales, err := p.metadata.Locales(ctx)
	if err != nil {
		return nil, err
	}
	localeCodes := make([]string, 0, len(locales))
	for _, loc := range locales {
		localeCodes = append(localeCodes, loc.Code)
	}

	search, err := p.compiler.Compile(ctx, req, locale, localeCodes)
	if err != nil {
		return nil, err
	}
	result, err := p.store.Search(ctx, search)
	if err != nil {
		return nil, err
	}

	entities := make([]*FormattedEntity, 0, len(result.Documents))
	for _, doc := range result.Documents {
		entity, err := p.formatDocument(ctx, doc, locale, req.Status)
		if err != nil {
			// A hit whose statuses fall away between search and format is
			// dropped from the page rather than failing the listing.
			if errors.Is(err, ErrEntityNotFound) {
				continue
			}
			return nil, err
		}
		entities = append(entities, entity)
	}

	return &ListEntitiesResult{
		Entities: entities,
		Meta: ListMeta{
			Count:   len(entities),
			Offset:  req.Offset,
			Limit:   req.Limit,
			Total:   result.Total,
			Filter:  req.Filter,
			Sort:    req.Sort,
			Include: req.Include,
			Locale:  req.Locale,
			Status:  req.Status,
		},
	}, nil
}

// DeleteEntity removes the document from the index, returning its last
// formatted state and invalidating the downstream entity cache.
func (p *projector) DeleteEntity(ctx context.Context, id string) (*FormattedEntity, error) {
	entity, err := p.GetEntity(ctx, id, GetEntityOptions{})
	if err != nil {
		return nil, err
	}
	if err := p.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	p.invalidateCache(ctx)
	return entity, nil
}

// DeleteEntityForLocale retires one locale from an entity: its active
// status records transition to history and every field stored under the
// locale's suffix is stripped. A single conditional write.
func (p *projector) DeleteEntityForLocale(ctx context.Context, id string, localeID uuid.UUID) error {
	locale, err := p.metadata.LocaleByID(ctx, localeID)
	if err != nil {
		return err
	}
	current, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}
	working := current.Clone()
	now := time.Now().UTC()

	changed := false
	for i := range working.Status {
		rec := &working.Status[i]
		if rec.State == StatusStateActive && rec.Locale == locale.Code {
			rec.State = StatusStateHistory
			rec.UpdatedAt = now
			changed = true
		}
	}
	suffix := localeSeparator + locale.Code
	for key := range working.Fields {
		if strings.HasSuffix(key, suffix) {
			delete(working.Fields, key)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	working.UpdatedAt = now
	if err := p.store.Index(ctx, working); err != nil {
		return err
	}
	p.invalidateCache(ctx)
	return nil
}

// removeFieldScript drops one field key from a document's field map.
const removeFieldScript = "ctx._source.fields.remove(params.field)"

// DeleteFieldsByAttribute removes the attribute's field key (one per
// locale when localized) from every document carrying it. The index is
// refreshed before the bulk query so it sees the latest writes, and after
// each localized round trip so the next locale's pass observes the prior
// removal.
func (p *projector) DeleteFieldsByAttribute(ctx context.Context, attributeID uuid.UUID) error {
	attr, err := p.metadata.AttributeByID(ctx, attributeID)
	if err != nil {
		return err
	}
	keys := []string{attr.Code}
	if attr.Localized {
		locales, err := p.metadata.Locales(ctx)
		if err != nil {
			return err
		}
		keys = keys[:0]
		for _, loc := range locales {
			keys = append(keys, attr.StorageKey(loc.Code))
		}
	}

	if err := p.store.Refresh(ctx); err != nil {
		return err
	}
	for _, key := range keys {
		query := NewBoolQuery().Filter(ExistsQuery("fields." + key)).Build()
		script := Script{Source: removeFieldScript, Params: map[string]any{"field": key}}
		if err := p.store.UpdateByQuery(ctx, query, script); err != nil {
			return err
		}
		if attr.Localized {
			if err := p.store.Refresh(ctx); err != nil {
				return err
			}
		}
	}
	p.invalidateCache(ctx)
	return nil
}

// DeleteEntitiesByAttributeSet removes every document of the attribute set.
func (p *projector) DeleteEntitiesByAttributeSet(ctx context.Context, attributeSetID uuid.UUID) error {
	if err := p.store.Refresh(ctx); err != nil {
		return err
	}
	query := NewBoolQuery().Filter(TermQuery("attribute_set_id", attributeSetID.String())).Build()
	if err := p.store.DeleteByQuery(ctx, query); err != nil {
		return err
	}
	p.invalidateCache(ctx)
	return nil
}

// DeleteEntitiesByEntityType removes every document of the entity type.
func (p *projector) DeleteEntitiesByEntityType(ctx context.Context, entityTypeID uuid.UUID) error {
	if err := p.store.Refresh(ctx); err != nil {
		return err
	}
	query := NewBoolQuery().Filter(TermQuery("entity_type_id", entityTypeID.String())).Build()
	if err := p.store.DeleteByQuery(ctx, query); err != nil {
		return err
	}
	p.invalidateCache(ctx)
	return nil
}
