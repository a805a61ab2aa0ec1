package entityindex_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/entity-index/pkg/entityindex"
	metamemory "github.com/tendant/entity-index/pkg/entityindex/metadata/memory"
	storememory "github.com/tendant/entity-index/pkg/entityindex/store/memory"
)

// fixture wires a service against in-process backends with a small content
// model: two locales, a draft/published workflow and a mixed attribute set.
type fixture struct {
	svc   entityindex.Service
	store *storememory.Store
	meta  *metamemory.Provider

	entityType *entityindex.EntityType
	set        *entityindex.AttributeSet
	localeEN   *entityindex.Locale
	localeDE   *entityindex.Locale
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	meta := metamemory.New()
	store := storememory.New()

	localeEN := &entityindex.Locale{ID: uuid.New(), Code: "en_US"}
	localeDE := &entityindex.Locale{ID: uuid.New(), Code: "de_DE"}
	meta.RegisterLocale(localeEN)
	meta.RegisterLocale(localeDE)

	workflowID := uuid.New()
	draft := &entityindex.WorkflowPoint{ID: uuid.New(), WorkflowID: workflowID, Status: "draft"}
	published := &entityindex.WorkflowPoint{ID: uuid.New(), WorkflowID: workflowID, Status: "published", Public: true}
	meta.RegisterWorkflowPoint(draft)
	meta.RegisterWorkflowPoint(published)

	attrs := []*entityindex.Attribute{
		{ID: uuid.New(), Code: "title", FieldType: entityindex.FieldTypeText, Localized: true},
		{ID: uuid.New(), Code: "summary", FieldType: entityindex.FieldTypeTextarea},
		{ID: uuid.New(), Code: "views", FieldType: entityindex.FieldTypeInteger},
		{ID: uuid.New(), Code: "keywords", FieldType: entityindex.FieldTypeTags},
		{ID: uuid.New(), Code: "first_name", FieldType: entityindex.FieldTypeText},
		{ID: uuid.New(), Code: "last_name", FieldType: entityindex.FieldTypeText},
		{ID: uuid.New(), Code: "full_name", FieldType: entityindex.FieldTypeCompound, ExpectedType: "string",
			Compound: []entityindex.CompoundInput{
				{Kind: entityindex.CompoundInputField, Value: "first_name"},
				{Kind: entityindex.CompoundInputOperator, Value: entityindex.CompoundOperatorConcat},
				{Kind: entityindex.CompoundInputLiteral, Value: " "},
				{Kind: entityindex.CompoundInputOperator, Value: entityindex.CompoundOperatorConcat},
				{Kind: entityindex.CompoundInputField, Value: "last_name"},
			}},
		{ID: uuid.New(), Code: "headline", FieldType: entityindex.FieldTypeCompound, Localized: true, ExpectedType: "string",
			Compound: []entityindex.CompoundInput{
				{Kind: entityindex.CompoundInputLiteral, Value: "~"},
				{Kind: entityindex.CompoundInputOperator, Value: entityindex.CompoundOperatorConcat},
				{Kind: entityindex.CompoundInputField, Value: "title"},
			}},
		{ID: uuid.New(), Code: "author", FieldType: entityindex.FieldTypeRelation},
		{ID: uuid.New(), Code: "contributors", FieldType: entityindex.FieldTypeRelationCollection},
		{ID: uuid.New(), Code: "avatar", FieldType: entityindex.FieldTypeFile},
	}
	set := &entityindex.AttributeSet{ID: uuid.New(), Code: "article"}
	for _, attr := range attrs {
		meta.RegisterAttribute(attr)
		set.AttributeIDs = append(set.AttributeIDs, attr.ID)
	}
	meta.RegisterAttributeSet(set)

	entityType := &entityindex.EntityType{
		ID:                   uuid.New(),
		Code:                 "article",
		WorkflowID:           workflowID,
		Localized:            true,
		LocalizedWorkflow:    true,
		DefaultWorkflowPoint: draft.ID,
	}
	meta.RegisterEntityType(entityType)

	svc, err := entityindex.New(
		entityindex.WithDocumentStore(store),
		entityindex.WithMetadataProvider(meta),
	)
	require.NoError(t, err)

	return &fixture{
		svc:        svc,
		store:      store,
		meta:       meta,
		entityType: entityType,
		set:        set,
		localeEN:   localeEN,
		localeDE:   localeDE,
	}
}

func (f *fixture) create(t *testing.T, req entityindex.CreateEntityRequest) *entityindex.FormattedEntity {
	t.Helper()
	req.EntityTypeID = f.entityType.ID
	req.AttributeSetID = f.set.ID
	entity, err := f.svc.CreateEntity(context.Background(), req)
	require.NoError(t, err)
	return entity
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []entityindex.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []entityindex.Option{},
			expectError: true,
		},
		{
			name: "store without metadata should fail",
			options: []entityindex.Option{
				entityindex.WithDocumentStore(storememory.New()),
			},
			expectError: true,
		},
		{
			name: "store and metadata should succeed",
			options: []entityindex.Option{
				entityindex.WithDocumentStore(storememory.New()),
				entityindex.WithMetadataProvider(metamemory.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := entityindex.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestCreateAndFetchRoundTrip(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Locale: "en_US",
		Fields: map[string]any{
			"title":    "Hello",
			"summary":  "A summary",
			"views":    "42",
			"keywords": []any{"one", "two"},
		},
	})

	fetched, err := f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{Locale: "en_US"})
	require.NoError(t, err)

	assert.Equal(t, "entity", fetched.Type)
	assert.Equal(t, "article", fetched.EntityType)
	assert.Equal(t, "article", fetched.AttributeSetCode)
	assert.Equal(t, "en_US", fetched.Locale)
	assert.Equal(t, "Hello", fetched.Fields["title"])
	assert.Equal(t, "A summary", fetched.Fields["summary"])
	assert.Equal(t, int64(42), fetched.Fields["views"], "numeric strings coerce to numbers")
	assert.Equal(t, []any{"one", "two"}, fetched.Fields["keywords"])
	assert.Equal(t, "draft", fetched.Status, "single-locale status collapses to a scalar")
}

func TestCreateDefaultStatusPerTrackedLocale(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)

	active := 0
	locales := map[string]bool{}
	for _, rec := range doc.Status {
		if rec.State == entityindex.StatusStateActive {
			active++
			locales[rec.Locale] = true
			assert.Equal(t, "draft", rec.Status)
		}
	}
	assert.Equal(t, 2, active, "one active record per tracked locale")
	assert.True(t, locales["en_US"])
	assert.True(t, locales["de_DE"])
}

func TestCreateWithPerLocaleStatus(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
		Status: map[string]any{"en_US": "published"},
	})

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "published", doc.ActiveStatus("en_US").Status)
	assert.Equal(t, "draft", doc.ActiveStatus("de_DE").Status, "locales without a supplied status get the default")
}

func TestUpdateStatusTransitionsOneLocale(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})

	_, err := f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Status: "published",
		Locale: "en_US",
	})
	require.NoError(t, err)

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, "published", doc.ActiveStatus("en_US").Status)
	assert.Equal(t, "draft", doc.ActiveStatus("de_DE").Status, "other locales' active records untouched")

	history := 0
	for _, rec := range doc.Status {
		if rec.State == entityindex.StatusStateHistory {
			history++
			assert.Equal(t, "en_US", rec.Locale)
			assert.Equal(t, "draft", rec.Status)
		}
	}
	assert.Equal(t, 1, history, "exactly the prior en_US record moved to history")
}

func TestUpdateUnchangedStatusIsNoOp(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})
	before, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Status: "draft",
		Locale: "en_US",
	})
	require.NoError(t, err)

	after, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "no change triggers zero writes")
	assert.Equal(t, len(before.Status), len(after.Status))
}

func TestUpdateUnchangedFieldsIsNoOp(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Locale: "en_US",
		Fields: map[string]any{"summary": "same"},
	})
	before, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Locale: "en_US",
		Fields: map[string]any{"summary": "same"},
	})
	require.NoError(t, err)

	after, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestFetchStatusFilter(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})

	_, err := f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{Status: "published"})
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound,
		"no active record with the requested status reads as absence")

	fetched, err := f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{
		Status: map[string]any{"in": "draft,published"},
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	_, err = f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{
		Status: map[string]any{"regex": "dr.*"},
	})
	assert.ErrorIs(t, err, entityindex.ErrBadRequest, "unsupported status operator")
}

func TestLocalizedWorkflowNarrowsFieldLocales(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{
			"title": map[string]any{"en_US": "Hello", "de_DE": "Hallo"},
		},
	})

	// Publish en_US only, then fetch published entities across locales:
	// de_DE falls away entirely, fields included.
	_, err := f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Status: "published",
		Locale: "en_US",
	})
	require.NoError(t, err)

	fetched, err := f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{Status: "published"})
	require.NoError(t, err)

	statuses, ok := fetched.Status.(map[string]string)
	require.True(t, ok, "multi-locale status is a map")
	assert.Equal(t, map[string]string{"en_US": "published"}, statuses)

	title, ok := fetched.Fields["title"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"en_US": "Hello"}, title, "unpublished locale's fields silently omitted")
}

func TestFetchMissingEntity(t *testing.T) {
	f := setupFixture(t)
	_, err := f.svc.GetEntity(context.Background(), "no-such-id", entityindex.GetEntityOptions{})
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound)
}

func TestListPagination(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	for _, id := range []string{"id-3", "id-1", "id-2"} {
		f.create(t, entityindex.CreateEntityRequest{
			ID:     id,
			Fields: map[string]any{"summary": "s " + id},
		})
	}

	result, err := f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{
		Offset: 1,
		Limit:  2,
		Sort:   []string{"id"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Meta.Total)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "id-2", result.Entities[0].ID, "first result is the second-smallest id")
	assert.Equal(t, "id-3", result.Entities[1].ID)
}

func TestListPaginationCeiling(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.ListEntities(context.Background(), entityindex.ListEntitiesRequest{
		Offset: 9999,
		Limit:  2,
	})
	assert.ErrorIs(t, err, entityindex.ErrBadRequest, "window past the ceiling is rejected before the store")
}

func TestListFilterAndSort(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.create(t, entityindex.CreateEntityRequest{
		ID: "a", Locale: "en_US",
		Fields: map[string]any{"summary": "alpha", "views": 10},
	})
	f.create(t, entityindex.CreateEntityRequest{
		ID: "b", Locale: "en_US",
		Fields: map[string]any{"summary": "beta", "views": 30},
	})
	f.create(t, entityindex.CreateEntityRequest{
		ID: "c", Locale: "en_US",
		Fields: map[string]any{"summary": "gamma", "views": 20},
	})

	result, err := f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{
		Filter: map[string]any{"fields.views": map[string]any{"gte": 20}},
		Sort:   []string{"-fields.views"},
		Locale: "en_US",
	})
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "b", result.Entities[0].ID)
	assert.Equal(t, "c", result.Entities[1].ID)

	result, err = f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{
		Filter: map[string]any{"fields.summary": map[string]any{"ne": "alpha"}},
		Sort:   []string{"id"},
		Locale: "en_US",
	})
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "b", result.Entities[0].ID)

	_, err = f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{
		Filter: map[string]any{"fields.views": map[string]any{"between": "1,2"}},
	})
	assert.ErrorIs(t, err, entityindex.ErrBadRequest)
}

func TestListFullTextSearch(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.create(t, entityindex.CreateEntityRequest{
		ID: "plain", Locale: "en_US",
		Fields: map[string]any{"title": "Uber alles"},
	})
	f.create(t, entityindex.CreateEntityRequest{
		ID: "accented", Locale: "en_US",
		Fields: map[string]any{"title": "Über alles"},
	})
	f.create(t, entityindex.CreateEntityRequest{
		ID: "other", Locale: "en_US",
		Fields: map[string]any{"title": "Nothing here"},
	})

	// Diacritic-insensitive in both directions.
	for _, query := range []string{"uber", "über"} {
		result, err := f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{
			Filter: map[string]any{"s": query},
			Locale: "en_US",
			Sort:   []string{"id"},
		})
		require.NoError(t, err)
		require.Len(t, result.Entities, 2, "query %q", query)
		assert.Equal(t, "accented", result.Entities[0].ID)
		assert.Equal(t, "plain", result.Entities[1].ID)
	}
}

func TestListByStatus(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	published := f.create(t, entityindex.CreateEntityRequest{
		ID:     "pub",
		Fields: map[string]any{"summary": "s"},
		Status: "published",
	})
	f.create(t, entityindex.CreateEntityRequest{
		ID:     "dr",
		Fields: map[string]any{"summary": "s"},
	})

	result, err := f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{Status: "published"})
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, published.ID, result.Entities[0].ID)
}

func TestCompoundFieldLifecycle(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Locale: "en_US",
		Fields: map[string]any{"first_name": "test1", "last_name": "test2"},
	})
	assert.Equal(t, "test1 test2", created.Fields["full_name"])

	_, err := f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Locale: "en_US",
		Fields: map[string]any{"first_name": "changed"},
	})
	require.NoError(t, err)

	fetched, err := f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{Locale: "en_US"})
	require.NoError(t, err)
	assert.Equal(t, "changed test2", fetched.Fields["full_name"], "compound re-derived after its input changed")
}

func TestCompoundLocalePinnedUpdate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{
			"title": map[string]any{"en_US": "Hello", "de_DE": "Hallo"},
		},
	})

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "~Hello", doc.Fields["headline__en_US"])
	assert.Equal(t, "~Hallo", doc.Fields["headline__de_DE"])

	// A scalar value in a locale-pinned update applies to that locale only.
	_, err = f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Locale: "de_DE",
		Fields: map[string]any{"title": "Geaendert"},
	})
	require.NoError(t, err)

	doc, err = f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Geaendert", doc.Fields["title__de_DE"])
	assert.Equal(t, "Hello", doc.Fields["title__en_US"])
	assert.Equal(t, "~Geaendert", doc.Fields["headline__de_DE"], "compound re-derived for the updated locale")
	assert.Equal(t, "~Hello", doc.Fields["headline__en_US"], "other locales re-derive from their stored inputs")
}

func TestListByStatusExcludesHistory(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})
	_, err := f.svc.UpdateEntity(ctx, created.ID, entityindex.UpdateEntityRequest{
		Status: "published",
	})
	require.NoError(t, err)

	result, err := f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Meta.Total, "history records never satisfy a status filter")
	assert.Empty(t, result.Entities)

	result, err = f.svc.ListEntities(ctx, entityindex.ListEntitiesRequest{Status: "published"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Meta.Total)
	assert.Equal(t, 1, result.Meta.Count)
}

func TestDeleteEntity(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})

	deleted, err := f.svc.DeleteEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID, "delete returns the entity's last state")

	_, err = f.svc.GetEntity(ctx, created.ID, entityindex.GetEntityOptions{})
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound)
}

func TestDeleteEntityForLocale(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{
			"title":   map[string]any{"en_US": "Hello", "de_DE": "Hallo"},
			"summary": "shared",
		},
	})

	require.NoError(t, f.svc.DeleteEntityForLocale(ctx, created.ID, f.localeDE.ID))

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, doc.ActiveStatus("de_DE"), "de_DE active record retired to history")
	assert.NotNil(t, doc.ActiveStatus("en_US"))
	assert.NotContains(t, doc.Fields, "title__de_DE")
	assert.Contains(t, doc.Fields, "title__en_US")
	assert.Contains(t, doc.Fields, "summary")
}

func TestDeleteFieldsByAttribute(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	titleID := f.attributeID(t, "title")
	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{
			"title":   map[string]any{"en_US": "Hello", "de_DE": "Hallo"},
			"summary": "keep",
		},
	})

	require.NoError(t, f.svc.DeleteFieldsByAttribute(ctx, titleID))

	doc, err := f.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotContains(t, doc.Fields, "title__en_US")
	assert.NotContains(t, doc.Fields, "title__de_DE")
	assert.Contains(t, doc.Fields, "summary")
}

func TestDeleteEntitiesByAttributeSet(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	created := f.create(t, entityindex.CreateEntityRequest{
		Fields: map[string]any{"summary": "s"},
	})

	require.NoError(t, f.svc.DeleteEntitiesByAttributeSet(ctx, f.set.ID))

	_, err := f.store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound)
}

func (f *fixture) attributeID(t *testing.T, code string) uuid.UUID {
	t.Helper()
	attr, err := f.meta.AttributeByCode(context.Background(), code)
	require.NoError(t, err)
	return attr.ID
}
