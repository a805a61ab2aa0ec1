package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/entity-index/pkg/entityindex"
	"github.com/tendant/entity-index/pkg/entityindex/store/memory"
)

func seedDoc(id string, fields map[string]any) *entityindex.StoredDocument {
	now := time.Now().UTC()
	return &entityindex.StoredDocument{
		ID:             id,
		EntityTypeID:   uuid.New(),
		AttributeSetID: uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Fields:         fields,
		Status: []entityindex.StatusRecord{
			{Status: "draft", Locale: "en_US", State: entityindex.StatusStateActive},
		},
	}
}

func search(t *testing.T, s *memory.Store, req entityindex.SearchRequest) []*entityindex.StoredDocument {
	t.Helper()
	result, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	return result.Documents
}

func ids(docs []*entityindex.StoredDocument) []string {
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.ID)
	}
	return out
}

func TestIndexAndGet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	doc := seedDoc("a", map[string]any{"title": "Hello"})
	require.NoError(t, s.Index(ctx, doc))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Fields["title"])

	// The store hands out copies; mutating one must not leak back.
	got.Fields["title"] = "mutated"
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Hello", again.Fields["title"])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound)
}

func TestDelete(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("a", nil)))
	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), entityindex.ErrEntityNotFound)
}

func TestUpdatePartialMerge(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("a", map[string]any{"title": "x"})))
	require.NoError(t, s.Update(ctx, "a", map[string]any{
		"fields": map[string]any{"derived": "y"},
	}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Fields["title"], "untouched fields survive a partial write")
	assert.Equal(t, "y", got.Fields["derived"])

	assert.ErrorIs(t, s.Update(ctx, "missing", map[string]any{}), entityindex.ErrEntityNotFound)
}

func TestSearchClauses(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("a", map[string]any{
		"title": "Alpha", "views": int64(10), "tags": []any{"go", "search"},
	})))
	require.NoError(t, s.Index(ctx, seedDoc("b", map[string]any{
		"title": "Beta", "views": int64(30),
	})))
	require.NoError(t, s.Index(ctx, seedDoc("c", map[string]any{
		"views": int64(20), "ref": map[string]any{"id": "target"},
	})))

	tests := []struct {
		name  string
		query entityindex.Query
		want  []string
	}{
		{
			name:  "term on field",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermQuery("fields.title", "Alpha")).Build(),
			want:  []string{"a"},
		},
		{
			name:  "term through exact sub-field",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermQuery("fields.title.exact", "Beta")).Build(),
			want:  []string{"b"},
		},
		{
			name:  "term inside array",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermQuery("fields.tags", "go")).Build(),
			want:  []string{"a"},
		},
		{
			name:  "term on nested object id",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermQuery("fields.ref.id", "target")).Build(),
			want:  []string{"c"},
		},
		{
			name:  "term on nested object id through exact sub-field",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermQuery("fields.ref.id.exact", "target")).Build(),
			want:  []string{"c"},
		},
		{
			name:  "terms",
			query: entityindex.NewBoolQuery().Filter(entityindex.TermsQuery("id", []any{"a", "c"})).Build(),
			want:  []string{"a", "c"},
		},
		{
			name:  "range",
			query: entityindex.NewBoolQuery().Filter(entityindex.RangeQuery("fields.views", "gte", 20)).Build(),
			want:  []string{"b", "c"},
		},
		{
			name:  "exists",
			query: entityindex.NewBoolQuery().Filter(entityindex.ExistsQuery("fields.title")).Build(),
			want:  []string{"a", "b"},
		},
		{
			name:  "must_not",
			query: entityindex.NewBoolQuery().MustNot(entityindex.TermQuery("fields.title", "Alpha")).Build(),
			want:  []string{"b", "c"},
		},
		{
			name: "should matches any",
			query: entityindex.NewBoolQuery().
				Should(entityindex.TermQuery("fields.title", "Alpha")).
				Should(entityindex.TermQuery("fields.views", 30)).
				Build(),
			want: []string{"a", "b"},
		},
		{
			name:  "match_all",
			query: entityindex.NewBoolQuery().Build(),
			want:  []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := search(t, s, entityindex.SearchRequest{Query: tt.query})
			assert.Equal(t, tt.want, ids(docs), "hits default to id order")
		})
	}
}

func TestSearchNestedStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	published := seedDoc("pub", nil)
	published.Status = []entityindex.StatusRecord{
		{Status: "draft", Locale: "en_US", State: entityindex.StatusStateHistory},
		{Status: "published", Locale: "en_US", State: entityindex.StatusStateActive},
		{Status: "draft", Locale: "de_DE", State: entityindex.StatusStateActive},
	}
	require.NoError(t, s.Index(ctx, published))
	require.NoError(t, s.Index(ctx, seedDoc("dr", nil)))

	inner := entityindex.NewBoolQuery().
		Filter(entityindex.TermQuery("status.status", "published")).
		Filter(entityindex.TermQuery("status.state", "active")).
		Build()
	query := entityindex.NewBoolQuery().Filter(entityindex.NestedQuery("status", inner)).Build()
	assert.Equal(t, []string{"pub"}, ids(search(t, s, entityindex.SearchRequest{Query: query})))

	// Both conditions must hold on the same record: no single status record
	// is simultaneously published and de_DE.
	inner = entityindex.NewBoolQuery().
		Filter(entityindex.TermQuery("status.status", "published")).
		Filter(entityindex.TermQuery("status.locale", "de_DE")).
		Build()
	query = entityindex.NewBoolQuery().Filter(entityindex.NestedQuery("status", inner)).Build()
	assert.Empty(t, ids(search(t, s, entityindex.SearchRequest{Query: query})))
}

func TestSearchMultiMatchFolding(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("plain", map[string]any{"title__en_US": "Uber alles"})))
	require.NoError(t, s.Index(ctx, seedDoc("accented", map[string]any{"title__en_US": "Über alles"})))
	require.NoError(t, s.Index(ctx, seedDoc("other", map[string]any{"title__en_US": "Nothing"})))

	for _, q := range []string{"uber", "über", "UBER"} {
		query := entityindex.NewBoolQuery().
			Filter(entityindex.MultiMatchQuery(q, []string{"fields.title__en_US"})).
			Build()
		assert.Equal(t, []string{"accented", "plain"},
			ids(search(t, s, entityindex.SearchRequest{Query: query})), "query %q", q)
	}

	// Wildcard over locale suffixes, as compiled without a locale context.
	query := entityindex.NewBoolQuery().
		Filter(entityindex.MultiMatchQuery("uber", []string{"fields.title__*"})).
		Build()
	assert.Equal(t, []string{"accented", "plain"},
		ids(search(t, s, entityindex.SearchRequest{Query: query})))
}

func TestSearchSortAndPaging(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("a", map[string]any{"views": int64(20)})))
	require.NoError(t, s.Index(ctx, seedDoc("b", map[string]any{"views": int64(10)})))
	require.NoError(t, s.Index(ctx, seedDoc("c", map[string]any{"views": int64(30)})))

	result, err := s.Search(ctx, entityindex.SearchRequest{
		Query: entityindex.NewBoolQuery().Build(),
		Sort:  []map[string]any{{"fields.views": map[string]any{"order": "desc"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(result.Documents))

	result, err = s.Search(ctx, entityindex.SearchRequest{
		Query: entityindex.NewBoolQuery().Build(),
		From:  1,
		Size:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total, "total counts all hits, not the page")
	assert.Equal(t, []string{"b"}, ids(result.Documents))

	result, err = s.Search(ctx, entityindex.SearchRequest{
		Query: entityindex.NewBoolQuery().Build(),
		From:  5,
		Size:  2,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Documents)
}

func TestUpdateByQuery(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, seedDoc("a", map[string]any{"title": "x", "views": int64(1)})))
	require.NoError(t, s.Index(ctx, seedDoc("b", map[string]any{"views": int64(2)})))

	query := entityindex.NewBoolQuery().Filter(entityindex.ExistsQuery("fields.title")).Build()
	script := entityindex.Script{
		Source: "ctx._source.fields.remove(params.field)",
		Params: map[string]any{"field": "title"},
	}
	require.NoError(t, s.UpdateByQuery(ctx, query, script))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.NotContains(t, got.Fields, "title")
	assert.Contains(t, got.Fields, "views")

	err = s.UpdateByQuery(ctx, query, entityindex.Script{Source: "ctx._source.counter++"})
	var storeErr *entityindex.StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestDeleteByQuery(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	doomed := seedDoc("a", nil)
	require.NoError(t, s.Index(ctx, doomed))
	require.NoError(t, s.Index(ctx, seedDoc("b", nil)))

	query := entityindex.NewBoolQuery().
		Filter(entityindex.TermQuery("entity_type_id", doomed.EntityTypeID.String())).
		Build()
	require.NoError(t, s.DeleteByQuery(ctx, query))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, entityindex.ErrEntityNotFound)
	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)
}

func TestSearchUnsupportedClause(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Index(ctx, seedDoc("a", nil)))

	_, err := s.Search(ctx, entityindex.SearchRequest{
		Query: entityindex.Query{"fuzzy": map[string]any{"fields.title": "x"}},
	})
	var storeErr *entityindex.StoreError
	assert.ErrorAs(t, err, &storeErr)
}
