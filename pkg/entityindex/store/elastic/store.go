// Package elastic implements the DocumentStore against an Elasticsearch
// cluster using the official v8 client.
package elastic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"

	"github.com/tendant/entity-index/pkg/entityindex"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store implements entityindex.DocumentStore on one Elasticsearch index.
type Store struct {
	client *elasticsearch.Client
	index  string
}

// New creates a store writing to the index named prefix + "entities".
func New(client *elasticsearch.Client, prefix string) *Store {
	return &Store{client: client, index: prefix + "entities"}
}

// IndexName returns the fully prefixed index name.
func (s *Store) IndexName() string { return s.index }

// EnsureIndex creates the index with its mapping when it does not exist.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return &entityindex.StoreError{Op: "indices.exists", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return storeErrorFromResponse("indices.exists", res)
	}
	create, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return &entityindex.StoreError{Op: "indices.create", Err: err}
	}
	defer create.Body.Close()
	if create.IsError() {
		return storeErrorFromResponse("indices.create", create)
	}
	return nil
}

func (s *Store) Index(ctx context.Context, doc *entityindex.StoredDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return &entityindex.StoreError{Op: "index", Err: err}
	}
	res, err := s.client.Index(s.index, bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.ID),
	)
	if err != nil {
		return &entityindex.StoreError{Op: "index", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return storeErrorFromResponse("index", res)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*entityindex.StoredDocument, error) {
	res, err := s.client.Get(s.index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, &entityindex.StoreError{Op: "get", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, entityindex.ErrEntityNotFound
	}
	if res.IsError() {
		return nil, storeErrorFromResponse("get", res)
	}
	var envelope struct {
		Source entityindex.StoredDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, &entityindex.StoreError{Op: "get", Err: err}
	}
	return &envelope.Source, nil
}

func (s *Store) Update(ctx context.Context, id string, partial map[string]any) error {
	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return &entityindex.StoreError{Op: "update", Err: err}
	}
	res, err := s.client.Update(s.index, id, bytes.NewReader(body), s.client.Update.WithContext(ctx))
	if err != nil {
		return &entityindex.StoreError{Op: "update", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return entityindex.ErrEntityNotFound
	}
	if res.IsError() {
		return storeErrorFromResponse("update", res)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.client.Delete(s.index, id, s.client.Delete.WithContext(ctx))
	if err != nil {
		return &entityindex.StoreError{Op: "delete", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return entityindex.ErrEntityNotFound
	}
	if res.IsError() {
		return storeErrorFromResponse("delete", res)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, req entityindex.SearchRequest) (*entityindex.SearchResult, error) {
	body := map[string]any{
		"query": req.Query,
		"from":  req.From,
		"size":  req.Size,
	}
	if len(req.Sort) > 0 {
		body["sort"] = req.Sort
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &entityindex.StoreError{Op: "search", Err: err}
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(encoded)),
		s.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, &entityindex.StoreError{Op: "search", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, storeErrorFromResponse("search", res)
	}
	var envelope struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source entityindex.StoredDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, &entityindex.StoreError{Op: "search", Err: err}
	}
	out := &entityindex.SearchResult{Total: envelope.Hits.Total.Value}
	for i := range envelope.Hits.Hits {
		out.Documents = append(out.Documents, &envelope.Hits.Hits[i].Source)
	}
	return out, nil
}

func (s *Store) UpdateByQuery(ctx context.Context, query entityindex.Query, script entityindex.Script) error {
	body, err := json.Marshal(map[string]any{"query": query, "script": script})
	if err != nil {
		return &entityindex.StoreError{Op: "update_by_query", Err: err}
	}
	res, err := s.client.UpdateByQuery([]string{s.index},
		s.client.UpdateByQuery.WithContext(ctx),
		s.client.UpdateByQuery.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return &entityindex.StoreError{Op: "update_by_query", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return storeErrorFromResponse("update_by_query", res)
	}
	return nil
}

func (s *Store) DeleteByQuery(ctx context.Context, query entityindex.Query) error {
	body, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return &entityindex.StoreError{Op: "delete_by_query", Err: err}
	}
	res, err := s.client.DeleteByQuery([]string{s.index}, bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return &entityindex.StoreError{Op: "delete_by_query", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return storeErrorFromResponse("delete_by_query", res)
	}
	return nil
}

func (s *Store) Refresh(ctx context.Context) error {
	res, err := s.client.Indices.Refresh(
		s.client.Indices.Refresh.WithContext(ctx),
		s.client.Indices.Refresh.WithIndex(s.index),
	)
	if err != nil {
		return &entityindex.StoreError{Op: "refresh", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return storeErrorFromResponse("refresh", res)
	}
	return nil
}

func storeErrorFromResponse(op string, res *esapi.Response) error {
	raw, _ := io.ReadAll(res.Body)
	return &entityindex.StoreError{Op: op, Err: fmt.Errorf("%s: %s", res.Status(), raw)}
}
