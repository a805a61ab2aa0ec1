// Package memory provides an in-process DocumentStore honoring the same
// query contract as the elastic backend. It backs tests and standalone runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tendant/entity-index/pkg/entityindex"
)

// Store implements entityindex.DocumentStore backed by a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*entityindex.StoredDocument
}

// New creates a new in-memory document store.
func New() *Store {
	return &Store{docs: make(map[string]*entityindex.StoredDocument)}
}

func (s *Store) EnsureIndex(ctx context.Context) error { return nil }

func (s *Store) Refresh(ctx context.Context) error { return nil }

func (s *Store) Index(ctx context.Context, doc *entityindex.StoredDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*entityindex.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, entityindex.ErrEntityNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, partial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return entityindex.ErrEntityNotFound
	}
	if fields, ok := partial["fields"].(map[string]any); ok {
		for k, v := range fields {
			doc.Fields[k] = v
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return entityindex.ErrEntityNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *Store) Search(ctx context.Context, req entityindex.SearchRequest) (*entityindex.SearchResult, error) {
	s.mu.RLock()
	var hits []*entityindex.StoredDocument
	for _, doc := range s.docs {
		match, err := evalQuery(req.Query, doc)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if match {
			hits = append(hits, doc.Clone())
		}
	}
	s.mu.RUnlock()

	sortHits(hits, req.Sort)

	total := len(hits)
	from := req.From
	if from > total {
		from = total
	}
	end := total
	if req.Size > 0 && from+req.Size < end {
		end = from + req.Size
	}
	return &entityindex.SearchResult{Total: total, Documents: hits[from:end]}, nil
}

func (s *Store) UpdateByQuery(ctx context.Context, query entityindex.Query, script entityindex.Script) error {
	if !strings.Contains(script.Source, "fields.remove") {
		return &entityindex.StoreError{Op: "update_by_query", Err: fmt.Errorf("unsupported script %q", script.Source)}
	}
	field, _ := script.Params["field"].(string)
	if field == "" {
		return &entityindex.StoreError{Op: "update_by_query", Err: fmt.Errorf("script without field param")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		match, err := evalQuery(query, doc)
		if err != nil {
			return err
		}
		if match {
			delete(doc.Fields, field)
		}
	}
	return nil
}

func (s *Store) DeleteByQuery(ctx context.Context, query entityindex.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		match, err := evalQuery(query, doc)
		if err != nil {
			return err
		}
		if match {
			delete(s.docs, id)
		}
	}
	return nil
}

// evalQuery evaluates a compiled query clause against one document.
func evalQuery(q entityindex.Query, doc *entityindex.StoredDocument) (bool, error) {
	return evalClause(map[string]any(q), documentSource(doc))
}

// source is the evaluated view of a document or of one nested status record.
type source struct {
	doc    *entityindex.StoredDocument
	status *entityindex.StatusRecord
}

func documentSource(doc *entityindex.StoredDocument) source { return source{doc: doc} }

func evalClause(clause map[string]any, src source) (bool, error) {
	for kind, body := range clause {
		switch kind {
		case "match_all":
			return true, nil
		case "bool":
			return evalBool(body, src)
		case "term":
			return evalTerm(body, src), nil
		case "terms":
			return evalTerms(body, src), nil
		case "range":
			return evalRange(body, src), nil
		case "exists":
			return evalExists(body, src), nil
		case "multi_match":
			return evalMultiMatch(body, src), nil
		case "nested":
			return evalNested(body, src)
		default:
			return false, &entityindex.StoreError{Op: "search", Err: fmt.Errorf("unsupported query clause %q", kind)}
		}
	}
	return false, nil
}

func evalBool(body any, src source) (bool, error) {
	b, ok := body.(map[string]any)
	if !ok {
		return false, nil
	}
	for _, clause := range clauseList(b["filter"]) {
		match, err := evalClause(clause, src)
		if err != nil || !match {
			return false, err
		}
	}
	for _, clause := range clauseList(b["must_not"]) {
		match, err := evalClause(clause, src)
		if err != nil {
			return false, err
		}
		if match {
			return false, nil
		}
	}
	shoulds := clauseList(b["should"])
	if len(shoulds) > 0 {
		any := false
		for _, clause := range shoulds {
			match, err := evalClause(clause, src)
			if err != nil {
				return false, err
			}
			if match {
				any = true
				break
			}
		}
		if !any {
			return false, nil
		}
	}
	return true, nil
}

func clauseList(v any) []map[string]any {
	switch c := v.(type) {
	case nil:
		return nil
	case []entityindex.Query:
		out := make([]map[string]any, 0, len(c))
		for _, q := range c {
			out = append(out, map[string]any(q))
		}
		return out
	case []map[string]any:
		return c
	case []any:
		out := make([]map[string]any, 0, len(c))
		for _, e := range c {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{c}
	case entityindex.Query:
		return []map[string]any{map[string]any(c)}
	default:
		return nil
	}
}

func evalTerm(body any, src source) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	for field, want := range m {
		for _, have := range src.values(field) {
			if valuesEqual(have, want) {
				return true
			}
		}
	}
	return false
}

func evalTerms(body any, src source) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	for field, wants := range m {
		list, _ := wants.([]any)
		for _, want := range list {
			for _, have := range src.values(field) {
				if valuesEqual(have, want) {
					return true
				}
			}
		}
	}
	return false
}

func evalRange(body any, src source) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	for field, spec := range m {
		bounds, ok := spec.(map[string]any)
		if !ok {
			return false
		}
		for _, have := range src.values(field) {
			if rangeMatch(have, bounds) {
				return true
			}
		}
	}
	return false
}

func rangeMatch(have any, bounds map[string]any) bool {
	for op, bound := range bounds {
		cmp, ok := compareValues(have, bound)
		if !ok {
			return false
		}
		switch op {
		case "lt":
			if cmp >= 0 {
				return false
			}
		case "lte":
			if cmp > 0 {
				return false
			}
		case "gt":
			if cmp <= 0 {
				return false
			}
		case "gte":
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func evalExists(body any, src source) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	field, _ := m["field"].(string)
	for _, v := range src.values(field) {
		if v != nil {
			return true
		}
	}
	return false
}

func evalMultiMatch(body any, src source) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	query := asciiFold(fmt.Sprintf("%v", m["query"]))
	fields, _ := m["fields"].([]string)
	if fields == nil {
		if raw, ok := m["fields"].([]any); ok {
			for _, f := range raw {
				fields = append(fields, fmt.Sprintf("%v", f))
			}
		}
	}
	for _, field := range fields {
		for _, have := range src.expandValues(field) {
			if s, ok := have.(string); ok && strings.Contains(asciiFold(s), query) {
				return true
			}
		}
	}
	return false
}

func evalNested(body any, src source) (bool, error) {
	m, ok := body.(map[string]any)
	if !ok {
		return false, nil
	}
	path, _ := m["path"].(string)
	if path != "status" || src.doc == nil {
		return false, nil
	}
	inner, ok := m["query"].(entityindex.Query)
	if !ok {
		rawInner, okRaw := m["query"].(map[string]any)
		if !okRaw {
			return false, nil
		}
		inner = entityindex.Query(rawInner)
	}
	for i := range src.doc.Status {
		match, err := evalClause(map[string]any(inner), source{doc: src.doc, status: &src.doc.Status[i]})
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// values resolves a field path against the source, flattening arrays. The
// ".exact" sub-field collapses onto its parent, matching the mapping where
// exact is an unanalyzed view of the same value.
func (s source) values(field string) []any {
	field = strings.TrimSuffix(field, ".exact")
	if strings.HasPrefix(field, "status.") && s.status != nil {
		switch strings.TrimPrefix(field, "status.") {
		case "locale":
			return []any{s.status.Locale}
		case "status":
			return []any{s.status.Status}
		case "state":
			return []any{string(s.status.State)}
		}
		return nil
	}
	doc := s.doc
	if doc == nil {
		return nil
	}
	switch field {
	case "id":
		return []any{doc.ID}
	case "entity_type_id":
		return []any{doc.EntityTypeID.String()}
	case "attribute_set_id":
		return []any{doc.AttributeSetID.String()}
	case "localized":
		return []any{doc.Localized}
	case "localized_workflow":
		return []any{doc.LocalizedWorkflow}
	case "created_at":
		return []any{doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00")}
	case "updated_at":
		return []any{doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")}
	}
	rest, ok := strings.CutPrefix(field, "fields.")
	if !ok {
		return nil
	}
	key, sub, hasSub := strings.Cut(rest, ".")
	values := flatten(doc.Fields[key])
	if !hasSub {
		return values
	}
	var out []any
	for _, v := range values {
		if m, isMap := v.(map[string]any); isMap {
			out = append(out, flatten(m[sub])...)
		}
	}
	return out
}

// expandValues is like values but resolves a trailing wildcard over locale
// suffixes, as produced for full-text search without a locale.
func (s source) expandValues(field string) []any {
	prefix, ok := strings.CutSuffix(field, "*")
	if !ok {
		return s.values(field)
	}
	rest, ok := strings.CutPrefix(prefix, "fields.")
	if !ok || s.doc == nil {
		return nil
	}
	var out []any
	for key, v := range s.doc.Fields {
		if strings.HasPrefix(key, rest) {
			out = append(out, flatten(v)...)
		}
	}
	return out
}

func flatten(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		var out []any
		for _, e := range x {
			out = append(out, flatten(e)...)
		}
		return out
	case []string:
		out := make([]any, 0, len(x))
		for _, e := range x {
			out = append(out, e)
		}
		return out
	default:
		return []any{v}
	}
}

func valuesEqual(have, want any) bool {
	if cmp, ok := compareValues(have, want); ok {
		return cmp == 0
	}
	return false
}

// compareValues orders two values numerically when both coerce to numbers,
// lexically otherwise.
func compareValues(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a == nil || b == nil {
		return 0, false
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)), true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func sortHits(hits []*entityindex.StoredDocument, sortSpec []map[string]any) {
	if len(sortSpec) == 0 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
		return
	}
	sort.SliceStable(hits, func(i, j int) bool {
		for _, entry := range sortSpec {
			for field, spec := range entry {
				desc := false
				if m, ok := spec.(map[string]any); ok {
					desc = m["order"] == "desc"
				}
				iv := firstValue(documentSource(hits[i]).values(field))
				jv := firstValue(documentSource(hits[j]).values(field))
				cmp, ok := compareValues(iv, jv)
				if !ok || cmp == 0 {
					continue
				}
				if desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
}

func firstValue(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// asciiFold lowercases and strips diacritics, mirroring the index's
// folding analyzer so matching is diacritic-insensitive in both directions.
func asciiFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
