package entityindex

import (
	"context"
	"fmt"
	"strings"
)

// PaginationCeiling is the deepest page the index serves. Requests whose
// offset+limit reach past it are rejected before any store call.
const PaginationCeiling = 10000

// Filter operators accepted by list, fetch-status and attribute filters.
const (
	OpEquals       = "e"
	OpNotEquals    = "ne"
	OpLessThan     = "lt"
	OpLessOrEqual  = "lte"
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpIn           = "in"
	OpNotIn        = "nin"
)

// BoolQuery incrementally accumulates filter and must_not clauses and
// renders the store's native bool query structure.
type BoolQuery struct {
	filter  []Query
	mustNot []Query
	should  []Query
}

// NewBoolQuery returns an empty bool query.
func NewBoolQuery() *BoolQuery {
	return &BoolQuery{}
}

// Filter appends a deterministic, non-scoring clause.
func (q *BoolQuery) Filter(clause Query) *BoolQuery {
	q.filter = append(q.filter, clause)
	return q
}

// MustNot appends a negated clause.
func (q *BoolQuery) MustNot(clause Query) *BoolQuery {
	q.mustNot = append(q.mustNot, clause)
	return q
}

// Should appends an alternative clause; at least one should clause has to
// match when any are present.
func (q *BoolQuery) Should(clause Query) *BoolQuery {
	q.should = append(q.should, clause)
	return q
}

// Build renders the accumulated clauses. An empty builder renders match_all.
func (q *BoolQuery) Build() Query {
	if len(q.filter) == 0 && len(q.mustNot) == 0 && len(q.should) == 0 {
		return Query{"match_all": map[string]any{}}
	}
	b := map[string]any{}
	if len(q.filter) > 0 {
		b["filter"] = q.filter
	}
	if len(q.mustNot) > 0 {
		b["must_not"] = q.mustNot
	}
	if len(q.should) > 0 {
		b["should"] = q.should
		b["minimum_should_match"] = 1
	}
	return Query{"bool": b}
}

// Clause constructors for the store's query primitives.

func TermQuery(field string, value any) Query {
	return Query{"term": map[string]any{field: value}}
}

func TermsQuery(field string, values []any) Query {
	return Query{"terms": map[string]any{field: values}}
}

func RangeQuery(field, op string, value any) Query {
	return Query{"range": map[string]any{field: map[string]any{op: value}}}
}

func ExistsQuery(field string) Query {
	return Query{"exists": map[string]any{"field": field}}
}

func MultiMatchQuery(text string, fields []string) Query {
	return Query{"multi_match": map[string]any{"query": text, "fields": fields}}
}

func NestedQuery(path string, inner Query) Query {
	return Query{"nested": map[string]any{"path": path, "query": inner}}
}

// ApplyOperator appends the clause for one (operator, value) pair on the
// given field, choosing the filter or must_not side by operator polarity.
// An unknown operator is a request error.
func ApplyOperator(q *BoolQuery, field, op string, value any) error {
	switch op {
	case OpEquals:
		q.Filter(TermQuery(field, value))
	case OpNotEquals:
		q.MustNot(TermQuery(field, value))
	case OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterEqual:
		q.Filter(RangeQuery(field, op, value))
	case OpIn:
		q.Filter(TermsQuery(field, valueList(value)))
	case OpNotIn:
		q.MustNot(TermsQuery(field, valueList(value)))
	default:
		return badRequestf("filter", "unsupported operator %q on %s", op, field)
	}
	return nil
}

// valueList normalizes an in/nin operand: comma-separated strings and
// arrays are both accepted, the entries trimmed.
func valueList(value any) []any {
	switch v := value.(type) {
	case string:
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, strings.TrimSpace(s))
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				e = strings.TrimSpace(s)
			}
			out = append(out, e)
		}
		return out
	default:
		return []any{value}
	}
}

// operatorMap normalizes a filter value: a scalar means equality, a map is
// read as operator → operand pairs.
func operatorMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{OpEquals: value}
}

// queryCompiler translates abstract filter/sort/pagination/locale/status
// parameters into a store search request.
type queryCompiler struct {
	metadata MetadataProvider
	registry *fieldRegistry
}

// Compile builds the search request for a list call. Status and pagination
// establish the base query shape before filter and sort append to it.
func (c *queryCompiler) Compile(ctx context.Context, req ListEntitiesRequest, locale *Locale, localeCodes []string) (SearchRequest, error) {
	q := NewBoolQuery()

	if err := c.addStatusQuery(q, req.Status, locale); err != nil {
		return SearchRequest{}, err
	}

	from, size, err := paginationWindow(req.Offset, req.Limit)
	if err != nil {
		return SearchRequest{}, err
	}

	if err := c.addFilter(ctx, q, req.Filter, locale, localeCodes); err != nil {
		return SearchRequest{}, err
	}

	sort, err := c.compileSort(ctx, req.Sort, locale, localeCodes)
	if err != nil {
		return SearchRequest{}, err
	}

	return SearchRequest{Query: q.Build(), From: from, Size: size, Sort: sort}, nil
}

// paginationWindow validates offset/limit against the ceiling. Limit 0
// opens the window up to the ceiling.
func paginationWindow(offset, limit int) (int, int, error) {
	if offset < 0 || limit < 0 {
		return 0, 0, badRequestf("pagination", "negative offset or limit")
	}
	if limit == 0 {
		if offset >= PaginationCeiling {
			return 0, 0, ErrPaginationWindow
		}
		return offset, PaginationCeiling - offset, nil
	}
	if offset+limit > PaginationCeiling {
		return 0, 0, ErrPaginationWindow
	}
	return offset, limit, nil
}

// addStatusQuery constrains the nested status sub-documents. Only active
// records participate; history records never satisfy the clause. With no
// status filter but a requested locale, the nested clause still pins
// status.locale so other locales' records cannot satisfy the match.
func (c *queryCompiler) addStatusQuery(q *BoolQuery, status any, locale *Locale) error {
	if status == nil {
		if locale == nil {
			return nil
		}
		inner := NewBoolQuery().
			Filter(TermQuery("status.locale", locale.Code)).
			Filter(TermQuery("status.state", string(StatusStateActive)))
		q.Filter(NestedQuery("status", inner.Build()))
		return nil
	}

	inner := NewBoolQuery()
	for op, operand := range operatorMap(status) {
		if err := ApplyOperator(inner, "status.status", op, operand); err != nil {
			return badRequestf("status", "unsupported operator %q", op)
		}
	}
	if locale != nil {
		inner.Filter(TermQuery("status.locale", locale.Code))
	}
	inner.Filter(TermQuery("status.state", string(StatusStateActive)))
	q.Filter(NestedQuery("status", inner.Build()))
	return nil
}

func (c *queryCompiler) addFilter(ctx context.Context, q *BoolQuery, filter map[string]any, locale *Locale, localeCodes []string) error {
	for key, value := range filter {
		switch {
		case key == "s":
			if err := c.addFullTextQuery(ctx, q, value, locale); err != nil {
				return err
			}
		case strings.HasPrefix(key, "fields."):
			if err := c.addAttributeFilter(ctx, q, strings.TrimPrefix(key, "fields."), value, locale, localeCodes); err != nil {
				return err
			}
		default:
			for op, operand := range operatorMap(value) {
				if err := ApplyOperator(q, key, op, operand); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addFullTextQuery expands the "s" pseudo-filter into a multi_match across
// every full-text attribute's storage fields. Localized attributes
// contribute the requested locale's field, or a wildcard over all locale
// suffixes when no locale was requested.
func (c *queryCompiler) addFullTextQuery(ctx context.Context, q *BoolQuery, value any, locale *Locale) error {
	text := fmt.Sprintf("%v", value)
	var fields []string
	for _, ft := range []FieldType{FieldTypeText, FieldTypeTextarea, FieldTypeTags} {
		attrs, err := c.metadata.AttributesByFieldType(ctx, ft)
		if err != nil {
			return err
		}
		for _, attr := range attrs {
			switch {
			case !attr.Localized:
				fields = append(fields, "fields."+attr.Code)
			case locale != nil:
				fields = append(fields, "fields."+attr.StorageKey(locale.Code))
			default:
				fields = append(fields, "fields."+attr.Code+localeSeparator+"*")
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	q.Filter(MultiMatchQuery(text, fields))
	return nil
}

func (c *queryCompiler) addAttributeFilter(ctx context.Context, q *BoolQuery, code string, value any, locale *Locale, localeCodes []string) error {
	attr, err := c.metadata.AttributeByCode(ctx, code)
	if err != nil {
		return err
	}
	handler, err := c.registry.Handler(attr.FieldType)
	if err != nil {
		return err
	}
	localeCode := filterLocale(attr, locale, localeCodes)
	if fc, ok := handler.(FilterContributor); ok {
		return fc.BuildFilterClause(q, attr, value, localeCode, localeCodes)
	}
	field := attributeFilterField(attr, localeCode)
	for op, operand := range operatorMap(value) {
		if err := ApplyOperator(q, field, op, operand); err != nil {
			return err
		}
	}
	return nil
}

// filterLocale picks the locale suffix for a localized attribute: the
// requested locale, or the first tracked one when none was requested.
func filterLocale(attr *Attribute, locale *Locale, localeCodes []string) string {
	if !attr.Localized {
		return ""
	}
	if locale != nil {
		return locale.Code
	}
	if len(localeCodes) > 0 {
		return localeCodes[0]
	}
	return ""
}

// attributeFilterField resolves the storage path an attribute filter (or
// sort) targets. Analyzed text fields are matched and ordered through
// their unanalyzed exact sub-field.
func attributeFilterField(attr *Attribute, localeCode string) string {
	field := "fields." + attr.StorageKey(localeCode)
	if attr.FieldType.IsFullText() {
		field += ".exact"
	}
	return field
}

func (c *queryCompiler) compileSort(ctx context.Context, sort []string, locale *Locale, localeCodes []string) ([]map[string]any, error) {
	var out []map[string]any
	for _, entry := range sort {
		order := "asc"
		if strings.HasPrefix(entry, "-") {
			order = "desc"
			entry = strings.TrimPrefix(entry, "-")
		}
		field := entry
		if code, ok := strings.CutPrefix(entry, "fields."); ok {
			attr, err := c.metadata.AttributeByCode(ctx, code)
			if err != nil {
				return nil, err
			}
			field = attributeFilterField(attr, filterLocale(attr, locale, localeCodes))
		}
		out = append(out, map[string]any{field: map[string]any{"order": order}})
	}
	return out, nil
}
