package entityindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldRegistry resolves the singleton handler for each configured field
// type. It is built once at service construction; resolving an unknown
// field type is a configuration error, not a runtime default.
type fieldRegistry struct {
	handlers map[FieldType]FieldHandler
}

func newFieldRegistry(store DocumentStore, metadata MetadataProvider) *fieldRegistry {
	text := &textHandler{}
	relation := &relationHandler{store: store}
	r := &fieldRegistry{handlers: map[FieldType]FieldHandler{
		FieldTypeText:     text,
		FieldTypeTextarea: text,
		FieldTypeSelect:   &selectHandler{},
		FieldTypeInteger:  &integerHandler{},
		FieldTypeDecimal:  &decimalHandler{},
		FieldTypeBoolean:  &booleanHandler{},
		FieldTypeDate:     &dateHandler{layout: "2006-01-02"},
		FieldTypeDateTime: &dateHandler{layout: time.RFC3339},
		FieldTypeRelation: relation,
		FieldTypeFile:     &fileHandler{},
		FieldTypeNode:     &nodeHandler{store: store},
		FieldTypeCompound: &compoundHandler{metadata: metadata},
	}}
	r.handlers[FieldTypeMultiSelect] = &multiHandler{fieldType: FieldTypeMultiSelect, element: r.handlers[FieldTypeSelect]}
	r.handlers[FieldTypeTags] = &multiHandler{fieldType: FieldTypeTags, element: text}
	r.handlers[FieldTypeRelationCollection] = &multiHandler{fieldType: FieldTypeRelationCollection, element: relation}
	return r
}

// Handler returns the handler registered for the field type.
func (r *fieldRegistry) Handler(ft FieldType) (FieldHandler, error) {
	h, ok := r.handlers[ft]
	if !ok {
		return nil, badRequestf("field_type", "no handler configured for field type %q", ft)
	}
	return h, nil
}

// CascadeContributors returns the handlers owning attributes of the given
// field types during a cascade cleanup, keyed by field type.
func (r *fieldRegistry) CascadeContributors(types []FieldType) map[FieldType]CascadeContributor {
	out := make(map[FieldType]CascadeContributor)
	for _, ft := range types {
		if cc, ok := r.handlers[ft].(CascadeContributor); ok {
			out[ft] = cc
		}
	}
	return out
}

// textHandler stores text and textarea values verbatim.
type textHandler struct{}

func (h *textHandler) ParseForStorage(_ context.Context, value any, _ ParseContext) (any, error) {
	if value == nil {
		return nil, nil
	}
	return fmt.Sprintf("%v", value), nil
}

func (h *textHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

// selectHandler stores a single enum value. Values outside the attribute's
// declared options are rejected.
type selectHandler struct{}

func (h *selectHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	if value == nil {
		return nil, nil
	}
	s := fmt.Sprintf("%v", value)
	if s == "" {
		return nil, nil
	}
	if pc.Attribute != nil && len(pc.Attribute.Options) > 0 {
		for _, opt := range pc.Attribute.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, badRequestf("fields."+pc.Attribute.Code, "value %q is not an option", s)
	}
	return s, nil
}

func (h *selectHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

// integerHandler coerces via locale-independent parsing; empty input
// stores null, never zero.
type integerHandler struct{}

func (h *integerHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, badRequestf("fields."+pc.Attribute.Code, "not an integer: %q", v)
		}
		return n, nil
	default:
		return nil, badRequestf("fields."+pc.Attribute.Code, "not an integer: %v", value)
	}
}

func (h *integerHandler) FormatForOutput(value any, _ *Attribute, _ string) any {
	if f, ok := value.(float64); ok {
		// JSON decoding widens stored integers to float64.
		return int64(f)
	}
	return value
}

// decimalHandler coerces via locale-independent parsing; empty input
// stores null.
type decimalHandler struct{}

func (h *decimalHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, badRequestf("fields."+pc.Attribute.Code, "not a decimal: %q", v)
		}
		return f, nil
	default:
		return nil, badRequestf("fields."+pc.Attribute.Code, "not a decimal: %v", value)
	}
}

func (h *decimalHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

type booleanHandler struct{}

func (h *booleanHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, badRequestf("fields."+pc.Attribute.Code, "not a boolean: %q", v)
		}
		return b, nil
	default:
		return nil, badRequestf("fields."+pc.Attribute.Code, "not a boolean: %v", value)
	}
}

func (h *booleanHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

// dateHandler stores dates as formatted strings so the index mapping can
// declare them as dates.
type dateHandler struct {
	layout string
}

func (h *dateHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC().Format(h.layout), nil
	case string:
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(h.layout, v)
		if err != nil {
			return nil, badRequestf("fields."+pc.Attribute.Code, "invalid date %q", v)
		}
		return t.UTC().Format(h.layout), nil
	default:
		return nil, badRequestf("fields."+pc.Attribute.Code, "invalid date: %v", value)
	}
}

func (h *dateHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

// multiHandler wraps a scalar handler for multi-valued field types: the
// element parse/format is applied per entry with order preserved, and an
// empty or absent value always stores an empty sequence, never null.
type multiHandler struct {
	fieldType FieldType
	element   FieldHandler
}

func (h *multiHandler) ParseForStorage(ctx context.Context, value any, pc ParseContext) (any, error) {
	entries := asSlice(value)
	out := make([]any, 0, len(entries))
	for _, entry := range entries {
		parsed, err := h.element.ParseForStorage(ctx, entry, pc)
		if err != nil {
			return nil, err
		}
		if parsed != nil {
			out = append(out, parsed)
		}
	}
	return out, nil
}

func (h *multiHandler) FormatForOutput(value any, attr *Attribute, localeCode string) any {
	entries := asSlice(value)
	out := make([]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, h.element.FormatForOutput(entry, attr, localeCode))
	}
	return out
}

// CascadeFieldTypes reports the wrapped collection type when its element
// handler participates in cascades.
func (h *multiHandler) CascadeFieldTypes() []FieldType {
	if _, ok := h.element.(CascadeContributor); ok {
		return []FieldType{h.fieldType}
	}
	return nil
}

// CascadeRewrite removes matching entries, re-indexing the survivors in
// their original order.
func (h *multiHandler) CascadeRewrite(deletedID string, value any) (any, bool) {
	cc, ok := h.element.(CascadeContributor)
	if !ok {
		return value, false
	}
	entries := asSlice(value)
	out := make([]any, 0, len(entries))
	changed := false
	for _, entry := range entries {
		if _, hit := cc.CascadeRewrite(deletedID, entry); hit {
			changed = true
			continue
		}
		out = append(out, entry)
	}
	if !changed {
		return value, false
	}
	return out, true
}

func asSlice(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, s)
		}
		return out
	default:
		return []any{v}
	}
}
