package entityindex

import (
	"context"
	"errors"
	"fmt"
)

// refID extracts the referenced id from a stored reference object.
func refID(value any) string {
	m, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

// referencedEntityID normalizes the API-level value of a relation field to
// the referenced entity id: a plain id string and a reference object are
// both accepted.
func referencedEntityID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		return refID(v)
	default:
		return ""
	}
}

// relationHandler stores a reference to another entity. The referenced
// document is resolved at write time and a minimal projection denormalized
// into the storing document, so reads need no follow-up fetch.
type relationHandler struct {
	store DocumentStore
}

func (h *relationHandler) ParseForStorage(ctx context.Context, value any, pc ParseContext) (any, error) {
	if value == nil {
		return nil, nil
	}
	id := referencedEntityID(value)
	if id == "" {
		return nil, badRequestf("fields."+pc.Attribute.Code, "not an entity reference: %v", value)
	}
	doc, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return nil, badRequestf("fields."+pc.Attribute.Code, "referenced entity %s not found", id)
		}
		return nil, err
	}
	return referenceProjection(doc), nil
}

func (h *relationHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

func (h *relationHandler) CascadeFieldTypes() []FieldType {
	return []FieldType{FieldTypeRelation}
}

func (h *relationHandler) CascadeRewrite(deletedID string, value any) (any, bool) {
	if refID(value) == deletedID {
		return nil, true
	}
	return value, false
}

func referenceProjection(doc *StoredDocument) map[string]any {
	return map[string]any{
		"id":               doc.ID,
		"type":             EntityOutputType,
		"attribute_set_id": doc.AttributeSetID.String(),
		"entity_type_id":   doc.EntityTypeID.String(),
	}
}

// nodeHandler behaves like relation but denormalizes one level deeper: the
// referenced document's own fields travel with the projection.
type nodeHandler struct {
	store DocumentStore
}

func (h *nodeHandler) ParseForStorage(ctx context.Context, value any, pc ParseContext) (any, error) {
	if value == nil {
		return nil, nil
	}
	id := referencedEntityID(value)
	if id == "" {
		return nil, badRequestf("fields."+pc.Attribute.Code, "not an entity reference: %v", value)
	}
	doc, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return nil, badRequestf("fields."+pc.Attribute.Code, "referenced entity %s not found", id)
		}
		return nil, err
	}
	projection := referenceProjection(doc)
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	projection["fields"] = fields
	return projection, nil
}

func (h *nodeHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

func (h *nodeHandler) CascadeFieldTypes() []FieldType {
	return []FieldType{FieldTypeNode}
}

func (h *nodeHandler) CascadeRewrite(deletedID string, value any) (any, bool) {
	if refID(value) == deletedID {
		return nil, true
	}
	return value, false
}

// fileHandler stores a reference to a file managed by the surrounding
// system. Files are not resolved at write time; only the reference object
// is kept, and the file-deleted cascade clears it.
type fileHandler struct{}

func (h *fileHandler) ParseForStorage(_ context.Context, value any, pc ParseContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return map[string]any{"id": v}, nil
	case map[string]any:
		if refID(v) == "" {
			return nil, badRequestf("fields."+pc.Attribute.Code, "file reference without id")
		}
		return v, nil
	default:
		return nil, badRequestf("fields."+pc.Attribute.Code, "not a file reference: %v", fmt.Sprintf("%T", value))
	}
}

func (h *fileHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

func (h *fileHandler) CascadeFieldTypes() []FieldType {
	return []FieldType{FieldTypeFile}
}

func (h *fileHandler) CascadeRewrite(deletedID string, value any) (any, bool) {
	if refID(value) == deletedID {
		return nil, true
	}
	return value, false
}
