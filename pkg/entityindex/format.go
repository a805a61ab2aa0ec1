package entityindex

import (
	"context"
	"slices"
)

// matchStatusFilter applies a fetch-level status filter (scalar or
// operator map) to one status name. All operators in a map must match.
// Only e/ne/in/nin are supported here; range operators have no meaning on
// status names.
func matchStatusFilter(status string, filter any) (bool, error) {
	if filter == nil {
		return true, nil
	}
	for op, operand := range operatorMap(filter) {
		switch op {
		case OpEquals:
			if status != stringify(operand) {
				return false, nil
			}
		case OpNotEquals:
			if status == stringify(operand) {
				return false, nil
			}
		case OpIn:
			if !containsStatus(valueList(operand), status) {
				return false, nil
			}
		case OpNotIn:
			if containsStatus(valueList(operand), status) {
				return false, nil
			}
		default:
			return false, badRequestf("status", "unsupported operator %q", op)
		}
	}
	return true, nil
}

func containsStatus(values []any, status string) bool {
	for _, v := range values {
		if stringify(v) == status {
			return true
		}
	}
	return false
}

// formatDocument projects a raw stored document into its API shape for the
// given locale context. When no status record survives locale/status
// filtering the entity is reported as not found.
func (p *projector) formatDocument(ctx context.Context, doc *StoredDocument, locale *Locale, statusFilter any) (*FormattedEntity, error) {
	entityType, err := p.metadata.EntityTypeByID(ctx, doc.EntityTypeID)
	if err != nil {
		return nil, err
	}
	set, attrs, err := p.resolveSetAttributes(ctx, doc.AttributeSetID)
	if err != nil {
		return nil, err
	}
	tracked, err := p.trackedLocales(ctx, entityType)
	if err != nil {
		return nil, err
	}

	eligible := tracked
	if locale != nil {
		eligible = []string{locale.Code}
	}

	valid := make([]StatusRecord, 0, len(doc.Status))
	for _, rec := range doc.Status {
		if rec.State != StatusStateActive {
			continue
		}
		// A locale-less record (workflow not localized) is always eligible.
		if rec.Locale != "" && !slices.Contains(eligible, rec.Locale) {
			continue
		}
		ok, err := matchStatusFilter(rec.Status, statusFilter)
		if err != nil {
			return nil, err
		}
		if ok {
			valid = append(valid, rec)
		}
	}
	if len(valid) == 0 {
		return nil, ErrEntityNotFound
	}

	// A localized workflow narrows field output to exactly the locales that
	// still carry a valid status; an unrequested locale's fields silently
	// drop out of multi-locale output.
	if doc.LocalizedWorkflow {
		narrowed := make([]string, 0, len(valid))
		for _, rec := range valid {
			if rec.Locale != "" && !slices.Contains(narrowed, rec.Locale) {
				narrowed = append(narrowed, rec.Locale)
			}
		}
		eligible = narrowed
	}

	singleLocale := locale != nil || !doc.LocalizedWorkflow

	out := &FormattedEntity{
		ID:                doc.ID,
		Type:              EntityOutputType,
		EntityType:        entityType.Code,
		EntityTypeID:      doc.EntityTypeID,
		AttributeSetCode:  set.Code,
		AttributeSetID:    doc.AttributeSetID,
		Localized:         doc.Localized,
		LocalizedWorkflow: doc.LocalizedWorkflow,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		Fields:            make(map[string]any, len(attrs)),
	}
	if locale != nil {
		out.Locale = locale.Code
	}

	if singleLocale {
		out.Status = valid[0].Status
	} else {
		statuses := make(map[string]string, len(valid))
		for _, rec := range valid {
			statuses[rec.Locale] = rec.Status
		}
		out.Status = statuses
	}

	for _, attr := range attrs {
		handler, err := p.registry.Handler(attr.FieldType)
		if err != nil {
			return nil, err
		}
		switch {
		case !attr.Localized:
			out.Fields[attr.Code] = handler.FormatForOutput(doc.Fields[attr.Code], attr, "")
		case locale != nil:
			out.Fields[attr.Code] = handler.FormatForOutput(doc.Fields[attr.StorageKey(locale.Code)], attr, locale.Code)
		default:
			perLocale := make(map[string]any, len(eligible))
			for _, lc := range eligible {
				perLocale[lc] = handler.FormatForOutput(doc.Fields[attr.StorageKey(lc)], attr, lc)
			}
			out.Fields[attr.Code] = perLocale
		}
	}

	return out, nil
}
