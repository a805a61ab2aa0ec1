package entityindex

import (
	"context"
)

// Field types rewritten when a referenced entity or file is deleted
// elsewhere in the system.
var (
	entityCascadeTypes = []FieldType{FieldTypeRelation, FieldTypeRelationCollection, FieldTypeNode}
	fileCascadeTypes   = []FieldType{FieldTypeFile}
)

// OnEntityDeleted scrubs the deleted entity id out of every document that
// references it through a relation, relation collection or node field.
func (p *projector) OnEntityDeleted(ctx context.Context, deletedID string) error {
	return p.cascadeRelatedDelete(ctx, deletedID, entityCascadeTypes)
}

// OnFileDeleted scrubs the deleted file id out of every document that
// references it through a file field.
func (p *projector) OnFileDeleted(ctx context.Context, deletedID string) error {
	return p.cascadeRelatedDelete(ctx, deletedID, fileCascadeTypes)
}

// cascadeRelatedDelete searches for documents whose owned reference fields
// carry the deleted id and rewrites each affected field: a single matching
// reference becomes null, a matching collection entry is removed with the
// survivors' order preserved. Only documents that actually changed are
// written back; any rewrite invalidates the downstream entity cache.
func (p *projector) cascadeRelatedDelete(ctx context.Context, deletedID string, types []FieldType) error {
	contributors := p.registry.CascadeContributors(types)
	keysByType, err := p.cascadeFieldKeys(ctx, types)
	if err != nil {
		return err
	}

	q := NewBoolQuery()
	total := 0
	for _, keys := range keysByType {
		for _, key := range keys {
			// Values under fields.* are indexed as analyzed text, so id
			// equality goes through the exact keyword sub-field.
			q.Should(TermQuery("fields."+key+".id.exact", deletedID))
			total++
		}
	}
	if total == 0 {
		return nil
	}

	if err := p.store.Refresh(ctx); err != nil {
		return err
	}
	result, err := p.store.Search(ctx, SearchRequest{Query: q.Build(), Size: PaginationCeiling})
	if err != nil {
		return err
	}

	rewritten := 0
	for _, doc := range result.Documents {
		working := doc.Clone()
		changed := false
		for ft, keys := range keysByType {
			contributor := contributors[ft]
			if contributor == nil {
				continue
			}
			for _, key := range keys {
				value, ok := working.Fields[key]
				if !ok || value == nil {
					continue
				}
				if replacement, hit := contributor.CascadeRewrite(deletedID, value); hit {
					working.Fields[key] = replacement
					changed = true
				}
			}
		}
		if !changed {
			continue
		}
		if err := p.store.Index(ctx, working); err != nil {
			return err
		}
		rewritten++
	}

	if rewritten > 0 {
		p.logger.Info("cascade rewrite",
			"deletedID", deletedID,
			"documents", rewritten,
		)
		p.invalidateCache(ctx)
	}
	return nil
}

// cascadeFieldKeys resolves the storage keys owned by each cascading field
// type: every attribute of that type contributes its key, expanded per
// locale when localized.
func (p *projector) cascadeFieldKeys(ctx context.Context, types []FieldType) (map[FieldType][]string, error) {
	var localeCodes []string
	out := make(map[FieldType][]string, len(types))
	for _, ft := range types {
		attrs, err := p.metadata.AttributesByFieldType(ctx, ft)
		if err != nil {
			return nil, err
		}
		for _, attr := range attrs {
			if !attr.Localized {
				out[ft] = append(out[ft], attr.Code)
				continue
			}
			if localeCodes == nil {
				locales, err := p.metadata.Locales(ctx)
				if err != nil {
					return nil, err
				}
				localeCodes = make([]string, 0, len(locales))
				for _, loc := range locales {
					localeCodes = append(localeCodes, loc.Code)
				}
			}
			for _, lc := range localeCodes {
				out[ft] = append(out[ft], attr.StorageKey(lc))
			}
		}
	}
	return out, nil
}
