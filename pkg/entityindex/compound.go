package entityindex

import (
	"context"
	"fmt"
)

// compoundEvaluator derives a compound attribute's value from its ordered
// input list. Evaluation walks the inputs in reverse, keeping a single
// provisional accumulator: a literal or field input sets the accumulator,
// an operator input evaluates the not-yet-consumed inputs recursively,
// combines that result with the accumulator and returns immediately.
type compoundEvaluator struct {
	metadata MetadataProvider
}

// Evaluate computes the attribute's value for one locale and coerces it to
// the attribute's declared expected type.
func (e *compoundEvaluator) Evaluate(ctx context.Context, attr *Attribute, localeCode string, requestFields map[string]any, current *StoredDocument) (any, error) {
	raw, err := e.evaluate(ctx, attr, attr.Compound, localeCode, requestFields, current)
	if err != nil {
		return nil, err
	}
	switch attr.ExpectedType {
	case "", "string":
		return raw, nil
	default:
		return nil, badRequestf("fields."+attr.Code, "unsupported expected type %q", attr.ExpectedType)
	}
}

func (e *compoundEvaluator) evaluate(ctx context.Context, attr *Attribute, inputs []CompoundInput, localeCode string, requestFields map[string]any, current *StoredDocument) (string, error) {
	var acc string
	for i := len(inputs) - 1; i >= 0; i-- {
		in := inputs[i]
		switch in.Kind {
		case CompoundInputLiteral:
			acc = in.Value
		case CompoundInputField:
			value, err := e.resolveField(ctx, in.Value, localeCode, requestFields, current)
			if err != nil {
				return "", err
			}
			acc = stringify(value)
		case CompoundInputOperator:
			if in.Value != CompoundOperatorConcat {
				return "", badRequestf("fields."+attr.Code, "unsupported compound operator %q", in.Value)
			}
			rest, err := e.evaluate(ctx, attr, inputs[:i], localeCode, requestFields, current)
			if err != nil {
				return "", err
			}
			return rest + acc, nil
		default:
			return "", badRequestf("fields."+attr.Code, "unsupported compound input kind %q", in.Kind)
		}
	}
	return acc, nil
}

// resolveField prefers a value supplied in the current request's field map
// (honoring per-locale nesting) and falls back to the value already stored
// on the entity.
func (e *compoundEvaluator) resolveField(ctx context.Context, code, localeCode string, requestFields map[string]any, current *StoredDocument) (any, error) {
	attr, err := e.metadata.AttributeByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if requestFields != nil {
		if supplied, ok := requestFields[code]; ok {
			if attr.Localized {
				if perLocale, ok := supplied.(map[string]any); ok {
					if v, ok := perLocale[localeCode]; ok {
						return v, nil
					}
				} else {
					return supplied, nil
				}
			} else {
				return supplied, nil
			}
		}
	}
	if current != nil {
		return current.Fields[attr.StorageKey(localeCode)], nil
	}
	return nil, nil
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// compoundHandler is the field handler for compound attributes. Values are
// never taken from the request directly; they are derived at write time.
type compoundHandler struct {
	metadata MetadataProvider
}

func (h *compoundHandler) ParseForStorage(ctx context.Context, _ any, pc ParseContext) (any, error) {
	ev := &compoundEvaluator{metadata: h.metadata}
	return ev.Evaluate(ctx, pc.Attribute, pc.Locale, pc.RequestFields, pc.Current)
}

func (h *compoundHandler) FormatForOutput(value any, _ *Attribute, _ string) any { return value }

// pendingRecompute is the token threaded from the pre-update phase into
// the post-update phase of a two-phase compound recomputation.
type pendingRecompute struct {
	// compounds are the compound attributes of the entity's attribute set
	// whose stored fields were provisionally nulled by the pre-phase.
	compounds []*Attribute
}

// prepareCompoundRecompute provisionally nulls every compound attribute's
// stored fields on the working document and returns the recompute token.
// Localized compound fields are nulled for every tracked locale when the
// request did not pin a locale, otherwise only for the requested one.
func prepareCompoundRecompute(doc *StoredDocument, attrs []*Attribute, requestLocale string, localeCodes []string) *pendingRecompute {
	token := &pendingRecompute{}
	for _, attr := range attrs {
		if attr.FieldType != FieldTypeCompound {
			continue
		}
		token.compounds = append(token.compounds, attr)
		for _, key := range compoundStorageKeys(attr, requestLocale, localeCodes) {
			if _, ok := doc.Fields[key]; ok {
				doc.Fields[key] = nil
			}
		}
	}
	return token
}

func compoundStorageKeys(attr *Attribute, requestLocale string, localeCodes []string) []string {
	if !attr.Localized {
		return []string{attr.Code}
	}
	if requestLocale != "" {
		return []string{attr.StorageKey(requestLocale)}
	}
	keys := make([]string, 0, len(localeCodes))
	for _, lc := range localeCodes {
		keys = append(keys, attr.StorageKey(lc))
	}
	return keys
}

// finalizeCompoundRecompute recomputes every prepared compound attribute
// for every tracked locale, mutating the document in place. Compounds whose
// inputs reference a changed field pick up the new derivation; the rest
// re-derive their prior value, restoring the provisional nulls. Request
// values are consulted only for the locale the request wrote; every other
// locale re-derives from the stored document alone. The changed storage
// keys are returned for a partial follow-up write.
func (e *compoundEvaluator) finalizeCompoundRecompute(ctx context.Context, doc *StoredDocument, token *pendingRecompute, requestFields map[string]any, requestLocale string, localeCodes []string) (map[string]any, error) {
	changed := make(map[string]any)
	for _, attr := range token.compounds {
		codes := localeCodes
		if !attr.Localized {
			codes = []string{""}
		}
		for _, lc := range codes {
			fields := requestFields
			if attr.Localized && requestLocale != "" && lc != requestLocale {
				fields = nil
			}
			value, err := e.Evaluate(ctx, attr, lc, fields, doc)
			if err != nil {
				return nil, err
			}
			key := attr.StorageKey(lc)
			if doc.Fields[key] != value {
				doc.Fields[key] = value
				changed[key] = value
			}
		}
	}
	return changed, nil
}
