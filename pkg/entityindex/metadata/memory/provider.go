// Package memory provides a registry-style MetadataProvider for tests and
// standalone runs. Metadata is registered up front and served read-only.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/entity-index/pkg/entityindex"
)

// Provider implements entityindex.MetadataProvider backed by in-process maps.
type Provider struct {
	mu           sync.RWMutex
	attrsByID    map[uuid.UUID]*entityindex.Attribute
	attrsByCode  map[string]*entityindex.Attribute
	sets         map[uuid.UUID]*entityindex.AttributeSet
	entityTypes  map[uuid.UUID]*entityindex.EntityType
	localesByID  map[uuid.UUID]*entityindex.Locale
	localesOrder []*entityindex.Locale
	points       map[uuid.UUID]*entityindex.WorkflowPoint
}

// New creates an empty metadata provider.
func New() *Provider {
	return &Provider{
		attrsByID:   make(map[uuid.UUID]*entityindex.Attribute),
		attrsByCode: make(map[string]*entityindex.Attribute),
		sets:        make(map[uuid.UUID]*entityindex.AttributeSet),
		entityTypes: make(map[uuid.UUID]*entityindex.EntityType),
		localesByID: make(map[uuid.UUID]*entityindex.Locale),
		points:      make(map[uuid.UUID]*entityindex.WorkflowPoint),
	}
}

// RegisterAttribute adds an attribute definition.
func (p *Provider) RegisterAttribute(attr *entityindex.Attribute) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrsByID[attr.ID] = attr
	p.attrsByCode[attr.Code] = attr
}

// RegisterAttributeSet adds an attribute set definition.
func (p *Provider) RegisterAttributeSet(set *entityindex.AttributeSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[set.ID] = set
}

// RegisterEntityType adds an entity type definition.
func (p *Provider) RegisterEntityType(et *entityindex.EntityType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entityTypes[et.ID] = et
}

// RegisterLocale adds a locale; registration order is the tracked order.
func (p *Provider) RegisterLocale(loc *entityindex.Locale) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localesByID[loc.ID] = loc
	p.localesOrder = append(p.localesOrder, loc)
}

// RegisterWorkflowPoint adds a workflow point definition.
func (p *Provider) RegisterWorkflowPoint(point *entityindex.WorkflowPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[point.ID] = point
}

func (p *Provider) AttributeByID(ctx context.Context, id uuid.UUID) (*entityindex.Attribute, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	attr, ok := p.attrsByID[id]
	if !ok {
		return nil, &entityindex.RequestError{Key: "attribute", Err: fmt.Errorf("attribute %s not found", id)}
	}
	return attr, nil
}

func (p *Provider) AttributeByCode(ctx context.Context, code string) (*entityindex.Attribute, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	attr, ok := p.attrsByCode[code]
	if !ok {
		return nil, &entityindex.RequestError{Key: "attribute", Err: fmt.Errorf("attribute %q not found", code)}
	}
	return attr, nil
}

func (p *Provider) AttributesByFieldType(ctx context.Context, ft entityindex.FieldType) ([]*entityindex.Attribute, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*entityindex.Attribute
	for _, attr := range p.attrsByID {
		if attr.FieldType == ft {
			out = append(out, attr)
		}
	}
	return out, nil
}

func (p *Provider) AttributeSetByID(ctx context.Context, id uuid.UUID) (*entityindex.AttributeSet, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.sets[id]
	if !ok {
		return nil, &entityindex.RequestError{Key: "attribute_set", Err: fmt.Errorf("attribute set %s not found", id)}
	}
	return set, nil
}

func (p *Provider) EntityTypeByID(ctx context.Context, id uuid.UUID) (*entityindex.EntityType, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	et, ok := p.entityTypes[id]
	if !ok {
		return nil, &entityindex.RequestError{Key: "entity_type", Err: fmt.Errorf("entity type %s not found", id)}
	}
	return et, nil
}

func (p *Provider) LocaleByID(ctx context.Context, id uuid.UUID) (*entityindex.Locale, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	loc, ok := p.localesByID[id]
	if !ok {
		return nil, &entityindex.RequestError{Key: "locale", Err: fmt.Errorf("locale %s not found", id)}
	}
	return loc, nil
}

func (p *Provider) LocaleByCode(ctx context.Context, code string) (*entityindex.Locale, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, loc := range p.localesOrder {
		if loc.Code == code {
			return loc, nil
		}
	}
	return nil, &entityindex.RequestError{Key: "locale", Err: fmt.Errorf("locale %q not found", code)}
}

func (p *Provider) Locales(ctx context.Context) ([]*entityindex.Locale, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*entityindex.Locale, len(p.localesOrder))
	copy(out, p.localesOrder)
	return out, nil
}

func (p *Provider) WorkflowPointByID(ctx context.Context, id uuid.UUID) (*entityindex.WorkflowPoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	point, ok := p.points[id]
	if !ok {
		return nil, &entityindex.RequestError{Key: "workflow_point", Err: fmt.Errorf("workflow point %s not found", id)}
	}
	return point, nil
}

func (p *Provider) WorkflowPointByStatus(ctx context.Context, workflowID uuid.UUID, status string) (*entityindex.WorkflowPoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, point := range p.points {
		if point.WorkflowID == workflowID && point.Status == status {
			return point, nil
		}
	}
	return nil, &entityindex.RequestError{Key: "workflow_point", Err: fmt.Errorf("workflow point %q not found", status)}
}
