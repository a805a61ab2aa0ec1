// Package postgres provides a MetadataProvider reading the content-model
// tables of the relational source-of-truth database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/entity-index/pkg/entityindex"
)

// DBTX allows either a connection pool or a transaction to back the provider.
type DBTX interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

// Provider implements entityindex.MetadataProvider using PostgreSQL.
type Provider struct {
	db DBTX
}

// New creates a new PostgreSQL metadata provider.
func New(db DBTX) *Provider {
	return &Provider{db: db}
}

// NewWithPool creates a new PostgreSQL metadata provider with a connection pool.
func NewWithPool(pool *pgxpool.Pool) *Provider {
	return &Provider{db: pool}
}

const attributeColumns = `id, code, field_type, localized, default_value, options, compound, expected_type`

func (p *Provider) scanAttribute(row pgx.Row) (*entityindex.Attribute, error) {
	var (
		attr         entityindex.Attribute
		defaultValue []byte
		options      []byte
		compound     []byte
		expected     *string
	)
	if err := row.Scan(&attr.ID, &attr.Code, &attr.FieldType, &attr.Localized, &defaultValue, &options, &compound, &expected); err != nil {
		return nil, err
	}
	if len(defaultValue) > 0 {
		if err := json.Unmarshal(defaultValue, &attr.DefaultValue); err != nil {
			return nil, fmt.Errorf("decode default_value: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &attr.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(compound) > 0 {
		if err := json.Unmarshal(compound, &attr.Compound); err != nil {
			return nil, fmt.Errorf("decode compound: %w", err)
		}
	}
	if expected != nil {
		attr.ExpectedType = *expected
	}
	return &attr, nil
}

func (p *Provider) AttributeByID(ctx context.Context, id uuid.UUID) (*entityindex.Attribute, error) {
	row := p.db.QueryRow(ctx, `SELECT `+attributeColumns+` FROM attributes WHERE id = $1`, id)
	attr, err := p.scanAttribute(row)
	if err != nil {
		return nil, notFoundOr(err, "attribute", id.String())
	}
	return attr, nil
}

func (p *Provider) AttributeByCode(ctx context.Context, code string) (*entityindex.Attribute, error) {
	row := p.db.QueryRow(ctx, `SELECT `+attributeColumns+` FROM attributes WHERE code = $1`, code)
	attr, err := p.scanAttribute(row)
	if err != nil {
		return nil, notFoundOr(err, "attribute", code)
	}
	return attr, nil
}

func (p *Provider) AttributesByFieldType(ctx context.Context, ft entityindex.FieldType) ([]*entityindex.Attribute, error) {
	rows, err := p.db.Query(ctx, `SELECT `+attributeColumns+` FROM attributes WHERE field_type = $1 ORDER BY code`, string(ft))
	if err != nil {
		return nil, fmt.Errorf("query attributes by field type: %w", err)
	}
	defer rows.Close()
	var out []*entityindex.Attribute
	for rows.Next() {
		attr, err := p.scanAttribute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, attr)
	}
	return out, rows.Err()
}

func (p *Provider) AttributeSetByID(ctx context.Context, id uuid.UUID) (*entityindex.AttributeSet, error) {
	set := &entityindex.AttributeSet{ID: id}
	row := p.db.QueryRow(ctx, `SELECT code FROM attribute_sets WHERE id = $1`, id)
	if err := row.Scan(&set.Code); err != nil {
		return nil, notFoundOr(err, "attribute_set", id.String())
	}
	rows, err := p.db.Query(ctx,
		`SELECT attribute_id FROM attribute_set_attributes WHERE attribute_set_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query attribute set members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var attrID uuid.UUID
		if err := rows.Scan(&attrID); err != nil {
			return nil, err
		}
		set.AttributeIDs = append(set.AttributeIDs, attrID)
	}
	return set, rows.Err()
}

func (p *Provider) EntityTypeByID(ctx context.Context, id uuid.UUID) (*entityindex.EntityType, error) {
	var et entityindex.EntityType
	row := p.db.QueryRow(ctx,
		`SELECT id, code, endpoint, workflow_id, localized, localized_workflow, default_workflow_point
		   FROM entity_types WHERE id = $1`, id)
	if err := row.Scan(&et.ID, &et.Code, &et.Endpoint, &et.WorkflowID, &et.Localized, &et.LocalizedWorkflow, &et.DefaultWorkflowPoint); err != nil {
		return nil, notFoundOr(err, "entity_type", id.String())
	}
	return &et, nil
}

func (p *Provider) LocaleByID(ctx context.Context, id uuid.UUID) (*entityindex.Locale, error) {
	var loc entityindex.Locale
	row := p.db.QueryRow(ctx, `SELECT id, code FROM locales WHERE id = $1`, id)
	if err := row.Scan(&loc.ID, &loc.Code); err != nil {
		return nil, notFoundOr(err, "locale", id.String())
	}
	return &loc, nil
}

func (p *Provider) LocaleByCode(ctx context.Context, code string) (*entityindex.Locale, error) {
	var loc entityindex.Locale
	row := p.db.QueryRow(ctx, `SELECT id, code FROM locales WHERE code = $1`, code)
	if err := row.Scan(&loc.ID, &loc.Code); err != nil {
		return nil, notFoundOr(err, "locale", code)
	}
	return &loc, nil
}

func (p *Provider) Locales(ctx context.Context) ([]*entityindex.Locale, error) {
	rows, err := p.db.Query(ctx, `SELECT id, code FROM locales ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()
	var out []*entityindex.Locale
	for rows.Next() {
		var loc entityindex.Locale
		if err := rows.Scan(&loc.ID, &loc.Code); err != nil {
			return nil, err
		}
		out = append(out, &loc)
	}
	return out, rows.Err()
}

func (p *Provider) WorkflowPointByID(ctx context.Context, id uuid.UUID) (*entityindex.WorkflowPoint, error) {
	var point entityindex.WorkflowPoint
	row := p.db.QueryRow(ctx,
		`SELECT id, workflow_id, status, public, deleted FROM workflow_points WHERE id = $1`, id)
	if err := row.Scan(&point.ID, &point.WorkflowID, &point.Status, &point.Public, &point.Deleted); err != nil {
		return nil, notFoundOr(err, "workflow_point", id.String())
	}
	return &point, nil
}

func (p *Provider) WorkflowPointByStatus(ctx context.Context, workflowID uuid.UUID, status string) (*entityindex.WorkflowPoint, error) {
	var point entityindex.WorkflowPoint
	row := p.db.QueryRow(ctx,
		`SELECT id, workflow_id, status, public, deleted FROM workflow_points
		  WHERE workflow_id = $1 AND status = $2`, workflowID, status)
	if err := row.Scan(&point.ID, &point.WorkflowID, &point.Status, &point.Public, &point.Deleted); err != nil {
		return nil, notFoundOr(err, "workflow_point", status)
	}
	return &point, nil
}

func notFoundOr(err error, kind, ref string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &entityindex.RequestError{Key: kind, Err: fmt.Errorf("%s %q not found", kind, ref)}
	}
	return fmt.Errorf("query %s: %w", kind, err)
}
