package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sdrdesk_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lead represents the lead database model
type Lead struct {
	ID           uuid.UUID  `db:"id"`
	TenantID     uuid.UUID  `db:"tenant_id"`
	Name         string     `db:"name"`
	Phone        string     `db:"phone"`
	Email        *string    `db:"email"`
	Value        float64    `db:"value"`
	PipelineID   uuid.UUID  `db:"pipeline_id"`
	StageID      uuid.UUID  `db:"stage_id"`
	OwnerID      *uuid.UUID `db:"owner_id"`
	CustomFields []byte     `db:"custom_fields"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Stage represents a pipeline stage
type Stage struct {
	ID         uuid.UUID `db:"id"`
	PipelineID uuid.UUID `db:"pipeline_id"`
	Name       string    `db:"name"`
	Position   int       `db:"position"`
}

// Owner is the minimal user projection needed for lead assignment
type Owner struct {
	ID    uuid.UUID `db:"id"`
	Name  string    `db:"name"`
	Email string    `db:"email"`
}

// Repository provides database operations for leads and pipeline stages
type Repository struct {
	pool *pgxpool.Pool
}

const leadNotFoundMsg = "lead not found"

// New creates a new leads repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID retrieves a lead by its ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	var lead Lead
	query := `SELECT id, tenant_id, name, phone, email, value, pipeline_id, stage_id, owner_id,
		custom_fields, created_at, updated_at
		FROM leads WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&lead.ID, &lead.TenantID, &lead.Name, &lead.Phone, &lead.Email, &lead.Value, &lead.PipelineID,
		&lead.StageID, &lead.OwnerID, &lead.CustomFields, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(leadNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// FindByPhone returns the tenant's lead with the given phone number, or nil
// when none exists.
func (r *Repository) FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Lead, error) {
	var lead Lead
	query := `SELECT id, tenant_id, name, phone, email, value, pipeline_id, stage_id, owner_id,
		custom_fields, created_at, updated_at
		FROM leads WHERE tenant_id = $1 AND phone = $2
		ORDER BY created_at DESC LIMIT 1`

	err := r.pool.QueryRow(ctx, query, tenantID, phone).Scan(
		&lead.ID, &lead.TenantID, &lead.Name, &lead.Phone, &lead.Email, &lead.Value, &lead.PipelineID,
		&lead.StageID, &lead.OwnerID, &lead.CustomFields, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find lead by phone: %w", err)
	}
	return &lead, nil
}

// Create inserts a new lead
func (r *Repository) Create(ctx context.Context, lead *Lead) error {
	query := `
		INSERT INTO leads (
			id, tenant_id, name, phone, email, value, pipeline_id, stage_id,
			owner_id, custom_fields, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		lead.ID, lead.TenantID, lead.Name, lead.Phone, lead.Email, lead.Value,
		lead.PipelineID, lead.StageID, lead.OwnerID, lead.CustomFields,
		lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// DefaultStage returns the first stage of the tenant's oldest pipeline, the
// entry point for leads created by inbound traffic.
func (r *Repository) DefaultStage(ctx context.Context, tenantID uuid.UUID) (*Stage, error) {
	var stage Stage
	query := `
		SELECT s.id, s.pipeline_id, s.name, s.position
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE p.tenant_id = $1
		ORDER BY p.created_at ASC, s.position ASC
		LIMIT 1`

	err := r.pool.QueryRow(ctx, query, tenantID).Scan(&stage.ID, &stage.PipelineID, &stage.Name, &stage.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("tenant has no pipeline stages configured")
		}
		return nil, fmt.Errorf("failed to resolve default stage: %w", err)
	}
	return &stage, nil
}

// MergeCustomFields shallow-merges the given fields into the lead's
// custom_fields document. Existing keys are overwritten.
func (r *Repository) MergeCustomFields(ctx context.Context, leadID uuid.UUID, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode qualification fields: %w", err)
	}

	query := `
		UPDATE leads
		SET custom_fields = COALESCE(custom_fields, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, leadID, payload)
	if err != nil {
		return fmt.Errorf("failed to merge custom fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

// GetStageByID retrieves a pipeline stage by its ID
func (r *Repository) GetStageByID(ctx context.Context, id uuid.UUID) (*Stage, error) {
	var stage Stage
	query := `SELECT id, pipeline_id, name, position FROM pipeline_stages WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(&stage.ID, &stage.PipelineID, &stage.Name, &stage.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("stage not found")
		}
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return &stage, nil
}

// FindStageFuzzy resolves a stage within a pipeline by case-insensitive
// substring match, preferring the earliest stage in pipeline order.
// Returns nil when no stage matches.
func (r *Repository) FindStageFuzzy(ctx context.Context, pipelineID uuid.UUID, name string) (*Stage, error) {
	var stage Stage
	query := `
		SELECT id, pipeline_id, name, position FROM pipeline_stages
		WHERE pipeline_id = $1 AND name ILIKE '%' || $2 || '%'
		ORDER BY position ASC LIMIT 1`

	err := r.pool.QueryRow(ctx, query, pipelineID, name).Scan(&stage.ID, &stage.PipelineID, &stage.Name, &stage.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve stage: %w", err)
	}
	return &stage, nil
}

// SetStage moves a lead to the given stage
func (r *Repository) SetStage(ctx context.Context, leadID, stageID uuid.UUID) error {
	query := `UPDATE leads SET stage_id = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, leadID, stageID)
	if err != nil {
		return fmt.Errorf("failed to move lead stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

// AssignOwner sets the lead owner
func (r *Repository) AssignOwner(ctx context.Context, leadID, ownerID uuid.UUID) error {
	query := `UPDATE leads SET owner_id = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, leadID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to assign lead owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

// NextRoundRobinOwner picks the active user that was assigned a lead the
// longest ago and stamps them as most recently assigned, in one transaction.
func (r *Repository) NextRoundRobinOwner(ctx context.Context, tenantID uuid.UUID) (*Owner, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin assignment: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner Owner
	query := `
		SELECT id, name, email FROM users
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY last_assigned_at ASC NULLS FIRST, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	err = tx.QueryRow(ctx, query, tenantID).Scan(&owner.ID, &owner.Name, &owner.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("no active users available for assignment")
		}
		return nil, fmt.Errorf("failed to pick owner: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET last_assigned_at = NOW() WHERE id = $1`, owner.ID); err != nil {
		return nil, fmt.Errorf("failed to stamp assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return &owner, nil
}

// AppendActivity records a lead activity entry
func (r *Repository) AppendActivity(ctx context.Context, leadID uuid.UUID, activityType, description string, metadata map[string]any) error {
	var payload []byte
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode activity metadata: %w", err)
		}
		payload = encoded
	}

	query := `
		INSERT INTO lead_activities (id, lead_id, type, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	if _, err := r.pool.Exec(ctx, query, uuid.New(), leadID, activityType, description, payload); err != nil {
		return fmt.Errorf("failed to append lead activity: %w", err)
	}
	return nil
}
