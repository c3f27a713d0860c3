package repository

import (
	"context"
	"errors"
	"fmt"

	"sdrdesk_backend/internal/agent/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads agent and tenant configuration for decision payloads
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new agent configuration repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// defaultAgentConfig is used when a tenant has no agent_configs row.
func defaultAgentConfig() *ports.AgentConfig {
	return &ports.AgentConfig{
		Name:        "SDR Assistant",
		Prompt:      "",
		Temperature: 0.7,
		Model:       "default",
	}
}

// AgentConfig returns the tenant's automation configuration, falling back to
// sensible defaults when none is configured.
func (r *Repository) AgentConfig(ctx context.Context, tenantID uuid.UUID) (*ports.AgentConfig, error) {
	var cfg ports.AgentConfig
	query := `
		SELECT id, name, prompt, temperature, model, auto_qualify, auto_move_stage,
			transfer_on_complex, forbidden_topics, tone, language
		FROM agent_configs WHERE tenant_id = $1`

	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Prompt, &cfg.Temperature, &cfg.Model,
		&cfg.AutoQualify, &cfg.AutoMoveStage, &cfg.TransferOnComplex,
		&cfg.ForbiddenTopics, &cfg.Tone, &cfg.Language,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return defaultAgentConfig(), nil
		}
		return nil, fmt.Errorf("failed to get agent config: %w", err)
	}
	return &cfg, nil
}

// TenantSnapshot returns the tenant catalog and pipeline metadata.
func (r *Repository) TenantSnapshot(ctx context.Context, tenantID uuid.UUID) (*ports.TenantSnapshot, error) {
	snapshot := ports.TenantSnapshot{ID: tenantID}

	query := `SELECT name, timezone, business_hours FROM tenants WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(&snapshot.Name, &snapshot.Timezone, &snapshot.BusinessHours)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to get tenant: %w", err)
		}
	}

	products, err := r.stringColumn(ctx,
		`SELECT name FROM products WHERE tenant_id = $1 ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	snapshot.Products = products

	stages, err := r.stringColumn(ctx, `
		SELECT s.name FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE p.tenant_id = $1
		ORDER BY s.position ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	snapshot.Stages = stages

	return &snapshot, nil
}

func (r *Repository) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}
