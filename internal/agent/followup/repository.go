// Package followup stores scheduled follow-up messages created by the
// dispatcher and delivered later by the worker.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sdrdesk_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FollowUp is a pending scheduled follow-up record.
type FollowUp struct {
	ID             uuid.UUID  `db:"id"`
	ConversationID uuid.UUID  `db:"conversation_id"`
	LeadID         *uuid.UUID `db:"lead_id"`
	Message        string     `db:"message"`
	DueAt          time.Time  `db:"due_at"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	SentAt         *time.Time `db:"sent_at"`
}

// Repository provides database operations for follow-ups
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new follow-up repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a pending follow-up and returns its ID
func (r *Repository) Insert(ctx context.Context, conversationID uuid.UUID, leadID *uuid.UUID, message string, dueAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO agent_follow_ups (id, conversation_id, lead_id, message, due_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())`

	if _, err := r.pool.Exec(ctx, query, id, conversationID, leadID, message, dueAt); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert follow-up: %w", err)
	}
	return id, nil
}

// GetPending retrieves a follow-up by ID if it is still pending
func (r *Repository) GetPending(ctx context.Context, id uuid.UUID) (*FollowUp, error) {
	var fu FollowUp
	query := `
		SELECT id, conversation_id, lead_id, message, due_at, status, created_at, sent_at
		FROM agent_follow_ups WHERE id = $1 AND status = 'pending'`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&fu.ID, &fu.ConversationID, &fu.LeadID, &fu.Message, &fu.DueAt,
		&fu.Status, &fu.CreatedAt, &fu.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("follow-up not found or already handled")
		}
		return nil, fmt.Errorf("failed to get follow-up: %w", err)
	}
	return &fu, nil
}

// MarkSent marks a follow-up as delivered
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE agent_follow_ups SET status = 'sent', sent_at = NOW() WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark follow-up sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("follow-up is not pending")
	}
	return nil
}

// Cancel marks a follow-up as cancelled, e.g. when the conversation was
// transferred to a human before delivery.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE agent_follow_ups SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to cancel follow-up: %w", err)
	}
	return nil
}
