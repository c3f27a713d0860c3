// Package actionlog persists the append-only audit trail: one row per
// dispatch attempt and one row per decision call.
package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionEntry records a single dispatch attempt. Rows are never mutated.
type ActionEntry struct {
	ConversationID uuid.UUID
	LeadID         *uuid.UUID
	Action         string
	Payload        any
	LatencyMs      int64
	Success        bool
	ErrorText      string
}

// LoggedAction is the persisted form of an action log row.
type LoggedAction struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversationId"`
	LeadID         *uuid.UUID      `json:"leadId,omitempty"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	LatencyMs      int64           `json:"latencyMs"`
	Success        bool            `json:"success"`
	ErrorText      *string         `json:"errorText,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// InteractionEntry records one decision call and its metadata.
type InteractionEntry struct {
	ConversationID uuid.UUID
	LeadID         *uuid.UUID
	Origin         string
	Message        string
	IntentName     string
	Confidence     float64
	TotalTokens    int
	Model          string
}

// Repository provides append-only writes to the audit tables
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new action log repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAction appends one action log row
func (r *Repository) InsertAction(ctx context.Context, entry *ActionEntry) error {
	var payload []byte
	if entry.Payload != nil {
		encoded, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode action payload: %w", err)
		}
		payload = encoded
	}

	query := `
		INSERT INTO agent_action_logs (
			id, conversation_id, lead_id, action, payload, latency_ms, success, error_text, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var errText *string
	if entry.ErrorText != "" {
		errText = &entry.ErrorText
	}

	_, err := r.pool.Exec(ctx, query,
		uuid.New(), entry.ConversationID, entry.LeadID, entry.Action, payload,
		entry.LatencyMs, entry.Success, errText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}
	return nil
}

// ListByConversation returns the most recent action log rows for a
// conversation, newest first.
func (r *Repository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]LoggedAction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, conversation_id, lead_id, action, payload, latency_ms, success, error_text, created_at
		FROM agent_action_logs
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	var actions []LoggedAction
	for rows.Next() {
		var a LoggedAction
		if err := rows.Scan(
			&a.ID, &a.ConversationID, &a.LeadID, &a.Action, &a.Payload,
			&a.LatencyMs, &a.Success, &a.ErrorText, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read action logs: %w", err)
	}
	return actions, nil
}

// InsertInteraction appends one interaction log row
func (r *Repository) InsertInteraction(ctx context.Context, entry *InteractionEntry) error {
	query := `
		INSERT INTO agent_interaction_logs (
			id, conversation_id, lead_id, origin, message, intent_name, confidence, total_tokens, model, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		uuid.New(), entry.ConversationID, entry.LeadID, entry.Origin, entry.Message,
		entry.IntentName, entry.Confidence, entry.TotalTokens, entry.Model, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction log: %w", err)
	}
	return nil
}
