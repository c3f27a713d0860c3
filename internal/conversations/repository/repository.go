package repository

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

// Conversation represents the conversation database model
type Conversation struct {
	ID                uuid.UUID  `db:"id"`
	TenantID          uuid.UUID  `db:"tenant_id"`
	LeadID            *uuid.UUID `db:"lead_id"`
	Channel           string     `db:"channel"`
	ContactName       string     `db:"contact_name"`
	ContactPhone      string     `db:"contact_phone"`
	Status            string     `db:"status"`
	AutomationEnabled bool       `db:"automation_enabled"`
	AssignedUserID    *uuid.UUID `db:"assigned_user_id"`
	QueueID           *uuid.UUID `db:"queue_id"`
	Metadata          []byte     `db:"metadata"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// Message represents a single conversation message. Seq is a monotonically
// increasing tie-breaker for messages sharing the same created_at. Metadata
// carries channel extras such as media markers as a raw JSON document.
type Message struct {
	ID             uuid.UUID `db:"id"`
	ConversationID uuid.UUID `db:"conversation_id"`
	Seq            int64     `db:"seq"`
	Direction      string    `db:"direction"`   // "inbound" or "outbound"
	SenderType     string    `db:"sender_type"` // "contact", "agent", "user", "system"
	Body           string    `db:"body"`
	ExternalID     *string   `db:"external_id"`
	Metadata       []byte    `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
}

// Repository provides database operations for conversations and messages
type Repository struct {
	pool *pgxpool.Pool
}

const conversationNotFoundMsg = "conversation not found"

// New creates a new conversations repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const conversationColumns = `id, tenant_id, lead_id, channel, contact_name, contact_phone,
	status, automation_enabled, assigned_user_id, queue_id, metadata, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.LeadID, &conv.Channel, &conv.ContactName,
		&conv.ContactPhone, &conv.Status, &conv.AutomationEnabled, &conv.AssignedUserID,
		&conv.QueueID, &conv.Metadata, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(conversationNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &conv, nil
}

// GetByID retrieves a conversation by its ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(r.pool.QueryRow(ctx, query, id))
}

// FindByContact retrieves the open conversation for a contact phone on a channel, if any
func (r *Repository) FindByContact(ctx context.Context, tenantID uuid.UUID, channel, contactPhone string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE tenant_id = $1 AND channel = $2 AND contact_phone = $3 AND status != 'closed'
		ORDER BY created_at DESC LIMIT 1`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, tenantID, channel, contactPhone))
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// Create inserts a new conversation
func (r *Repository) Create(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (
			id, tenant_id, lead_id, channel, contact_name, contact_phone,
			status, automation_enabled, assigned_user_id, queue_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		conv.ID, conv.TenantID, conv.LeadID, conv.Channel, conv.ContactName,
		conv.ContactPhone, conv.Status, conv.AutomationEnabled, conv.AssignedUserID,
		conv.QueueID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// InsertMessage appends a message to a conversation
func (r *Repository) InsertMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO conversation_messages (
			id, conversation_id, direction, sender_type, body, external_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`

	err := r.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.Direction, msg.SenderType, msg.Body,
		msg.ExternalID, msg.Metadata, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// PendingInbound returns the inbound contact messages that arrived after the
// last automated outbound reply, oldest first. Messages with equal timestamps
// are ordered by their insert sequence.
func (r *Repository) PendingInbound(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	query := `
		SELECT id, conversation_id, seq, direction, sender_type, body, external_id, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		  AND direction = 'inbound'
		  AND sender_type = 'contact'
		  AND seq > COALESCE((
			SELECT MAX(seq) FROM conversation_messages
			WHERE conversation_id = $1 AND direction = 'outbound' AND sender_type = 'agent'
		  ), 0)
		ORDER BY created_at ASC, seq ASC`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentHistory returns the last limit messages of a conversation in
// chronological order.
func (r *Repository) RecentHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, seq, direction, sender_type, body, external_id, metadata, created_at
		FROM (
			SELECT id, conversation_id, seq, direction, sender_type, body, external_id, metadata, created_at
			FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC`

	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query message history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Seq, &msg.Direction, &msg.SenderType,
			&msg.Body, &msg.ExternalID, &msg.Metadata, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// TransferToHuman disables automation and parks the conversation in a queue.
// A nil queueID leaves the conversation unqueued for manual triage; a
// non-empty reason is kept in the conversation metadata for the human agent.
func (r *Repository) TransferToHuman(ctx context.Context, conversationID uuid.UUID, queueID *uuid.UUID, reason string) error {
	query := `
		UPDATE conversations
		SET automation_enabled = FALSE, status = 'pending', queue_id = $2,
			metadata = CASE WHEN $3 = ''
				THEN metadata
				ELSE COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('transfer_reason', $3::text)
			END,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, conversationID, queueID, reason)
	if err != nil {
		return fmt.Errorf("failed to transfer conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(conversationNotFoundMsg)
	}
	return nil
}

// SetStatus updates the conversation status
func (r *Repository) SetStatus(ctx context.Context, conversationID uuid.UUID, status string) error {
	query := `UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, conversationID, status)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(conversationNotFoundMsg)
	}
	return nil
}

// LinkLead attaches a lead to a conversation if none is linked yet
func (r *Repository) LinkLead(ctx context.Context, conversationID, leadID uuid.UUID) error {
	query := `UPDATE conversations SET lead_id = $2, updated_at = NOW() WHERE id = $1 AND lead_id IS NULL`

	if _, err := r.pool.Exec(ctx, query, conversationID, leadID); err != nil {
		return fmt.Errorf("failed to link lead: %w", err)
	}
	return nil
}
