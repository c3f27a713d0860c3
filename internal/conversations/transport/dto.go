// Package transport defines request/response DTOs for the conversations HTTP surface.
package transport

import (
	"encoding/json"
	"time"

	"sdrdesk_backend/internal/conversations/repository"

	"github.com/google/uuid"
)

// IngestMessageRequest is the payload delivered by a channel webhook for a
// single inbound contact message. Metadata carries channel extras such as
// media markers, e.g. {"type": "audio", "url": "..."}.
type IngestMessageRequest struct {
	TenantID    uuid.UUID      `json:"tenantId" validate:"required"`
	ContactName string         `json:"contactName" validate:"omitempty,max=200"`
	Phone       string         `json:"phone" validate:"required,max=32"`
	Body        string         `json:"body" validate:"required,max=8000"`
	ExternalID  string         `json:"externalId" validate:"omitempty,max=128"`
	Metadata    map[string]any `json:"metadata" validate:"omitempty"`
}

// IngestMessageResponse acknowledges a persisted inbound message.
type IngestMessageResponse struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	ScheduledFor   time.Time `json:"scheduledFor"`
}

// MessageView is the read-API projection of a conversation message.
type MessageView struct {
	ID         uuid.UUID       `json:"id"`
	Direction  string          `json:"direction"`
	SenderType string          `json:"senderType"`
	Body       string          `json:"body"`
	ExternalID *string         `json:"externalId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ToMessageViews maps repository messages to their API projection.
func ToMessageViews(messages []repository.Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, MessageView{
			ID:         msg.ID,
			Direction:  msg.Direction,
			SenderType: msg.SenderType,
			Body:       msg.Body,
			ExternalID: msg.ExternalID,
			Metadata:   msg.Metadata,
			CreatedAt:  msg.CreatedAt,
		})
	}
	return views
}
