// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"sdrdesk_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Conversations Domain Events
// =============================================================================

// MessageReceived is published when an inbound contact message is persisted.
type MessageReceived struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Channel        string    `json:"channel"`
	Body           string    `json:"body"`
}

func (e MessageReceived) EventName() string { return "conversations.message.received" }

// MessageSent is published when an automated outbound reply is dispatched.
type MessageSent struct {
	BaseEvent
	ConversationID uuid.UUID `json:"conversationId"`
	TenantID       uuid.UUID `json:"tenantId"`
	Origin         string    `json:"origin"` // "agent" or "fallback"
	Body           string    `json:"body"`
}

func (e MessageSent) EventName() string { return "conversations.message.sent" }

// ConversationTransferred is published when automation hands a conversation
// over to a human queue.
type ConversationTransferred struct {
	BaseEvent
	ConversationID uuid.UUID  `json:"conversationId"`
	TenantID       uuid.UUID  `json:"tenantId"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func (e ConversationTransferred) EventName() string { return "conversations.transferred_to_human" }

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadUpdated is published when qualification data is merged into a lead.
type LeadUpdated struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Source   string    `json:"source"` // "qualify_lead", "request_info"
}

func (e LeadUpdated) EventName() string { return "leads.lead.updated" }

// StageChanged is published when a lead moves to a different pipeline stage.
type StageChanged struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	OldStage string    `json:"oldStage"`
	NewStage string    `json:"newStage"`
}

func (e StageChanged) EventName() string { return "leads.stage.changed" }

// OwnerAssigned is published when a lead is assigned to a user.
type OwnerAssigned struct {
	BaseEvent
	LeadID        uuid.UUID  `json:"leadId"`
	TenantID      uuid.UUID  `json:"tenantId"`
	PreviousOwner *uuid.UUID `json:"previousOwner,omitempty"`
	NewOwner      uuid.UUID  `json:"newOwner"`
	OwnerEmail    string     `json:"ownerEmail,omitempty"`
	OwnerName     string     `json:"ownerName,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
}

func (e OwnerAssigned) EventName() string { return "leads.owner.assigned" }

// =============================================================================
// Appointments Domain Events
// =============================================================================

// MeetingScheduled is published when the automation books an appointment.
type MeetingScheduled struct {
	BaseEvent
	AppointmentID uuid.UUID `json:"appointmentId"`
	TenantID      uuid.UUID `json:"tenantId"`
	LeadID        uuid.UUID `json:"leadId"`
	UserID        uuid.UUID `json:"userId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
}

func (e MeetingScheduled) EventName() string { return "appointments.meeting.scheduled" }
