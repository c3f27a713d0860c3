// Package ports defines the interfaces the agent cycle depends on. Concrete
// implementations live in the other domain modules and are wired in by the
// agent module; tests substitute fakes.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conversation is the agent's view of a conversation.
type Conversation struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	LeadID            *uuid.UUID
	Channel           string
	ContactName       string
	ContactPhone      string
	Status            string
	AutomationEnabled bool
}

// Message is the agent's view of a conversation message. Metadata carries
// channel extras such as media markers.
type Message struct {
	ID         uuid.UUID
	Direction  string
	SenderType string
	Body       string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ConversationStore reads and mutates conversation state.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// PendingInbound returns the inbound contact messages after the last
	// automated outbound reply, oldest first.
	PendingInbound(ctx context.Context, id uuid.UUID) ([]Message, error)
	RecentHistory(ctx context.Context, id uuid.UUID, limit int) ([]Message, error)
	RecordOutbound(ctx context.Context, id uuid.UUID, body string) error
	TransferToHuman(ctx context.Context, id uuid.UUID, reason string) error
}

// MessageSender delivers reply text over the conversation's channel.
type MessageSender interface {
	SendText(ctx context.Context, phone, text string) error
}

// LeadSnapshot is the lead state the agent works with.
type LeadSnapshot struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Phone        string
	StageID      uuid.UUID
	StageName    string
	OwnerID      *uuid.UUID
	Value        float64
	CustomFields map[string]any
}

// LeadStore mutates lead state on behalf of dispatched actions.
type LeadStore interface {
	Snapshot(ctx context.Context, leadID uuid.UUID) (*LeadSnapshot, error)
	MoveStageFuzzy(ctx context.Context, leadID uuid.UUID, stageName string) error
	Qualify(ctx context.Context, leadID uuid.UUID, fields map[string]any) error
	FinalizeAndAssign(ctx context.Context, leadID uuid.UUID, outcome, summary string) error
	// AssignRoundRobin gives an ownerless lead the next user in the
	// round-robin rotation and returns the owner's id.
	AssignRoundRobin(ctx context.Context, leadID uuid.UUID) (uuid.UUID, error)
}

// Slot is a bookable calendar window.
type Slot struct {
	UserID uuid.UUID
	Start  time.Time
	End    time.Time
}

// AppointmentScheduler is the external scheduling collaborator.
type AppointmentScheduler interface {
	AvailableSlots(ctx context.Context, tenantID uuid.UUID) ([]Slot, error)
	Schedule(ctx context.Context, tenantID, leadID uuid.UUID, userID *uuid.UUID, start time.Time, title, notes string) error
}

// FollowUpStore persists pending follow-up records.
type FollowUpStore interface {
	Insert(ctx context.Context, conversationID uuid.UUID, leadID *uuid.UUID, message string, dueAt time.Time) (uuid.UUID, error)
}

// TaskScheduler enqueues delayed delivery jobs.
type TaskScheduler interface {
	EnqueueFollowUp(ctx context.Context, followUpID uuid.UUID, at time.Time) error
}

// Unlocker releases a held conversation lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker provides per-conversation mutual exclusion.
type Locker interface {
	TryAcquire(ctx context.Context, conversationID uuid.UUID) (Unlocker, bool, error)
}

// DebounceConsumer clears the debounce lease once a cycle has run.
type DebounceConsumer interface {
	Consume(ctx context.Context, conversationID uuid.UUID) error
}

// AgentConfig is the per-tenant automation configuration.
type AgentConfig struct {
	ID                uuid.UUID
	Name              string
	Prompt            string
	Temperature       float64
	Model             string
	AutoQualify       bool
	AutoMoveStage     bool
	TransferOnComplex bool
	ForbiddenTopics   []string
	Tone              string
	Language          string
}

// TenantSnapshot is the tenant metadata sent with each decision call.
type TenantSnapshot struct {
	ID            uuid.UUID
	Name          string
	Timezone      string
	BusinessHours string
	Products      []string
	Stages        []string
}

// ConfigStore reads agent and tenant configuration.
type ConfigStore interface {
	AgentConfig(ctx context.Context, tenantID uuid.UUID) (*AgentConfig, error)
	TenantSnapshot(ctx context.Context, tenantID uuid.UUID) (*TenantSnapshot, error)
}
