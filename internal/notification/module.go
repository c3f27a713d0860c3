// Package notification turns domain events into operator-facing emails.
package notification

import (
	"context"
	"fmt"

	"sdrdesk_backend/internal/email"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/internal/leads/repository"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadReader is the minimal lead lookup the notifier needs.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
}

// Module subscribes to domain events and sends notification emails.
// Delivery is best-effort: a failed email is logged, never retried.
type Module struct {
	sender     email.Sender
	leads      LeadReader
	opsAddress string
	log        *logger.Logger
}

// NewModule wires the notifier onto the event bus.
func NewModule(bus events.Bus, sender email.Sender, leads LeadReader, opsAddress string, log *logger.Logger) *Module {
	m := &Module{sender: sender, leads: leads, opsAddress: opsAddress, log: log}

	bus.Subscribe(events.ConversationTransferred{}.EventName(), events.HandlerFunc(m.onTransferred))
	bus.Subscribe(events.OwnerAssigned{}.EventName(), events.HandlerFunc(m.onOwnerAssigned))

	return m
}

func (m *Module) onTransferred(ctx context.Context, event events.Event) error {
	transferred, ok := event.(events.ConversationTransferred)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if m.sender == nil || m.opsAddress == "" {
		return nil
	}

	contactName := "a contact"
	if err := m.sender.SendTransferNotification(ctx, m.opsAddress, contactName, transferred.Reason); err != nil {
		m.log.Warn("failed to send transfer notification", "conversation_id", transferred.ConversationID, "error", err)
	}
	return nil
}

func (m *Module) onOwnerAssigned(ctx context.Context, event events.Event) error {
	assigned, ok := event.(events.OwnerAssigned)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	if m.sender == nil || assigned.OwnerEmail == "" {
		return nil
	}

	leadName := "a new lead"
	if lead, err := m.leads.GetByID(ctx, assigned.LeadID); err == nil && lead.Name != "" {
		leadName = lead.Name
	}

	if err := m.sender.SendAssignmentNotification(ctx, assigned.OwnerEmail, assigned.OwnerName, leadName, assigned.Outcome); err != nil {
		m.log.Warn("failed to send assignment notification", "lead_id", assigned.LeadID, "error", err)
	}
	return nil
}
