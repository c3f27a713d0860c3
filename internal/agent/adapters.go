package agent

import (
	"context"
	"encoding/json"
	"time"

	"sdrdesk_backend/internal/agent/locker"
	"sdrdesk_backend/internal/agent/ports"
	apptservice "sdrdesk_backend/internal/appointments/service"
	convrepository "sdrdesk_backend/internal/conversations/repository"
	leadsrepository "sdrdesk_backend/internal/leads/repository"
	leadsservice "sdrdesk_backend/internal/leads/service"

	"github.com/google/uuid"
)

// conversationStore adapts the conversations repository to the agent's port.
type conversationStore struct {
	repo *convrepository.Repository
}

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*ports.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ports.Conversation{
		ID:                conv.ID,
		TenantID:          conv.TenantID,
		LeadID:            conv.LeadID,
		Channel:           conv.Channel,
		ContactName:       conv.ContactName,
		ContactPhone:      conv.ContactPhone,
		Status:            conv.Status,
		AutomationEnabled: conv.AutomationEnabled,
	}, nil
}

func (s *conversationStore) PendingInbound(ctx context.Context, id uuid.UUID) ([]ports.Message, error) {
	messages, err := s.repo.PendingInbound(ctx, id)
	if err != nil {
		return nil, err
	}
	return toPortMessages(messages), nil
}

func (s *conversationStore) RecentHistory(ctx context.Context, id uuid.UUID, limit int) ([]ports.Message, error) {
	messages, err := s.repo.RecentHistory(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return toPortMessages(messages), nil
}

func (s *conversationStore) RecordOutbound(ctx context.Context, id uuid.UUID, body string) error {
	return s.repo.InsertMessage(ctx, &convrepository.Message{
		ID:             uuid.New(),
		ConversationID: id,
		Direction:      "outbound",
		SenderType:     "agent",
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	})
}

func (s *conversationStore) TransferToHuman(ctx context.Context, id uuid.UUID, reason string) error {
	return s.repo.TransferToHuman(ctx, id, nil, reason)
}

func toPortMessages(messages []convrepository.Message) []ports.Message {
	out := make([]ports.Message, 0, len(messages))
	for _, msg := range messages {
		m := ports.Message{
			ID:         msg.ID,
			Direction:  msg.Direction,
			SenderType: msg.SenderType,
			Body:       msg.Body,
			CreatedAt:  msg.CreatedAt,
		}
		if len(msg.Metadata) > 0 {
			if err := json.Unmarshal(msg.Metadata, &m.Metadata); err != nil {
				m.Metadata = nil
			}
		}
		out = append(out, m)
	}
	return out
}

// leadStore adapts the leads service and repository to the agent's port.
type leadStore struct {
	svc  *leadsservice.Service
	repo *leadsrepository.Repository
}

func (s *leadStore) Snapshot(ctx context.Context, leadID uuid.UUID) (*ports.LeadSnapshot, error) {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	stage, err := s.repo.GetStageByID(ctx, lead.StageID)
	if err != nil {
		return nil, err
	}

	snapshot := &ports.LeadSnapshot{
		ID:        lead.ID,
		TenantID:  lead.TenantID,
		Name:      lead.Name,
		Phone:     lead.Phone,
		StageID:   lead.StageID,
		StageName: stage.Name,
		OwnerID:   lead.OwnerID,
		Value:     lead.Value,
	}
	if len(lead.CustomFields) > 0 {
		if err := json.Unmarshal(lead.CustomFields, &snapshot.CustomFields); err != nil {
			snapshot.CustomFields = nil
		}
	}
	return snapshot, nil
}

func (s *leadStore) MoveStageFuzzy(ctx context.Context, leadID uuid.UUID, stageName string) error {
	return s.svc.MoveStageFuzzy(ctx, leadID, stageName)
}

func (s *leadStore) Qualify(ctx context.Context, leadID uuid.UUID, fields map[string]any) error {
	return s.svc.Qualify(ctx, leadID, fields)
}

func (s *leadStore) FinalizeAndAssign(ctx context.Context, leadID uuid.UUID, outcome, summary string) error {
	return s.svc.FinalizeAndAssign(ctx, leadID, outcome, summary)
}

func (s *leadStore) AssignRoundRobin(ctx context.Context, leadID uuid.UUID) (uuid.UUID, error) {
	return s.svc.AssignRoundRobin(ctx, leadID)
}

// appointmentScheduler adapts the appointments service to the agent's port.
type appointmentScheduler struct {
	svc *apptservice.Service
}

func (s *appointmentScheduler) AvailableSlots(ctx context.Context, tenantID uuid.UUID) ([]ports.Slot, error) {
	slots, err := s.svc.AvailableSlots(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]ports.Slot, 0, len(slots))
	for _, slot := range slots {
		out = append(out, ports.Slot{UserID: slot.UserID, Start: slot.Start, End: slot.End})
	}
	return out, nil
}

func (s *appointmentScheduler) Schedule(ctx context.Context, tenantID, leadID uuid.UUID, userID *uuid.UUID, start time.Time, title, notes string) error {
	_, err := s.svc.Schedule(ctx, tenantID, leadID, userID, start, title, notes)
	return err
}

// lockerAdapter narrows the concrete locker to the agent's port.
type lockerAdapter struct {
	inner *locker.Locker
}

func (a lockerAdapter) TryAcquire(ctx context.Context, conversationID uuid.UUID) (ports.Unlocker, bool, error) {
	lock, acquired, err := a.inner.TryAcquire(ctx, conversationID)
	if lock == nil {
		return nil, acquired, err
	}
	return lock, acquired, err
}
