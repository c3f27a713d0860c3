// Package service implements conversation ingestion business logic.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sdrdesk_backend/internal/conversations/repository"
	"sdrdesk_backend/internal/conversations/transport"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/logger"
	"sdrdesk_backend/platform/phone"

	"github.com/google/uuid"
)

// Store is the persistence surface the service needs.
type Store interface {
	FindByContact(ctx context.Context, tenantID uuid.UUID, channel, contactPhone string) (*repository.Conversation, error)
	Create(ctx context.Context, conv *repository.Conversation) error
	InsertMessage(ctx context.Context, msg *repository.Message) error
	LinkLead(ctx context.Context, conversationID, leadID uuid.UUID) error
	RecentHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]repository.Message, error)
}

// LeadResolver resolves or creates the lead backing a conversation's contact.
// Implemented by the leads service.
type LeadResolver interface {
	ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, name, phone string) (uuid.UUID, error)
}

// CycleScheduler coalesces inbound bursts into a single delayed agent cycle.
// Implemented by the agent debouncer.
type CycleScheduler interface {
	Schedule(ctx context.Context, conversationID, messageID uuid.UUID) (time.Time, error)
}

// Service handles inbound message ingestion for a channel
type Service struct {
	repo      Store
	leads     LeadResolver
	scheduler CycleScheduler
	bus       events.Bus
	log       *logger.Logger
}

// New creates a new conversations service
func New(repo Store, leads LeadResolver, scheduler CycleScheduler, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, leads: leads, scheduler: scheduler, bus: bus, log: log}
}

// Ingest persists an inbound contact message, creating the conversation and
// its backing lead when the contact has no open one, and schedules a
// debounced agent cycle.
func (s *Service) Ingest(ctx context.Context, channel string, req *transport.IngestMessageRequest) (*transport.IngestMessageResponse, error) {
	// NormalizeE164 keeps the raw (trimmed) number rather than rejecting the
	// webhook; channels occasionally deliver numbers the normalizer cannot parse.
	normalized := phone.NormalizeE164(req.Phone)

	conv, err := s.repo.FindByContact(ctx, req.TenantID, channel, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if conv == nil {
		now := time.Now().UTC()
		conv = &repository.Conversation{
			ID:                uuid.New(),
			TenantID:          req.TenantID,
			LeadID:            s.resolveLead(ctx, req.TenantID, req.ContactName, normalized),
			Channel:           channel,
			ContactName:       req.ContactName,
			ContactPhone:      normalized,
			Status:            "open",
			AutomationEnabled: true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Create(ctx, conv); err != nil {
			return nil, err
		}
	} else if conv.LeadID == nil {
		// Conversation predates lead tracking; attach one now so stage moves
		// and assignment have something to act on.
		if leadID := s.resolveLead(ctx, conv.TenantID, req.ContactName, normalized); leadID != nil {
			if err := s.repo.LinkLead(ctx, conv.ID, *leadID); err != nil {
				s.log.Warn("failed to link lead to conversation", "conversation_id", conv.ID, "error", err)
			} else {
				conv.LeadID = leadID
			}
		}
	}

	msg := &repository.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Direction:      "inbound",
		SenderType:     "contact",
		Body:           req.Body,
		CreatedAt:      time.Now().UTC(),
	}
	if req.ExternalID != "" {
		msg.ExternalID = &req.ExternalID
	}
	if len(req.Metadata) > 0 {
		encoded, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message metadata: %w", err)
		}
		msg.Metadata = encoded
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.MessageReceived{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		TenantID:       conv.TenantID,
		Channel:        conv.Channel,
		Body:           msg.Body,
	})

	runAt, err := s.scheduler.Schedule(ctx, conv.ID, msg.ID)
	if err != nil {
		// The message is persisted; a later inbound message will reschedule.
		s.log.Error("failed to schedule agent cycle", "conversation_id", conv.ID, "error", err)
		return nil, fmt.Errorf("failed to schedule agent cycle: %w", err)
	}

	return &transport.IngestMessageResponse{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ScheduledFor:   runAt,
	}, nil
}

// resolveLead finds or creates the contact's lead. Failure is logged, not
// fatal: an inbound message must never be dropped over CRM state.
func (s *Service) resolveLead(ctx context.Context, tenantID uuid.UUID, name, contactPhone string) *uuid.UUID {
	leadID, err := s.leads.ResolveOrCreate(ctx, tenantID, name, contactPhone)
	if err != nil {
		s.log.Warn("failed to resolve lead for contact", "phone", contactPhone, "error", err)
		return nil
	}
	return &leadID
}

// History returns the last limit messages of a conversation in chronological
// order, for the read API.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]repository.Message, error) {
	return s.repo.RecentHistory(ctx, conversationID, limit)
}
