// Package service implements lead lifecycle operations used by the
// conversation automation: qualification, stage transitions, and assignment.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/internal/leads/repository"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

// stageForOutcome maps a finalization outcome to the pipeline stage the lead
// should land in. Stage names are resolved fuzzily per pipeline.
var stageForOutcome = map[string]string{
	"scheduled":      "Presentation",
	"qualified":      "Qualification",
	"need_nurturing": "Qualification",
	"not_interested": "New Lead",
}

const defaultFinalStage = "Qualified"

// Repo is the persistence surface the service needs.
type Repo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.Lead, error)
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*repository.Lead, error)
	Create(ctx context.Context, lead *repository.Lead) error
	DefaultStage(ctx context.Context, tenantID uuid.UUID) (*repository.Stage, error)
	MergeCustomFields(ctx context.Context, leadID uuid.UUID, fields map[string]any) error
	GetStageByID(ctx context.Context, id uuid.UUID) (*repository.Stage, error)
	FindStageFuzzy(ctx context.Context, pipelineID uuid.UUID, name string) (*repository.Stage, error)
	SetStage(ctx context.Context, leadID, stageID uuid.UUID) error
	AssignOwner(ctx context.Context, leadID, ownerID uuid.UUID) error
	NextRoundRobinOwner(ctx context.Context, tenantID uuid.UUID) (*repository.Owner, error)
	AppendActivity(ctx context.Context, leadID uuid.UUID, activityType, description string, metadata map[string]any) error
}

// Service handles lead updates driven by conversation automation
type Service struct {
	repo Repo
	bus  events.Bus
	log  *logger.Logger
}

// New creates a new leads service
func New(repo Repo, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

// Get retrieves a lead by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.Lead, error) {
	return s.repo.GetByID(ctx, id)
}

// ResolveOrCreate returns the tenant's lead for the given phone number,
// creating one in the default pipeline's first stage when none exists yet.
func (s *Service) ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, name, phone string) (uuid.UUID, error) {
	existing, err := s.repo.FindByPhone(ctx, tenantID, phone)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	stage, err := s.repo.DefaultStage(ctx, tenantID)
	if err != nil {
		return uuid.Nil, err
	}
	if name == "" {
		name = phone
	}

	now := time.Now().UTC()
	lead := &repository.Lead{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       name,
		Phone:      phone,
		PipelineID: stage.PipelineID,
		StageID:    stage.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, lead); err != nil {
		return uuid.Nil, err
	}

	if err := s.repo.AppendActivity(ctx, lead.ID, "created", "lead created from inbound message", nil); err != nil {
		s.log.Warn("failed to record lead creation activity", "lead_id", lead.ID, "error", err)
	}
	s.bus.Publish(ctx, events.LeadUpdated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  tenantID,
		Source:    "inbound_message",
	})
	return lead.ID, nil
}

// Qualify merges qualification answers into the lead's custom fields and
// records the update as an activity.
func (s *Service) Qualify(ctx context.Context, leadID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return err
	}
	if err := s.repo.MergeCustomFields(ctx, leadID, fields); err != nil {
		return err
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	if err := s.repo.AppendActivity(ctx, leadID, "qualification", "qualification data updated", map[string]any{"fields": keys}); err != nil {
		s.log.Warn("failed to record qualification activity", "lead_id", leadID, "error", err)
	}

	s.bus.Publish(ctx, events.LeadUpdated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  lead.TenantID,
		Source:    "qualify_lead",
	})
	return nil
}

// MoveStageFuzzy transitions a lead to the stage whose name best matches the
// given value within the lead's pipeline. An unknown stage name or a move to
// the current stage is a no-op.
func (s *Service) MoveStageFuzzy(ctx context.Context, leadID uuid.UUID, stageName string) error {
	stageName = strings.TrimSpace(stageName)
	if stageName == "" {
		return nil
	}

	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return err
	}

	target, err := s.repo.FindStageFuzzy(ctx, lead.PipelineID, stageName)
	if err != nil {
		return err
	}
	if target == nil {
		s.log.Warn("no pipeline stage matches requested name", "lead_id", leadID, "stage", stageName)
		return nil
	}
	if target.ID == lead.StageID {
		return nil
	}

	current, err := s.repo.GetStageByID(ctx, lead.StageID)
	if err != nil {
		return err
	}
	if err := s.repo.SetStage(ctx, leadID, target.ID); err != nil {
		return err
	}

	if err := s.repo.AppendActivity(ctx, leadID, "stage_change",
		fmt.Sprintf("moved from %s to %s", current.Name, target.Name), nil); err != nil {
		s.log.Warn("failed to record stage change activity", "lead_id", leadID, "error", err)
	}

	s.bus.Publish(ctx, events.StageChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  lead.TenantID,
		OldStage:  current.Name,
		NewStage:  target.Name,
	})
	return nil
}

// FinalizeAndAssign closes the automated phase of a conversation: the lead
// moves to the stage implied by the outcome and, when it has no owner yet, is
// assigned to the next user in the round-robin rotation. Leads finalized as
// not_interested stay unassigned.
func (s *Service) FinalizeAndAssign(ctx context.Context, leadID uuid.UUID, outcome, summary string) error {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return err
	}

	stageName, ok := stageForOutcome[outcome]
	if !ok {
		stageName = defaultFinalStage
	}
	if err := s.MoveStageFuzzy(ctx, leadID, stageName); err != nil {
		return err
	}

	var owner *repository.Owner
	if lead.OwnerID == nil && outcome != "not_interested" {
		owner, err = s.repo.NextRoundRobinOwner(ctx, lead.TenantID)
		if err != nil {
			return err
		}
		if err := s.repo.AssignOwner(ctx, leadID, owner.ID); err != nil {
			return err
		}
	}

	description := fmt.Sprintf("conversation finalized with outcome %s", outcome)
	if owner != nil {
		description += ", assigned to " + owner.Name
	}
	if err := s.repo.AppendActivity(ctx, leadID, "assignment", description, map[string]any{
		"outcome": outcome,
		"summary": summary,
	}); err != nil {
		s.log.Warn("failed to record assignment activity", "lead_id", leadID, "error", err)
	}

	if owner != nil {
		s.bus.Publish(ctx, events.OwnerAssigned{
			BaseEvent:     events.NewBaseEvent(),
			LeadID:        leadID,
			TenantID:      lead.TenantID,
			PreviousOwner: lead.OwnerID,
			NewOwner:      owner.ID,
			OwnerEmail:    owner.Email,
			OwnerName:     owner.Name,
			Outcome:       outcome,
		})
	}
	s.bus.Publish(ctx, events.LeadUpdated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  lead.TenantID,
		Source:    "finalize_and_assign",
	})
	return nil
}

// AssignRoundRobin assigns the next user in the round-robin rotation as the
// lead's owner and returns the owner's id.
func (s *Service) AssignRoundRobin(ctx context.Context, leadID uuid.UUID) (uuid.UUID, error) {
	lead, err := s.repo.GetByID(ctx, leadID)
	if err != nil {
		return uuid.Nil, err
	}

	owner, err := s.repo.NextRoundRobinOwner(ctx, lead.TenantID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.AssignOwner(ctx, leadID, owner.ID); err != nil {
		return uuid.Nil, err
	}

	s.bus.Publish(ctx, events.OwnerAssigned{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        leadID,
		TenantID:      lead.TenantID,
		PreviousOwner: lead.OwnerID,
		NewOwner:      owner.ID,
		OwnerEmail:    owner.Email,
		OwnerName:     owner.Name,
	})
	return owner.ID, nil
}

// RecordActivity appends a free-form activity entry to the lead timeline.
func (s *Service) RecordActivity(ctx context.Context, leadID uuid.UUID, activityType, description string) error {
	return s.repo.AppendActivity(ctx, leadID, activityType, description, nil)
}
