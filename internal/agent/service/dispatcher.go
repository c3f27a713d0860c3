package service

import (
	"context"
	"fmt"
	"time"

	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/internal/agent/ports"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

const availabilityOptions = 5

// ActionRecorder appends audit rows for dispatches and decision calls.
type ActionRecorder interface {
	InsertAction(ctx context.Context, entry *actionlog.ActionEntry) error
	InsertInteraction(ctx context.Context, entry *actionlog.InteractionEntry) error
}

// Dispatcher maps a decision's action kind to its handler and executes the
// side effects. Exactly one action kind executes per cycle.
type Dispatcher struct {
	conversations ports.ConversationStore
	sender        ports.MessageSender
	leads         ports.LeadStore
	scheduler     ports.AppointmentScheduler
	followUps     ports.FollowUpStore
	tasks         ports.TaskScheduler
	recorder      ActionRecorder
	bus           events.Bus
	log           *logger.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(
	conversations ports.ConversationStore,
	sender ports.MessageSender,
	leads ports.LeadStore,
	scheduler ports.AppointmentScheduler,
	followUps ports.FollowUpStore,
	tasks ports.TaskScheduler,
	recorder ActionRecorder,
	bus events.Bus,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		conversations: conversations,
		sender:        sender,
		leads:         leads,
		scheduler:     scheduler,
		followUps:     followUps,
		tasks:         tasks,
		recorder:      recorder,
		bus:           bus,
		log:           log,
	}
}

// Dispatch executes the decision's action. The action log entry is written
// unconditionally; a handler error is recorded with success=false and then
// returned to the caller so the cycle-level retry machinery still triggers.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *ports.Conversation, lead *ports.LeadSnapshot, dec *domain.Decision) (err error) {
	start := time.Now()
	defer func() {
		entry := &actionlog.ActionEntry{
			ConversationID: conv.ID,
			LeadID:         conv.LeadID,
			Action:         string(dec.Action),
			Payload:        dec,
			LatencyMs:      time.Since(start).Milliseconds(),
			Success:        err == nil,
		}
		if err != nil {
			entry.ErrorText = err.Error()
		}
		if logErr := d.recorder.InsertAction(ctx, entry); logErr != nil {
			d.log.Warn("failed to write action log", "conversation_id", conv.ID, "error", logErr)
		}
		d.log.AgentAction(string(dec.Action), conv.ID.String(), err == nil, entry.LatencyMs)
	}()

	switch dec.Action {
	case domain.ActionSendMessage, domain.ActionRequestInfo:
		return d.sendReply(ctx, conv, dec.Message, dec.Origin)
	case domain.ActionMoveStage:
		return d.moveStage(ctx, conv, dec)
	case domain.ActionQualifyLead:
		return d.qualifyLead(ctx, conv, dec)
	case domain.ActionCheckAvailability:
		return d.checkAvailability(ctx, conv, lead, dec)
	case domain.ActionScheduleMeeting:
		return d.scheduleMeeting(ctx, conv, lead, dec)
	case domain.ActionFinalizeAndAssign:
		return d.finalizeAndAssign(ctx, conv, dec)
	case domain.ActionTransferToHuman:
		return d.transferToHuman(ctx, conv, dec)
	case domain.ActionFollowUp:
		return d.followUp(ctx, conv, dec)
	default:
		d.log.Warn("unrecognized action kind, skipping", "conversation_id", conv.ID, "action", dec.Action)
		return nil
	}
}

// sendReply delivers reply text and persists it as an outbound message.
// Empty text is a no-op.
func (d *Dispatcher) sendReply(ctx context.Context, conv *ports.Conversation, text, origin string) error {
	if text == "" {
		return nil
	}
	if err := d.sender.SendText(ctx, conv.ContactPhone, text); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	if err := d.conversations.RecordOutbound(ctx, conv.ID, text); err != nil {
		// The message left the channel; losing the persisted copy must not
		// trigger a retry that would send it twice.
		d.log.Warn("failed to persist outbound message", "conversation_id", conv.ID, "error", err)
	}
	d.bus.Publish(ctx, events.MessageSent{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Origin:         origin,
		Body:           text,
	})
	return nil
}

func (d *Dispatcher) moveStage(ctx context.Context, conv *ports.Conversation, dec *domain.Decision) error {
	if dec.StageChange == nil || dec.StageChange.ToStage == "" {
		return nil
	}
	if conv.LeadID == nil {
		d.log.Warn("move_stage requested for conversation without lead", "conversation_id", conv.ID)
		return nil
	}
	if err := d.leads.MoveStageFuzzy(ctx, *conv.LeadID, dec.StageChange.ToStage); err != nil {
		return err
	}
	return d.sendReply(ctx, conv, dec.Message, dec.Origin)
}

func (d *Dispatcher) qualifyLead(ctx context.Context, conv *ports.Conversation, dec *domain.Decision) error {
	if len(dec.Qualification) == 0 {
		return nil
	}
	if conv.LeadID == nil {
		d.log.Warn("qualify_lead requested for conversation without lead", "conversation_id", conv.ID)
		return nil
	}
	if err := d.leads.Qualify(ctx, *conv.LeadID, dec.Qualification); err != nil {
		return err
	}
	return d.sendReply(ctx, conv, dec.Message, dec.Origin)
}

func (d *Dispatcher) checkAvailability(ctx context.Context, conv *ports.Conversation, lead *ports.LeadSnapshot, dec *domain.Decision) error {
	slots, err := d.scheduler.AvailableSlots(ctx, conv.TenantID)
	if err != nil {
		return err
	}
	if lead != nil && lead.OwnerID != nil {
		owned := slots[:0]
		for _, slot := range slots {
			if slot.UserID == *lead.OwnerID {
				owned = append(owned, slot)
			}
		}
		if len(owned) > 0 {
			slots = owned
		}
	}

	text := dec.Message
	if len(slots) == 0 {
		if text == "" {
			text = "We don't have open slots right now. What times usually work for you? I'll check with the team."
		}
		return d.sendReply(ctx, conv, text, dec.Origin)
	}

	if text == "" {
		text = "Here are some times that work:"
	}
	if len(slots) > availabilityOptions {
		slots = slots[:availabilityOptions]
	}
	for i, slot := range slots {
		text += fmt.Sprintf("\n%d. %s", i+1, slot.Start.Format("Monday, Jan 2 at 15:04"))
	}
	return d.sendReply(ctx, conv, text, dec.Origin)
}

// scheduleMeeting books the appointment best-effort: a scheduling failure is
// logged and swallowed so the reply still goes out.
func (d *Dispatcher) scheduleMeeting(ctx context.Context, conv *ports.Conversation, lead *ports.LeadSnapshot, dec *domain.Decision) error {
	if dec.Appointment == nil {
		d.log.Warn("schedule_meeting without appointment payload", "conversation_id", conv.ID)
		return d.sendReply(ctx, conv, dec.Message, dec.Origin)
	}
	if conv.LeadID == nil {
		d.log.Warn("schedule_meeting requested for conversation without lead", "conversation_id", conv.ID)
		return d.sendReply(ctx, conv, dec.Message, dec.Origin)
	}

	title := dec.Appointment.Title
	if title == "" {
		title = "Meeting with " + conv.ContactName
	}

	// The meeting belongs to the lead's owner; an ownerless lead gets one
	// assigned via round-robin before booking.
	owner := leadOwner(lead)
	if owner == nil {
		ownerID, assignErr := d.leads.AssignRoundRobin(ctx, *conv.LeadID)
		if assignErr != nil {
			d.log.Warn("round-robin assignment failed before scheduling", "conversation_id", conv.ID, "error", assignErr)
		} else {
			owner = &ownerID
		}
	}

	schedErr := d.scheduler.Schedule(ctx, conv.TenantID, *conv.LeadID, owner, dec.Appointment.ScheduledAt, title, dec.SDRNotes)
	if schedErr != nil {
		d.log.Error("failed to schedule meeting", "conversation_id", conv.ID, "error", schedErr)
	} else if mvErr := d.leads.MoveStageFuzzy(ctx, *conv.LeadID, "Presentation"); mvErr != nil {
		d.log.Warn("post-scheduling stage move failed", "conversation_id", conv.ID, "error", mvErr)
	}

	return d.sendReply(ctx, conv, dec.Message, dec.Origin)
}

func (d *Dispatcher) finalizeAndAssign(ctx context.Context, conv *ports.Conversation, dec *domain.Decision) error {
	if conv.LeadID == nil {
		d.log.Warn("finalize_and_assign requested for conversation without lead", "conversation_id", conv.ID)
		return d.sendReply(ctx, conv, dec.Message, dec.Origin)
	}
	if err := d.leads.FinalizeAndAssign(ctx, *conv.LeadID, dec.SDROutcome, dec.SDRNotes); err != nil {
		return err
	}
	return d.sendReply(ctx, conv, dec.Message, dec.Origin)
}

func (d *Dispatcher) transferToHuman(ctx context.Context, conv *ports.Conversation, dec *domain.Decision) error {
	if err := d.conversations.TransferToHuman(ctx, conv.ID, dec.Reason); err != nil {
		return err
	}
	d.bus.Publish(ctx, events.ConversationTransferred{
		BaseEvent:      events.NewBaseEvent(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Reason:         dec.Reason,
	})
	return d.sendReply(ctx, conv, dec.Message, dec.Origin)
}

// followUp records a future check-in best-effort: losing a follow-up must not
// fail the cycle that produced it.
func (d *Dispatcher) followUp(ctx context.Context, conv *ports.Conversation, dec *domain.Decision) error {
	if dec.FollowUpTime == nil {
		return nil
	}
	message := dec.Message
	if message == "" {
		message = "Just checking in! Is there anything else I can help you with?"
	}

	followUpID, err := d.followUps.Insert(ctx, conv.ID, conv.LeadID, message, *dec.FollowUpTime)
	if err != nil {
		d.log.Warn("failed to record follow-up", "conversation_id", conv.ID, "error", err)
		return nil
	}
	if err := d.tasks.EnqueueFollowUp(ctx, followUpID, *dec.FollowUpTime); err != nil {
		d.log.Warn("failed to enqueue follow-up delivery", "conversation_id", conv.ID, "follow_up_id", followUpID, "error", err)
	}
	return nil
}

func leadOwner(lead *ports.LeadSnapshot) *uuid.UUID {
	if lead == nil {
		return nil
	}
	return lead.OwnerID
}
