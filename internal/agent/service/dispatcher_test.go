package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/internal/agent/ports"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

type dispatcherFixture struct {
	dispatcher    *Dispatcher
	conversations *fakeConversations
	sender        *fakeSender
	leads         *fakeLeads
	scheduler     *fakeScheduler
	followUps     *fakeFollowUps
	tasks         *fakeTasks
	recorder      *fakeRecorder
	bus           *recordingBus

	conv *ports.Conversation
	lead *ports.LeadSnapshot
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	leadID := uuid.New()
	f := &dispatcherFixture{
		conversations: &fakeConversations{},
		sender:        &fakeSender{},
		leads:         &fakeLeads{},
		scheduler:     &fakeScheduler{},
		followUps:     &fakeFollowUps{},
		tasks:         &fakeTasks{},
		recorder:      &fakeRecorder{},
		bus:           &recordingBus{},
		conv: &ports.Conversation{
			ID:                uuid.New(),
			TenantID:          uuid.New(),
			LeadID:            &leadID,
			Channel:           "whatsapp",
			ContactName:       "Maria Silva",
			ContactPhone:      "+5511999990000",
			Status:            "open",
			AutomationEnabled: true,
		},
		lead: &ports.LeadSnapshot{ID: leadID, Name: "Maria Silva", StageName: "New Lead"},
	}
	f.dispatcher = NewDispatcher(
		f.conversations, f.sender, f.leads, f.scheduler,
		f.followUps, f.tasks, f.recorder, f.bus, logger.New("test"),
	)
	return f
}

func (f *dispatcherFixture) lastAction(t *testing.T) (action string, success bool, errorText string) {
	t.Helper()
	if len(f.recorder.actions) == 0 {
		t.Fatal("expected an action log entry")
	}
	entry := f.recorder.actions[len(f.recorder.actions)-1]
	return entry.Action, entry.Success, entry.ErrorText
}

func TestDispatchSendMessageDeliversAndLogs(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{Action: domain.ActionSendMessage, Message: "Hi, how can I help?", Origin: domain.OriginAgent}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0].text != "Hi, how can I help?" {
		t.Fatalf("unexpected sends: %+v", f.sender.sent)
	}
	if f.sender.sent[0].phone != f.conv.ContactPhone {
		t.Fatalf("sent to %q, want %q", f.sender.sent[0].phone, f.conv.ContactPhone)
	}
	if len(f.conversations.outbound) != 1 {
		t.Fatalf("expected outbound message persisted, got %v", f.conversations.outbound)
	}
	action, success, _ := f.lastAction(t)
	if action != "send_message" || !success {
		t.Fatalf("action log entry: action=%q success=%v", action, success)
	}
	if names := f.bus.names(); len(names) != 1 || names[0] != "conversations.message.sent" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestDispatchMoveStageTransitionsThenReplies(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{
		Action:      domain.ActionMoveStage,
		Message:     "Great, let me get you a demo.",
		StageChange: &domain.StageChange{ToStage: "Qualification"},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.leads.stageMoves) != 1 || f.leads.stageMoves[0] != "Qualification" {
		t.Fatalf("unexpected stage moves: %v", f.leads.stageMoves)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(f.sender.sent))
	}
	if _, success, _ := f.lastAction(t); !success {
		t.Fatal("expected success in action log")
	}
}

func TestDispatchMoveStageWithoutPayloadIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{Action: domain.ActionMoveStage, Message: "ok"}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(f.leads.stageMoves) != 0 || len(f.sender.sent) != 0 {
		t.Fatalf("expected no side effects, got moves=%v sends=%v", f.leads.stageMoves, f.sender.sent)
	}
	if len(f.recorder.actions) != 1 {
		t.Fatal("no-op dispatch must still be logged")
	}
}

func TestDispatchHandlerErrorIsLoggedAndReturned(t *testing.T) {
	f := newDispatcherFixture(t)
	f.sender.err = errors.New("gateway timeout")

	dec := &domain.Decision{Action: domain.ActionSendMessage, Message: "hello"}
	err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec)
	if err == nil {
		t.Fatal("expected error from failed send")
	}

	_, success, errorText := f.lastAction(t)
	if success {
		t.Fatal("action log must record failure")
	}
	if errorText == "" {
		t.Fatal("action log must carry the error text")
	}
	if len(f.conversations.outbound) != 0 {
		t.Fatal("failed send must not persist an outbound message")
	}
}

func TestDispatchRecorderFailureIsNotFatal(t *testing.T) {
	f := newDispatcherFixture(t)
	f.recorder.actionErr = errors.New("insert failed")

	dec := &domain.Decision{Action: domain.ActionSendMessage, Message: "hello"}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("audit write failure must not fail the dispatch: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatal("reply must still go out")
	}
}

func TestDispatchPersistFailureDoesNotResend(t *testing.T) {
	f := newDispatcherFixture(t)
	f.conversations.outboundErr = errors.New("db down")

	dec := &domain.Decision{Action: domain.ActionSendMessage, Message: "hello"}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("persistence failure after delivery must not error: %v", err)
	}
	if _, success, _ := f.lastAction(t); !success {
		t.Fatal("entry must record success, the message was delivered")
	}
}

func TestDispatchCheckAvailabilityListsOwnerSlots(t *testing.T) {
	f := newDispatcherFixture(t)
	ownerID := uuid.New()
	f.lead.OwnerID = &ownerID
	base := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	f.scheduler.slots = []ports.Slot{
		{UserID: uuid.New(), Start: base, End: base.Add(time.Hour)},
		{UserID: ownerID, Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
	}

	dec := &domain.Decision{Action: domain.ActionCheckAvailability}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(f.sender.sent))
	}
	text := f.sender.sent[0].text
	if want := "1. Monday, Sep 7 at 11:00"; !strings.Contains(text, want) {
		t.Fatalf("reply %q missing owner slot %q", text, want)
	}
	if strings.Contains(text, "10:00") {
		t.Fatalf("reply %q lists a slot owned by another user", text)
	}
}

func TestDispatchScheduleMeetingSwallowsBookingFailure(t *testing.T) {
	f := newDispatcherFixture(t)
	f.scheduler.err = errors.New("slot taken")

	when := time.Date(2026, 9, 8, 14, 0, 0, 0, time.UTC)
	dec := &domain.Decision{
		Action:      domain.ActionScheduleMeeting,
		Message:     "Booked! See you then.",
		Appointment: &domain.Appointment{ScheduledAt: when},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("booking failure must not fail the dispatch: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatal("confirmation reply must still go out")
	}
	if len(f.leads.stageMoves) != 0 {
		t.Fatal("stage must not move when booking failed")
	}
}

func TestDispatchScheduleMeetingMovesStageOnSuccess(t *testing.T) {
	f := newDispatcherFixture(t)

	when := time.Date(2026, 9, 8, 14, 0, 0, 0, time.UTC)
	dec := &domain.Decision{
		Action:      domain.ActionScheduleMeeting,
		Message:     "Booked!",
		Appointment: &domain.Appointment{ScheduledAt: when},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("expected one booking, got %d", len(f.scheduler.scheduled))
	}
	if got := f.scheduler.scheduled[0].title; got != "Meeting with Maria Silva" {
		t.Fatalf("default title = %q", got)
	}
	if len(f.leads.stageMoves) != 1 || f.leads.stageMoves[0] != "Presentation" {
		t.Fatalf("expected move to Presentation, got %v", f.leads.stageMoves)
	}
}

func TestDispatchScheduleMeetingAssignsOwnerlessLead(t *testing.T) {
	f := newDispatcherFixture(t)

	when := time.Date(2026, 9, 8, 14, 0, 0, 0, time.UTC)
	dec := &domain.Decision{
		Action:      domain.ActionScheduleMeeting,
		Message:     "Booked!",
		Appointment: &domain.Appointment{ScheduledAt: when},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.leads.assigned) != 1 || f.leads.assigned[0] != f.lead.ID {
		t.Fatalf("unassigned lead must get a round-robin owner, got %v", f.leads.assigned)
	}
	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("expected one booking, got %d", len(f.scheduler.scheduled))
	}
	if got := f.scheduler.scheduled[0].userID; got == nil || *got != f.leads.owner {
		t.Fatalf("booking must land on the assigned owner, got %v", got)
	}
}

func TestDispatchScheduleMeetingKeepsExistingOwner(t *testing.T) {
	f := newDispatcherFixture(t)
	ownerID := uuid.New()
	f.lead.OwnerID = &ownerID

	when := time.Date(2026, 9, 8, 14, 0, 0, 0, time.UTC)
	dec := &domain.Decision{
		Action:      domain.ActionScheduleMeeting,
		Message:     "Booked!",
		Appointment: &domain.Appointment{ScheduledAt: when},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.leads.assigned) != 0 {
		t.Fatalf("owned lead must not be reassigned, got %v", f.leads.assigned)
	}
	if got := f.scheduler.scheduled[0].userID; got == nil || *got != ownerID {
		t.Fatalf("booking must use the existing owner, got %v", got)
	}
}

func TestDispatchScheduleMeetingBooksWhenAssignmentFails(t *testing.T) {
	f := newDispatcherFixture(t)
	f.leads.assignErr = errors.New("no active users")

	when := time.Date(2026, 9, 8, 14, 0, 0, 0, time.UTC)
	dec := &domain.Decision{
		Action:      domain.ActionScheduleMeeting,
		Message:     "Booked!",
		Appointment: &domain.Appointment{ScheduledAt: when},
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("expected one booking, got %d", len(f.scheduler.scheduled))
	}
	if got := f.scheduler.scheduled[0].userID; got != nil {
		t.Fatalf("booking must fall back to no owner, got %v", got)
	}
}

func TestDispatchTransferToHumanDisablesAndNotifies(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{
		Action:  domain.ActionTransferToHuman,
		Message: "Connecting you with a colleague.",
		Reason:  "pricing negotiation",
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.conversations.transferred) != 1 {
		t.Fatal("expected conversation handed off")
	}
	if len(f.conversations.transferReasons) != 1 || f.conversations.transferReasons[0] != "pricing negotiation" {
		t.Fatalf("handoff must carry the reason to the store, got %v", f.conversations.transferReasons)
	}
	found := false
	for _, event := range f.bus.published {
		if tr, ok := event.(events.ConversationTransferred); ok {
			found = true
			if tr.Reason != "pricing negotiation" {
				t.Fatalf("unexpected reason: %q", tr.Reason)
			}
		}
	}
	if !found {
		t.Fatal("expected a ConversationTransferred event")
	}
}

func TestDispatchFollowUpInsertsAndEnqueues(t *testing.T) {
	f := newDispatcherFixture(t)

	due := time.Now().Add(24 * time.Hour)
	dec := &domain.Decision{Action: domain.ActionFollowUp, FollowUpTime: &due}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(f.followUps.inserted) != 1 {
		t.Fatalf("expected one follow-up record, got %d", len(f.followUps.inserted))
	}
	if f.followUps.inserted[0].Message == "" {
		t.Fatal("follow-up without text must get a default message")
	}
	if len(f.tasks.enqueued) != 1 || f.tasks.enqueued[0] != f.followUps.inserted[0].ID {
		t.Fatalf("expected delivery job for the inserted record, got %v", f.tasks.enqueued)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("follow_up must not send anything immediately")
	}
}

func TestDispatchFollowUpInsertFailureIsNotFatal(t *testing.T) {
	f := newDispatcherFixture(t)
	f.followUps.insertErr = errors.New("db down")

	due := time.Now().Add(24 * time.Hour)
	dec := &domain.Decision{Action: domain.ActionFollowUp, FollowUpTime: &due}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("losing a follow-up must not fail the cycle: %v", err)
	}
	if len(f.tasks.enqueued) != 0 {
		t.Fatal("no delivery job without a persisted record")
	}
	if _, success, _ := f.lastAction(t); !success {
		t.Fatal("follow-up loss is logged as a warning, not a failed action")
	}
}

func TestDispatchFinalizeAndAssign(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{
		Action:     domain.ActionFinalizeAndAssign,
		Message:    "Thanks for your time!",
		SDROutcome: "scheduled",
	}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(f.leads.finalized) != 1 || f.leads.finalized[0] != "scheduled" {
		t.Fatalf("unexpected finalize calls: %v", f.leads.finalized)
	}
}

func TestDispatchUnknownActionIsLoggedNoOp(t *testing.T) {
	f := newDispatcherFixture(t)

	dec := &domain.Decision{Action: domain.ActionUnknown}
	if err := f.dispatcher.Dispatch(context.Background(), f.conv, f.lead, dec); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("unknown action must not send")
	}
	if action, success, _ := f.lastAction(t); action != "unknown" || !success {
		t.Fatalf("unknown action must still be audited, got action=%q success=%v", action, success)
	}
}
