package service

import (
	"context"
	"time"

	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/agent/decision"
	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/internal/agent/fallback"
	"sdrdesk_backend/internal/agent/followup"
	"sdrdesk_backend/internal/agent/ports"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/apperr"

	"github.com/google/uuid"
)

type fakeConversations struct {
	conv            *ports.Conversation
	pending         []ports.Message
	history         []ports.Message
	outbound        []string
	transferred     []uuid.UUID
	transferReasons []string
	outboundErr     error

	// When set, PendingInbound and RecordOutbound work off this ordered
	// message log instead of the static pending slice, mirroring the
	// store's boundary semantics: inbound contact messages after the last
	// automated outbound reply, in insertion order.
	log []ports.Message
}

func (f *fakeConversations) Get(_ context.Context, id uuid.UUID) (*ports.Conversation, error) {
	if f.conv == nil || f.conv.ID != id {
		return nil, apperr.NotFound("conversation not found")
	}
	return f.conv, nil
}

func (f *fakeConversations) PendingInbound(_ context.Context, _ uuid.UUID) ([]ports.Message, error) {
	if f.log == nil {
		return f.pending, nil
	}
	boundary := -1
	for i, msg := range f.log {
		if msg.Direction == "outbound" && msg.SenderType == "agent" {
			boundary = i
		}
	}
	var out []ports.Message
	for _, msg := range f.log[boundary+1:] {
		if msg.Direction == "inbound" && msg.SenderType == "contact" {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeConversations) RecentHistory(_ context.Context, _ uuid.UUID, _ int) ([]ports.Message, error) {
	return f.history, nil
}

func (f *fakeConversations) RecordOutbound(_ context.Context, _ uuid.UUID, body string) error {
	if f.outboundErr != nil {
		return f.outboundErr
	}
	f.outbound = append(f.outbound, body)
	if f.log != nil {
		f.log = append(f.log, ports.Message{
			ID:         uuid.New(),
			Direction:  "outbound",
			SenderType: "agent",
			Body:       body,
			CreatedAt:  time.Now(),
		})
	}
	return nil
}

func (f *fakeConversations) TransferToHuman(_ context.Context, id uuid.UUID, reason string) error {
	f.transferred = append(f.transferred, id)
	f.transferReasons = append(f.transferReasons, reason)
	return nil
}

type sentMessage struct {
	phone string
	text  string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{phone: phone, text: text})
	return nil
}

type fakeLeads struct {
	snapshot   *ports.LeadSnapshot
	stageMoves []string
	qualified  map[string]any
	finalized  []string
	owner      uuid.UUID
	assigned   []uuid.UUID
	assignErr  error
}

func (f *fakeLeads) Snapshot(_ context.Context, _ uuid.UUID) (*ports.LeadSnapshot, error) {
	if f.snapshot == nil {
		return nil, apperr.NotFound("lead not found")
	}
	return f.snapshot, nil
}

func (f *fakeLeads) MoveStageFuzzy(_ context.Context, _ uuid.UUID, stageName string) error {
	f.stageMoves = append(f.stageMoves, stageName)
	return nil
}

func (f *fakeLeads) Qualify(_ context.Context, _ uuid.UUID, fields map[string]any) error {
	f.qualified = fields
	return nil
}

func (f *fakeLeads) FinalizeAndAssign(_ context.Context, _ uuid.UUID, outcome, _ string) error {
	f.finalized = append(f.finalized, outcome)
	return nil
}

func (f *fakeLeads) AssignRoundRobin(_ context.Context, leadID uuid.UUID) (uuid.UUID, error) {
	if f.assignErr != nil {
		return uuid.Nil, f.assignErr
	}
	if f.owner == uuid.Nil {
		f.owner = uuid.New()
	}
	f.assigned = append(f.assigned, leadID)
	return f.owner, nil
}

type scheduledMeeting struct {
	userID *uuid.UUID
	start  time.Time
	title  string
}

type fakeScheduler struct {
	slots     []ports.Slot
	scheduled []scheduledMeeting
	err       error
}

func (f *fakeScheduler) AvailableSlots(_ context.Context, _ uuid.UUID) ([]ports.Slot, error) {
	return f.slots, nil
}

func (f *fakeScheduler) Schedule(_ context.Context, _, _ uuid.UUID, userID *uuid.UUID, start time.Time, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, scheduledMeeting{userID: userID, start: start, title: title})
	return nil
}

type fakeFollowUps struct {
	inserted  []followup.FollowUp
	pending   map[uuid.UUID]*followup.FollowUp
	sent      []uuid.UUID
	cancelled []uuid.UUID
	insertErr error
}

func (f *fakeFollowUps) Insert(_ context.Context, conversationID uuid.UUID, leadID *uuid.UUID, message string, dueAt time.Time) (uuid.UUID, error) {
	if f.insertErr != nil {
		return uuid.Nil, f.insertErr
	}
	id := uuid.New()
	f.inserted = append(f.inserted, followup.FollowUp{
		ID:             id,
		ConversationID: conversationID,
		LeadID:         leadID,
		Message:        message,
		DueAt:          dueAt,
	})
	return id, nil
}

func (f *fakeFollowUps) GetPending(_ context.Context, id uuid.UUID) (*followup.FollowUp, error) {
	fu, ok := f.pending[id]
	if !ok {
		return nil, apperr.NotFound("follow-up not found or already handled")
	}
	return fu, nil
}

func (f *fakeFollowUps) MarkSent(_ context.Context, id uuid.UUID) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeFollowUps) Cancel(_ context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeTasks struct {
	enqueued []uuid.UUID
}

func (f *fakeTasks) EnqueueFollowUp(_ context.Context, followUpID uuid.UUID, _ time.Time) error {
	f.enqueued = append(f.enqueued, followUpID)
	return nil
}

type fakeRecorder struct {
	actions      []*actionlog.ActionEntry
	interactions []*actionlog.InteractionEntry
	actionErr    error
}

func (f *fakeRecorder) InsertAction(_ context.Context, entry *actionlog.ActionEntry) error {
	if f.actionErr != nil {
		return f.actionErr
	}
	f.actions = append(f.actions, entry)
	return nil
}

func (f *fakeRecorder) InsertInteraction(_ context.Context, entry *actionlog.InteractionEntry) error {
	f.interactions = append(f.interactions, entry)
	return nil
}

type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(_ context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *recordingBus) Subscribe(_ string, _ events.Handler) {}

func (b *recordingBus) names() []string {
	var names []string
	for _, event := range b.published {
		names = append(names, event.EventName())
	}
	return names
}

type fakeUnlocker struct {
	released bool
}

func (f *fakeUnlocker) Release(_ context.Context) error {
	f.released = true
	return nil
}

type fakeLocker struct {
	contended bool
	unlocker  *fakeUnlocker
	attempts  int
}

func (f *fakeLocker) TryAcquire(_ context.Context, _ uuid.UUID) (ports.Unlocker, bool, error) {
	f.attempts++
	if f.contended {
		return nil, false, nil
	}
	f.unlocker = &fakeUnlocker{}
	return f.unlocker, true, nil
}

type fakeDebounce struct {
	consumed []uuid.UUID
}

func (f *fakeDebounce) Consume(_ context.Context, conversationID uuid.UUID) error {
	f.consumed = append(f.consumed, conversationID)
	return nil
}

type fakeDecisions struct {
	available bool
	dec       *domain.Decision
	err       error
	lastReq   *decision.RunRequest
	calls     int
}

func (f *fakeDecisions) IsAvailable(_ context.Context) bool {
	return f.available
}

func (f *fakeDecisions) Decide(_ context.Context, payload *decision.RunRequest) (*domain.Decision, error) {
	f.calls++
	f.lastReq = payload
	return f.dec, f.err
}

type fakeFallback struct {
	dec    *domain.Decision
	inputs []fallback.Input
}

func (f *fakeFallback) Decide(_ context.Context, input fallback.Input) *domain.Decision {
	f.inputs = append(f.inputs, input)
	return f.dec
}

type fakeConfigs struct {
	agent  *ports.AgentConfig
	tenant *ports.TenantSnapshot
}

func (f *fakeConfigs) AgentConfig(_ context.Context, _ uuid.UUID) (*ports.AgentConfig, error) {
	return f.agent, nil
}

func (f *fakeConfigs) TenantSnapshot(_ context.Context, _ uuid.UUID) (*ports.TenantSnapshot, error) {
	return f.tenant, nil
}
