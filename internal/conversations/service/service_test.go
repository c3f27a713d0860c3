package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sdrdesk_backend/internal/conversations/repository"
	"sdrdesk_backend/internal/conversations/transport"
	"sdrdesk_backend/internal/events"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	existing  *repository.Conversation
	created   []*repository.Conversation
	messages  []*repository.Message
	linked    map[uuid.UUID]uuid.UUID
	linkErr   error
	insertErr error
}

func (f *fakeStore) FindByContact(_ context.Context, _ uuid.UUID, channel, contactPhone string) (*repository.Conversation, error) {
	if f.existing != nil && f.existing.Channel == channel && f.existing.ContactPhone == contactPhone {
		return f.existing, nil
	}
	return nil, nil
}

func (f *fakeStore) Create(_ context.Context, conv *repository.Conversation) error {
	f.created = append(f.created, conv)
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg *repository.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) LinkLead(_ context.Context, conversationID, leadID uuid.UUID) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	if f.linked == nil {
		f.linked = map[uuid.UUID]uuid.UUID{}
	}
	f.linked[conversationID] = leadID
	return nil
}

func (f *fakeStore) RecentHistory(_ context.Context, _ uuid.UUID, _ int) ([]repository.Message, error) {
	out := make([]repository.Message, 0, len(f.messages))
	for _, msg := range f.messages {
		out = append(out, *msg)
	}
	return out, nil
}

type fakeResolver struct {
	leadID   uuid.UUID
	err      error
	resolved []string
}

func (f *fakeResolver) ResolveOrCreate(_ context.Context, _ uuid.UUID, _, phone string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.resolved = append(f.resolved, phone)
	if f.leadID == uuid.Nil {
		f.leadID = uuid.New()
	}
	return f.leadID, nil
}

type fakeScheduler struct {
	convIDs []uuid.UUID
	msgIDs  []uuid.UUID
	err     error
	runAt   time.Time
}

func (f *fakeScheduler) Schedule(_ context.Context, conversationID, messageID uuid.UUID) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	f.convIDs = append(f.convIDs, conversationID)
	f.msgIDs = append(f.msgIDs, messageID)
	return f.runAt, nil
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

func newIngestFixture(t *testing.T) (*Service, *fakeStore, *fakeResolver, *fakeScheduler, *recordingBus) {
	t.Helper()
	store := &fakeStore{}
	resolver := &fakeResolver{}
	scheduler := &fakeScheduler{runAt: time.Date(2026, 9, 1, 12, 0, 15, 0, time.UTC)}
	bus := &recordingBus{}
	svc := New(store, resolver, scheduler, bus, logger.New("test"))
	return svc, store, resolver, scheduler, bus
}

func ingestReq() *transport.IngestMessageRequest {
	return &transport.IngestMessageRequest{
		TenantID:    uuid.New(),
		ContactName: "Maria Silva",
		Phone:       "+5511999990000",
		Body:        "Hi, I saw your pricing page",
	}
}

func TestIngestCreatesConversationWithLead(t *testing.T) {
	svc, store, resolver, scheduler, bus := newIngestFixture(t)

	resp, err := svc.Ingest(context.Background(), "whatsapp", ingestReq())
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected one conversation, got %d", len(store.created))
	}
	conv := store.created[0]
	if conv.LeadID == nil || *conv.LeadID != resolver.leadID {
		t.Fatalf("new conversation must carry the resolved lead, got %v", conv.LeadID)
	}
	if conv.Channel != "whatsapp" || !conv.AutomationEnabled {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if len(store.messages) != 1 || store.messages[0].Body != "Hi, I saw your pricing page" {
		t.Fatalf("unexpected messages: %+v", store.messages)
	}
	if resp.ConversationID != conv.ID || resp.MessageID != store.messages[0].ID {
		t.Fatalf("response does not reference the persisted rows: %+v", resp)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one MessageReceived event, got %d", len(bus.published))
	}
	if resp.ScheduledFor != scheduler.runAt {
		t.Fatalf("response must echo the debounce run time, got %v", resp.ScheduledFor)
	}
}

func TestIngestLinksLeadToLegacyConversation(t *testing.T) {
	svc, store, resolver, _, _ := newIngestFixture(t)
	req := ingestReq()
	store.existing = &repository.Conversation{
		ID:           uuid.New(),
		TenantID:     req.TenantID,
		Channel:      "whatsapp",
		ContactPhone: req.Phone,
		Status:       "open",
	}

	if _, err := svc.Ingest(context.Background(), "whatsapp", req); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	if len(store.created) != 0 {
		t.Fatal("existing conversation must be reused, not recreated")
	}
	if got := store.linked[store.existing.ID]; got != resolver.leadID {
		t.Fatalf("lead %v must be linked to the conversation, got %v", resolver.leadID, got)
	}
}

func TestIngestSurvivesLeadResolutionFailure(t *testing.T) {
	svc, store, resolver, scheduler, _ := newIngestFixture(t)
	resolver.err = errors.New("crm unavailable")

	if _, err := svc.Ingest(context.Background(), "whatsapp", ingestReq()); err != nil {
		t.Fatalf("lead resolution failure must not drop the message: %v", err)
	}
	if len(store.created) != 1 || store.created[0].LeadID != nil {
		t.Fatalf("conversation must be created without a lead, got %+v", store.created)
	}
	if len(store.messages) != 1 || len(scheduler.convIDs) != 1 {
		t.Fatal("message must still persist and schedule a cycle")
	}
}

func TestIngestPersistsMetadataAndSchedulesByMessage(t *testing.T) {
	svc, store, _, scheduler, _ := newIngestFixture(t)
	req := ingestReq()
	req.Metadata = map[string]any{"type": "audio", "url": "https://cdn.example.com/v1.ogg"}

	if _, err := svc.Ingest(context.Background(), "whatsapp", req); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	msg := store.messages[0]
	if !strings.Contains(string(msg.Metadata), `"type":"audio"`) {
		t.Fatalf("metadata not persisted: %s", msg.Metadata)
	}
	if len(scheduler.msgIDs) != 1 || scheduler.msgIDs[0] != msg.ID {
		t.Fatalf("cycle must be scheduled for the inserted message, got %v", scheduler.msgIDs)
	}
}

func TestIngestScheduleFailureIsSurfaced(t *testing.T) {
	svc, store, _, scheduler, _ := newIngestFixture(t)
	scheduler.err = errors.New("redis down")

	if _, err := svc.Ingest(context.Background(), "whatsapp", ingestReq()); err == nil {
		t.Fatal("expected error when the cycle cannot be scheduled")
	}
	if len(store.messages) != 1 {
		t.Fatal("message must stay persisted for the next inbound to reschedule")
	}
}
