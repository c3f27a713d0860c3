package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/internal/agent/followup"
	"sdrdesk_backend/internal/agent/ports"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

type runnerFixture struct {
	runner        *Runner
	conversations *fakeConversations
	sender        *fakeSender
	leads         *fakeLeads
	configs       *fakeConfigs
	locker        *fakeLocker
	debounce      *fakeDebounce
	decisions     *fakeDecisions
	fallback      *fakeFallback
	recorder      *fakeRecorder
	followUps     *fakeFollowUps

	conv *ports.Conversation
	now  time.Time
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	leadID := uuid.New()
	f := &runnerFixture{
		conversations: &fakeConversations{},
		sender:        &fakeSender{},
		leads:         &fakeLeads{snapshot: &ports.LeadSnapshot{ID: leadID, Name: "Maria Silva", StageName: "New Lead"}},
		configs: &fakeConfigs{
			agent:  &ports.AgentConfig{ID: uuid.New(), Name: "SDR Assistant", Prompt: "You are an SDR.", Model: "default"},
			tenant: &ports.TenantSnapshot{ID: uuid.New(), Name: "Acme", Stages: []string{"New Lead", "Qualification"}},
		},
		locker:    &fakeLocker{},
		debounce:  &fakeDebounce{},
		decisions: &fakeDecisions{available: true},
		fallback:  &fakeFallback{},
		recorder:  &fakeRecorder{},
		followUps: &fakeFollowUps{pending: map[uuid.UUID]*followup.FollowUp{}},
		now:       time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	f.conv = &ports.Conversation{
		ID:                uuid.New(),
		TenantID:          f.configs.tenant.ID,
		LeadID:            &leadID,
		Channel:           "whatsapp",
		ContactName:       "Maria Silva",
		ContactPhone:      "+5511999990000",
		Status:            "open",
		AutomationEnabled: true,
	}
	f.conversations.conv = f.conv

	log := logger.New("test")
	dispatcher := NewDispatcher(
		f.conversations, f.sender, f.leads, &fakeScheduler{},
		f.followUps, &fakeTasks{}, f.recorder, &recordingBus{}, log,
	)
	f.runner = NewRunner(
		f.conversations, f.leads, f.configs, f.locker, f.debounce,
		f.decisions, f.fallback, dispatcher, f.recorder, f.followUps, log,
	)
	f.runner.now = func() time.Time { return f.now }
	return f
}

func inbound(body string, at time.Time) ports.Message {
	return ports.Message{ID: uuid.New(), Direction: "inbound", SenderType: "contact", Body: body, CreatedAt: at}
}

func TestRunCycleAggregatesAndDispatches(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{
		inbound("Hi", f.now.Add(-10*time.Second)),
		inbound("I want a demo", f.now.Add(-5*time.Second)),
	}
	f.decisions.dec = &domain.Decision{
		Action:      domain.ActionMoveStage,
		Message:     "Happy to set that up!",
		StageChange: &domain.StageChange{ToStage: "Qualification"},
		Origin:      domain.OriginAgent,
	}

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if f.decisions.lastReq == nil {
		t.Fatal("expected a decision call")
	}
	if got := f.decisions.lastReq.Message; got != "Hi\nI want a demo" {
		t.Fatalf("aggregated message = %q", got)
	}
	if want := fmt.Sprintf("combined_%d", f.now.Unix()); f.decisions.lastReq.MessageID != want {
		t.Fatalf("combined id = %q, want %q", f.decisions.lastReq.MessageID, want)
	}
	if got := f.decisions.lastReq.MessageType; got != "text" {
		t.Fatalf("message type = %q, want text", got)
	}
	if len(f.leads.stageMoves) != 1 || f.leads.stageMoves[0] != "Qualification" {
		t.Fatalf("unexpected stage moves: %v", f.leads.stageMoves)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(f.sender.sent))
	}
	if len(f.recorder.interactions) != 1 || f.recorder.interactions[0].Origin != domain.OriginAgent {
		t.Fatalf("unexpected interaction log: %+v", f.recorder.interactions)
	}
	if !f.locker.unlocker.released {
		t.Fatal("lock must be released after the cycle")
	}
	if len(f.debounce.consumed) != 1 {
		t.Fatal("debounce lease must be consumed after the cycle")
	}
}

func TestRunCycleAggregatesOnlyAfterLastAgentReply(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.log = []ports.Message{
		inbound("old question", f.now.Add(-2*time.Hour)),
		{ID: uuid.New(), Direction: "outbound", SenderType: "agent", Body: "answered earlier", CreatedAt: f.now.Add(-2 * time.Hour)},
		inbound("Hi", f.now.Add(-10*time.Second)),
		inbound("I want a demo", f.now.Add(-5*time.Second)),
	}
	f.decisions.dec = &domain.Decision{
		Action:  domain.ActionSendMessage,
		Message: "Happy to set that up!",
		Origin:  domain.OriginAgent,
	}

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if got := f.decisions.lastReq.Message; got != "Hi\nI want a demo" {
		t.Fatalf("aggregated message = %q, must exclude already answered inbound", got)
	}

	// The reply advances the boundary: a re-run sees nothing pending.
	left, err := f.conversations.PendingInbound(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("PendingInbound returned error: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("pending set must drain after the reply, got %d messages", len(left))
	}
}

func TestRunCycleDerivesMediaTypeFromNewestMarker(t *testing.T) {
	f := newRunnerFixture(t)
	voice := inbound("", f.now.Add(-3*time.Second))
	voice.Body = "[voice note]"
	voice.Metadata = map[string]any{"type": "audio", "duration_seconds": float64(12)}
	f.conversations.pending = []ports.Message{
		inbound("here is what I mean", f.now.Add(-8*time.Second)),
		voice,
	}
	f.decisions.dec = &domain.Decision{Action: domain.ActionSendMessage, Message: "Got it!", Origin: domain.OriginAgent}

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if got := f.decisions.lastReq.MessageType; got != "audio" {
		t.Fatalf("message type = %q, want audio", got)
	}
}

func TestRunCycleFallsBackWhenUnavailable(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{inbound("hello?", f.now)}
	f.decisions.available = false
	f.fallback.dec = &domain.Decision{
		Action:  domain.ActionSendMessage,
		Message: "Thanks for reaching out!",
		Origin:  domain.OriginFallback,
	}

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if f.decisions.calls != 0 {
		t.Fatal("unavailable service must not be called")
	}
	if len(f.fallback.inputs) != 1 {
		t.Fatal("expected one fallback call")
	}
	if got := f.fallback.inputs[0].SystemPrompt; got != "You are an SDR." {
		t.Fatalf("fallback prompt = %q", got)
	}
	if len(f.sender.sent) != 1 {
		t.Fatal("fallback reply must go out")
	}
	if len(f.recorder.interactions) != 1 || f.recorder.interactions[0].Origin != domain.OriginFallback {
		t.Fatalf("interaction log must record fallback origin: %+v", f.recorder.interactions)
	}
}

func TestRunCycleDegradesOnDecisionError(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{inbound("hi", f.now)}
	f.decisions.err = fmt.Errorf("boom")
	f.fallback.dec = &domain.Decision{Action: domain.ActionSendMessage, Message: "Hi!", Origin: domain.OriginFallback}

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("decision error must degrade, not fail: %v", err)
	}
	if len(f.fallback.inputs) != 1 || len(f.sender.sent) != 1 {
		t.Fatalf("expected fallback reply, got fallback=%d sends=%d", len(f.fallback.inputs), len(f.sender.sent))
	}
}

func TestRunCycleFallbackFailureEndsQuietly(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{inbound("hi", f.now)}
	f.decisions.available = false
	f.fallback.dec = nil

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("fallback failure must be swallowed: %v", err)
	}
	if len(f.sender.sent) != 0 || len(f.recorder.actions) != 0 || len(f.recorder.interactions) != 0 {
		t.Fatal("expected no side effects when both paths yield nothing")
	}
}

func TestRunCycleSkipsWhenLockContended(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{inbound("hi", f.now)}
	f.locker.contended = true

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("contended lock must skip, not fail: %v", err)
	}
	if f.decisions.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatal("contended cycle must not decide or dispatch")
	}
	if len(f.debounce.consumed) != 0 {
		t.Fatal("skipped cycle must leave the debounce lease alone")
	}
}

func TestRunCycleHonorsAutomationGate(t *testing.T) {
	f := newRunnerFixture(t)
	f.conversations.pending = []ports.Message{inbound("hi", f.now)}
	f.conv.AutomationEnabled = false

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if f.locker.attempts != 0 {
		t.Fatal("gate must be checked before taking the lock")
	}
	if f.decisions.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatal("gated cycle must not decide or dispatch")
	}
}

func TestRunCycleEmptyPendingIsNoAction(t *testing.T) {
	f := newRunnerFixture(t)

	if err := f.runner.RunCycle(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if f.decisions.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatal("empty pending set must end the cycle without deciding")
	}
	if !f.locker.unlocker.released || len(f.debounce.consumed) != 1 {
		t.Fatal("lock and lease must still be cleaned up")
	}
}

func TestRunCycleVanishedConversationIsNoOp(t *testing.T) {
	f := newRunnerFixture(t)

	if err := f.runner.RunCycle(context.Background(), uuid.New()); err != nil {
		t.Fatalf("missing conversation must not fail the job: %v", err)
	}
}

func TestDeliverFollowUpSendsAndMarks(t *testing.T) {
	f := newRunnerFixture(t)
	fuID := uuid.New()
	f.followUps.pending[fuID] = &followup.FollowUp{
		ID:             fuID,
		ConversationID: f.conv.ID,
		Message:        "Still interested in that demo?",
	}

	if err := f.runner.DeliverFollowUp(context.Background(), fuID); err != nil {
		t.Fatalf("DeliverFollowUp returned error: %v", err)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].text != "Still interested in that demo?" {
		t.Fatalf("unexpected sends: %+v", f.sender.sent)
	}
	if len(f.followUps.sent) != 1 || f.followUps.sent[0] != fuID {
		t.Fatalf("follow-up must be marked sent, got %v", f.followUps.sent)
	}
	if len(f.recorder.actions) != 1 {
		t.Fatal("follow-up delivery must be audited like any dispatch")
	}
}

func TestDeliverFollowUpCancelsWhenAutomationOff(t *testing.T) {
	f := newRunnerFixture(t)
	f.conv.AutomationEnabled = false
	fuID := uuid.New()
	f.followUps.pending[fuID] = &followup.FollowUp{ID: fuID, ConversationID: f.conv.ID, Message: "ping"}

	if err := f.runner.DeliverFollowUp(context.Background(), fuID); err != nil {
		t.Fatalf("DeliverFollowUp returned error: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("must not message a conversation that left automation")
	}
	if len(f.followUps.cancelled) != 1 || f.followUps.cancelled[0] != fuID {
		t.Fatalf("expected cancellation, got %v", f.followUps.cancelled)
	}
}

func TestDeliverFollowUpAlreadyHandledIsNoOp(t *testing.T) {
	f := newRunnerFixture(t)

	if err := f.runner.DeliverFollowUp(context.Background(), uuid.New()); err != nil {
		t.Fatalf("already handled follow-up must not fail the job: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("nothing must be sent")
	}
}
