package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/agent/decision"
	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/internal/agent/fallback"
	"sdrdesk_backend/internal/agent/followup"
	"sdrdesk_backend/internal/agent/ports"
	"sdrdesk_backend/platform/apperr"
	"sdrdesk_backend/platform/logger"

	"github.com/google/uuid"
)

const historyWindow = 20

// DecisionService is the external reasoning collaborator.
type DecisionService interface {
	IsAvailable(ctx context.Context) bool
	Decide(ctx context.Context, payload *decision.RunRequest) (*domain.Decision, error)
}

// FallbackEngine is the degraded decision path. A nil decision means the
// fallback itself failed; that failure is swallowed by contract.
type FallbackEngine interface {
	Decide(ctx context.Context, input fallback.Input) *domain.Decision
}

// FollowUpDelivery reads and settles pending follow-up records.
type FollowUpDelivery interface {
	GetPending(ctx context.Context, id uuid.UUID) (*followup.FollowUp, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Runner executes one debounced agent cycle: gate, lock, aggregate, decide,
// dispatch. It is invoked by the worker when a delayed cycle job fires.
type Runner struct {
	conversations ports.ConversationStore
	leads         ports.LeadStore
	configs       ports.ConfigStore
	locker        ports.Locker
	debounce      ports.DebounceConsumer
	decisions     DecisionService
	fallback      FallbackEngine
	dispatcher    *Dispatcher
	recorder      ActionRecorder
	followUps     FollowUpDelivery
	log           *logger.Logger
	now           func() time.Time
}

// NewRunner creates a cycle runner.
func NewRunner(
	conversations ports.ConversationStore,
	leads ports.LeadStore,
	configs ports.ConfigStore,
	locker ports.Locker,
	debounce ports.DebounceConsumer,
	decisions DecisionService,
	fallbackEngine FallbackEngine,
	dispatcher *Dispatcher,
	recorder ActionRecorder,
	followUps FollowUpDelivery,
	log *logger.Logger,
) *Runner {
	return &Runner{
		conversations: conversations,
		leads:         leads,
		configs:       configs,
		locker:        locker,
		debounce:      debounce,
		decisions:     decisions,
		fallback:      fallbackEngine,
		dispatcher:    dispatcher,
		recorder:      recorder,
		followUps:     followUps,
		log:           log,
		now:           time.Now,
	}
}

// RunCycle executes one decision-and-dispatch cycle for a conversation.
// A returned error means the whole cycle should be retried by the job queue;
// re-running is safe because aggregation re-reads current pending messages.
func (r *Runner) RunCycle(ctx context.Context, conversationID uuid.UUID) error {
	log := r.log.WithConversation(conversationID.String())

	conv, err := r.conversations.Get(ctx, conversationID)
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			log.Warn("conversation vanished before cycle ran")
			return nil
		}
		return err
	}

	// Automation gate, checked before taking the lock.
	if !conv.AutomationEnabled || conv.Status == "closed" {
		log.Debug("automation disabled, skipping cycle")
		return nil
	}

	lock, acquired, err := r.locker.TryAcquire(ctx, conversationID)
	if err != nil {
		return err
	}
	if !acquired {
		// Another cycle is dispatching; skip rather than queue. The next
		// inbound message retriggers the debounce naturally.
		log.Info("cycle already in flight, skipping")
		return nil
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			log.Warn("failed to release conversation lock", "error", releaseErr)
		}
		if consumeErr := r.debounce.Consume(ctx, conversationID); consumeErr != nil {
			log.Warn("failed to consume debounce lease", "error", consumeErr)
		}
	}()

	pending, err := r.conversations.PendingInbound(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		// Valid outcome: a human already answered, or a previous cycle
		// consumed the burst.
		log.Debug("no pending messages, cycle ends with no action")
		return nil
	}

	combined, combinedID := aggregate(pending, r.now())
	combinedType := mediaKind(pending)

	var lead *ports.LeadSnapshot
	if conv.LeadID != nil {
		lead, err = r.leads.Snapshot(ctx, *conv.LeadID)
		if err != nil {
			return err
		}
	}

	agentCfg, err := r.configs.AgentConfig(ctx, conv.TenantID)
	if err != nil {
		return err
	}

	dec := r.decide(ctx, conv, lead, agentCfg, combined, combinedID, combinedType, log)
	if dec == nil {
		return nil
	}

	r.recordInteraction(ctx, conv, dec, combined, log)

	return r.dispatcher.Dispatch(ctx, conv, lead, dec)
}

// decide tries the external decision service first and degrades to the
// fallback path when the service is unavailable, errors, or declines to act.
func (r *Runner) decide(ctx context.Context, conv *ports.Conversation, lead *ports.LeadSnapshot, agentCfg *ports.AgentConfig, combined, combinedID, combinedType string, log *logger.Logger) *domain.Decision {
	if r.decisions.IsAvailable(ctx) {
		payload, err := r.buildRunRequest(ctx, conv, lead, agentCfg, combined, combinedID, combinedType)
		if err != nil {
			log.Error("failed to build decision payload", "error", err)
		} else {
			dec, err := r.decisions.Decide(ctx, payload)
			if err != nil {
				log.Error("decision call failed, degrading to fallback", "error", err)
			} else if dec != nil {
				return dec
			}
		}
	} else {
		log.Warn("decision service unavailable, using fallback")
	}

	history, err := r.conversations.RecentHistory(ctx, conv.ID, historyWindow/2)
	if err != nil {
		log.Warn("failed to load fallback history", "error", err)
	}
	input := fallback.Input{
		ConversationID: conv.ID,
		SystemPrompt:   agentCfg.Prompt,
		Message:        combined,
	}
	for _, msg := range history {
		input.History = append(input.History, fallback.HistoryMessage{Direction: msg.Direction, Body: msg.Body})
	}
	// A nil fallback decision ends the cycle with no reply; the pending
	// messages stay unconsumed and re-aggregate on the next trigger.
	return r.fallback.Decide(ctx, input)
}

func (r *Runner) buildRunRequest(ctx context.Context, conv *ports.Conversation, lead *ports.LeadSnapshot, agentCfg *ports.AgentConfig, combined, combinedID, combinedType string) (*decision.RunRequest, error) {
	tenant, err := r.configs.TenantSnapshot(ctx, conv.TenantID)
	if err != nil {
		return nil, err
	}
	history, err := r.conversations.RecentHistory(ctx, conv.ID, historyWindow)
	if err != nil {
		return nil, err
	}

	req := &decision.RunRequest{
		Message:     combined,
		MessageID:   combinedID,
		MessageType: combinedType,
		Agent: decision.AgentProfile{
			ID:                agentCfg.ID.String(),
			Name:              agentCfg.Name,
			Prompt:            agentCfg.Prompt,
			Temperature:       agentCfg.Temperature,
			Model:             agentCfg.Model,
			AutoQualify:       agentCfg.AutoQualify,
			AutoMoveStage:     agentCfg.AutoMoveStage,
			TransferOnComplex: agentCfg.TransferOnComplex,
			ForbiddenTopics:   agentCfg.ForbiddenTopics,
			Tone:              agentCfg.Tone,
			Language:          agentCfg.Language,
		},
		Tenant: decision.TenantSnapshot{
			ID:            tenant.ID.String(),
			Name:          tenant.Name,
			Timezone:      tenant.Timezone,
			BusinessHours: tenant.BusinessHours,
			Products:      tenant.Products,
			Stages:        tenant.Stages,
		},
		ChannelID:  conv.Channel,
		TicketID:   conv.ID.String(),
		IncludeRAG: true,
		IncludeLTM: true,
	}
	if lead != nil {
		req.Lead = decision.LeadSnapshot{
			ID:           lead.ID.String(),
			Name:         lead.Name,
			Phone:        lead.Phone,
			StageID:      lead.StageID.String(),
			StageName:    lead.StageName,
			Value:        lead.Value,
			CustomFields: lead.CustomFields,
		}
	}
	for _, msg := range history {
		req.History = append(req.History, decision.HistoryEntry{
			ID:         msg.ID.String(),
			Content:    msg.Body,
			Direction:  msg.Direction,
			SenderType: msg.SenderType,
			CreatedAt:  msg.CreatedAt,
		})
	}
	return req, nil
}

func (r *Runner) recordInteraction(ctx context.Context, conv *ports.Conversation, dec *domain.Decision, combined string, log *logger.Logger) {
	entry := &actionlog.InteractionEntry{
		ConversationID: conv.ID,
		LeadID:         conv.LeadID,
		Origin:         dec.Origin,
		Message:        combined,
		Model:          dec.Model,
	}
	if dec.Intent != nil {
		entry.IntentName = dec.Intent.Name
		entry.Confidence = dec.Intent.Confidence
	}
	if dec.Usage != nil {
		entry.TotalTokens = dec.Usage.TotalTokens
	}
	if err := r.recorder.InsertInteraction(ctx, entry); err != nil {
		log.Warn("failed to write interaction log", "error", err)
	}
}

// DeliverFollowUp sends a previously scheduled follow-up message. Invoked by
// the worker when the delivery job fires.
func (r *Runner) DeliverFollowUp(ctx context.Context, followUpID uuid.UUID) error {
	fu, err := r.followUps.GetPending(ctx, followUpID)
	if err != nil {
		if apperr.GetKind(err) == apperr.KindNotFound {
			// Already sent or cancelled.
			return nil
		}
		return err
	}

	conv, err := r.conversations.Get(ctx, fu.ConversationID)
	if err != nil {
		return err
	}
	if !conv.AutomationEnabled || conv.Status == "closed" {
		r.log.Info("conversation left automation, cancelling follow-up", "follow_up_id", followUpID)
		return r.followUps.Cancel(ctx, followUpID)
	}

	dec := &domain.Decision{
		Action:  domain.ActionSendMessage,
		Message: fu.Message,
		Origin:  "follow_up",
	}
	if err := r.dispatcher.Dispatch(ctx, conv, nil, dec); err != nil {
		return err
	}
	return r.followUps.MarkSent(ctx, followUpID)
}

// aggregate concatenates pending message bodies oldest first into one
// logical message with a synthetic combined id.
func aggregate(pending []ports.Message, now time.Time) (string, string) {
	bodies := make([]string, 0, len(pending))
	for _, msg := range pending {
		bodies = append(bodies, msg.Body)
	}
	return strings.Join(bodies, "\n"), fmt.Sprintf("combined_%d", now.Unix())
}

// mediaKind derives the message type of an aggregated burst from its media
// markers, newest message first. A burst without markers is plain text.
func mediaKind(pending []ports.Message) string {
	for i := len(pending) - 1; i >= 0; i-- {
		kind, ok := pending[i].Metadata["type"].(string)
		if !ok {
			continue
		}
		switch kind {
		case "image", "audio":
			return kind
		}
	}
	return "text"
}
