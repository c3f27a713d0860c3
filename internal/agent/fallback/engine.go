// Package fallback provides the degraded decision path used when the
// external decision service is unavailable: a direct generation call with no
// action planning, always mapped to a plain reply.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/platform/ai/moonshot"
	"sdrdesk_backend/platform/logger"
)

const (
	appName       = "conversation-fallback"
	historyWindow = 10
	defaultPrompt = "You are a helpful sales assistant. Answer the contact's last message briefly and politely, in the language they used. Do not invent prices, dates, or commitments."
)

// HistoryMessage is one prior message given to the fallback model.
type HistoryMessage struct {
	Direction string
	Body      string
}

// Input is the reduced context for a fallback reply.
type Input struct {
	ConversationID uuid.UUID
	SystemPrompt   string
	Message        string
	History        []HistoryMessage
}

// Engine generates plain replies when the decision service cannot.
type Engine struct {
	agent          agent.Agent
	runner         *runner.Runner
	sessionService session.Service
	log            *logger.Logger
	runMu          sync.Mutex
}

// New creates the fallback engine on a tool-free model agent.
func New(apiKey, model string, log *logger.Logger) (*Engine, error) {
	kimi := moonshot.NewModel(moonshot.Config{
		APIKey:          apiKey,
		Model:           model,
		DisableThinking: true,
	})

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "ConversationFallback",
		Model:       kimi,
		Description: "Generates plain conversational replies when the decision service is down.",
		Instruction: defaultPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback runner: %w", err)
	}

	return &Engine{
		agent:          adkAgent,
		runner:         r,
		sessionService: sessionService,
		log:            log,
	}, nil
}

// Decide produces a send_message decision with generated reply text. A nil
// return means the fallback itself failed; the failure is logged and must not
// abort the cycle, so the inbound messages stay unconsumed for the next trigger.
func (e *Engine) Decide(ctx context.Context, input Input) *domain.Decision {
	text, err := e.generate(ctx, input)
	if err != nil {
		e.log.Error("fallback generation failed", "conversation_id", input.ConversationID, "error", err)
		return nil
	}
	if text == "" {
		e.log.Warn("fallback produced empty reply", "conversation_id", input.ConversationID)
		return nil
	}
	return &domain.Decision{
		Action:  domain.ActionSendMessage,
		Message: text,
		Origin:  domain.OriginFallback,
	}
}

func (e *Engine) generate(ctx context.Context, input Input) (string, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	sessionID := uuid.New().String()
	userID := "fallback-" + input.ConversationID.String()

	_, err := e.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("fallback: create session: %w", err)
	}
	defer func() {
		_ = e.sessionService.Delete(ctx, &session.DeleteRequest{
			AppName:   appName,
			UserID:    userID,
			SessionID: sessionID,
		})
	}()

	userMessage := &genai.Content{
		Role: "user",
		Parts: []*genai.Part{{
			Text: buildPrompt(input),
		}},
	}

	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeNone}

	var outputText strings.Builder
	for event, err := range e.runner.Run(ctx, userID, sessionID, userMessage, runConfig) {
		if err != nil {
			return "", fmt.Errorf("fallback: run failed: %w", err)
		}
		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			outputText.WriteString(part.Text)
		}
	}

	return strings.TrimSpace(outputText.String()), nil
}

func buildPrompt(input Input) string {
	var sb strings.Builder

	prompt := strings.TrimSpace(input.SystemPrompt)
	if prompt == "" {
		prompt = defaultPrompt
	}
	sb.WriteString(prompt)
	sb.WriteString("\n\nRecent conversation:\n")

	history := input.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, msg := range history {
		speaker := "Contact"
		if msg.Direction == "outbound" {
			speaker = "Assistant"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(msg.Body)
		sb.WriteString("\n")
	}

	sb.WriteString("\nContact's latest message:\n")
	sb.WriteString(input.Message)
	sb.WriteString("\n\nReply to the contact:")
	return sb.String()
}
