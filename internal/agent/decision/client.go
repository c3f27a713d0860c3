// Package decision implements the client for the external decision service:
// a cached health probe plus the per-cycle decide call.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sdrdesk_backend/internal/agent/domain"
	"sdrdesk_backend/platform/apperr"
	"sdrdesk_backend/platform/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	availabilityKey = "agent:decision:available"
	availabilityTTL = 60 * time.Second
	healthTimeout   = 5 * time.Second
)

// HistoryEntry is one message in the conversation history window.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Direction  string    `json:"direction"`
	SenderType string    `json:"sender_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// LeadSnapshot is the lead state sent with each decide call.
type LeadSnapshot struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Phone        string         `json:"phone"`
	StageID      string         `json:"stage_id"`
	StageName    string         `json:"stage_name"`
	Value        float64        `json:"value"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// AgentProfile is the automation configuration sent with each decide call.
type AgentProfile struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Prompt            string   `json:"prompt"`
	Temperature       float64  `json:"temperature"`
	Model             string   `json:"model"`
	AutoQualify       bool     `json:"auto_qualify"`
	AutoMoveStage     bool     `json:"auto_move_stage"`
	TransferOnComplex bool     `json:"transfer_on_complex"`
	ForbiddenTopics   []string `json:"forbidden_topics,omitempty"`
	Tone              string   `json:"tone,omitempty"`
	Language          string   `json:"language,omitempty"`
}

// TenantSnapshot carries tenant catalog and pipeline metadata.
type TenantSnapshot struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Timezone      string   `json:"timezone,omitempty"`
	BusinessHours string   `json:"business_hours,omitempty"`
	Products      []string `json:"products,omitempty"`
	Stages        []string `json:"stages,omitempty"`
}

// RunRequest is the full context payload for one decide call.
type RunRequest struct {
	Message     string         `json:"message"`
	MessageID   string         `json:"message_id"`
	MessageType string         `json:"message_type"`
	Lead        LeadSnapshot   `json:"lead"`
	Agent       AgentProfile   `json:"agent"`
	Tenant      TenantSnapshot `json:"tenant"`
	History     []HistoryEntry `json:"history"`
	ChannelID   string         `json:"channel_id"`
	TicketID    string         `json:"ticket_id"`
	IncludeRAG  bool           `json:"include_rag"`
	IncludeLTM  bool           `json:"include_long_memory"`
}

// Client talks to the external decision service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	rdb     redis.UniversalClient
	probes  singleflight.Group
	log     *logger.Logger
}

// New creates a decision service client. The Redis client backs the
// availability probe cache shared across workers.
func New(baseURL, apiKey string, timeout time.Duration, rdb redis.UniversalClient, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		rdb:     rdb,
		log:     log,
	}
}

// IsAvailable reports whether the decision service answered its health probe
// recently. The result is cached for a short TTL so bursts of cycles do not
// hammer the health endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	cached, err := c.rdb.Get(ctx, availabilityKey).Result()
	if err == nil {
		return cached == "1"
	}
	if err != redis.Nil {
		c.log.Warn("availability cache read failed, probing directly", "error", err)
	}

	// Concurrent cycles on a cache miss share one probe.
	result, _, _ := c.probes.Do(availabilityKey, func() (any, error) {
		available := c.probe(ctx)
		value := "0"
		if available {
			value = "1"
		}
		if err := c.rdb.Set(ctx, availabilityKey, value, availabilityTTL).Err(); err != nil {
			c.log.Warn("availability cache write failed", "error", err)
		}
		return available, nil
	})
	return result.(bool)
}

func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Decide sends the full conversation context and returns the structured
// decision. A nil decision with nil error means the service declined to act.
func (c *Client) Decide(ctx context.Context, payload *RunRequest) (*domain.Decision, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode decision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build decision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Unavailable("decision service unreachable").WithDetails(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read decision response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Unavailable(
			fmt.Sprintf("decision service returned status %d", resp.StatusCode)).WithDetails(string(raw))
	}

	decision, err := domain.ParseDecision(raw)
	if err != nil {
		return nil, err
	}
	if decision.IsNoAction() {
		return nil, nil
	}
	decision.Origin = domain.OriginAgent
	return decision, nil
}
