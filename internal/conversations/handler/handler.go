package handler

import (
	"context"
	"net/http"
	"strconv"

	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/conversations/service"
	"sdrdesk_backend/internal/conversations/transport"
	"sdrdesk_backend/platform/httpkit"
	"sdrdesk_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	defaultMessageLimit = 50
	maxListLimit        = 200
)

// ActionLogReader lists the automation audit trail for a conversation.
type ActionLogReader interface {
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]actionlog.LoggedAction, error)
}

// Handler handles webhook HTTP requests for inbound channel messages and the
// read APIs for conversation history and the action audit trail.
type Handler struct {
	svc     *service.Service
	actions ActionLogReader
	val     *validator.Validator
}

// New creates a new conversations handler
func New(svc *service.Service, actions ActionLogReader, val *validator.Validator) *Handler {
	return &Handler{svc: svc, actions: actions, val: val}
}

// RegisterWebhookRoutes registers the inbound channel webhook routes
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/channel/:channelID/messages", h.IngestMessage)
}

// RegisterRoutes registers the read API routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/conversations/:conversationID/messages", h.ListMessages)
	rg.GET("/conversations/:conversationID/actions", h.ListActions)
}

// IngestMessage handles POST /api/v1/webhooks/channel/:channelID/messages
func (h *Handler) IngestMessage(c *gin.Context) {
	channel := c.Param("channelID")
	if channel == "" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "channel is required")
		return
	}

	var req transport.IngestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), channel, &req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Accepted(c, result)
}

// ListMessages handles GET /api/v1/conversations/:conversationID/messages
func (h *Handler) ListMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	messages, err := h.svc.History(c.Request.Context(), conversationID, listLimit(c, defaultMessageLimit))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToMessageViews(messages))
}

// ListActions handles GET /api/v1/conversations/:conversationID/actions
func (h *Handler) ListActions(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	actions, err := h.actions.ListByConversation(c.Request.Context(), conversationID, listLimit(c, defaultMessageLimit))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, actions)
}

func parseConversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("conversationID"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid conversation id")
		return uuid.Nil, false
	}
	return id, true
}

func listLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
