// Package conversations provides the conversations domain module.
package conversations

import (
	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/conversations/handler"
	"sdrdesk_backend/internal/conversations/repository"
	"sdrdesk_backend/internal/conversations/service"
	"sdrdesk_backend/internal/events"
	apphttp "sdrdesk_backend/internal/http"
	leadsrepository "sdrdesk_backend/internal/leads/repository"
	leadsservice "sdrdesk_backend/internal/leads/service"
	"sdrdesk_backend/platform/logger"
	"sdrdesk_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the conversations domain module
type Module struct {
	handler    *handler.Handler
	Service    *service.Service
	Repository *repository.Repository
}

// NewModule creates a new conversations module with all dependencies wired
func NewModule(pool *pgxpool.Pool, val *validator.Validator, scheduler service.CycleScheduler, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)
	leads := leadsservice.New(leadsrepository.New(pool), bus, log)
	svc := service.New(repo, leads, scheduler, bus, log)
	h := handler.New(svc, actionlog.New(pool), val)

	return &Module{
		handler:    h,
		Service:    svc,
		Repository: repo,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "conversations"
}

// RegisterRoutes registers the channel webhook and read API routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterWebhookRoutes(ctx.Webhooks)
	m.handler.RegisterRoutes(ctx.V1)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
