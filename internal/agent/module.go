package agent

import (
	"sdrdesk_backend/internal/agent/actionlog"
	"sdrdesk_backend/internal/agent/debounce"
	"sdrdesk_backend/internal/agent/decision"
	"sdrdesk_backend/internal/agent/fallback"
	"sdrdesk_backend/internal/agent/followup"
	"sdrdesk_backend/internal/agent/locker"
	"sdrdesk_backend/internal/agent/ports"
	agentrepository "sdrdesk_backend/internal/agent/repository"
	"sdrdesk_backend/internal/agent/service"
	apptrepository "sdrdesk_backend/internal/appointments/repository"
	apptservice "sdrdesk_backend/internal/appointments/service"
	convrepository "sdrdesk_backend/internal/conversations/repository"
	"sdrdesk_backend/internal/events"
	leadsrepository "sdrdesk_backend/internal/leads/repository"
	leadsservice "sdrdesk_backend/internal/leads/service"
	"sdrdesk_backend/platform/config"
	"sdrdesk_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ModuleConfig is the slice of configuration the agent context consumes.
type ModuleConfig interface {
	config.AgentConfig
	config.DecisionServiceConfig
	config.FallbackAIConfig
}

// TaskClient enqueues the delayed jobs the agent context produces.
type TaskClient interface {
	debounce.Enqueuer
	ports.TaskScheduler
}

// Module wires the agent context: the debouncer consumed by message intake
// and the runner consumed by the job worker.
type Module struct {
	Debouncer *debounce.Debouncer
	Runner    *service.Runner
}

// NewModule builds the agent context from shared infrastructure.
func NewModule(
	cfg ModuleConfig,
	pool *pgxpool.Pool,
	rdb redis.UniversalClient,
	tasks TaskClient,
	sender ports.MessageSender,
	bus events.Bus,
	log *logger.Logger,
) (*Module, error) {
	conversations := &conversationStore{repo: convrepository.New(pool)}

	leadsRepo := leadsrepository.New(pool)
	leads := &leadStore{
		svc:  leadsservice.New(leadsRepo, bus, log),
		repo: leadsRepo,
	}

	appointments := &appointmentScheduler{
		svc: apptservice.New(apptrepository.New(pool), bus, log),
	}

	followUps := followup.New(pool)
	recorder := actionlog.New(pool)
	configs := agentrepository.New(pool)

	locks := lockerAdapter{inner: locker.New(rdb, cfg.GetProcessingLockTTL())}
	debouncer := debounce.New(rdb, tasks, cfg.GetDebounceWindow())

	decisions := decision.New(
		cfg.GetDecisionServiceURL(),
		cfg.GetDecisionServiceAPIKey(),
		cfg.GetDecisionServiceTimeout(),
		rdb,
		log,
	)

	fallbackEngine, err := fallback.New(cfg.GetMoonshotAPIKey(), cfg.GetFallbackModel(), log)
	if err != nil {
		return nil, err
	}

	dispatcher := service.NewDispatcher(conversations, sender, leads, appointments, followUps, tasks, recorder, bus, log)
	runner := service.NewRunner(conversations, leads, configs, locks, debouncer, decisions, fallbackEngine, dispatcher, recorder, followUps, log)

	return &Module{Debouncer: debouncer, Runner: runner}, nil
}
