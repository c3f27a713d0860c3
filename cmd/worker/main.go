package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sdrdesk_backend/internal/agent"
	"sdrdesk_backend/internal/email"
	"sdrdesk_backend/internal/events"
	leadsrepository "sdrdesk_backend/internal/leads/repository"
	"sdrdesk_backend/internal/notification"
	"sdrdesk_backend/internal/scheduler"
	"sdrdesk_backend/internal/whatsapp"
	"sdrdesk_backend/platform/config"
	"sdrdesk_backend/platform/db"
	"sdrdesk_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	eventBus := events.NewInMemoryBus(log)

	taskClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		panic("failed to initialize task client: " + err.Error())
	}
	defer func() { _ = taskClient.Close() }()

	// Notification module subscribes to the events dispatched cycles publish.
	var sender email.Sender
	if smtp := email.NewSMTPSender(cfg); smtp != nil {
		sender = smtp
	}
	notification.NewModule(eventBus, sender, leadsrepository.New(pool), cfg.GetOpsNotifyEmail(), log)

	whatsappClient := whatsapp.NewClient(cfg, log)

	agentModule, err := agent.NewModule(cfg, pool, rdb, taskClient, whatsappClient, eventBus, log)
	if err != nil {
		log.Error("failed to initialize agent module", "error", err)
		panic("failed to initialize agent module: " + err.Error())
	}

	worker, err := scheduler.NewWorker(cfg, agentModule.Runner, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
	log.Info("worker stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
