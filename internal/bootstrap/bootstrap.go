// Package bootstrap assembles the store, notifier and engine from config.
// Both entry points (the HTTP server and maintctl) start here.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/config"
	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
	"github.com/gymops/backend/internal/service"
)

var (
	_ service.Store = (*db.Store)(nil)
	_ service.Store = (*db.MemoryStore)(nil)
	_ Store         = (*db.Store)(nil)
	_ Store         = (*db.MemoryStore)(nil)
)

// Store is the union of what the engine, the handlers and maintctl need.
type Store interface {
	service.Store
	Ping(ctx context.Context) error
	ListContracts(ctx context.Context, status string) ([]models.Contract, error)
	ListTasks(ctx context.Context, f db.TaskFilter) ([]models.MaintenanceTask, error)
	ListAssignmentLogs(ctx context.Context, targetType, targetID string) ([]models.AssignmentDecisionLog, error)
	Seed(ctx context.Context, f db.Fixture) (map[string]int64, error)
}

type App struct {
	Config   config.Config
	Store    Store
	Notifier notify.Notifier
	Engine   *service.Engine
	Logger   zerolog.Logger

	closers []func()
}

// New wires the application. Without DATABASE_URL it runs on the in-memory
// store, which is only meant for local trials.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	app := &App{Config: cfg, Logger: logger}

	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		app.Store = db.NewMemoryStore()
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		app.closers = append(app.closers, pg.Close)
		applied, err := pg.Migrate(ctx)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info().Strs("migrations", applied).Msg("migrations applied")
		}
		pg.Priorities = engineCfg.Priorities
		app.Store = pg
	}

	n, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if r, ok := n.(*notify.RedisNotifier); ok {
		app.closers = append(app.closers, func() { _ = r.Close() })
	}
	app.Notifier = n

	app.Engine = service.NewEngine(app.Store, app.Notifier, clock.Real(), engineCfg, logger)
	return app, nil
}

// newNotifier prefers the Redis queue, then the webhook, then the log.
func newNotifier(ctx context.Context, cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	switch {
	case cfg.RedisURL != "":
		r, err := notify.NewRedisNotifier(ctx, cfg.RedisURL, cfg.NotifyQueueKey, cfg.NotifyDedupeTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Str("queue", cfg.NotifyQueueKey).Msg("notifications go to redis")
		return r, nil
	case cfg.NotifyWebhookURL != "":
		logger.Info().Str("url", cfg.NotifyWebhookURL).Msg("notifications go to webhook")
		return notify.WebhookNotifier{URL: cfg.NotifyWebhookURL, Client: &http.Client{Timeout: cfg.RequestTimeout}}, nil
	default:
		return notify.LogNotifier{Logger: logger.With().Str("component", "notify").Logger()}, nil
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Migrate applies schema migrations when running on Postgres.
func (a *App) Migrate(ctx context.Context) ([]string, error) {
	pg, ok := a.Store.(*db.Store)
	if !ok {
		return nil, nil
	}
	return pg.Migrate(ctx)
}
