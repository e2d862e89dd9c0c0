package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"reserva/internal/audit"
	"reserva/internal/availability"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/events"
	"reserva/internal/queue"
	"reserva/internal/session"
	"reserva/internal/submission"
	"reserva/internal/webhook"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger

	db      *database.DB
	rdb     *redis.Client
	client  *webhook.Client
	avail   *availability.Store
	queue   *queue.Queue
	bus     *events.EventBus
	journal *audit.Journal
}

func newApp(cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		queue:  queue.New(db, logger),
		bus:    events.NewEventBus(),
		avail:  newAvailabilityStore(cfg, logger),
	}
	a.journal = audit.NewJournal(db, logger)
	a.journal.Attach(a.bus)
	a.bus.OnError(func(e events.Event, err error) {
		logger.Error().Err(err).Str("event", e.Type).Str("form_id", e.Record.FormID).Msg("event handler failed")
	})

	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	a.client = newWebhookClient(cfg, a.rdb)
	return a, nil
}

func newAvailabilityStore(cfg *config.Config, logger *zerolog.Logger) *availability.Store {
	return availability.NewStore(logger,
		availability.WithLocation(cfg.Location()),
		availability.WithCutoffHour(cfg.CutoffHour()))
}

// newWebhookClient returns nil when no backend is configured.
func newWebhookClient(cfg *config.Config, rdb *redis.Client) *webhook.Client {
	if cfg.Webhook.BaseURL == "" {
		return nil
	}
	client := webhook.NewClient(cfg.Webhook.BaseURL, cfg.Webhook.APIKey, webhook.Endpoints{
		Config: cfg.Webhook.ConfigPath,
		Panel:  cfg.Webhook.PanelPath,
		Submit: cfg.Webhook.SubmitPath,
		Health: cfg.Webhook.HealthPath,
	}, cfg.WebhookTimeout())
	if rdb != nil && cfg.Webhook.CacheTTLSeconds > 0 {
		client.UseRedisCache(rdb, time.Duration(cfg.Webhook.CacheTTLSeconds)*time.Second)
	}
	return client
}

// availabilityLoader prefers the local file over the backend.
func availabilityLoader(cfg *config.Config, client *webhook.Client) availability.Loader {
	if cfg.Availability.File != "" {
		return availability.FileLoader{Path: cfg.Availability.File}
	}
	if client == nil {
		return availability.LoaderFunc(func(context.Context) (*availability.Config, error) {
			return nil, errors.New("no availability source configured")
		})
	}
	return client
}

func (a *app) pipeline(conn submission.Connectivity) (*submission.Pipeline, error) {
	if a.client == nil {
		return nil, errors.New("webhook.base_url is required to deliver reservations")
	}
	return submission.NewPipeline(a.client, a.queue, conn, a.bus, submission.Options{
		ResetDelay: a.cfg.ResetDelay(),
		ReplayRate: a.cfg.ReplayRate(),
	}, a.logger), nil
}

// sessionStore keeps wizards in redis when configured, with an in-memory
// fallback while redis is down.
func (a *app) sessionStore() session.Store {
	mem := session.NewMemoryStore()
	if a.rdb == nil {
		return mem
	}
	primary := session.NewRedisStore(a.rdb, a.cfg.Redis.KeyPrefix, a.cfg.SessionTTL())
	return session.NewFailoverStore(primary, mem, a.logger)
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close database")
	}
}
