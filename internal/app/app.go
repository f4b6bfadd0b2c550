// Package app wires configuration into the running engine. Both binaries
// build their services through it so the HTTP server and the worker share
// one set of stores, locks and senders.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/controller"
	"github.com/unclebandit/outreach-dispatch/internal/db"
	"github.com/unclebandit/outreach-dispatch/internal/eventlog"
	"github.com/unclebandit/outreach-dispatch/internal/handler"
	"github.com/unclebandit/outreach-dispatch/internal/lock"
	"github.com/unclebandit/outreach-dispatch/internal/mailer"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/render"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

type App struct {
	Config     config.Config
	Campaigns  *service.CampaignService
	Dispatcher *service.Dispatcher
	Planner    *service.ResendPlanner
	Streamer   *service.Streamer
	Logbook    *eventlog.Logbook
	Log        zerolog.Logger

	closers []func() error
}

// Build connects the configured backends. Without a database DSN every
// repository is served from memory, which is enough for local runs and demos.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	var (
		campaigns  repository.CampaignRepositoryInterface
		recipients repository.RecipientRepositoryInterface
		logs       repository.LogRepositoryInterface
	)
	if dsn := cfg.DSN(); dsn != "" {
		conn, err := db.Open(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		campaigns, recipients, logs = postgresRepos(conn)
	} else {
		log.Warn().Msg("no database configured, using in-memory store")
		store := repository.NewMemoryStore()
		campaigns, recipients, logs = store, store, store
	}

	book := eventlog.NewLogbook(logs, queue.NewInMemoryQueue(log), log)
	if cfg.AMQPURL != "" {
		pub, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		book.Mirror = pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("mirroring campaign logs to amqp")
	}

	locker, err := lock.NewFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	sender, err := mailer.NewFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Logbook = book
	a.Dispatcher = &service.Dispatcher{
		Campaigns:   campaigns,
		Recipients:  recipients,
		Logbook:     book,
		Renderer:    render.PlaceholderRenderer{},
		Sender:      sender,
		Locker:      locker,
		ClaimTTL:    cfg.ClaimTTL,
		SendTimeout: cfg.SendTimeout,
		Log:         log,
	}
	a.Planner = &service.ResendPlanner{
		Campaigns:      campaigns,
		Recipients:     recipients,
		Logbook:        book,
		Dispatcher:     a.Dispatcher,
		Locker:         locker,
		ChunkSize:      cfg.ResendChunkSize,
		ChildBatchSize: cfg.ChildBatchSize,
		Log:            log,
	}
	a.Campaigns = &service.CampaignService{
		CampaignRepo:  campaigns,
		RecipientRepo: recipients,
		Logbook:       book,
		ChunkSize:     cfg.ResendChunkSize,
		Log:           log,
	}
	a.Streamer = &service.Streamer{
		Campaigns:  campaigns,
		Logbook:    book,
		Dispatcher: a.Dispatcher,
		Planner:    a.Planner,
	}

	log.Info().Str("config", cfg.String()).Msg("engine ready")
	return a, nil
}

func postgresRepos(conn *sql.DB) (repository.CampaignRepositoryInterface, repository.RecipientRepositoryInterface, repository.LogRepositoryInterface) {
	return &repository.CampaignRepository{DB: conn},
		&repository.RecipientRepository{DB: conn},
		&repository.LogRepository{DB: conn}
}

// Router returns the HTTP surface over the built services.
func (a *App) Router() http.Handler {
	return handler.NewRouter(
		&controller.CampaignController{
			CampaignService:  a.Campaigns,
			Dispatcher:       a.Dispatcher,
			Planner:          a.Planner,
			Validate:         controller.NewValidator(),
			DefaultBatchSize: a.Config.BatchSize,
			Log:              a.Log,
		},
		&handler.LogHandler{
			Service:          a.Campaigns,
			Streamer:         a.Streamer,
			DefaultBatchSize: a.Config.BatchSize,
			Log:              a.Log,
		},
		a.Log,
	)
}

func (a *App) Scheduler() *service.Scheduler {
	return &service.Scheduler{
		Campaigns:        a.Dispatcher.Campaigns,
		Dispatcher:       a.Dispatcher,
		Planner:          a.Planner,
		DispatchInterval: a.Config.DispatchInterval,
		ResendInterval:   a.Config.ResendInterval,
		BatchSize:        a.Config.BatchSize,
		Log:              a.Log,
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
