package main

import (
	"context"
	"fmt"

	"jobpilot-workers/internal/app"
	"jobpilot-workers/internal/common/broker"
	"jobpilot-workers/internal/common/config"
	"jobpilot-workers/internal/common/database"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
	"jobpilot-workers/internal/workers/pipeline/stage"
)

type stageRunner interface {
	RunStage(ctx context.Context, name string, scope stage.Scope) (pipeline.StageReport, error)
	Run(ctx context.Context, stopOnFailure bool) (pipeline.Report, error)
}

type coordinator interface {
	SubmitJob(ctx context.Context, payload models.JobPayload) (string, error)
	MarkDone(ctx context.Context, applicationID string) error
	Reprocess(ctx context.Context, applicationID, message string) error
}

type migrator interface {
	Up(ctx context.Context) error
	Version(ctx context.Context) (int64, error)
}

type versionSender interface {
	SendVersion(ctx context.Context, versionID string) error
}

// backend builds what a command needs on first use, so a command touching
// only the broker never opens the database.
type backend interface {
	Runner(ctx context.Context) (stageRunner, error)
	Coordinator(ctx context.Context) (coordinator, error)
	Migrator(ctx context.Context) (migrator, error)
	VersionSender(ctx context.Context) (versionSender, error)
	SetConfigFile(path string)
	Close() error
}

type liveBackend struct {
	configFile string
	cfg        *config.Config
	log        logger.Logger
	app        *app.App
	broker     *broker.Client
	pg         *database.PostgresClient
}

func newBackend() *liveBackend {
	return &liveBackend{}
}

func (b *liveBackend) SetConfigFile(path string) { b.configFile = path }

func (b *liveBackend) config() (*config.Config, error) {
	if b.cfg != nil {
		return b.cfg, nil
	}
	var err error
	if b.configFile != "" {
		b.cfg, err = config.LoadFromFile(b.configFile)
	} else {
		b.cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	b.log = logger.NewStructured(b.cfg.Logging.Level, b.cfg.Logging.Format, b.cfg.Logging.Output).
		WithFields(map[string]interface{}{"service": "pipeline"})
	return b.cfg, nil
}

func (b *liveBackend) application(ctx context.Context) (*app.App, error) {
	if b.app != nil {
		return b.app, nil
	}
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	if b.app, err = app.New(ctx, cfg, b.log); err != nil {
		return nil, err
	}
	return b.app, nil
}

func (b *liveBackend) Runner(ctx context.Context) (stageRunner, error) {
	a, err := b.application(ctx)
	if err != nil {
		return nil, err
	}
	return a.Runner, nil
}

func (b *liveBackend) VersionSender(ctx context.Context) (versionSender, error) {
	a, err := b.application(ctx)
	if err != nil {
		return nil, err
	}
	return a.Email, nil
}

func (b *liveBackend) Coordinator(ctx context.Context) (coordinator, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	if b.broker == nil {
		b.broker, err = broker.Dial(&broker.Config{
			URL:            cfg.Broker.URL,
			ConnectTimeout: config.GetDuration(cfg.Broker.ConnectTimeout),
			Exchange:       cfg.Broker.Exchange,
		})
		if err != nil {
			return nil, err
		}
	}
	q := cfg.Broker.Queues
	ch := b.broker.Channel()
	if err := broker.Declare(ch, cfg.Broker.Exchange, q.Intake, q.MarkDone, q.Reprocess); err != nil {
		return nil, err
	}
	return broker.NewCoordinator(
		broker.NewProducer(ch, cfg.Broker.Exchange, b.log),
		broker.Queues{Intake: q.Intake, MarkDone: q.MarkDone, Reprocess: q.Reprocess},
	), nil
}

// Migrator opens only Postgres; migrations must run before the stage
// workers are usable.
func (b *liveBackend) Migrator(ctx context.Context) (migrator, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, err
	}
	if b.pg == nil {
		if b.pg, err = database.NewPostgres(cfg.Database.Postgres); err != nil {
			return nil, err
		}
		if err := b.pg.Ping(ctx); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}
	return database.NewMigrator(b.pg.DB, b.log), nil
}

func (b *liveBackend) Close() error {
	var first error
	if b.broker != nil {
		first = b.broker.Close()
	}
	if b.app != nil {
		if err := b.app.Close(); err != nil && first == nil {
			first = err
		}
	}
	if b.pg != nil {
		if err := b.pg.Close(); err != nil && first == nil {
			first = err
		}
	}
	if b.log != nil {
		_ = b.log.Sync()
	}
	return first
}
