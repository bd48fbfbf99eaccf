// Package app wires configuration into the stores, clients and stage workers
// shared by the worker manager and the pipeline command.
package app

import (
	"context"
	"fmt"
	"time"

	"jobpilot-workers/internal/common/aws"
	"jobpilot-workers/internal/common/config"
	"jobpilot-workers/internal/common/database"
	apphttp "jobpilot-workers/internal/common/http"
	"jobpilot-workers/internal/common/lock"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/observability"
	"jobpilot-workers/internal/llm"
	"jobpilot-workers/internal/notify"
	"jobpilot-workers/internal/pipeline"
	"jobpilot-workers/internal/profile"
	"jobpilot-workers/internal/render"
	"jobpilot-workers/internal/search"
	"jobpilot-workers/internal/store"
	emailsend "jobpilot-workers/internal/workers/communication/email-send"
	extractjob "jobpilot-workers/internal/workers/pipeline/extract-job"
	generateapplication "jobpilot-workers/internal/workers/pipeline/generate-application"
	scorejob "jobpilot-workers/internal/workers/pipeline/score-job"
	"jobpilot-workers/internal/workers/pipeline/stage"
)

// App holds every long-lived dependency. Close releases them.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Postgres *database.PostgresClient
	Redis    *database.RedisClient
	Store    *store.Store
	Locker   *lock.Locker
	Notifier notify.Notifier
	Indexer  search.Indexer
	HTTP     *apphttp.Client
	Obs      *observability.Observability
	Runner   *pipeline.Runner
	Email    *emailsend.Handler

	closers []func() error
}

// New connects to Postgres and Redis, retrying with backoff, then builds the
// stage workers and the runner.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	var err error
	err = retryWithBackoff(ctx, func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		a.Postgres = pg
		return nil
	}, 10, 2*time.Second, log, "postgres connection")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Postgres.Close)

	a.Redis = database.NewRedis(cfg.Database.Redis)
	a.closers = append(a.closers, a.Redis.Close)
	if err := retryWithBackoff(ctx, func() error { return a.Redis.Ping(ctx) }, 10, 2*time.Second, log, "redis connection"); err != nil {
		a.Close()
		return nil, err
	}

	a.Store = store.New(a.Postgres.DB, log)
	a.Locker = lock.NewLocker(a.Redis.Client, log)
	a.Obs = observability.New(cfg.App.Name, log)
	a.HTTP = apphttp.NewClient(10*time.Second, apphttp.WithRetries(2, 500*time.Millisecond))

	if a.Notifier, err = newNotifier(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	if a.Indexer, err = newIndexer(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	sender, err := newSender(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildStages(sender); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildStages(sender emailsend.Sender) error {
	cfg, log := a.Config, a.Logger

	gen := llm.NewClient(llm.Config{
		BaseURL:           cfg.APIs.LLM.BaseURL,
		APIKey:            cfg.APIs.LLM.APIKey,
		Model:             cfg.APIs.LLM.Model,
		VisionModel:       cfg.APIs.LLM.VisionModel,
		Timeout:           config.GetDuration(cfg.APIs.LLM.Timeout),
		MaxRetries:        cfg.APIs.LLM.MaxRetries,
		RequestsPerMinute: cfg.APIs.LLM.RequestsPerMin,
	}, log).WithRecorder(a.Obs)

	profiles := profile.NewService(a.Store, a.Redis.Client, config.Seconds(cfg.Pipeline.ProfileCacheTTL), log)
	renderer := render.NewPDFRenderer(render.Config{
		TemplateDir: cfg.Render.TemplateDir,
		OutputDir:   cfg.Render.OutputDir,
		Timeout:     config.GetDuration(cfg.Render.Timeout),
	}, render.NewPlaywrightConverter(), log)
	failures := stage.NewFailures(a.Store, a.Notifier, log)

	extractCfg := extractjob.DefaultConfig()
	extractCfg.BatchSize = cfg.Pipeline.BatchSize
	extractCfg.Timeout = stageTimeout(cfg, extractjob.TaskType, extractCfg.Timeout)

	scoreCfg := scorejob.DefaultConfig()
	scoreCfg.BatchSize = cfg.Pipeline.BatchSize
	scoreCfg.Threshold = cfg.Pipeline.ScoreThreshold
	scoreCfg.Timeout = stageTimeout(cfg, scorejob.TaskType, scoreCfg.Timeout)

	genCfg := generateapplication.DefaultConfig()
	genCfg.BatchSize = cfg.Pipeline.BatchSize
	genCfg.Threshold = cfg.Pipeline.ScoreThreshold
	genCfg.TemplateRef = cfg.Pipeline.TemplateRef
	genCfg.Timeout = stageTimeout(cfg, generateapplication.TaskType, genCfg.Timeout)

	emailCfg := EmailConfig(cfg)
	emailCfg.Timeout = stageTimeout(cfg, emailsend.TaskType, emailCfg.Timeout)

	a.Email = emailsend.NewHandler(emailCfg, a.Store, sender, a.Notifier, failures, log)

	stages := []stage.Worker{
		extractjob.NewHandler(extractCfg, a.Store, gen, a.Indexer, failures, log),
		scorejob.NewHandler(scoreCfg, a.Store, profiles, gen, failures, log),
		generateapplication.NewHandler(genCfg, a.Store, profiles, gen, renderer, failures, log),
		a.Email,
	}
	var enabled []stage.Worker
	for _, s := range stages {
		if config.IsWorkerEnabled(cfg, s.Name()) {
			enabled = append(enabled, s)
		} else {
			log.Info("stage disabled", map[string]interface{}{"stage": s.Name()})
		}
	}
	if len(enabled) == 0 {
		return fmt.Errorf("all stages are disabled")
	}

	a.Runner = pipeline.NewRunner(&pipeline.Config{
		PipelineTTL: config.Seconds(cfg.Pipeline.PipelineLockTTL),
		StageTTL:    config.Seconds(cfg.Pipeline.StageLockTTL),
	}, a.Locker, log, enabled...)
	return nil
}

// EmailConfig maps the SMTP and SES settings onto the email stage config.
func EmailConfig(cfg *config.Config) *emailsend.Config {
	c := emailsend.DefaultConfig()
	c.BatchSize = cfg.Pipeline.BatchSize
	smtp := cfg.Integrations.SMTP
	c.From = smtp.DefaultFrom
	if cfg.Integrations.AWS.SES.Enabled && cfg.Integrations.AWS.SES.FromEmail != "" {
		c.From = cfg.Integrations.AWS.SES.FromEmail
	}
	c.SMTPHost = smtp.Host
	if smtp.Port != 0 {
		c.SMTPPort = smtp.Port
	}
	c.SMTPUsername = smtp.Username
	c.SMTPPassword = smtp.Password
	c.UseTLS = smtp.UseTLS
	return c
}

func stageTimeout(cfg *config.Config, name string, fallback time.Duration) time.Duration {
	if w, ok := cfg.Workers[name]; ok && w.Timeout > 0 {
		return config.GetDuration(w.Timeout)
	}
	return fallback
}

func newSender(ctx context.Context, cfg *config.Config, log logger.Logger) (emailsend.Sender, error) {
	if cfg.Integrations.AWS.SES.Enabled {
		client, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			return nil, err
		}
		return emailsend.NewSESSender(client, log), nil
	}
	c := EmailConfig(cfg)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("email config: %w", err)
	}
	return emailsend.NewSMTPSender(c, log), nil
}

func newNotifier(ctx context.Context, cfg *config.Config, log logger.Logger) (notify.Notifier, error) {
	sns := cfg.Integrations.AWS.SNS
	if !sns.Enabled {
		return notify.Noop{}, nil
	}
	client, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
	if err != nil {
		return nil, err
	}
	return notify.NewSNSNotifier(client, sns.TopicARN, log), nil
}

func newIndexer(cfg *config.Config, log logger.Logger) (search.Indexer, error) {
	if !cfg.Database.Elasticsearch.Enabled() {
		return search.Noop{}, nil
	}
	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		return nil, err
	}
	return search.NewESIndexer(es.Client, cfg.Database.Elasticsearch.Index, log), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if a.Obs != nil {
		a.Obs.Shutdown()
	}
	return first
}

// retryWithBackoff attempts operation up to maxRetries times, doubling the
// delay between attempts.
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		log.Warn(operationName+" failed, retrying", map[string]interface{}{
			"error":       err.Error(),
			"attempt":     i + 1,
			"maxRetries":  maxRetries,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
