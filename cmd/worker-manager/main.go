// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobpilot-workers/internal/app"
	"jobpilot-workers/internal/common/broker"
	"jobpilot-workers/internal/common/config"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/metrics"
	"jobpilot-workers/internal/dedup"
	"jobpilot-workers/internal/scheduler"
	markdone "jobpilot-workers/internal/workers/intake/mark-done"
	processjob "jobpilot-workers/internal/workers/intake/process-job"
	reprocessjob "jobpilot-workers/internal/workers/intake/reprocess-job"
)

// ConsumerLock is the lease held by the one process allowed to consume.
const ConsumerLock = "consumer"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer log.Sync()
	log = log.WithFields(map[string]interface{}{"service": "worker-manager", "version": cfg.App.Version})
	log.Info("starting worker manager", nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed", nil)
		return 1
	}
	defer a.Close()

	client, err := broker.Dial(brokerConfig(cfg))
	if err != nil {
		log.WithError(err).Error("broker unavailable", map[string]interface{}{"url": redactURL(cfg.Broker.URL)})
		return 1
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("broker close failed", nil)
		}
	}()

	sched := scheduler.New(config.Seconds(cfg.Pipeline.PipelineLockTTL), log)
	if err := scheduleTasks(sched, cfg, a, log); err != nil {
		log.WithError(err).Error("scheduler setup failed", nil)
		return 1
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           newHealthMux(readinessChecks(a, client)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("health/metrics server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health/metrics server failed", nil)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	err = consume(ctx, cfg, a, client, log)
	if err != nil {
		log.WithError(err).Error("consumer stopped", nil)
		return 1
	}
	log.Info("worker manager stopped gracefully", nil)
	return 0
}

// consume holds the consumer lease for as long as the consumer runs. When
// another process holds it this one keeps serving health checks and the
// scheduler until shutdown.
func consume(ctx context.Context, cfg *config.Config, a *app.App, client *broker.Client, log logger.Logger) error {
	lease, ok, err := a.Locker.Acquire(ctx, ConsumerLock, config.Seconds(cfg.Pipeline.ConsumerLockTTL))
	if err != nil {
		return err
	}
	if !ok {
		log.Info("consumer lease held elsewhere, not consuming", map[string]interface{}{"lock": ConsumerLock})
		<-ctx.Done()
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.WithError(err).Warn("consumer lease release failed", nil)
		}
	}()

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		lease.KeepAlive(consumerCtx)
		cancel()
	}()

	consumer := broker.NewConsumer(client.Channel(), brokerConfig(cfg), cfg.App.Name, log)
	registerHandlers(consumer, cfg, a, log)

	if err := consumer.Run(consumerCtx); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return fmt.Errorf("consumer lease lost")
	}
	return nil
}

func registerHandlers(c *broker.Consumer, cfg *config.Config, a *app.App, log logger.Logger) {
	queues := cfg.Broker.Queues

	processCfg := processjob.DefaultConfig()
	if w, ok := cfg.Workers[processjob.TaskType]; ok && w.Timeout > 0 {
		processCfg.Timeout = config.GetDuration(w.Timeout)
	}
	c.Register(queues.Intake, processjob.NewHandler(processCfg, dedup.NewGate(a.Store, log), a.Store, a.Runner, a.HTTP, log))
	c.Register(queues.MarkDone, markdone.NewHandler(a.Store, log))

	reprocessCfg := reprocessjob.DefaultConfig()
	if w, ok := cfg.Workers[reprocessjob.TaskType]; ok && w.Timeout > 0 {
		reprocessCfg.Timeout = config.GetDuration(w.Timeout)
	}
	c.Register(queues.Reprocess, reprocessjob.NewHandler(reprocessCfg, a.Store, a.Runner, a.HTTP, log))
}

// scheduleTasks always refreshes the status gauge; pipeline sweeps run only
// when the scheduler is enabled.
func scheduleTasks(s *scheduler.Scheduler, cfg *config.Config, a *app.App, log logger.Logger) error {
	if err := s.Add("status-gauge", "@every 30s", func(ctx context.Context) error {
		counts, err := a.Store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		metrics.ApplicationsByStatus.Reset()
		for status, n := range counts {
			metrics.ApplicationsByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
		return nil
	}); err != nil {
		return err
	}

	if !cfg.Scheduler.Enabled {
		return nil
	}
	return s.Add("run-pipeline", cfg.Scheduler.Schedule, func(ctx context.Context) error {
		report, err := a.Runner.Run(ctx, false)
		if err != nil {
			return err
		}
		if report.Skipped {
			return nil
		}
		total := report.Totals()
		log.Info("scheduled pipeline run finished", map[string]interface{}{
			"processed": total.Processed,
			"failed":    total.Failed,
		})
		return nil
	})
}

func brokerConfig(cfg *config.Config) *broker.Config {
	return &broker.Config{
		URL:            cfg.Broker.URL,
		Prefetch:       cfg.Broker.Prefetch,
		ConnectTimeout: config.GetDuration(cfg.Broker.ConnectTimeout),
		Exchange:       cfg.Broker.Exchange,
	}
}
