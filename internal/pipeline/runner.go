// Package pipeline runs the stage workers in order under named leases.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/metrics"
	"jobpilot-workers/internal/workers/pipeline/stage"
)

const PipelineLock = "pipeline:run"

// StageLock is the lease name held while one stage sweeps.
func StageLock(name string) string { return "stage:" + name }

// Locker is satisfied by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Config struct {
	PipelineTTL time.Duration
	StageTTL    time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		PipelineTTL: 1800 * time.Second,
		StageTTL:    600 * time.Second,
	}
}

// StageReport is what one stage did within a run.
type StageReport struct {
	Name    string
	Result  stage.Result
	Skipped bool
	Err     error
}

// Report aggregates a run. Skipped is set when the run's own lease was held
// elsewhere and nothing ran.
type Report struct {
	Skipped bool
	Stages  []StageReport
}

// Totals sums the per-stage counts.
func (r Report) Totals() stage.Result {
	total := stage.Result{Stage: "pipeline"}
	for _, s := range r.Stages {
		total.Add(s.Result)
	}
	return total
}

// Err joins stage-level and per-item errors.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, s.Err)
			continue
		}
		errs = append(errs, s.Result.Errors...)
	}
	return errors.Join(errs...)
}

type Runner struct {
	config *Config
	locker Locker
	stages []stage.Worker
	logger logger.Logger
}

// NewRunner keeps stages in the order given; that order is the run order.
func NewRunner(config *Config, locker Locker, log logger.Logger, stages ...stage.Worker) *Runner {
	return &Runner{
		config: config,
		locker: locker,
		stages: stages,
		logger: log.WithFields(map[string]interface{}{"component": "pipeline"}),
	}
}

// StageNames lists the stages in run order.
func (r *Runner) StageNames() []string {
	names := make([]string, len(r.stages))
	for i, w := range r.stages {
		names[i] = w.Name()
	}
	return names
}

func (r *Runner) stage(name string) (stage.Worker, error) {
	for _, w := range r.stages {
		if w.Name() == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("unknown stage %q", name)
}

// RunStage sweeps one stage under its lease. Contention is a skipped,
// successful report.
func (r *Runner) RunStage(ctx context.Context, name string, scope stage.Scope) (StageReport, error) {
	rep := StageReport{Name: name}
	w, err := r.stage(name)
	if err != nil {
		return rep, err
	}

	lockName := StageLock(name)
	ran, err := r.locker.WithLock(ctx, lockName, r.config.StageTTL, func(ctx context.Context) error {
		res, err := w.Run(ctx, scope)
		rep.Result = res
		return err
	})
	if !ran && err == nil {
		metrics.LockContention.WithLabelValues(lockName).Inc()
		rep.Skipped = true
		return rep, nil
	}
	rep.Err = err

	r.logger.Info("stage finished", map[string]interface{}{
		"stage":         name,
		"applicationId": scope.ApplicationID,
		"processed":     rep.Result.Processed,
		"failed":        rep.Result.Failed,
	})
	return rep, err
}

// Run sweeps every stage in order under the pipeline lease. Without
// stopOnFailure per-stage errors are collected in the report and the run
// goes on; with it the first failing item ends the run.
func (r *Runner) Run(ctx context.Context, stopOnFailure bool) (Report, error) {
	var report Report
	ran, err := r.locker.WithLock(ctx, PipelineLock, r.config.PipelineTTL, func(ctx context.Context) error {
		for _, w := range r.stages {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := r.RunStage(ctx, w.Name(), stage.Scope{StopOnError: stopOnFailure})
			report.Stages = append(report.Stages, rep)
			if err != nil && (stopOnFailure || ctx.Err() != nil) {
				return err
			}
		}
		return nil
	})
	if !ran && err == nil {
		metrics.LockContention.WithLabelValues(PipelineLock).Inc()
		report.Skipped = true
	}

	totals := report.Totals()
	r.logger.Info("pipeline run finished", map[string]interface{}{
		"skipped":       report.Skipped,
		"stopOnFailure": stopOnFailure,
		"processed":     totals.Processed,
		"failed":        totals.Failed,
	})
	return report, err
}

// ProcessApplication drives one application through every stage, stopping at
// its first failure. Stages whose lease is busy are skipped; the sweep that
// holds it picks the row up.
func (r *Runner) ProcessApplication(ctx context.Context, applicationID string) (Report, error) {
	var report Report
	for _, w := range r.stages {
		rep, err := r.RunStage(ctx, w.Name(), stage.ForApplication(applicationID))
		report.Stages = append(report.Stages, rep)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
