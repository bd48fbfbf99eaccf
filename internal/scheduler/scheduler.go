// Package scheduler triggers batch pipeline runs on cron schedules inside the
// long-running worker process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobpilot-workers/internal/common/logger"

	"github.com/robfig/cron/v3"
)

// TaskFunc is one scheduled run.
type TaskFunc func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	logger  logger.Logger
	timeout time.Duration
	mu      sync.Mutex
	tasks   map[string]cron.EntryID
	base    context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler. timeout bounds a single task run. Overlapping runs
// of the same task are skipped.
func New(timeout time.Duration, log logger.Logger) *Scheduler {
	log = log.WithFields(map[string]interface{}{"component": "scheduler"})
	adapter := cronLogger{log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger:  log,
		timeout: timeout,
		tasks:   make(map[string]cron.EntryID),
		base:    ctx,
		cancel:  cancel,
	}
}

// Add registers or replaces the task called name. schedule accepts standard
// five-field expressions and descriptors such as "@every 1m".
func (s *Scheduler) Add(name, schedule string, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tasks[name]; ok {
		s.cron.Remove(id)
		delete(s.tasks, name)
	}
	id, err := s.cron.AddFunc(schedule, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.tasks[name] = id
	s.logger.Info("task scheduled", map[string]interface{}{"task": name, "schedule": schedule})
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped", nil)
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", nil)
	}
}

// Next reports when name runs next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) run(name string, task TaskFunc) {
	ctx := s.base
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := task(ctx)
	fields := map[string]interface{}{"task": name, "duration": time.Since(start).String()}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("scheduled task failed", fields)
		return
	}
	s.logger.Debug("scheduled task finished", fields)
}

type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, pairs(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).Error(msg, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
