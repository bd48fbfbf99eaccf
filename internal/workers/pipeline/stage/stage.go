// Package stage holds what the four pipeline stage workers share: the sweep
// scope, the per-item loop and failure recording.
package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/metrics"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/notify"
)

// Scope narrows a sweep. An empty ApplicationID means every pending row.
type Scope struct {
	ApplicationID string
	Limit         int
	StopOnError   bool
}

// ForApplication is the scope used by the queue path: one application,
// first error returned.
func ForApplication(id string) Scope {
	return Scope{ApplicationID: id, StopOnError: true}
}

// Result counts what one stage sweep did.
type Result struct {
	Stage     string
	Processed int
	Failed    int
	Errors    []error
}

func (r *Result) Add(o Result) {
	r.Processed += o.Processed
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// Err joins the per-item errors, nil when none failed.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Worker is one pipeline stage.
type Worker interface {
	Name() string
	Run(ctx context.Context, scope Scope) (Result, error)
}

// ItemError ties a per-item failure to the row it happened on.
type ItemError struct {
	Stage         string
	ApplicationID string
	ItemID        string
	Err           error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s (application %s): %v", e.Stage, e.ItemID, e.ApplicationID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Item is one row picked by a sweep.
type Item struct {
	ID            string
	ApplicationID string
}

// Each runs fn for every item in order. Per-item errors are counted and
// logged; the loop stops on the first one only when scope.StopOnError is
// set, or when ctx is done.
func Each(ctx context.Context, name string, scope Scope, items []Item, log logger.Logger, fn func(ctx context.Context, it Item) error) (Result, error) {
	res := Result{Stage: name}
	metrics.StageRunsActive.WithLabelValues(name).Inc()
	defer metrics.StageRunsActive.WithLabelValues(name).Dec()

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		started := time.Now()
		err := fn(ctx, it)
		metrics.StageItemDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

		if err == nil {
			res.Processed++
			metrics.StageItemsProcessed.WithLabelValues(name).Inc()
			continue
		}

		res.Failed++
		itemErr := &ItemError{Stage: name, ApplicationID: it.ApplicationID, ItemID: it.ID, Err: err}
		res.Errors = append(res.Errors, itemErr)
		metrics.StageItemsFailed.WithLabelValues(name, string(apperrors.CodeOf(err))).Inc()
		log.Error("stage item failed", map[string]interface{}{
			"stage":         name,
			"applicationId": it.ApplicationID,
			"itemId":        it.ID,
			"kind":          apperrors.KindOf(err).String(),
			"error":         err.Error(),
		})
		if scope.StopOnError {
			return res, itemErr
		}
	}
	return res, nil
}

// FailureStore is the write needed to record a failed application.
type FailureStore interface {
	MarkFailed(ctx context.Context, id, message, trace string) error
}

// Failures moves applications to failed for invalid and fatal errors.
// Retryable errors leave the row untouched so the next sweep picks it up.
type Failures struct {
	store    FailureStore
	notifier notify.Notifier
	logger   logger.Logger
}

func NewFailures(s FailureStore, n notify.Notifier, log logger.Logger) *Failures {
	if n == nil {
		n = notify.Noop{}
	}
	return &Failures{store: s, notifier: n, logger: log}
}

// Record returns err unchanged after persisting it when it is not retryable.
func (f *Failures) Record(ctx context.Context, stageName, applicationID string, err error) error {
	if err == nil || applicationID == "" {
		return err
	}
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindRetryable {
		f.logger.Warn("retryable stage error, leaving state", map[string]interface{}{
			"stage":         stageName,
			"applicationId": applicationID,
			"code":          string(apperrors.CodeOf(err)),
			"error":         err.Error(),
		})
		return err
	}

	trace := fmt.Sprintf("stage=%s kind=%s code=%s\n%+v\n\n%s",
		stageName, kind, apperrors.CodeOf(err), err, debug.Stack())
	if markErr := f.store.MarkFailed(ctx, applicationID, err.Error(), trace); markErr != nil {
		f.logger.Error("could not mark application failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         markErr.Error(),
		})
		return err
	}

	notify.BestEffort(ctx, f.notifier, f.logger, models.Notification{
		ApplicationID: applicationID,
		Status:        models.StatusFailed,
		Error:         err.Error(),
	})
	return err
}
