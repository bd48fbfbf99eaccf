// Package intake holds what the three queue handlers share.
package intake

import (
	"context"
	"errors"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
)

// Pipeline is satisfied by pipeline.Runner.
type Pipeline interface {
	ProcessApplication(ctx context.Context, applicationID string) (pipeline.Report, error)
}

// Poster is satisfied by the shared http client.
type Poster interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, in, out interface{}) error
}

// Drive runs the stages for one application and returns the first stage
// error. Invalid and fatal errors were already recorded on the application;
// they are still returned so the delivery is not acked.
func Drive(ctx context.Context, p Pipeline, applicationID string, log logger.Logger) error {
	report, err := p.ProcessApplication(ctx, applicationID)
	if err == nil {
		return nil
	}
	totals := report.Totals()
	log.Warn("application stopped in pipeline", map[string]interface{}{
		"applicationId": applicationID,
		"processed":     totals.Processed,
		"kind":          apperrors.KindOf(err).String(),
		"error":         err.Error(),
	})
	return err
}

// Callback posts the application outcome to url. Failures are logged only.
type Callback struct {
	poster  Poster
	timeout time.Duration
	logger  logger.Logger
}

func NewCallback(poster Poster, timeout time.Duration, log logger.Logger) *Callback {
	return &Callback{poster: poster, timeout: timeout, logger: log}
}

func (c *Callback) Post(ctx context.Context, url string, result models.ApplicationResult) {
	if c == nil || c.poster == nil || url == "" {
		return
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.poster.PostJSON(ctx, url, nil, result, nil)
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"applicationId": result.ApplicationID,
		"callbackUrl":   url,
		"error":         err.Error(),
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fields["timeout"] = c.timeout.String()
	}
	c.logger.Warn("callback failed", fields)
}

// Result builds the callback body from the stored application.
func Result(jobID string, app *models.JobApplication, duplicate bool) models.ApplicationResult {
	return models.ApplicationResult{
		JobID:         jobID,
		ApplicationID: app.ID,
		Status:        app.Status,
		MatchScore:    app.MatchScore,
		Duplicate:     duplicate,
	}
}
