package reprocessjob

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/validation"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/store"
	"jobpilot-workers/internal/workers/intake"

	"github.com/google/uuid"
)

const TaskType = "reprocess-job"

type Config struct {
	Timeout         time.Duration
	CallbackTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Minute,
		CallbackTimeout: 10 * time.Second,
	}
}

type Store interface {
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	LatestExtraction(ctx context.Context, applicationID string) (*models.JobExtraction, error)
	Reprocess(ctx context.Context, e *models.JobExtraction) error
}

type Handler struct {
	config   *Config
	store    Store
	pipeline intake.Pipeline
	callback *intake.Callback
	logger   logger.Logger
}

func NewHandler(config *Config, s Store, p intake.Pipeline, poster intake.Poster, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		store:    s,
		pipeline: p,
		callback: intake.NewCallback(poster, config.CallbackTimeout, log),
		logger:   log,
	}
}

// Handle starts a new extraction version carrying the candidate's message,
// resets the application to pending and runs the stages again.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	res, err := validation.ValidateMessage(body, validation.ReprocessSchema)
	if err != nil {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}
	if !res.Valid() {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "message failed validation",
			strings.Join(res.Messages(), "; "))
	}
	var msg models.ReprocessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	app, err := h.store.GetApplication(ctx, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NewNotFoundError("application", msg.ID)
	}
	if err != nil {
		return err
	}

	payload, err := h.basePayload(ctx, app)
	if err != nil {
		return err
	}
	e := &models.JobExtraction{
		ID:               uuid.NewString(),
		JobApplicationID: app.ID,
		Payload:          payload,
		ExtraInformation: strings.TrimSpace(msg.Message),
	}
	if err := h.store.Reprocess(ctx, e); err != nil {
		return err
	}
	h.logger.Info("application reset for reprocessing", map[string]interface{}{
		"applicationId":  app.ID,
		"previousStatus": string(app.Status),
		"version":        e.VersionNumber,
	})

	driveErr := intake.Drive(ctx, h.pipeline, app.ID, h.logger)
	if apperrors.IsRetryable(driveErr) {
		return driveErr
	}

	if app.CallbackURL != "" {
		if updated, err := h.store.GetApplication(ctx, app.ID); err == nil {
			h.callback.Post(ctx, app.CallbackURL, intake.Result("", updated, false))
		}
	}
	return driveErr
}

// basePayload copies the latest extraction payload without its language tag
// so the new version counts as pending. Applications never extracted start
// from the intake job data.
func (h *Handler) basePayload(ctx context.Context, app *models.JobApplication) (map[string]interface{}, error) {
	src := app.JobData()
	latest, err := h.store.LatestExtraction(ctx, app.ID)
	switch {
	case err == nil && latest.Payload != nil:
		src = latest.Payload
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	payload := make(map[string]interface{}, len(src))
	for k, v := range src {
		payload[k] = v
	}
	delete(payload, models.PayloadKeyLanguage)
	return payload, nil
}
