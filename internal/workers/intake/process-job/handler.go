package processjob

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/validation"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/workers/intake"
)

const TaskType = "process-job"

type Handler struct {
	config   *Config
	gate     Gate
	store    Store
	pipeline intake.Pipeline
	callback *intake.Callback
	logger   logger.Logger
}

func NewHandler(config *Config, gate Gate, s Store, p intake.Pipeline, poster intake.Poster, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		gate:     gate,
		store:    s,
		pipeline: p,
		callback: intake.NewCallback(poster, config.CallbackTimeout, log),
		logger:   log,
	}
}

// Handle consumes one intake message: validate, dedup, then drive the new
// application through the stages.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	payload, err := decode(body)
	if err != nil {
		return err
	}

	h.logger.Info("processing job", map[string]interface{}{
		"jobId":    payload.JobID,
		"priority": payload.Priority,
	})

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	decision, err := h.gate.Process(ctx, *payload)
	if err != nil {
		return err
	}
	var driveErr error
	if decision.Accepted {
		driveErr = intake.Drive(ctx, h.pipeline, decision.ApplicationID, h.logger)
		if apperrors.IsRetryable(driveErr) {
			return driveErr
		}
	}

	// a failed application is reported before the error reaches the consumer
	if payload.CallbackURL != "" {
		app, err := h.store.GetApplication(ctx, decision.ApplicationID)
		if err != nil {
			h.logger.Warn("callback skipped, application unreadable", map[string]interface{}{
				"applicationId": decision.ApplicationID,
				"error":         err.Error(),
			})
			return driveErr
		}
		h.callback.Post(ctx, payload.CallbackURL, intake.Result(payload.JobID, app, !decision.Accepted))
	}
	return driveErr
}

// decode validates the body before it is bound to JobPayload.
func decode(body []byte) (*models.JobPayload, error) {
	res, err := validation.ValidateMessage(body, validation.IntakeSchema)
	if err != nil {
		return nil, apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}
	if !res.Valid() {
		for _, fe := range res.Errors {
			if fe.Field == "type" && fe.Code == "INVALID_ENUM_VALUE" {
				var typed struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(body, &typed)
				return nil, apperrors.NewInvalid(apperrors.ErrCodeUnknownJobType, "unknown job type", typed.Type)
			}
		}
		return nil, apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "message failed validation",
			strings.Join(res.Messages(), "; "))
	}

	var payload models.JobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}
	if payload.Type != models.JobTypeApplication {
		return nil, apperrors.NewInvalid(apperrors.ErrCodeUnknownJobType, "unknown job type", payload.Type)
	}
	return &payload, nil
}
