package markdone

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/validation"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/store"
)

const TaskType = "mark-done"

type Store interface {
	GetApplication(ctx context.Context, id string) (*models.JobApplication, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
}

type Handler struct {
	store  Store
	logger logger.Logger
}

func NewHandler(s Store, log logger.Logger) *Handler {
	return &Handler{
		store:  s,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle records that the candidate applied by hand. The application leaves
// the automatic pipeline whatever state it was in.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	res, err := validation.ValidateMessage(body, validation.MarkDoneSchema)
	if err != nil {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}
	if !res.Valid() {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "message failed validation",
			strings.Join(res.Messages(), "; "))
	}
	var msg models.MarkDoneMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "malformed message", err.Error())
	}

	app, err := h.store.GetApplication(ctx, msg.ID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NewNotFoundError("application", msg.ID)
	}
	if err != nil {
		return err
	}
	if app.Status == models.StatusManuallyApplied {
		return nil
	}

	if err := app.TransitionTo(models.StatusManuallyApplied); err != nil {
		return apperrors.NewInvalid(apperrors.ErrCodeInvalidMessage, "cannot mark application done", err.Error())
	}
	if err := h.store.UpdateStatus(ctx, app.ID, models.StatusManuallyApplied); err != nil {
		return err
	}
	h.logger.Info("application marked as manually applied", map[string]interface{}{
		"applicationId": app.ID,
	})
	return nil
}
