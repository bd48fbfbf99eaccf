// internal/workers/pipeline/score-job/handler.go
package scorejob

import (
	"context"
	"encoding/json"
	"math"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/llm"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/workers/pipeline/stage"

	"github.com/google/uuid"
)

const TaskType = "score-job"

type Handler struct {
	config   *Config
	store    Store
	profiles ProfileSource
	llm      llm.Generator
	failures *stage.Failures
	logger   logger.Logger
}

func NewHandler(config *Config, s Store, profiles ProfileSource, gen llm.Generator, failures *stage.Failures, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		store:    s,
		profiles: profiles,
		llm:      gen,
		failures: failures,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Name() string { return TaskType }

// Run scores every ready extraction version that has no scoring yet.
func (h *Handler) Run(ctx context.Context, scope stage.Scope) (stage.Result, error) {
	limit := scope.Limit
	if limit <= 0 {
		limit = h.config.BatchSize
	}
	rows, err := h.store.ListUnscoredExtractions(ctx, scope.ApplicationID, limit)
	if err != nil {
		return stage.Result{Stage: TaskType}, err
	}

	byID := make(map[string]*models.JobExtraction, len(rows))
	items := make([]stage.Item, 0, len(rows))
	for _, e := range rows {
		byID[e.ID] = e
		items = append(items, stage.Item{ID: e.ID, ApplicationID: e.JobApplicationID})
	}

	return stage.Each(ctx, TaskType, scope, items, h.logger, func(ctx context.Context, it stage.Item) error {
		err := h.execute(ctx, byID[it.ID])
		return h.failures.Record(ctx, TaskType, it.ApplicationID, err)
	})
}

func (h *Handler) execute(ctx context.Context, e *models.JobExtraction) error {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	app, err := h.store.GetApplication(ctx, e.JobApplicationID)
	if err != nil {
		return err
	}
	p, err := h.profiles.Current(ctx)
	if err != nil {
		return err
	}

	prompt := ScoringPrompt{Posting: e.Payload, ExtraInformation: e.ExtraInformation, Profile: p}
	text, err := h.llm.TextGenerate(ctx, prompt.String(), nil)
	if err != nil {
		return err
	}
	result, err := parseScoring(text)
	if err != nil {
		return err
	}

	scoring := &models.JobScoring{
		ID:               uuid.NewString(),
		JobApplicationID: app.ID,
		JobExtractionID:  e.ID,
		Score:            result.Score,
		Payload:          result,
	}
	target := models.StatusScored
	if result.BelowThreshold(h.config.Threshold) {
		target = models.StatusRejected
	}
	if !models.CanTransition(app.Status, target) {
		h.logger.Warn("keeping status after scoring", map[string]interface{}{
			"applicationId": app.ID,
			"status":        string(app.Status),
			"wanted":        string(target),
		})
		target = app.Status
	}
	if err := h.store.RecordScoring(ctx, scoring, result.Justification, target); err != nil {
		return err
	}

	h.logger.Info("posting scored", map[string]interface{}{
		"applicationId": app.ID,
		"extractionId":  e.ID,
		"score":         result.Score,
		"threshold":     h.config.Threshold,
		"status":        string(target),
	})
	return nil
}

// parseScoring applies the shared JSON policy, validates the document and
// rounds fractional scores.
func parseScoring(text string) (models.ScoringResult, error) {
	var result models.ScoringResult

	doc, err := llm.ExtractObject(text)
	if err != nil {
		return result, err
	}
	if err := llm.Validate(responseSchema, doc); err != nil {
		return result, err
	}
	doc["score"] = math.Round(doc["score"].(float64))

	b, err := json.Marshal(doc)
	if err != nil {
		return result, apperrors.NewMalformedResponseError(err.Error())
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, apperrors.NewMalformedResponseError(err.Error())
	}
	return result, nil
}
