// internal/workers/pipeline/extract-job/handler.go
package extractjob

import (
	"context"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/llm"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/search"
	"jobpilot-workers/internal/workers/pipeline/stage"
)

const TaskType = "extract-job"

type Handler struct {
	config   *Config
	store    Store
	llm      llm.Generator
	indexer  search.Indexer
	failures *stage.Failures
	logger   logger.Logger
}

func NewHandler(config *Config, s Store, gen llm.Generator, indexer search.Indexer, failures *stage.Failures, log logger.Logger) *Handler {
	if indexer == nil {
		indexer = search.Noop{}
	}
	return &Handler{
		config:   config,
		store:    s,
		llm:      gen,
		indexer:  indexer,
		failures: failures,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Name() string { return TaskType }

// Run enriches every pending extraction version in scope.
func (h *Handler) Run(ctx context.Context, scope stage.Scope) (stage.Result, error) {
	limit := scope.Limit
	if limit <= 0 {
		limit = h.config.BatchSize
	}
	pending, err := h.store.ListPendingExtractions(ctx, scope.ApplicationID, limit)
	if err != nil {
		return stage.Result{Stage: TaskType}, err
	}

	byID := make(map[string]*models.JobExtraction, len(pending))
	items := make([]stage.Item, 0, len(pending))
	for _, e := range pending {
		byID[e.ID] = e
		items = append(items, stage.Item{ID: e.ID, ApplicationID: e.JobApplicationID})
	}

	return stage.Each(ctx, TaskType, scope, items, h.logger, func(ctx context.Context, it stage.Item) error {
		err := h.execute(ctx, byID[it.ID])
		return h.failures.Record(ctx, TaskType, it.ApplicationID, err)
	})
}

func (h *Handler) execute(ctx context.Context, e *models.JobExtraction) error {
	if !e.IsPending() {
		return nil
	}
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	app, err := h.store.GetApplication(ctx, e.JobApplicationID)
	if err != nil {
		return err
	}
	if app.Status == models.StatusPending {
		if err := app.TransitionTo(models.StatusProcessing); err != nil {
			return err
		}
		if err := h.store.UpdateStatus(ctx, app.ID, app.Status); err != nil {
			return err
		}
	}

	payload := clonePayload(e.Payload)
	if payload == nil {
		payload = clonePayload(app.JobData())
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	imageText, err := h.readImage(ctx, e, payload)
	if err != nil {
		return err
	}

	description := strings.TrimSpace(stringField(payload, "description"))
	if description == "" {
		description = strings.TrimSpace(app.Description)
	}
	if imageText != "" {
		description = strings.TrimSpace(description + imageTextSeparator + imageText)
	}
	if description == "" {
		description = NoDescription
	}

	prompt := ExtractionPrompt{
		Title:            stringField(payload, "title"),
		Company:          stringField(payload, "company"),
		Link:             firstString(payload, "link", "url"),
		Description:      description,
		ExtraInformation: e.ExtraInformation,
		Raw:              app.JobData(),
	}
	text, err := h.llm.TextGenerate(ctx, prompt.String(), nil)
	if err != nil {
		return err
	}

	var result models.ExtractionResult
	if err := llm.ExtractJSON(text, &result); err != nil {
		return err
	}
	if result.Language == "" {
		h.logger.Warn("extraction returned no language", map[string]interface{}{"extractionId": e.ID})
	}
	result.Language = normalizeLanguage(result.Language)
	if result.Description == "" {
		result.Description = description
	}

	payload = result.MergeInto(payload)
	app.ApplyExtraction(result)
	target := models.StatusClassified
	if !result.Relevant() {
		target = models.StatusRejected
	}
	if models.CanTransition(app.Status, target) {
		app.Status = target
	}
	if err := h.store.SaveExtraction(ctx, e.ID, payload, app); err != nil {
		return err
	}

	h.logger.Info("extraction stored", map[string]interface{}{
		"applicationId": app.ID,
		"extractionId":  e.ID,
		"version":       e.VersionNumber,
		"language":      result.Language,
		"status":        string(app.Status),
	})

	if app.Status == models.StatusClassified {
		if err := h.indexer.IndexPosting(ctx, app); err != nil {
			h.logger.Warn("search indexing failed", map[string]interface{}{
				"applicationId": app.ID,
				"error":         err.Error(),
			})
		}
	}
	return nil
}

// readImage removes the image blob from payload and returns its OCR text.
// An unusable image is dropped with a warning; OCR failures are returned.
func (h *Handler) readImage(ctx context.Context, e *models.JobExtraction, payload map[string]interface{}) (string, error) {
	raw := stringField(payload, models.PayloadKeyImage)
	delete(payload, models.PayloadKeyImage)
	if raw == "" {
		return "", nil
	}

	img, err := normalizeImage(raw, h.config.MinImageBytes, h.config.MaxImageBytes)
	if err != nil {
		h.logger.Warn("dropping unusable image", map[string]interface{}{
			"extractionId": e.ID,
			"code":         string(apperrors.CodeOf(err)),
			"error":        err.Error(),
		})
		return "", nil
	}

	text, err := h.llm.TextGenerate(ctx, ocrPrompt, []string{img})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	payload[models.PayloadKeyImageText] = text
	return text, nil
}

func clonePayload(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}
