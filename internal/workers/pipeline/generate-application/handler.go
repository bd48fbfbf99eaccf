// internal/workers/pipeline/generate-application/handler.go
package generateapplication

import (
	"context"
	"errors"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/llm"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/render"
	"jobpilot-workers/internal/store"
	"jobpilot-workers/internal/workers/pipeline/stage"

	"github.com/google/uuid"
)

const TaskType = "generate-application"

type Handler struct {
	config   *Config
	store    Store
	profiles ProfileSource
	llm      llm.Generator
	renderer render.Renderer
	failures *stage.Failures
	logger   logger.Logger
}

func NewHandler(config *Config, s Store, profiles ProfileSource, gen llm.Generator, renderer render.Renderer, failures *stage.Failures, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		store:    s,
		profiles: profiles,
		llm:      gen,
		renderer: renderer,
		failures: failures,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Name() string { return TaskType }

// Run fills in the application materials of every qualifying application.
func (h *Handler) Run(ctx context.Context, scope stage.Scope) (stage.Result, error) {
	limit := scope.Limit
	if limit <= 0 {
		limit = h.config.BatchSize
	}
	ids, err := h.store.ListGenerationCandidates(ctx, scope.ApplicationID, h.config.Threshold, limit)
	if err != nil {
		return stage.Result{Stage: TaskType}, err
	}

	items := make([]stage.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, stage.Item{ID: id, ApplicationID: id})
	}
	return stage.Each(ctx, TaskType, scope, items, h.logger, func(ctx context.Context, it stage.Item) error {
		err := h.execute(ctx, it.ApplicationID)
		return h.failures.Record(ctx, TaskType, it.ApplicationID, err)
	})
}

func (h *Handler) execute(ctx context.Context, appID string) error {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	app, err := h.store.GetApplication(ctx, appID)
	if err != nil {
		return err
	}
	scoring, err := h.store.LatestScoring(ctx, appID)
	if err != nil {
		return err
	}
	v, err := h.currentVersion(ctx, appID, scoring.ID)
	if err != nil {
		return err
	}

	if !v.HasText() {
		if err := h.generateText(ctx, app, scoring, v); err != nil {
			return err
		}
		if err := h.store.SaveVersion(ctx, v); err != nil {
			return err
		}
		if err := h.advance(ctx, app, models.StatusGenerated); err != nil {
			return err
		}
	}

	if v.ResumePath == "" {
		path, err := h.renderer.RenderDocument(ctx, h.config.TemplateRef, v.ResumeData)
		if err != nil {
			return err
		}
		v.ResumePath = path
		if err := h.store.SaveVersion(ctx, v); err != nil {
			return err
		}
	}

	if err := h.advance(ctx, app, models.StatusPDFReady); err != nil {
		return err
	}

	h.logger.Info("application materials ready", map[string]interface{}{
		"applicationId": app.ID,
		"versionId":     v.ID,
		"version":       v.VersionNumber,
		"completed":     v.Completed,
		"resumePath":    v.ResumePath,
	})
	return nil
}

// currentVersion reuses the latest version when it belongs to the latest
// scoring and creates a fresh one otherwise.
func (h *Handler) currentVersion(ctx context.Context, appID, scoringID string) (*models.JobApplicationVersion, error) {
	v, err := h.store.LatestVersion(ctx, appID)
	if err == nil && v.JobScoringID == scoringID {
		return v, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	v = &models.JobApplicationVersion{
		ID:               uuid.NewString(),
		JobApplicationID: appID,
		JobScoringID:     scoringID,
	}
	if err := h.store.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// generateText issues the unified prompt and fills only the missing fields.
func (h *Handler) generateText(ctx context.Context, app *models.JobApplication, scoring *models.JobScoring, v *models.JobApplicationVersion) error {
	p, err := h.profiles.Current(ctx)
	if err != nil {
		return err
	}

	prompt := GenerationPrompt{
		Scoring:  scoring.Payload,
		Language: app.Language,
		Profile:  p,
	}
	if e, err := h.store.LatestExtraction(ctx, app.ID); err == nil {
		prompt.Posting = e.Payload
		prompt.ExtraInformation = e.ExtraInformation
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	text, err := h.llm.TextGenerate(ctx, prompt.String(), nil)
	if err != nil {
		return err
	}
	var res models.GenerationResult
	doc, err := llm.ExtractObject(text)
	if err != nil {
		return err
	}
	if err := llm.Validate(responseSchema, doc); err != nil {
		return err
	}
	if err := llm.ExtractJSON(text, &res); err != nil {
		return err
	}

	if v.CoverLetter == "" {
		v.CoverLetter = res.CoverLetter
	}
	if v.EmailSubject == "" {
		v.EmailSubject = res.EmailSubject
	}
	if v.EmailBody == "" {
		v.EmailBody = res.EmailBody
	}
	if len(v.ResumeData) == 0 {
		resume := NormalizeResume(MergeResumeConfig(p.ResumeBase(), res.Resume))
		if resume["language"] == "" {
			resume["language"] = app.Language
		}
		v.ResumeData = resume
	}
	return nil
}

func (h *Handler) advance(ctx context.Context, app *models.JobApplication, next models.Status) error {
	if app.Status == next || !models.CanTransition(app.Status, next) {
		return nil
	}
	if err := app.TransitionTo(next); err != nil {
		return err
	}
	return h.store.UpdateStatus(ctx, app.ID, next)
}
