package emailsend

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/common/validation"
	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/notify"
	"jobpilot-workers/internal/store"
	"jobpilot-workers/internal/workers/pipeline/stage"
)

const TaskType = "send-email"

// ErrNotReady is returned by SendVersion for a version that cannot be sent.
var ErrNotReady = errors.New("version not ready to send")

type Handler struct {
	config   *Config
	store    Store
	sender   Sender
	notifier notify.Notifier
	failures *stage.Failures
	logger   logger.Logger
}

func NewHandler(config *Config, s Store, sender Sender, notifier notify.Notifier, failures *stage.Failures, log logger.Logger) *Handler {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Handler{
		config:   config,
		store:    s,
		sender:   sender,
		notifier: notifier,
		failures: failures,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Name() string { return TaskType }

// Run emails every completed version that was not sent yet.
func (h *Handler) Run(ctx context.Context, scope stage.Scope) (stage.Result, error) {
	limit := scope.Limit
	if limit <= 0 {
		limit = h.config.BatchSize
	}
	versions, err := h.store.ListUnsentVersions(ctx, scope.ApplicationID, limit)
	if err != nil {
		return stage.Result{Stage: TaskType}, err
	}

	byID := make(map[string]*models.JobApplicationVersion, len(versions))
	items := make([]stage.Item, 0, len(versions))
	for _, v := range versions {
		byID[v.ID] = v
		items = append(items, stage.Item{ID: v.ID, ApplicationID: v.JobApplicationID})
	}
	return stage.Each(ctx, TaskType, scope, items, h.logger, func(ctx context.Context, it stage.Item) error {
		err := h.execute(ctx, byID[it.ID])
		return h.failures.Record(ctx, TaskType, it.ApplicationID, err)
	})
}

// SendVersion emails one explicit version. Versions that are incomplete,
// already sent or whose application left the pipeline return ErrNotReady
// without touching the application.
func (h *Handler) SendVersion(ctx context.Context, versionID string) error {
	v, err := h.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if !v.Completed || v.EmailSent {
		return fmt.Errorf("%w: %s completed=%t sent=%t", ErrNotReady, v.ID, v.Completed, v.EmailSent)
	}
	app, err := h.store.GetApplication(ctx, v.JobApplicationID)
	if err != nil {
		return err
	}
	if app.Status.IsTerminal() {
		return fmt.Errorf("%w: application %s is %s", ErrNotReady, app.ID, app.Status)
	}
	return h.failures.Record(ctx, TaskType, app.ID, h.execute(ctx, v))
}

func (h *Handler) execute(ctx context.Context, v *models.JobApplicationVersion) error {
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	app, err := h.store.GetApplication(ctx, v.JobApplicationID)
	if err != nil {
		return err
	}
	if app.Status == models.StatusManuallyApplied {
		h.logger.Info("application handled manually, not sending", map[string]interface{}{
			"applicationId": app.ID,
			"versionId":     v.ID,
		})
		return nil
	}

	recipient, err := h.recipient(ctx, app)
	if err != nil {
		return err
	}
	resume, err := h.readResume(ctx, v)
	if err != nil {
		return err
	}

	messageID, err := h.sender.SendEmail(ctx, Email{
		From:     h.config.From,
		To:       recipient,
		ReplyTo:  h.config.ReplyTo,
		Subject:  v.EmailSubject,
		HTMLBody: composeBody(v.EmailBody, v.CoverLetter),
		Attachments: []Attachment{{
			Filename:    filepath.Base(v.ResumePath),
			ContentType: "application/pdf",
			Content:     resume,
		}},
	})
	if err != nil {
		return err
	}

	if err := h.store.MarkVersionSent(ctx, v.ID); err != nil {
		return err
	}
	if app.Status != models.StatusCompleted && models.CanTransition(app.Status, models.StatusCompleted) {
		if err := h.store.UpdateStatus(ctx, app.ID, models.StatusCompleted); err != nil {
			return err
		}
	} else {
		h.logger.Warn("email sent but application not at pdf_ready", map[string]interface{}{
			"applicationId": app.ID,
			"status":        string(app.Status),
		})
	}

	h.logger.Info("application emailed", map[string]interface{}{
		"applicationId": app.ID,
		"versionId":     v.ID,
		"recipient":     recipient,
		"messageId":     messageID,
	})
	notify.BestEffort(ctx, h.notifier, h.logger, models.Notification{
		ApplicationID: app.ID,
		Status:        models.StatusCompleted,
		Title:         app.Title,
		Company:       app.Company,
		MatchScore:    app.MatchScore,
	})
	return nil
}

// recipient prefers the contact found by extraction over the address given
// at intake.
func (h *Handler) recipient(ctx context.Context, app *models.JobApplication) (string, error) {
	var candidates []string
	e, err := h.store.LatestExtraction(ctx, app.ID)
	switch {
	case err == nil:
		if s, ok := e.Payload["contact_email"].(string); ok {
			candidates = append(candidates, s)
		}
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}
	if s, ok := app.JobData()["email"].(string); ok {
		candidates = append(candidates, s)
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && validation.ValidateEmail(c) {
			return c, nil
		}
	}
	return "", apperrors.NewInvalid(apperrors.ErrCodeNoRecipient,
		"no recipient address for application", app.ID)
}

// readResume loads the rendered PDF. A missing file clears the path so the
// generation stage renders it again.
func (h *Handler) readResume(ctx context.Context, v *models.JobApplicationVersion) ([]byte, error) {
	data, err := os.ReadFile(v.ResumePath)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewRetryable(apperrors.ErrCodeEmailSendFailed, "read resume", err)
	}

	h.logger.Warn("resume file missing, scheduling re-render", map[string]interface{}{
		"versionId":  v.ID,
		"resumePath": v.ResumePath,
	})
	v.ResumePath = ""
	if saveErr := h.store.SaveVersion(ctx, v); saveErr != nil {
		return nil, saveErr
	}
	return nil, apperrors.NewRetryable(apperrors.ErrCodeRenderFailed, "resume file missing", err)
}

// composeBody puts the cover letter under the generated email body.
func composeBody(emailBody, coverLetter string) string {
	var b strings.Builder
	b.WriteString(emailBody)
	if strings.TrimSpace(coverLetter) == "" {
		return b.String()
	}
	b.WriteString("\n<hr>\n")
	for _, para := range strings.Split(strings.ReplaceAll(coverLetter, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
